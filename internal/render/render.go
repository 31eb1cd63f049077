// Package render turns validated events into per-locale chat messages.
//
// Templates live in embedded JSON catalogs, one file per locale. Lookups fall
// back from the requested locale to English and finally to a plain summary of
// the event, so rendering never fails.
package render

import (
	"github.com/tbourn/signal-relay/internal/events"
)

// ParseMarkdown is the legacy Markdown parse mode the templates are written in.
const ParseMarkdown = "Markdown"

// Message is one rendered body.
type Message struct {
	Text      string
	ParseMode string
	Locale    string // catalog locale actually used
}

// View is the data every template renders from. Fields not relevant to the
// event kind stay empty.
type View struct {
	TraderName string
	DetailURL  string
	Pair       string
	Margin     string
	Leverage   string
	Side       string
	Action     string
	Time       string

	Price      string
	EntryPrice string
	ExitPrice  string
	ROI        string
	Positive   bool

	TP, SL, PrevTP, PrevSL string

	Infos []HoldingView

	TotalTrades int64
	WinTrades   int64
	LossTrades  int64
	WinRate     string

	Content string
}

// HoldingView is one open position of a holding report.
type HoldingView struct {
	N            int
	Pair         string
	Margin       string
	Leverage     string
	Side         string
	EntryPrice   string
	CurrentPrice string
	ROI          string
	TP, SL       string
}

// Renderer renders events against a catalog.
type Renderer struct {
	cat *Catalog
}

// New returns a Renderer; a nil catalog selects the embedded one.
func New(cat *Catalog) *Renderer {
	if cat == nil {
		cat = MustDefaultCatalog()
	}
	return &Renderer{cat: cat}
}

// Catalog exposes the underlying catalog for non-event texts.
func (r *Renderer) Catalog() *Catalog { return r.cat }

// Render produces the message for one destination. jump appends the trader
// deep link when the event carries one.
func (r *Renderer) Render(ev events.Event, locale string, jump bool) Message {
	loc := r.cat.Match(locale)
	view := r.View(ev, loc)

	text, ok := r.cat.Text(loc, templateKey(ev), view)
	if !ok {
		text = ev.Describe()
	}
	if jump && view.DetailURL != "" {
		if link, ok := r.cat.Text(loc, "link", view); ok {
			text += "\n\n" + link
		}
	}

	mode := ParseMarkdown
	if ev.Kind == events.KindAnnouncement {
		mode = ""
	}
	return Message{Text: applyDirection(loc, text), ParseMode: mode, Locale: loc}
}

func templateKey(ev events.Event) string {
	if ev.Kind == events.KindTPSLUpdate {
		if ev.Payload.Has("previous_tp_price") || ev.Payload.Has("previous_sl_price") {
			return "tp-sl-update"
		}
		return "tp-sl-setting"
	}
	return string(ev.Kind)
}

// View builds the template data for ev using locale's labels.
func (r *Renderer) View(ev events.Event, locale string) View {
	p := ev.Payload
	v := View{
		TraderName: EscapeMarkdown(p.Str("trader_name")),
		DetailURL:  p.Str("trader_detail_url"),
		Pair:       EscapeMarkdown(p.Str("pair")),
		Margin:     r.margin(p, locale),
		Leverage:   FormatNumber(p["pair_leverage"]),
		Side:       r.side(p, locale),
	}
	if v.TraderName == "" {
		v.TraderName = "Trader"
	}

	switch ev.Kind {
	case events.KindTradeOpen:
		v.Action = r.cat.Label(locale, "open")
		if p.Str("pair_type") == "sell" {
			v.Action = r.cat.Label(locale, "close")
		}
		v.Time = timeOf(p, "time")
		v.Price = p.Str("price")
	case events.KindTradeClose:
		v.Action = r.cat.Label(locale, "close")
		v.Time = timeOf(p, "close_time")
		v.EntryPrice = p.Str("entry_price")
		v.ExitPrice = p.Str("exit_price")
		v.ROI, v.Positive = percent(p, "realized_pnl_percentage")
	case events.KindTPSLUpdate:
		v.Time = timeOf(p, "time")
		v.TP = optionalNumber(p, "tp_price")
		v.SL = optionalNumber(p, "sl_price")
		v.PrevTP = optionalNumber(p, "previous_tp_price")
		v.PrevSL = optionalNumber(p, "previous_sl_price")
	case events.KindHolding:
		for i, in := range p.List("infos") {
			roi, _ := percent(in, "unrealized_pnl_percentage")
			v.Infos = append(v.Infos, HoldingView{
				N:            i + 1,
				Pair:         EscapeMarkdown(in.Str("pair")),
				Margin:       r.margin(in, locale),
				Leverage:     FormatNumber(in["pair_leverage"]),
				Side:         r.side(in, locale),
				EntryPrice:   in.Str("entry_price"),
				CurrentPrice: in.Str("current_price"),
				ROI:          roi,
				TP:           optionalText(in, "tp_price"),
				SL:           optionalText(in, "sl_price"),
			})
		}
	case events.KindWeekly:
		v.ROI, v.Positive = percent(p, "total_roi")
		v.TotalTrades, _ = p.Int("total_trades")
		v.WinTrades, _ = p.Int("win_trades")
		v.LossTrades, _ = p.Int("loss_trades")
		v.WinRate = FormatNumber(p["win_rate"])
	case events.KindAnnouncement:
		v.Content = Translate(p, locale)
	}
	return v
}

func (r *Renderer) side(p events.Payload, locale string) string {
	switch p.Str("pair_side") {
	case "1":
		return r.cat.Label(locale, "long")
	case "2":
		return r.cat.Label(locale, "short")
	}
	return p.Str("pair_side")
}

func (r *Renderer) margin(p events.Payload, locale string) string {
	switch p.Str("pair_margin_type") {
	case "1":
		return r.cat.Label(locale, "cross")
	case "2":
		return r.cat.Label(locale, "isolated")
	}
	return p.Str("pair_margin_type")
}

func timeOf(p events.Payload, field string) string {
	ms, ok := p.Int(field)
	if !ok {
		return ""
	}
	return FormatTimestamp(ms)
}

// percent scales a ratio to a percentage string and reports its sign.
func percent(p events.Payload, field string) (string, bool) {
	f, _ := p.Float(field)
	return FormatFloat(f * 100), f >= 0
}

func optionalNumber(p events.Payload, field string) string {
	if !p.Has(field) || p.Str(field) == "None" {
		return ""
	}
	return FormatNumber(p[field])
}

func optionalText(p events.Payload, field string) string {
	if !p.Has(field) || p.Str(field) == "None" {
		return ""
	}
	return p.Str(field)
}
