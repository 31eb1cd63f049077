package events

import (
	"fmt"
	"sort"
	"strings"
)

// minMillis is the smallest accepted millisecond epoch; anything below is a
// seconds timestamp.
const minMillis = 1_000_000_000_000

var required = map[Kind][]string{
	KindTradeOpen: {
		"trader_uid", "trader_name", "trader_pnl", "trader_pnlpercentage",
		"trader_detail_url", "pair", "base_coin", "quote_coin",
		"pair_leverage", "pair_type", "price", "time", "trader_url",
		"pair_side", "pair_margin_type",
	},
	KindTradeClose: {
		"trader_uid", "trader_name", "trader_detail_url", "pair", "pair_side",
		"pair_margin_type", "pair_leverage", "entry_price", "exit_price",
		"realized_pnl", "realized_pnl_percentage", "close_time",
	},
	KindTPSLUpdate: {"trader_uid", "trader_name", "trader_detail_url", "pair", "pair_side", "time"},
	KindWeekly: {
		"trader_uid", "trader_name", "trader_url", "trader_detail_url",
		"total_roi", "total_pnl", "total_trades", "win_trades", "loss_trades", "win_rate",
	},
	KindAnnouncement: {"subject_uid", "content"},
}

var (
	holdingTraderFields = []string{"trader_uid", "trader_name", "trader_detail_url"}
	holdingInfoFields   = []string{
		"pair", "pair_side", "pair_margin_type", "pair_leverage",
		"entry_price", "current_price", "unrealized_pnl_percentage",
	}
)

func missing(p Payload, fields []string) error {
	var out []string
	for _, f := range fields {
		if !p.Has(f) {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return invalid("missing fields: %s", strings.Join(out, ", "))
}

func numeric(p Payload, fields ...string) error {
	for _, f := range fields {
		if _, ok := p.Float(f); !ok {
			return invalid("%s must be numeric", f)
		}
	}
	return nil
}

func optionalNumeric(p Payload, fields ...string) error {
	for _, f := range fields {
		if p.Has(f) && p.Str(f) != "None" {
			if err := numeric(p, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func millis(p Payload, field string) error {
	f, ok := p.Float(field)
	if !ok {
		return invalid("%s must be millisecond timestamp (numeric)", field)
	}
	if int64(f) < minMillis {
		return invalid("%s must be millisecond timestamp", field)
	}
	return nil
}

func side(p Payload) error {
	if s := p.Str("pair_side"); s != "1" && s != "2" {
		return invalid("pair_side must be '1'(Long) or '2'(Short)")
	}
	return nil
}

func marginType(p Payload) error {
	if s := p.Str("pair_margin_type"); s != "1" && s != "2" {
		return invalid("pair_margin_type must be '1'(Cross) or '2'(Isolated)")
	}
	return nil
}

func validate(kind Kind, p Payload) (Event, error) {
	fields, ok := required[kind]
	if !ok {
		return Event{}, invalid("unknown event kind %q", kind)
	}
	if err := missing(p, fields); err != nil {
		return Event{}, err
	}

	var err error
	switch kind {
	case KindTradeOpen:
		err = validateTradeOpen(p)
	case KindTradeClose:
		err = firstErr(
			func() error { return side(p) },
			func() error { return marginType(p) },
			func() error {
				return numeric(p, "pair_leverage", "entry_price", "exit_price", "realized_pnl", "realized_pnl_percentage")
			},
			func() error { return millis(p, "close_time") },
		)
	case KindTPSLUpdate:
		err = validateTPSL(p)
	case KindWeekly:
		err = validateWeekly(p)
	case KindAnnouncement:
		if p.Has("translations") && p.StrMap("translations") == nil {
			err = invalid("translations must be an object of language code to text")
		}
	}
	if err != nil {
		return Event{}, err
	}

	subject := p.Str("trader_uid")
	if kind == KindAnnouncement {
		subject = p.Str("subject_uid")
	}
	return Event{Kind: kind, Subject: subject, Payload: p}, nil
}

func validateTradeOpen(p Payload) error {
	pnl, ok1 := p.Float("trader_pnl")
	pct, ok2 := p.Float("trader_pnlpercentage")
	_, ok3 := p.Float("pair_leverage")
	if !ok1 || !ok2 || !ok3 {
		return invalid("trader_pnlpercentage / pair_leverage / trader_pnl must be numeric")
	}
	if (pnl >= 0) != (pct >= 0) {
		return invalid("trader_pnl and trader_pnlpercentage must have the same sign")
	}
	if t := p.Str("pair_type"); t != "buy" && t != "sell" {
		return invalid("pair_type must be 'buy' or 'sell'")
	}
	return firstErr(
		func() error { return side(p) },
		func() error { return marginType(p) },
		func() error { return numeric(p, "price") },
		func() error { return millis(p, "time") },
	)
}

func validateTPSL(p Payload) error {
	if err := side(p); err != nil {
		return err
	}
	if !p.Has("tp_price") && !p.Has("sl_price") {
		return invalid("tp_price or sl_price is required")
	}
	if err := optionalNumeric(p, "tp_price", "sl_price", "previous_tp_price", "previous_sl_price"); err != nil {
		return err
	}
	return millis(p, "time")
}

func validateWeekly(p Payload) error {
	if err := numeric(p, "total_roi", "total_pnl", "win_rate"); err != nil {
		return err
	}
	for _, f := range []string{"total_trades", "win_trades", "loss_trades"} {
		n, ok := p.Int(f)
		if !ok || n < 0 {
			return invalid("%s must be a non-negative integer", f)
		}
	}
	if wr, _ := p.Float("win_rate"); wr < 0 || wr > 100 {
		return invalid("win_rate must be between 0 and 100")
	}
	return nil
}

// holdingEvent validates one trader entry with its infos. prefix locates the
// entry inside a list for error messages.
func holdingEvent(p Payload, prefix string) (Event, error) {
	wrap := func(err error) error {
		if err == nil || prefix == "" {
			return err
		}
		return invalid("%s - %s", prefix, err.Error())
	}
	if err := missing(p, holdingTraderFields); err != nil {
		return Event{}, wrap(err)
	}
	infos := p.List("infos")
	if len(infos) == 0 {
		return Event{}, wrap(invalid("infos missing or malformed"))
	}
	for j, info := range infos {
		err := firstErr(
			func() error { return missing(info, holdingInfoFields) },
			func() error { return side(info) },
			func() error { return marginType(info) },
			func() error {
				return numeric(info, "entry_price", "current_price", "unrealized_pnl_percentage", "pair_leverage")
			},
			func() error { return optionalNumeric(info, "tp_price", "sl_price") },
		)
		if err != nil {
			return Event{}, wrap(invalid("info %d - %s", j, err.Error()))
		}
	}
	return Event{Kind: KindHolding, Subject: p.Str("trader_uid"), Payload: p}, nil
}

func firstErr(checks ...func() error) error {
	for _, c := range checks {
		if err := c(); err != nil {
			return err
		}
	}
	return nil
}

// Describe renders a short human summary used when no template can render.
func (e Event) Describe() string {
	name := e.Payload.Str("trader_name")
	if name == "" {
		name = e.Subject
	}
	switch e.Kind {
	case KindAnnouncement:
		return e.Payload.Str("content")
	case KindHolding:
		return fmt.Sprintf("%s: %d open positions", name, len(e.Payload.List("infos")))
	default:
		return strings.TrimSpace(fmt.Sprintf("%s %s %s", name, e.Kind, e.Payload.Str("pair")))
	}
}
