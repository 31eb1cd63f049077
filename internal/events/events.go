// Package events turns inbound HTTP bodies into validated delivery events.
//
// Each kind has its own required field set and value rules. Validation
// failures are returned as *ValidationError whose message is safe to show to
// the caller. A validated Event is never modified afterwards.
package events

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Kind identifies an event type and its route segment.
type Kind string

const (
	KindTradeOpen    Kind = "trade-open"
	KindTradeClose   Kind = "trade-close"
	KindTPSLUpdate   Kind = "tp-sl-update"
	KindHolding      Kind = "holding-report"
	KindWeekly       Kind = "weekly-report"
	KindAnnouncement Kind = "announcement"
)

// Kinds lists every supported kind in route order.
var Kinds = []Kind{KindTradeOpen, KindTradeClose, KindTPSLUpdate, KindHolding, KindWeekly, KindAnnouncement}

// ParseKind validates a route segment.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	return k, lo.Contains(Kinds, k)
}

// Category is the directory subscription type the kind is published under.
func (k Kind) Category() string {
	switch k {
	case KindTradeClose:
		return "summary"
	case KindTPSLUpdate:
		return "scalp"
	case KindHolding:
		return "holding"
	case KindWeekly:
		return "weekly"
	case KindAnnouncement:
		return "announcement"
	default:
		return "copy"
	}
}

// Event is one validated delivery request for one subject.
type Event struct {
	Kind    Kind
	Subject string
	Payload Payload
}

// NeedsImage reports whether delivery attaches a generated card.
func (e Event) NeedsImage() bool {
	switch e.Kind {
	case KindTradeClose, KindWeekly:
		return true
	case KindAnnouncement:
		return e.Payload.Has("image_url")
	default:
		return false
	}
}

// RequiresImage reports whether the event must not go out without its card.
// The announcement image is optional decoration.
func (e Event) RequiresImage() bool {
	return e.Kind == KindTradeClose || e.Kind == KindWeekly
}

// ErrInvalid is wrapped by every ValidationError.
var ErrInvalid = errors.New("invalid event")

// ValidationError carries a caller-facing reason.
type ValidationError struct{ Reason string }

func (e *ValidationError) Error() string { return e.Reason }
func (e *ValidationError) Unwrap() error { return ErrInvalid }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Batch is the result of decoding one request body.
type Batch struct {
	Kind        Kind
	Events      []Event
	ExternalKey string // caller-supplied idempotency key, if any
	Raw         any    // decoded body, forwarded to the mirror sink unchanged
}

// Decode parses and validates body for kind. headerKey is the
// Idempotency-Key header value, used when the body carries no id.
func Decode(kind Kind, body []byte, headerKey string) (*Batch, error) {
	raw, err := decodeJSON(body)
	if err != nil {
		return nil, invalid("Invalid JSON body")
	}

	b := &Batch{Kind: kind, Raw: raw}
	switch v := raw.(type) {
	case map[string]any:
		p := Payload(v)
		b.ExternalKey = externalKey(p, headerKey)
		if kind == KindHolding {
			ev, err := holdingEvent(p, "")
			if err != nil {
				return nil, err
			}
			b.Events = []Event{ev}
			return b, nil
		}
		ev, err := validate(kind, p)
		if err != nil {
			return nil, err
		}
		b.Events = []Event{ev}
	case []any:
		if kind != KindHolding {
			return nil, invalid("request body must be a JSON object")
		}
		if len(v) == 0 {
			return nil, invalid("list must not be empty")
		}
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, invalid("list item %d must be an object", i)
			}
			ev, err := holdingEvent(Payload(m), fmt.Sprintf("trader %d", i))
			if err != nil {
				return nil, err
			}
			b.Events = append(b.Events, ev)
		}
		b.ExternalKey = strings.TrimSpace(headerKey)
	default:
		return nil, invalid("request body must be a JSON object or list")
	}
	return b, nil
}

func externalKey(p Payload, header string) string {
	for _, k := range []string{"id", "request_id"} {
		if p.Has(k) {
			return p.Str(k)
		}
	}
	return strings.TrimSpace(header)
}

// DerivedKey hashes the stable identity fields of a batch. It is the dedup
// key used when the caller supplied none.
func (b *Batch) DerivedKey() string {
	parts := lo.Map(b.Events, func(e Event, _ int) string { return e.fingerprint() })
	sort.Strings(parts)
	sum := md5.Sum([]byte(string(b.Kind) + "|" + strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func (e Event) fingerprint() string {
	p := e.Payload
	ts := lo.FindOrElse([]string{"time", "close_time", "timestamp"}, "", p.Has)
	fields := []string{string(e.Kind), e.Subject, p.Str(ts), p.Str("pair"), p.Str("pair_side")}

	switch e.Kind {
	case KindHolding:
		infos := lo.Map(p.List("infos"), func(in Payload, _ int) string {
			return strings.Join([]string{
				in.Str("pair"), in.Str("pair_side"), in.Str("pair_margin_type"),
				in.Str("entry_price"), in.Str("current_price"), in.Str("time"),
			}, ":")
		})
		sort.Strings(infos)
		fields = append(fields, infos...)
	case KindTPSLUpdate:
		fields = append(fields, p.Str("tp_price"), p.Str("sl_price"))
	case KindWeekly:
		fields = append(fields, p.Str("total_roi"), p.Str("total_trades"))
	case KindAnnouncement:
		sum := md5.Sum([]byte(p.Str("content")))
		fields = append(fields, hex.EncodeToString(sum[:]))
	}
	return strings.Join(fields, ":")
}
