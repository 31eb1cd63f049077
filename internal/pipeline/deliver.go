package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/signal-relay/internal/events"
	"github.com/tbourn/signal-relay/internal/notify"
	"github.com/tbourn/signal-relay/internal/observability"
	"github.com/tbourn/signal-relay/internal/resolver"
)

// ErrNoSender is recorded for every destination when no bot is live.
var ErrNoSender = errors.New("no live bot to deliver with")

// Failure is one destination that did not receive the event.
type Failure struct {
	ChatID  int64  `json:"chat_id"`
	TopicID int64  `json:"topic_id,omitempty"`
	Error   string `json:"error"`
}

// Result aggregates one event's fan-out.
type Result struct {
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Deliver fans ev out to every destination of its subject and returns the
// aggregate. It never fails as a whole; each destination is independent.
func (p *Pipeline) Deliver(ctx context.Context, ev events.Event, dedupKey string) Result {
	tr := otel.Tracer("pipeline")
	ctx, span := tr.Start(ctx, "Deliver",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("kind", string(ev.Kind)), attribute.String("subject", ev.Subject)),
	)
	defer span.End()

	start := time.Now()
	lg := p.log.With().Str("kind", string(ev.Kind)).Str("subject", ev.Subject).Logger()

	dests := p.deps.Resolver.Resolve(ctx, ev.Subject, ev.Kind.Category())
	if len(dests) == 0 {
		lg.Info().Msg("no destinations")
		return Result{}
	}
	span.SetAttributes(attribute.Int("destinations", len(dests)))

	var sender Sender
	if p.deps.Senders != nil {
		sender, _ = p.deps.Senders(p.deps.Brand)
	}

	photo, imgErr := p.image(ctx, ev)
	if imgErr != nil {
		lg.Warn().Err(imgErr).Msg("card unavailable, fan-out cancelled")
	}
	if photo != "" {
		defer func() {
			if err := os.Remove(photo); err != nil && !os.IsNotExist(err) {
				lg.Warn().Err(err).Str("path", photo).Msg("failed to remove image")
			}
		}()
	}

	res := Result{Total: len(dests)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, d := range dests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := imgErr
			if err == nil {
				err = p.sendOne(ctx, sender, ev, d, photo)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Failures = append(res.Failures, Failure{ChatID: d.ChatID, TopicID: d.TopicID, Error: err.Error()})
				return
			}
			res.Succeeded++
		}()
	}
	wg.Wait()

	kind := string(ev.Kind)
	observability.Deliveries.WithLabelValues(kind, "succeeded").Add(float64(res.Succeeded))
	observability.Deliveries.WithLabelValues(kind, "failed").Add(float64(res.Failed))
	observability.FanoutDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("succeeded", res.Succeeded), attribute.Int("failed", res.Failed))
	if res.Failed > 0 {
		span.SetStatus(codes.Error, "partial delivery")
	}

	e := lg.Info()
	if res.Failed > 0 {
		e = lg.Warn().Interface("failures", res.Failures)
	}
	e.Int("total", res.Total).Int("succeeded", res.Succeeded).Int("failed", res.Failed).
		Dur("took", time.Since(start)).Msg("fan-out finished")

	p.report(ctx, ev, dedupKey, res)
	return res
}

// image returns the event's attachment, or "" when it has none. A card the
// kind requires that cannot be produced is an error wrapping
// notify.ErrImageMissing; an optional announcement image degrades to text.
func (p *Pipeline) image(ctx context.Context, ev events.Event) (string, error) {
	if p.deps.Images == nil || !ev.NeedsImage() {
		return "", nil
	}
	path, err := p.deps.Images.For(ctx, ev)
	if err == nil {
		return path, nil
	}
	if ev.RequiresImage() {
		return "", fmt.Errorf("%w: %v", notify.ErrImageMissing, err)
	}
	p.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("image unavailable, sending text only")
	return "", nil
}

// Locale picks the rendering locale: the destination's own, then the chat
// preference, then the default.
func (p *Pipeline) Locale(ctx context.Context, d resolver.Destination) string {
	if d.Locale != "" {
		return d.Locale
	}
	if p.deps.Locales != nil {
		if loc := p.deps.Locales.Lookup(ctx, d.ChatID); loc != "" {
			return loc
		}
	}
	return resolver.DefaultLocale
}

func (p *Pipeline) sendOne(ctx context.Context, sender Sender, ev events.Event, d resolver.Destination, photo string) error {
	if sender == nil {
		return ErrNoSender
	}
	msg := p.deps.Renderer.Render(ev, p.Locale(ctx, d), d.Jump)
	return sender.Send(ctx, notify.Outgoing{
		ChatID:    d.ChatID,
		TopicID:   d.TopicID,
		Text:      msg.Text,
		PhotoPath: photo,
		ParseMode: msg.ParseMode,
	})
}
