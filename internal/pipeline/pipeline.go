// Package pipeline gates inbound event batches and fans each accepted event
// out to its subscribed destinations.
//
// Submit runs synchronously in the request: it records the batch's dedup key
// before any work starts and hands accepted batches to a tracked background
// goroutine. Delivery never reports back to the caller; per-destination
// failures are aggregated into a Result, counted and persisted as a report.
package pipeline

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/signal-relay/internal/dedup"
	"github.com/tbourn/signal-relay/internal/events"
	"github.com/tbourn/signal-relay/internal/notify"
	"github.com/tbourn/signal-relay/internal/observability"
	"github.com/tbourn/signal-relay/internal/render"
	"github.com/tbourn/signal-relay/internal/resolver"
)

// Resolver finds the destinations of a subject.
type Resolver interface {
	Resolve(ctx context.Context, subject, category string) []resolver.Destination
}

// Locales answers a chat's preferred locale, "" when unknown.
type Locales interface {
	Lookup(ctx context.Context, chatID int64) string
}

// Images produces the attachment of an event. The caller removes the file.
type Images interface {
	For(ctx context.Context, ev events.Event) (string, error)
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, m notify.Outgoing) error
}

// SenderFunc picks the bot that delivers for brand.
type SenderFunc func(brand string) (Sender, bool)

// Outcome is the gate decision for one batch.
type Outcome int

const (
	Accepted Outcome = iota
	Duplicate
)

func (o Outcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "accepted"
}

// Deps are the collaborators of a Pipeline. Locales, Images, DB, Node and
// Sink are optional.
type Deps struct {
	Dedup    *dedup.Cache
	Resolver Resolver
	Renderer *render.Renderer
	Senders  SenderFunc
	Locales  Locales
	Images   Images
	DB       *gorm.DB
	Node     *snowflake.Node
	Sink     func(kind string) string
	Brand    string
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	deps Deps
	http *http.Client
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithHTTPClient replaces the client used for sink posts.
func WithHTTPClient(c *http.Client) Option { return func(p *Pipeline) { p.http = c } }

// New builds a pipeline. Background deliveries run under a context that is
// only cancelled by Close.
func New(deps Deps, opts ...Option) *Pipeline {
	if deps.Renderer == nil {
		deps.Renderer = render.New(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		deps:   deps,
		http:   &http.Client{Timeout: 10 * time.Second},
		log:    log.With().Str("component", "pipeline").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// GateKey returns the dedup key and class for b: the caller-supplied key when
// present, the derived hash otherwise.
func GateKey(b *events.Batch) (string, dedup.Class) {
	if b.ExternalKey != "" {
		return b.ExternalKey, dedup.External
	}
	return b.DerivedKey(), dedup.Derived
}

// Submit gates b and schedules its delivery. Duplicates do no work.
func (p *Pipeline) Submit(b *events.Batch) Outcome {
	key, class := GateKey(b)
	if !p.deps.Dedup.MarkIfAbsent(key, class) {
		observability.DedupHits.WithLabelValues(class.String()).Inc()
		p.log.Info().Str("kind", string(b.Kind)).Str("key", key).Str("class", class.String()).Msg("duplicate skipped")
		return Duplicate
	}
	observability.EventsAccepted.WithLabelValues(string(b.Kind)).Add(float64(len(b.Events)))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for _, ev := range b.Events {
			p.Deliver(p.ctx, ev, key)
		}
		p.mirror(p.ctx, b)
	}()
	return Accepted
}

// Wait blocks until every scheduled delivery has returned.
func (p *Pipeline) Wait() { p.wg.Wait() }

// Close cancels in-flight deliveries and waits for them.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}
