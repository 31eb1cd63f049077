// Package botmanager owns the set of live bot identities.
//
// Register performs the handshake, conflict probes and webhook cleanup over
// the network, but only touches the identity map inside short critical
// sections: the handshake result is checked for duplicates and capacity and a
// placeholder is inserted atomically, then the slow steps run unlocked. Any
// failure after that point removes the placeholder and closes the session.
//
// Each live identity runs its own tasks (heartbeat, polling, optional
// maintenance, idle watchdog) tracked by a WaitGroup so Stop can wait for
// them before closing the session.
package botmanager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/signal-relay/internal/notify"
	"github.com/tbourn/signal-relay/internal/observability"
)

// Opener creates an unauthenticated session for a token.
type Opener func(token, proxy string) (Session, error)

// NotifyOpener opens *notify.Session values with base options; proxy
// overrides base.Proxy when set.
func NotifyOpener(base notify.Options) Opener {
	return func(token, proxy string) (Session, error) {
		opts := base
		if proxy != "" {
			opts.Proxy = proxy
		}
		return notify.Open(token, opts)
	}
}

// Config bounds the manager.
type Config struct {
	MaxBots           int
	IdleTimeout       time.Duration // 0 disables the watchdog
	IdleCheckInterval time.Duration
	HeartbeatInterval time.Duration
	PollTimeout       time.Duration
}

func (c *Config) defaults() {
	if c.MaxBots <= 0 {
		c.MaxBots = 10
	}
	if c.IdleCheckInterval <= 0 {
		c.IdleCheckInterval = time.Hour
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 600 * time.Second
	}
	if c.PollTimeout < 0 {
		c.PollTimeout = 0
	}
}

// Task is a periodic job run for every live bot.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, b *Bot) error
}

// Option customises a Manager.
type Option func(*Manager)

// WithRouter shares r across all bots.
func WithRouter(r *Router) Option {
	return func(m *Manager) { m.routerFor = func(*Bot) *Router { return r } }
}

// WithRouterFactory builds a router per bot.
func WithRouterFactory(f func(*Bot) *Router) Option {
	return func(m *Manager) { m.routerFor = f }
}

// WithTasks adds periodic maintenance tasks.
func WithTasks(tasks ...Task) Option {
	return func(m *Manager) { m.tasks = append(m.tasks, tasks...) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Registration is the outcome of Register.
type Registration struct {
	Info
	Status          string `json:"status"`
	ConflictWarning string `json:"conflict_warning,omitempty"`
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg       Config
	open      Opener
	routerFor func(*Bot) *Router
	tasks     []Task
	now       func() time.Time
	log       zerolog.Logger

	mu      sync.Mutex
	bots    map[int64]*Bot
	primary int64

	bg sync.WaitGroup // watchdog-initiated stops
}

// New returns an empty manager.
func New(cfg Config, open Opener, opts ...Option) *Manager {
	cfg.defaults()
	m := &Manager{
		cfg:  cfg,
		open: open,
		now:  time.Now,
		log:  log.With().Str("component", "botmanager").Logger(),
		bots: map[int64]*Bot{},
	}
	for _, o := range opts {
		o(m)
	}
	if m.routerFor == nil {
		shared := NewRouter()
		m.routerFor = func(*Bot) *Router { return shared }
	}
	return m
}

// Register brings a token online. Registering an identity that is already
// present returns StatusAlreadyStarted with the existing identity's data.
func (m *Manager) Register(ctx context.Context, token, brand, proxy string) (Registration, error) {
	tr := otel.Tracer("botmanager")
	ctx, span := tr.Start(ctx, "Register")
	defer span.End()

	sess, err := m.open(token, proxy)
	if err != nil {
		observability.BotRegistrations.WithLabelValues("handshake_failed").Inc()
		return Registration{}, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	me, err := sess.GetMe(ctx)
	if err != nil {
		_ = sess.Close()
		observability.BotRegistrations.WithLabelValues("handshake_failed").Inc()
		return Registration{}, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	span.SetAttributes(attribute.Int64("bot_id", me.ID))

	now := m.now()
	b := &Bot{
		ID:       me.ID,
		Brand:    brand,
		Proxy:    proxy,
		Name:     strings.TrimSpace(me.FirstName + " " + me.LastName),
		Username: me.UserName,
		Created:  now,
		session:  sess,
		settled:  make(chan struct{}),
	}
	b.Touch(now)
	b.setState(Registering)

	// A registration already in flight for this identity is waited out, so
	// the caller learns whether it actually went live.
	m.mu.Lock()
	for {
		existing, ok := m.bots[me.ID]
		if !ok || existing.State() != Registering || existing.settled == nil {
			break
		}
		m.mu.Unlock()
		select {
		case <-existing.settled:
		case <-ctx.Done():
			_ = sess.Close()
			return Registration{}, ctx.Err()
		}
		m.mu.Lock()
	}
	if existing, ok := m.bots[me.ID]; ok {
		m.mu.Unlock()
		_ = sess.Close()
		observability.BotRegistrations.WithLabelValues(StatusAlreadyStarted).Inc()
		return Registration{Info: existing.Info(), Status: StatusAlreadyStarted}, nil
	}
	if len(m.bots) >= m.cfg.MaxBots {
		m.mu.Unlock()
		_ = sess.Close()
		observability.BotRegistrations.WithLabelValues("capacity").Inc()
		return Registration{}, ErrCapacity
	}
	m.bots[me.ID] = b
	m.mu.Unlock()

	warnings, fatal := detectConflicts(ctx, sess, token, me.ID)
	if fatal {
		m.abort(b)
		observability.BotRegistrations.WithLabelValues("conflict").Inc()
		return Registration{Info: b.Info(), ConflictWarning: strings.Join(warnings, ",")}, ErrConflict
	}

	if err := sess.DeleteWebhook(ctx, true); err != nil {
		m.log.Warn().Err(err).Int64("bot_id", b.ID).Msg("deleteWebhook failed")
		if len(warnings) == 0 {
			warnings = append(warnings, WarnWebhookDeleteFailed)
		}
	}

	if err := ctx.Err(); err != nil {
		m.abort(b)
		return Registration{}, err
	}

	b.router = m.routerFor(b)
	if !m.goLive(b) {
		_ = sess.Close()
		return Registration{}, fmt.Errorf("bot %d stopped during registration", b.ID)
	}
	observability.BotRegistrations.WithLabelValues(StatusStarted).Inc()
	observability.BotsLive.Set(float64(m.Count()))

	m.log.Info().
		Int64("bot_id", b.ID).
		Str("username", b.Username).
		Str("brand", brand).
		Strs("warnings", warnings).
		Msg("bot registered")

	return Registration{Info: b.Info(), Status: StatusStarted, ConflictWarning: strings.Join(warnings, ",")}, nil
}

// goLive starts the bot's tasks unless it was stopped while registering.
// Tasks are spawned under the lock so a concurrent Stop always sees them.
func (m *Manager) goLive(b *Bot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bots[b.ID] != b {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.setState(Live)
	m.spawnTasks(ctx, b)
	return true
}

// abort removes a placeholder that never went live.
func (m *Manager) abort(b *Bot) {
	m.mu.Lock()
	if m.bots[b.ID] == b {
		delete(m.bots, b.ID)
	}
	m.mu.Unlock()
	b.setState(Stopped)
	_ = b.session.Close()
}

// Stop removes and shuts down a bot. It reports false when the id is not
// registered, which makes repeated calls harmless.
func (m *Manager) Stop(id int64) bool {
	m.mu.Lock()
	b, ok := m.bots[id]
	if ok {
		delete(m.bots, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	b.setState(Stopping)
	if b.cancel != nil {
		b.cancel()
	}
	b.tasks.Wait()
	if err := b.session.Close(); err != nil {
		m.log.Debug().Err(err).Int64("bot_id", id).Msg("close session")
	}
	b.setState(Stopped)
	observability.BotsLive.Set(float64(m.Count()))
	m.log.Info().Int64("bot_id", id).Msg("bot stopped")
	return true
}

// Shutdown stops every bot and waits for watchdog-initiated stops.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.bots))
	for id := range m.bots {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			m.Stop(id)
		}(id)
	}
	wg.Wait()
	m.bg.Wait()
}

// RecordActivity marks the bot active now. Unknown ids are ignored.
func (m *Manager) RecordActivity(id int64) {
	if b := m.get(id); b != nil {
		b.Touch(m.now())
	}
}

// List returns live identities ordered by registration time.
func (m *Manager) List() []Info {
	m.mu.Lock()
	live := make([]*Bot, 0, len(m.bots))
	for _, b := range m.bots {
		if b.State() == Live {
			live = append(live, b)
		}
	}
	m.mu.Unlock()

	sort.Slice(live, func(i, j int) bool {
		if live[i].Created.Equal(live[j].Created) {
			return live[i].ID < live[j].ID
		}
		return live[i].Created.Before(live[j].Created)
	})
	out := make([]Info, len(live))
	for i, b := range live {
		out[i] = b.Info()
	}
	return out
}

// Count is the number of registered identities, placeholders included.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bots)
}

// SetPrimary marks the identity Sender falls back to.
func (m *Manager) SetPrimary(id int64) {
	m.mu.Lock()
	m.primary = id
	m.mu.Unlock()
}

// Sender picks the live bot for brand, falling back to the primary identity.
func (m *Manager) Sender(brand string) (*Bot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pick *Bot
	for _, b := range m.bots {
		if b.State() != Live || !strings.EqualFold(b.Brand, brand) {
			continue
		}
		if pick == nil || b.Created.Before(pick.Created) {
			pick = b
		}
	}
	if pick != nil {
		return pick, true
	}
	if b, ok := m.bots[m.primary]; ok && b.State() == Live {
		return b, true
	}
	return nil, false
}

// Get returns a registered bot.
func (m *Manager) Get(id int64) (*Bot, bool) {
	b := m.get(id)
	return b, b != nil
}

func (m *Manager) get(id int64) *Bot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bots[id]
}
