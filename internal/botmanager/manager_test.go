package botmanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tbourn/signal-relay/internal/notify"
)

type fakeSession struct {
	id         int64
	username   string
	getMeErr   error
	webhookURL string
	webhookErr error
	pollErr    error
	deleteErr  error

	pollChecks atomic.Int32
	pollGate   chan struct{}
	deleted    atomic.Bool

	updates chan tgbotapi.Update
	polling atomic.Int32
	closed  atomic.Bool

	mu   sync.Mutex
	sent []notify.Outgoing
}

func newFake(id int64) *fakeSession {
	return &fakeSession{id: id, username: fmt.Sprintf("bot%d", id), updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeSession) GetMe(context.Context) (tgbotapi.User, error) {
	if f.getMeErr != nil {
		return tgbotapi.User{}, f.getMeErr
	}
	return tgbotapi.User{ID: f.id, FirstName: "Relay", UserName: f.username, IsBot: true}, nil
}

func (f *fakeSession) GetWebhookInfo(context.Context) (tgbotapi.WebhookInfo, error) {
	if f.webhookErr != nil {
		return tgbotapi.WebhookInfo{}, f.webhookErr
	}
	return tgbotapi.WebhookInfo{URL: f.webhookURL}, nil
}

func (f *fakeSession) DeleteWebhook(context.Context, bool) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted.Store(true)
	return nil
}

var errWebhookActive = &tgbotapi.Error{
	Code:    409,
	Message: "Conflict: can't use getUpdates method while webhook is active; use deleteWebhook to delete the webhook first",
}

func (f *fakeSession) GetUpdates(ctx context.Context, _ int, _ time.Duration, _ int, allowed []string) ([]tgbotapi.Update, error) {
	if allowed == nil { // conflict check
		f.pollChecks.Add(1)
		if f.pollGate != nil {
			select {
			case <-f.pollGate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if f.webhookURL != "" && !f.deleted.Load() {
			return nil, errWebhookActive
		}
		return nil, f.pollErr
	}
	f.polling.Add(1)
	defer f.polling.Add(-1)
	select {
	case u := <-f.updates:
		return []tgbotapi.Update{u}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSession) Send(_ context.Context, m notify.Outgoing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSession) SendText(ctx context.Context, chatID, topicID int64, text, parseMode string) error {
	return f.Send(ctx, notify.Outgoing{ChatID: chatID, TopicID: topicID, Text: text, ParseMode: parseMode})
}

func (f *fakeSession) CreateInviteLink(context.Context, int64, int, time.Time) (string, error) {
	return "https://t.me/+invite", nil
}
func (f *fakeSession) BanMember(context.Context, int64, int64) error   { return nil }
func (f *fakeSession) UnbanMember(context.Context, int64, int64) error { return nil }
func (f *fakeSession) GetChat(_ context.Context, id int64) (tgbotapi.Chat, error) {
	return tgbotapi.Chat{ID: id}, nil
}
func (f *fakeSession) GetChatMemberCount(context.Context, int64) (int, error) { return 3, nil }

func (f *fakeSession) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeSession) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Text
	}
	return out
}

// opener hands out sessions from build and remembers them.
type opener struct {
	mu       sync.Mutex
	sessions []*fakeSession
	build    func(token string) *fakeSession
}

func (o *opener) open(token, _ string) (Session, error) {
	f := o.build(token)
	o.mu.Lock()
	o.sessions = append(o.sessions, f)
	o.mu.Unlock()
	return f, nil
}

func (o *opener) closedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, s := range o.sessions {
		if s.closed.Load() {
			n++
		}
	}
	return n
}

func fixed(id int64) *opener {
	return &opener{build: func(string) *fakeSession { return newFake(id) }}
}

func testConfig() Config {
	return Config{MaxBots: 10, HeartbeatInterval: time.Hour, IdleCheckInterval: time.Hour}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestRegister_ConcurrentSameIdentity(t *testing.T) {
	op := fixed(100)
	m := New(testConfig(), op.open)
	t.Cleanup(m.Shutdown)

	const n = 8
	var started, already atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg, err := m.Register(context.Background(), "100:abc", "BYD", "")
			if err != nil {
				t.Errorf("register: %v", err)
				return
			}
			switch reg.Status {
			case StatusStarted:
				started.Add(1)
			case StatusAlreadyStarted:
				already.Add(1)
				if reg.BotID != 100 || reg.Brand != "BYD" {
					t.Errorf("already_started should echo the existing identity: %+v", reg)
				}
			}
		}()
	}
	wg.Wait()

	if started.Load() != 1 || already.Load() != n-1 {
		t.Fatalf("started=%d already=%d", started.Load(), already.Load())
	}
	if m.Count() != 1 {
		t.Fatalf("expected one identity, got %d", m.Count())
	}
	if op.closedCount() != n-1 {
		t.Fatalf("duplicate sessions must be closed, closed=%d", op.closedCount())
	}
}

func TestRegister_WaitsForInFlightRegistration(t *testing.T) {
	gate := make(chan struct{})
	var opened atomic.Int32
	op := &opener{build: func(string) *fakeSession {
		f := newFake(21)
		f.pollGate = gate
		f.pollErr = &tgbotapi.Error{Code: 409, Message: "Conflict: terminated by other getUpdates request"}
		return f
	}}
	m := New(testConfig(), func(token, proxy string) (Session, error) {
		s, err := op.open(token, proxy)
		opened.Add(1)
		return s, err
	})
	t.Cleanup(m.Shutdown)

	type result struct {
		reg Registration
		err error
	}
	register := func() <-chan result {
		ch := make(chan result, 1)
		go func() {
			reg, err := m.Register(context.Background(), "21:x", "BYD", "")
			ch <- result{reg, err}
		}()
		return ch
	}

	first := register()
	eventually(t, func() bool { return m.Count() == 1 }, "placeholder inserted")
	second := register()
	eventually(t, func() bool { return opened.Load() == 2 }, "second session opened")
	time.Sleep(20 * time.Millisecond)

	select {
	case r := <-second:
		t.Fatalf("second caller answered before the first settled: %+v err=%v", r.reg, r.err)
	default:
	}

	close(gate)
	for i, ch := range []<-chan result{first, second} {
		r := <-ch
		if !errors.Is(r.err, ErrConflict) {
			t.Fatalf("caller %d: expected ErrConflict, got %v", i, r.err)
		}
		if r.reg.Status == StatusAlreadyStarted {
			t.Fatalf("caller %d told already_started for a bot that never went live", i)
		}
	}
	if m.Count() != 0 {
		t.Fatalf("no identity should remain, got %d", m.Count())
	}
}

func TestRegister_CapacityBound(t *testing.T) {
	var next atomic.Int64
	op := &opener{build: func(string) *fakeSession { return newFake(next.Add(1)) }}
	cfg := testConfig()
	cfg.MaxBots = 3
	m := New(cfg, op.open)
	t.Cleanup(m.Shutdown)

	var ok, full atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Register(context.Background(), "", "BYD", "")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrCapacity):
				full.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 3 || full.Load() != 3 || m.Count() != 3 {
		t.Fatalf("ok=%d full=%d count=%d", ok.Load(), full.Load(), m.Count())
	}
	if len(m.List()) != 3 {
		t.Fatalf("List should show the live bots")
	}
}

func TestStop_IdempotentAndWaitsForTasks(t *testing.T) {
	fake := newFake(7)
	var runs atomic.Int32
	task := Task{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context, *Bot) error {
		runs.Add(1)
		return nil
	}}
	m := New(testConfig(), func(string, string) (Session, error) { return fake, nil }, WithTasks(task))

	if _, err := m.Register(context.Background(), "7:x", "BYD", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	eventually(t, func() bool { return fake.polling.Load() == 1 && runs.Load() > 0 }, "tasks running")

	b, _ := m.Get(7)
	if !m.Stop(7) {
		t.Fatalf("first stop should report true")
	}
	if fake.polling.Load() != 0 {
		t.Fatalf("polling still active after Stop")
	}
	if !fake.closed.Load() || b.State() != Stopped {
		t.Fatalf("session must be closed and state stopped")
	}
	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != after {
		t.Fatalf("maintenance task kept running after Stop")
	}
	if m.Stop(7) {
		t.Fatalf("second stop should report false")
	}
	if m.Count() != 0 || len(m.List()) != 0 {
		t.Fatalf("bot should be gone")
	}
}

func TestRegister_OtherInstanceAborts(t *testing.T) {
	fake := newFake(9)
	fake.pollErr = &tgbotapi.Error{Code: 409, Message: "Conflict: terminated by other getUpdates request"}
	m := New(testConfig(), func(string, string) (Session, error) { return fake, nil })

	reg, err := m.Register(context.Background(), "9:x", "BYD", "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if !strings.Contains(reg.ConflictWarning, WarnOtherInstance) {
		t.Fatalf("warning should name the conflict: %+v", reg)
	}
	if !fake.closed.Load() || m.Count() != 0 {
		t.Fatalf("aborted registration must close the session and free the slot")
	}
}

func TestRegister_AdvisoryWarnings(t *testing.T) {
	cases := []struct {
		name  string
		token string
		setup func(*fakeSession)
		want  string
	}{
		{"webhook", "11:x", func(f *fakeSession) { f.webhookURL = "https://hook" }, WarnWebhookActive},
		{"delete failed", "11:x", func(f *fakeSession) { f.deleteErr = errors.New("boom") }, WarnWebhookDeleteFailed},
		{"mismatch", "999:x", func(*fakeSession) {}, WarnTokenMismatch},
		{"clean", "11:x", func(*fakeSession) {}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFake(11)
			tc.setup(fake)
			m := New(testConfig(), func(string, string) (Session, error) { return fake, nil })
			t.Cleanup(m.Shutdown)

			reg, err := m.Register(context.Background(), tc.token, "BYD", "")
			if err != nil {
				t.Fatalf("register: %v", err)
			}
			if reg.Status != StatusStarted || reg.ConflictWarning != tc.want {
				t.Fatalf("got %+v, want warning %q", reg, tc.want)
			}
		})
	}
}

func TestRegister_WebhookConflictIsAdvisory(t *testing.T) {
	cases := []struct {
		name       string
		setup      func(*fakeSession)
		wantChecks int32
	}{
		{
			name:       "webhook info reports url",
			setup:      func(f *fakeSession) { f.webhookURL = "https://example.com/hook" },
			wantChecks: 0,
		},
		{
			name: "webhook info unavailable, getUpdates sees webhook 409",
			setup: func(f *fakeSession) {
				f.webhookErr = errors.New("timeout")
				f.pollErr = errWebhookActive
			},
			wantChecks: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFake(12)
			tc.setup(fake)
			m := New(testConfig(), func(string, string) (Session, error) { return fake, nil })
			t.Cleanup(m.Shutdown)

			reg, err := m.Register(context.Background(), "12:x", "BYD", "")
			if err != nil {
				t.Fatalf("webhook must not abort registration: %v", err)
			}
			if reg.Status != StatusStarted || reg.ConflictWarning != WarnWebhookActive {
				t.Fatalf("got %+v, want started with %q", reg, WarnWebhookActive)
			}
			if strings.Contains(reg.ConflictWarning, WarnOtherInstance) {
				t.Fatalf("webhook reported as another instance: %+v", reg)
			}
			if fake.pollChecks.Load() != tc.wantChecks {
				t.Fatalf("getUpdates checks = %d, want %d", fake.pollChecks.Load(), tc.wantChecks)
			}
			if !fake.deleted.Load() {
				t.Fatalf("webhook should be deleted before polling")
			}
			eventually(t, func() bool { return fake.polling.Load() == 1 }, "polling started")
		})
	}
}

func TestRegister_HandshakeFailure(t *testing.T) {
	fake := newFake(1)
	fake.getMeErr = &tgbotapi.Error{Code: 401, Message: "Unauthorized"}
	m := New(testConfig(), func(string, string) (Session, error) { return fake, nil })

	if _, err := m.Register(context.Background(), "1:x", "BYD", ""); !errors.Is(err, ErrHandshake) {
		t.Fatalf("expected ErrHandshake, got %v", err)
	}
	if !fake.closed.Load() || m.Count() != 0 {
		t.Fatalf("failed handshake must close the session")
	}

	m = New(testConfig(), func(string, string) (Session, error) { return nil, errors.New("bad proxy") })
	if _, err := m.Register(context.Background(), "1:x", "BYD", "::"); !errors.Is(err, ErrHandshake) {
		t.Fatalf("open failure should be a handshake error, got %v", err)
	}
}

func TestWatchdog_StopsIdleBot(t *testing.T) {
	fake := newFake(5)
	cfg := testConfig()
	cfg.IdleTimeout = 30 * time.Millisecond
	cfg.IdleCheckInterval = 10 * time.Millisecond
	m := New(cfg, func(string, string) (Session, error) { return fake, nil })

	if _, err := m.Register(context.Background(), "5:x", "BYD", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	eventually(t, func() bool { return m.Count() == 0 }, "idle bot stopped")
	m.Shutdown()
	if !fake.closed.Load() {
		t.Fatalf("idle stop must close the session")
	}
}

func TestRecordActivity(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	m := New(testConfig(), fixed(3).open, WithClock(clock))
	t.Cleanup(m.Shutdown)

	if _, err := m.Register(context.Background(), "3:x", "BYD", ""); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()
	m.RecordActivity(3)
	m.RecordActivity(404) // unknown ids are ignored

	if got := m.List()[0].LastActivity; !got.Equal(now) {
		t.Fatalf("last activity = %v, want %v", got, now)
	}
}

func TestSender_BrandThenPrimary(t *testing.T) {
	var next atomic.Int64
	op := &opener{build: func(string) *fakeSession { return newFake(next.Add(1)) }}
	m := New(testConfig(), op.open)
	t.Cleanup(m.Shutdown)

	primary, _ := m.Register(context.Background(), "", "BYD", "")
	other, _ := m.Register(context.Background(), "", "ACME", "")
	m.SetPrimary(primary.BotID)

	if b, ok := m.Sender("acme"); !ok || b.ID != other.BotID {
		t.Fatalf("brand match expected")
	}
	if b, ok := m.Sender("unknown"); !ok || b.ID != primary.BotID {
		t.Fatalf("primary fallback expected")
	}
	m.Stop(primary.BotID)
	if _, ok := m.Sender("unknown"); ok {
		t.Fatalf("no sender once the primary is gone")
	}
}

func TestRouter_DispatchesCommandsAndMembership(t *testing.T) {
	fake := newFake(21)
	got := make(chan string, 4)

	r := NewRouter()
	r.Command("verify", func(ctx context.Context, c *Context) error {
		got <- "verify:" + c.Args
		return c.Reply(ctx, "ok", "")
	})
	r.OnChatMember(func(_ context.Context, c *Context) error {
		got <- "member:" + c.Update.ChatMember.NewChatMember.Status
		return nil
	})
	r.OnMyChatMember(func(context.Context, *Context) error { panic("boom") })

	m := New(testConfig(), func(string, string) (Session, error) { return fake, nil }, WithRouter(r))
	t.Cleanup(m.Shutdown)
	if _, err := m.Register(context.Background(), "21:x", "BYD", ""); err != nil {
		t.Fatal(err)
	}

	chat := &tgbotapi.Chat{ID: -100}
	fake.updates <- tgbotapi.Update{UpdateID: 1, Message: &tgbotapi.Message{Text: "/verify@otherbot X", Chat: chat}}
	fake.updates <- tgbotapi.Update{UpdateID: 2, MyChatMember: &tgbotapi.ChatMemberUpdated{Chat: *chat}}
	fake.updates <- tgbotapi.Update{UpdateID: 3, Message: &tgbotapi.Message{Text: "/verify@bot21  ABC123 ", Chat: chat}}
	fake.updates <- tgbotapi.Update{UpdateID: 4, ChatMember: &tgbotapi.ChatMemberUpdated{
		Chat: *chat, NewChatMember: tgbotapi.ChatMember{Status: "member"},
	}}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case s := <-got:
			seen[s] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("handlers not called, seen %v", seen)
		}
	}
	if !seen["verify:ABC123"] || !seen["member:member"] {
		t.Fatalf("unexpected dispatch: %v", seen)
	}
	eventually(t, func() bool { return len(fake.sentTexts()) == 1 }, "reply sent")
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		text, name, args string
		ok               bool
	}{
		{"/verify 123", "verify", "123", true},
		{"/Groups", "groups", "", true},
		{"/verify@Relay_Bot  code ", "verify", "code", true},
		{"/verify@other code", "", "", false},
		{"hello", "", "", false},
		{"/", "", "", false},
	}
	for _, tc := range cases {
		name, args, ok := parseCommand(tc.text, "relay_bot")
		if name != tc.name || args != tc.args || ok != tc.ok {
			t.Errorf("parseCommand(%q) = %q %q %v", tc.text, name, args, ok)
		}
	}
}
