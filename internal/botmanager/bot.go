package botmanager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tbourn/signal-relay/internal/notify"
)

// Session is the Bot API surface a registered identity uses. *notify.Session
// implements it.
type Session interface {
	GetMe(ctx context.Context) (tgbotapi.User, error)
	GetWebhookInfo(ctx context.Context) (tgbotapi.WebhookInfo, error)
	DeleteWebhook(ctx context.Context, dropPending bool) error
	GetUpdates(ctx context.Context, offset int, timeout time.Duration, limit int, allowed []string) ([]tgbotapi.Update, error)

	Send(ctx context.Context, m notify.Outgoing) error
	SendText(ctx context.Context, chatID, topicID int64, text, parseMode string) error
	CreateInviteLink(ctx context.Context, chatID int64, memberLimit int, expire time.Time) (string, error)
	BanMember(ctx context.Context, chatID, userID int64) error
	UnbanMember(ctx context.Context, chatID, userID int64) error
	GetChat(ctx context.Context, chatID int64) (tgbotapi.Chat, error)
	GetChatMemberCount(ctx context.Context, chatID int64) (int, error)

	Close() error
}

var _ Session = (*notify.Session)(nil)

// State is a bot identity's lifecycle stage.
type State int32

const (
	Unregistered State = iota
	Registering
	Live
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Registering:
		return "registering"
	case Live:
		return "live"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return "unregistered"
}

// Bot is one registered identity. Fields set at registration are read-only
// afterwards; state and activity are atomics.
type Bot struct {
	ID       int64
	Brand    string
	Proxy    string
	Name     string
	Username string
	Created  time.Time

	session  Session
	router   *Router
	state    atomic.Int32
	activity atomic.Int64 // unix nanos

	cancel context.CancelFunc
	tasks  sync.WaitGroup

	// closed once the bot leaves Registering
	settled    chan struct{}
	settleOnce sync.Once
}

// Info is the public view returned by List and Register.
type Info struct {
	BotID        int64     `json:"bot_id"`
	Brand        string    `json:"brand"`
	Proxy        string    `json:"proxy,omitempty"`
	BotName      string    `json:"bot_name"`
	Username     string    `json:"username"`
	State        string    `json:"state"`
	LastActivity time.Time `json:"last_activity"`
}

// Session returns the bot's Bot API session.
func (b *Bot) Session() Session { return b.session }

// State reports the current lifecycle stage.
func (b *Bot) State() State { return State(b.state.Load()) }

func (b *Bot) setState(s State) {
	b.state.Store(int32(s))
	if s != Registering && b.settled != nil {
		b.settleOnce.Do(func() { close(b.settled) })
	}
}

// Touch records activity now.
func (b *Bot) Touch(now time.Time) { b.activity.Store(now.UnixNano()) }

// LastActivity is the time of the last send or inbound update.
func (b *Bot) LastActivity() time.Time { return time.Unix(0, b.activity.Load()) }

// Send delivers through the bot's session and counts as activity.
func (b *Bot) Send(ctx context.Context, m notify.Outgoing) error {
	b.Touch(time.Now())
	return b.session.Send(ctx, m)
}

// Info snapshots the bot for listing.
func (b *Bot) Info() Info {
	return Info{
		BotID:        b.ID,
		Brand:        b.Brand,
		Proxy:        b.Proxy,
		BotName:      b.Name,
		Username:     b.Username,
		State:        b.State().String(),
		LastActivity: b.LastActivity().UTC(),
	}
}

// spawn runs fn as a tracked task of this bot.
func (b *Bot) spawn(fn func()) {
	b.tasks.Add(1)
	go func() {
		defer b.tasks.Done()
		fn()
	}()
}
