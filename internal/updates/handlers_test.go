package updates

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/signal-relay/internal/botmanager"
	"github.com/tbourn/signal-relay/internal/domain"
	"github.com/tbourn/signal-relay/internal/notify"
	"github.com/tbourn/signal-relay/internal/render"
	"github.com/tbourn/signal-relay/internal/repo"
	"github.com/tbourn/signal-relay/internal/resolver"
	"github.com/tbourn/signal-relay/internal/services"
)

type session struct {
	mu     sync.Mutex
	sent   []notify.Outgoing
	banned []int64
}

func (s *session) GetMe(context.Context) (tgbotapi.User, error) {
	return tgbotapi.User{ID: 4242, UserName: "relaybot", IsBot: true}, nil
}
func (s *session) GetWebhookInfo(context.Context) (tgbotapi.WebhookInfo, error) {
	return tgbotapi.WebhookInfo{}, nil
}
func (s *session) DeleteWebhook(context.Context, bool) error { return nil }
func (s *session) GetUpdates(ctx context.Context, _ int, _ time.Duration, _ int, allowed []string) ([]tgbotapi.Update, error) {
	if allowed == nil {
		return nil, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}
func (s *session) Send(_ context.Context, m notify.Outgoing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return nil
}
func (s *session) SendText(ctx context.Context, chatID, topicID int64, text, parseMode string) error {
	return s.Send(ctx, notify.Outgoing{ChatID: chatID, TopicID: topicID, Text: text, ParseMode: parseMode})
}
func (s *session) CreateInviteLink(context.Context, int64, int, time.Time) (string, error) {
	return "https://t.me/+abc", nil
}
func (s *session) BanMember(_ context.Context, _, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banned = append(s.banned, userID)
	return nil
}
func (s *session) UnbanMember(context.Context, int64, int64) error { return nil }
func (s *session) GetChat(_ context.Context, chatID int64) (tgbotapi.Chat, error) {
	return tgbotapi.Chat{ID: chatID, Title: "Signals <VIP>", Type: "supergroup"}, nil
}
func (s *session) GetChatMemberCount(context.Context, int64) (int, error) { return 12, nil }
func (s *session) Close() error                                         { return nil }

func (s *session) last() notify.Outgoing {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return notify.Outgoing{}
	}
	return s.sent[len(s.sent)-1]
}

type directory []resolver.Social

func (d directory) Socials(context.Context) ([]resolver.Social, error) { return d, nil }

type fixture struct {
	db     *gorm.DB
	sess   *session
	bot    *botmanager.Bot
	router *botmanager.Router
}

func setup(t *testing.T) fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	admin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			_, _ = io.WriteString(w, `{"code":200,"data":"Verified {username}"}`)
		case "/welcome_msg":
			_, _ = io.WriteString(w, `{"code":200,"data":"Hello {username}"}`)
		}
	}))
	t.Cleanup(admin.Close)

	cat := render.MustDefaultCatalog()
	dir := directory{{SocialGroup: -100, VerifyGroup: -200, InfoGroup: -300, Lang: "en"}}
	h := &Handlers{
		Groups:  services.NewGroupService(db),
		Verify:  services.NewVerifyService(db, dir, cat, admin.URL, time.Second),
		Catalog: cat,
	}
	router := h.Router()

	sess := &session{}
	m := botmanager.New(botmanager.Config{MaxBots: 1}, func(string, string) (botmanager.Session, error) { return sess, nil },
		botmanager.WithRouter(router))
	reg, err := m.Register(context.Background(), "4242:token", "BYD", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	t.Cleanup(m.Shutdown)
	bot, ok := m.Get(reg.BotID)
	if !ok {
		t.Fatalf("bot not live")
	}
	return fixture{db: db, sess: sess, bot: bot, router: router}
}

func message(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: 77, UserName: "alice"},
		Text: text,
	}}
}

func TestVerifyCommand(t *testing.T) {
	f := setup(t)
	f.router.Dispatch(context.Background(), f.bot, message(-200, "/verify@relaybot 123"))

	got := f.sess.last()
	if got.ChatID != -200 || got.ParseMode != services.ParseModeHTML {
		t.Fatalf("unexpected reply %+v", got)
	}
	if !strings.HasPrefix(got.Text, "Verified @alice") || !strings.Contains(got.Text, "https://t.me/+abc") {
		t.Fatalf("unexpected text %q", got.Text)
	}
	if _, err := repo.GetVerifiedUser(context.Background(), f.db, 77); err != nil {
		t.Fatalf("user not recorded: %v", err)
	}
}

func TestGroupsCommandAndMembership(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	join := tgbotapi.Update{MyChatMember: &tgbotapi.ChatMemberUpdated{
		Chat:          tgbotapi.Chat{ID: -500},
		OldChatMember: tgbotapi.ChatMember{Status: "left"},
		NewChatMember: tgbotapi.ChatMember{Status: "administrator"},
	}}
	f.router.Dispatch(ctx, f.bot, join)

	g, err := repo.GetGroup(ctx, f.db, -500)
	if err != nil || g.MemberCount != 12 || !g.Active {
		t.Fatalf("group not tracked: %+v, %v", g, err)
	}

	f.router.Dispatch(ctx, f.bot, message(-500, "/groups"))
	got := f.sess.last().Text
	if !strings.Contains(got, "Tracking 1 active groups") || !strings.Contains(got, "<pre>") {
		t.Fatalf("unexpected /groups reply %q", got)
	}
	if !strings.Contains(got, "Signals &lt;VIP&gt;") {
		t.Fatalf("titles must be escaped: %q", got)
	}

	leave := join
	leave.MyChatMember = &tgbotapi.ChatMemberUpdated{
		Chat:          tgbotapi.Chat{ID: -500},
		OldChatMember: tgbotapi.ChatMember{Status: "member"},
		NewChatMember: tgbotapi.ChatMember{Status: "kicked"},
	}
	f.router.Dispatch(ctx, f.bot, leave)
	g, _ = repo.GetGroup(ctx, f.db, -500)
	if g.Active || g.LeftAt == nil {
		t.Fatalf("group should be inactive: %+v", g)
	}
}

func TestChatMember_WelcomeAndLeave(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := &tgbotapi.User{ID: 88, FirstName: "Bob"}

	f.router.Dispatch(ctx, f.bot, tgbotapi.Update{ChatMember: &tgbotapi.ChatMemberUpdated{
		Chat:          tgbotapi.Chat{ID: -200},
		From:          *user,
		OldChatMember: tgbotapi.ChatMember{User: user, Status: "left"},
		NewChatMember: tgbotapi.ChatMember{User: user, Status: "member"},
	}})
	if got := f.sess.last(); got.ChatID != -200 || got.Text != "Hello Bob" {
		t.Fatalf("unexpected welcome %+v", got)
	}

	if err := repo.UpsertVerifiedUser(ctx, f.db, &domain.VerifiedUser{UserID: 88, VerifyGroupID: -200, InfoGroupID: -300, Code: "c"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.router.Dispatch(ctx, f.bot, tgbotapi.Update{ChatMember: &tgbotapi.ChatMemberUpdated{
		Chat:          tgbotapi.Chat{ID: -200},
		From:          *user,
		OldChatMember: tgbotapi.ChatMember{User: user, Status: "member"},
		NewChatMember: tgbotapi.ChatMember{User: user, Status: "left"},
	}})
	f.sess.mu.Lock()
	banned := append([]int64(nil), f.sess.banned...)
	f.sess.mu.Unlock()
	if len(banned) != 1 || banned[0] != 88 {
		t.Fatalf("expected removal from info group, got %v", banned)
	}
}
