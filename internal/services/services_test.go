package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/signal-relay/internal/domain"
	"github.com/tbourn/signal-relay/internal/render"
	"github.com/tbourn/signal-relay/internal/repo"
	"github.com/tbourn/signal-relay/internal/resolver"
)

// ----- Fakes -----

type sent struct {
	chatID int64
	text   string
}

type fakeChat struct {
	mu       sync.Mutex
	sent     []sent
	banned   []int64
	unbanned []int64
	links    int

	chat     tgbotapi.Chat
	count    int
	countErr error
	counts   atomic.Int32
	sendErr  error
	linkErr  error
}

func (f *fakeChat) SendText(_ context.Context, chatID, _ int64, text, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sent{chatID, text})
	return nil
}

func (f *fakeChat) CreateInviteLink(_ context.Context, chatID int64, _ int, _ time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return "", f.linkErr
	}
	f.links++
	return fmt.Sprintf("https://t.me/+invite%d", chatID), nil
}

func (f *fakeChat) BanMember(_ context.Context, _, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banned = append(f.banned, userID)
	return nil
}

func (f *fakeChat) UnbanMember(_ context.Context, _, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unbanned = append(f.unbanned, userID)
	return nil
}

func (f *fakeChat) GetChat(_ context.Context, chatID int64) (tgbotapi.Chat, error) {
	c := f.chat
	c.ID = chatID
	return c, nil
}

func (f *fakeChat) GetChatMemberCount(context.Context, int64) (int, error) {
	f.counts.Add(1)
	return f.count, f.countErr
}

type fakeDir struct {
	socials []resolver.Social
	err     error
}

func (d fakeDir) Socials(context.Context) ([]resolver.Social, error) { return d.socials, d.err }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// newAdmin serves the verify and welcome_msg endpoints.
func newAdmin(t *testing.T, verify, welcome string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = r.ParseForm()
		if r.PostForm.Get("verifyGroup") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/verify":
			_, _ = io.WriteString(w, verify)
		case "/welcome_msg":
			_, _ = io.WriteString(w, welcome)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

var community = resolver.Social{SocialGroup: -100, VerifyGroup: -200, InfoGroup: -300, Lang: "en"}

func newVerify(t *testing.T, adminURL string) (*VerifyService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	s := NewVerifyService(db, fakeDir{socials: []resolver.Social{community}}, render.MustDefaultCatalog(), adminURL, time.Second)
	return s, db
}

// ----- Tests -----

func TestVerify_SuccessRecordsUserAndInvites(t *testing.T) {
	srv, _ := newAdmin(t, `{"code":200,"data":"Welcome {username}, contact {admin}"}`, "")
	s, db := newVerify(t, srv.URL)
	api := &fakeChat{}

	got, err := s.Verify(context.Background(), api, VerifyRequest{ChatID: -200, UserID: 7, Mention: "@alice", Code: " 123456 "})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.HasPrefix(got, "Welcome @alice, contact admin") {
		t.Fatalf("unexpected reply %q", got)
	}
	if !strings.Contains(got, "https://t.me/+invite-300") {
		t.Fatalf("expected invite link in %q", got)
	}
	u, err := repo.GetVerifiedUser(context.Background(), db, 7)
	if err != nil {
		t.Fatalf("verified user not stored: %v", err)
	}
	if u.Code != "123456" || u.VerifyGroupID != -200 || u.InfoGroupID != -300 || !u.Active {
		t.Fatalf("unexpected row %+v", u)
	}
}

func TestVerify_InviteFailureKeepsMessage(t *testing.T) {
	srv, _ := newAdmin(t, `{"code":"200","data":"ok {username}"}`, "")
	s, _ := newVerify(t, srv.URL)
	api := &fakeChat{linkErr: errors.New("forbidden")}

	got, err := s.Verify(context.Background(), api, VerifyRequest{ChatID: -200, UserID: 7, Mention: "bob", Code: "1"})
	if err != nil || got != "ok bob" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestVerify_CodeHeldByAnotherUser(t *testing.T) {
	srv, calls := newAdmin(t, `{"code":200,"data":"ok"}`, "")
	s, db := newVerify(t, srv.URL)
	if err := repo.UpsertVerifiedUser(context.Background(), db, &domain.VerifiedUser{UserID: 1, VerifyGroupID: -200, Code: "555"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := s.Verify(context.Background(), &fakeChat{}, VerifyRequest{ChatID: -200, UserID: 2, Mention: "@eve", Code: "555"})
	if !errors.Is(err, ErrCodeTaken) {
		t.Fatalf("expected ErrCodeTaken, got %v", err)
	}
	if !strings.Contains(got, "@eve") || !strings.Contains(got, "already been verified") {
		t.Fatalf("unexpected reply %q", got)
	}
	if calls.Load() != 0 {
		t.Fatalf("admin service must not be called for a taken code")
	}

	// The holder may verify again.
	if _, err := s.Verify(context.Background(), &fakeChat{}, VerifyRequest{ChatID: -200, UserID: 1, Code: "555"}); err != nil {
		t.Fatalf("holder re-verify: %v", err)
	}
}

func TestVerify_CodeClaimedDuringAdminCall(t *testing.T) {
	var db *gorm.DB
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// another member finishes verifying with the same code meanwhile
		if err := repo.ClaimCode(r.Context(), db, &domain.VerifiedUser{UserID: 1, VerifyGroupID: -200, Code: "777"}); err != nil {
			t.Errorf("concurrent claim: %v", err)
		}
		_, _ = io.WriteString(w, `{"code":200,"data":"Welcome {username}"}`)
	}))
	t.Cleanup(srv.Close)

	s, testDB := newVerify(t, srv.URL)
	db = testDB

	got, err := s.Verify(context.Background(), &fakeChat{}, VerifyRequest{ChatID: -200, UserID: 2, Mention: "@eve", Code: "777"})
	if !errors.Is(err, ErrCodeTaken) {
		t.Fatalf("expected ErrCodeTaken, got %v", err)
	}
	if !strings.Contains(got, "already been verified") {
		t.Fatalf("unexpected reply %q", got)
	}
	if _, err := repo.GetVerifiedUser(context.Background(), db, 2); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("losing user must not be recorded, got %v", err)
	}
}

func TestVerify_Replies(t *testing.T) {
	cases := []struct {
		name   string
		verify string
		dir    Directory
		chatID int64
		code   string
		want   string
	}{
		{"usage", "", fakeDir{}, -200, "", "Please provide a verification code"},
		{"rejected uses upstream text", `{"code":400,"data":"<b>bad code</b>"}`, nil, -200, "9", "<b>bad code</b>"},
		{"rejected without text", `{"code":500}`, nil, -200, "9", "Verification failed"},
		{"unknown chat", "", nil, -999, "9", "No community matches"},
		{"directory down", "", fakeDir{err: errors.New("down")}, -200, "9", "Verification failed"},
		{"garbage reply", `not json`, nil, -200, "9", "Verification failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newAdmin(t, tc.verify, "")
			s, _ := newVerify(t, srv.URL)
			if tc.dir != nil {
				s.Dir = tc.dir
			}
			got, _ := s.Verify(context.Background(), &fakeChat{}, VerifyRequest{ChatID: tc.chatID, UserID: 3, Code: tc.code})
			if !strings.Contains(got, tc.want) {
				t.Fatalf("got %q, want it to contain %q", got, tc.want)
			}
		})
	}
}

func TestWelcome(t *testing.T) {
	srv, _ := newAdmin(t, "", `{"code":200,"data":"Hi {username} 👋"}`)
	s, _ := newVerify(t, srv.URL)

	got, err := s.Welcome(context.Background(), -100, "@carol")
	if err != nil || got != "Hi @carol 👋" {
		t.Fatalf("got %q, %v", got, err)
	}

	srv2, _ := newAdmin(t, "", `{"code":200}`)
	s2, _ := newVerify(t, srv2.URL)
	got, _ = s2.Welcome(context.Background(), -100, "@dan")
	if !strings.Contains(got, "@dan") || !strings.Contains(got, "Welcome") {
		t.Fatalf("default welcome expected, got %q", got)
	}

	s2.Dir = fakeDir{err: errors.New("down")}
	got, _ = s2.Welcome(context.Background(), -100, "@dan")
	if got != "Telegram social not found" {
		t.Fatalf("got %q", got)
	}
}

func TestMemberLeft_RevokesInfoAccess(t *testing.T) {
	s, db := newVerify(t, "")
	ctx := context.Background()
	if err := repo.UpsertVerifiedUser(ctx, db, &domain.VerifiedUser{UserID: 9, VerifyGroupID: -200, InfoGroupID: -300, Code: "x"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	api := &fakeChat{}
	if err := s.MemberLeft(ctx, api, -200, 9); err != nil {
		t.Fatalf("member left: %v", err)
	}
	if len(api.banned) != 1 || len(api.unbanned) != 1 || api.banned[0] != 9 {
		t.Fatalf("expected ban+unban of user 9, got %v / %v", api.banned, api.unbanned)
	}
	if _, err := repo.FindActiveByCode(ctx, db, "x"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("code should be released, got %v", err)
	}

	// Unknown users are ignored.
	if err := s.MemberLeft(ctx, api, -200, 10); err != nil {
		t.Fatalf("unknown user: %v", err)
	}
	if len(api.banned) != 1 {
		t.Fatalf("no further bans expected")
	}
}

func TestMatchSocial(t *testing.T) {
	socials := []resolver.Social{
		{SocialGroup: -1, VerifyGroup: -2},
		{SocialGroup: -3, Chats: []resolver.SocialChat{{ChatID: -4}}},
	}
	for id, want := range map[int64]int64{-1: -1, -2: -1, -3: -3, -4: -3} {
		got, ok := MatchSocial(socials, id)
		if !ok || got.SocialGroup != want {
			t.Errorf("MatchSocial(%d) = %+v, %v", id, got, ok)
		}
	}
	if _, ok := MatchSocial(socials, -5); ok {
		t.Errorf("unexpected match for -5")
	}
}

func TestGroupService_JoinLeaveTable(t *testing.T) {
	db := newTestDB(t)
	s := NewGroupService(db)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return fixed }
	ctx := context.Background()

	api := &fakeChat{chat: tgbotapi.Chat{Title: "Alpha", Type: "supergroup", UserName: "alpha"}, count: 42}
	g, err := s.Joined(ctx, api, -10)
	if err != nil {
		t.Fatalf("joined: %v", err)
	}
	if g.Title != "Alpha" || g.MemberCount != 42 || !g.JoinedAt.Equal(fixed) {
		t.Fatalf("unexpected group %+v", g)
	}

	api.countErr = errors.New("no rights")
	if _, err := s.Joined(ctx, api, -11); err != nil {
		t.Fatalf("joined without count: %v", err)
	}

	ids, err := s.ActiveChatIDs(ctx)
	if err != nil || len(ids) != 2 {
		t.Fatalf("active ids: %v, %v", ids, err)
	}

	if err := s.Left(ctx, -11); err != nil {
		t.Fatalf("left: %v", err)
	}
	if err := s.Left(ctx, -99); err != nil {
		t.Fatalf("untracked leave must be ignored: %v", err)
	}
	active, _ := s.List(ctx, true)
	if len(active) != 1 || active[0].ChatID != -10 {
		t.Fatalf("unexpected active list %+v", active)
	}

	table := Table(active)
	for _, want := range []string{"CHAT ID", "Alpha", "42", "-10"} {
		if !strings.Contains(table, want) {
			t.Fatalf("table missing %q:\n%s", want, table)
		}
	}
}

func TestMemberCount_CachesAndValidates(t *testing.T) {
	db := newTestDB(t)
	s, err := NewMemberCountService(db, time.Minute)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	api := &fakeChat{count: 5}
	for range 3 {
		n, err := s.Count(context.Background(), api, -1)
		if err != nil || n != 5 {
			t.Fatalf("count: %d, %v", n, err)
		}
	}
	if api.counts.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", api.counts.Load())
	}

	if _, err := s.Count(context.Background(), &fakeChat{countErr: errors.New("x")}, -2); err == nil {
		t.Fatalf("expected fetch error")
	}

	for raw, ok := range map[string]bool{"-100123": true, "": false, "abc": false, "1.5": false} {
		_, err := ParseChatID(raw)
		if (err == nil) != ok {
			t.Errorf("ParseChatID(%q) err = %v", raw, err)
		}
	}
}

func TestLocaleService_LookupAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Query().Get("chat_id") {
		case "1":
			_, _ = io.WriteString(w, `{"lang":"zh_TW"}`)
		case "2":
			_, _ = io.WriteString(w, `{}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)

	s, err := NewLocaleService(srv.URL, time.Second, time.Minute)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	if got := s.Lookup(ctx, 1); got != "zh-TW" {
		t.Fatalf("got %q", got)
	}
	_ = s.Lookup(ctx, 1)
	if got := s.Lookup(ctx, 2); got != "" {
		t.Fatalf("no preference should stay empty, got %q", got)
	}
	_ = s.Lookup(ctx, 2)
	if hits.Load() != 2 {
		t.Fatalf("expected cached answers, got %d hits", hits.Load())
	}

	_ = s.Lookup(ctx, 3)
	_ = s.Lookup(ctx, 3)
	if hits.Load() != 4 {
		t.Fatalf("failures must not be cached, got %d hits", hits.Load())
	}

	var off *LocaleService
	if off.Lookup(ctx, 1) != "" {
		t.Fatalf("nil service must answer empty")
	}
}

func TestPendingRelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"messages":["one","two"]}`)
	}))
	t.Cleanup(srv.Close)

	p := NewPendingRelay(srv.URL, -77, time.Second)
	api := &fakeChat{}
	n, err := p.Run(context.Background(), api)
	if err != nil || n != 2 {
		t.Fatalf("run: %d, %v", n, err)
	}
	if len(api.sent) != 2 || api.sent[0].chatID != -77 || api.sent[1].text != "two" {
		t.Fatalf("unexpected sends %+v", api.sent)
	}

	if _, err := NewPendingRelay("", -77, 0).Run(context.Background(), api); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestTTLCache_DisabledAndDelete(t *testing.T) {
	off, _ := NewTTLCache(0)
	off.Set("k", "v")
	if _, ok := off.Get("k"); ok {
		t.Fatalf("disabled cache must miss")
	}

	c, _ := NewTTLCache(time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	c.Set("k", "v")
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("get: %q %v", v, ok)
	}
	c.Delete("k")
	c.Delete("missing")
	if _, ok := c.Get("k"); ok {
		t.Fatalf("deleted key still present")
	}
}

func TestMention(t *testing.T) {
	if got := Mention(&tgbotapi.User{UserName: "neo"}); got != "@neo" {
		t.Fatalf("got %q", got)
	}
	if got := Mention(&tgbotapi.User{FirstName: "Thomas", LastName: "Anderson"}); got != "Thomas Anderson" {
		t.Fatalf("got %q", got)
	}
	if Mention(nil) != "" {
		t.Fatalf("nil user")
	}
}
