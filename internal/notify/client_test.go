package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeBotAPI is a minimal Bot API stand-in keyed by method name.
type fakeBotAPI struct {
	mu     sync.Mutex
	calls  map[string]int
	forms  map[string][]map[string]string
	replyf func(method string, n int) string
}

func newFakeBotAPI(t *testing.T, reply func(method string, n int) string) (*fakeBotAPI, *httptest.Server) {
	t.Helper()
	f := &fakeBotAPI{calls: map[string]int{}, forms: map[string][]map[string]string{}, replyf: reply}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	form := map[string]string{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			for k, v := range r.MultipartForm.Value {
				form[k] = v[0]
			}
			for k := range r.MultipartForm.File {
				form["file:"+k] = "1"
			}
		}
	} else {
		_ = r.ParseForm()
		for k, v := range r.PostForm {
			form[k] = v[0]
		}
	}

	f.mu.Lock()
	f.calls[method]++
	n := f.calls[method]
	f.forms[method] = append(f.forms[method], form)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, f.replyf(method, n))
}

func (f *fakeBotAPI) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeBotAPI) lastForm(method string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs := f.forms[method]
	if len(fs) == 0 {
		return nil
	}
	return fs[len(fs)-1]
}

func okJSON(result string) string { return `{"ok":true,"result":` + result + `}` }

func errJSON(code int, desc string) string {
	return fmt.Sprintf(`{"ok":false,"error_code":%d,"description":%q}`, code, desc)
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Min: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}
}

func openTest(t *testing.T, srv *httptest.Server) *Session {
	t.Helper()
	s, err := Open("123:abc", Options{
		Endpoint:    srv.URL + "/bot%s/%s",
		SendTimeout: 2 * time.Second,
		SendRPS:     1000,
		Retry:       fastRetry(),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RejectsEmptyTokenAndBadProxy(t *testing.T) {
	if _, err := Open("", Options{}); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if _, err := Open("t", Options{Proxy: "://bad"}); err == nil {
		t.Fatalf("expected error for malformed proxy")
	}
	s, err := Open("t", Options{Proxy: "http://127.0.0.1:3128"})
	if err != nil {
		t.Fatalf("valid proxy rejected: %v", err)
	}
	_ = s.Close()
}

func TestGetMe_DecodesUser(t *testing.T) {
	_, srv := newFakeBotAPI(t, func(method string, n int) string {
		return okJSON(`{"id":42,"is_bot":true,"first_name":"Relay","username":"relay_bot"}`)
	})
	s := openTest(t, srv)

	u, err := s.GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe: %v", err)
	}
	if u.ID != 42 || u.UserName != "relay_bot" {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestSend_TextWithTopic(t *testing.T) {
	f, srv := newFakeBotAPI(t, func(method string, n int) string { return okJSON(`{"message_id":1}`) })
	s := openTest(t, srv)

	err := s.Send(context.Background(), Outgoing{ChatID: -100123, TopicID: 7, Text: "*hi*", ParseMode: ParseModeMarkdown})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	form := f.lastForm("sendMessage")
	if form["chat_id"] != "-100123" || form["message_thread_id"] != "7" || form["parse_mode"] != "Markdown" || form["text"] != "*hi*" {
		t.Fatalf("unexpected form: %#v", form)
	}
}

func TestSend_NoTopicOmitsThread(t *testing.T) {
	f, srv := newFakeBotAPI(t, func(method string, n int) string { return okJSON(`{"message_id":1}`) })
	s := openTest(t, srv)

	if err := s.SendText(context.Background(), 5, 0, "x", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, ok := f.lastForm("sendMessage")["message_thread_id"]; ok {
		t.Fatalf("message_thread_id must be omitted for topic 0")
	}
}

func TestSend_RetriesTransientThenSucceeds(t *testing.T) {
	f, srv := newFakeBotAPI(t, func(method string, n int) string {
		if n < 3 {
			return errJSON(502, "Bad Gateway")
		}
		return okJSON(`{"message_id":1}`)
	})
	s := openTest(t, srv)

	if err := s.SendText(context.Background(), 1, 0, "x", ""); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := f.count("sendMessage"); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestSend_GivesUpAfterMaxRetries(t *testing.T) {
	f, srv := newFakeBotAPI(t, func(method string, n int) string { return errJSON(500, "Internal") })
	s := openTest(t, srv)

	err := s.SendText(context.Background(), 1, 0, "x", "")
	if StatusCode(err) != 500 {
		t.Fatalf("expected 500 error, got %v", err)
	}
	if got := f.count("sendMessage"); got != 3 {
		t.Fatalf("expected 1 + 2 retries, got %d", got)
	}
}

func TestSend_PermanentErrorNotRetried(t *testing.T) {
	f, srv := newFakeBotAPI(t, func(method string, n int) string { return errJSON(403, "Forbidden: bot was kicked") })
	s := openTest(t, srv)

	err := s.SendText(context.Background(), 1, 0, "x", "")
	if StatusCode(err) != 403 {
		t.Fatalf("expected 403, got %v", err)
	}
	if got := f.count("sendMessage"); got != 1 {
		t.Fatalf("permanent error must not be retried, got %d attempts", got)
	}
}

func TestSend_MissingOrEmptyImage(t *testing.T) {
	f, srv := newFakeBotAPI(t, func(method string, n int) string { return okJSON(`{"message_id":1}`) })
	s := openTest(t, srv)

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.png")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, p := range []string{filepath.Join(dir, "nope.png"), empty} {
		err := s.Send(context.Background(), Outgoing{ChatID: 1, Text: "cap", PhotoPath: p})
		if !errors.Is(err, ErrImageMissing) {
			t.Fatalf("expected ErrImageMissing for %s, got %v", p, err)
		}
	}
	if f.count("sendPhoto") != 0 {
		t.Fatalf("no upload expected for missing images")
	}
}

func TestSend_PhotoUpload(t *testing.T) {
	f, srv := newFakeBotAPI(t, func(method string, n int) string { return okJSON(`{"message_id":1}`) })
	s := openTest(t, srv)

	img := filepath.Join(t.TempDir(), "card.png")
	if err := os.WriteFile(img, []byte("\x89PNG fake"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Send(context.Background(), Outgoing{ChatID: 9, TopicID: 3, Text: "caption", PhotoPath: img, ParseMode: ParseModeMarkdown}); err != nil {
		t.Fatalf("send photo: %v", err)
	}
	form := f.lastForm("sendPhoto")
	if form["caption"] != "caption" || form["message_thread_id"] != "3" || form["file:photo"] != "1" {
		t.Fatalf("unexpected multipart form: %#v", form)
	}
}

func TestGetUpdates_ConflictDetected(t *testing.T) {
	_, srv := newFakeBotAPI(t, func(method string, n int) string {
		return errJSON(409, "Conflict: terminated by other getUpdates request")
	})
	s := openTest(t, srv)

	_, err := s.GetUpdates(context.Background(), 0, 0, 1, nil)
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestGetUpdates_DecodesAndSendsAllowed(t *testing.T) {
	f, srv := newFakeBotAPI(t, func(method string, n int) string {
		return okJSON(`[{"update_id":10,"message":{"message_id":1,"date":0,"chat":{"id":5,"type":"group"},"text":"/groups"}}]`)
	})
	s := openTest(t, srv)

	ups, err := s.GetUpdates(context.Background(), 9, time.Second, 0, []string{"message", "chat_member"})
	if err != nil {
		t.Fatalf("getUpdates: %v", err)
	}
	if len(ups) != 1 || ups[0].UpdateID != 10 || ups[0].Message.Text != "/groups" {
		t.Fatalf("unexpected updates: %+v", ups)
	}
	form := f.lastForm("getUpdates")
	if form["offset"] != "9" || form["timeout"] != "1" || form["allowed_updates"] != `["message","chat_member"]` {
		t.Fatalf("unexpected form: %#v", form)
	}
}

func TestLookups(t *testing.T) {
	_, srv := newFakeBotAPI(t, func(method string, n int) string {
		switch method {
		case "getChat":
			return okJSON(`{"id":-100,"type":"supergroup","title":"Signals","username":"sig"}`)
		case "getChatMemberCount":
			return okJSON(`321`)
		case "getWebhookInfo":
			return okJSON(`{"url":"https://hook.example","has_custom_certificate":false,"pending_update_count":0}`)
		case "createChatInviteLink":
			return okJSON(`{"invite_link":"https://t.me/+abc","creator":{"id":1,"is_bot":true,"first_name":"b"},"creates_join_request":false,"is_primary":false,"is_revoked":false}`)
		default:
			return okJSON(`true`)
		}
	})
	s := openTest(t, srv)
	ctx := context.Background()

	chat, err := s.GetChat(ctx, -100)
	if err != nil || chat.Title != "Signals" {
		t.Fatalf("GetChat = %+v, %v", chat, err)
	}
	n, err := s.GetChatMemberCount(ctx, -100)
	if err != nil || n != 321 {
		t.Fatalf("GetChatMemberCount = %d, %v", n, err)
	}
	wh, err := s.GetWebhookInfo(ctx)
	if err != nil || wh.URL != "https://hook.example" {
		t.Fatalf("GetWebhookInfo = %+v, %v", wh, err)
	}
	link, err := s.CreateInviteLink(ctx, -100, 1, time.Now().Add(time.Hour))
	if err != nil || link != "https://t.me/+abc" {
		t.Fatalf("CreateInviteLink = %q, %v", link, err)
	}
	if err := s.DeleteWebhook(ctx, true); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}
	if err := s.BanMember(ctx, -100, 7); err != nil {
		t.Fatalf("BanMember: %v", err)
	}
	if err := s.UnbanMember(ctx, -100, 7); err != nil {
		t.Fatalf("UnbanMember: %v", err)
	}
}

func TestClose_IdempotentAndBlocksCalls(t *testing.T) {
	f, srv := newFakeBotAPI(t, func(method string, n int) string { return okJSON(`true`) })
	s := openTest(t, srv)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	err := s.SendText(context.Background(), 1, 0, "x", "")
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if f.count("sendMessage") != 0 {
		t.Fatalf("no request expected after close")
	}
}

func TestRequest_TimeoutIsRetryable(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() { close(block); srv.Close() })

	s, err := Open("t", Options{Endpoint: srv.URL + "/bot%s/%s", LookupTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	_, err = s.GetChat(context.Background(), 1)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !IsRetryable(err) {
		t.Fatalf("timeouts must be retryable: %v", err)
	}
}
