// Package notify wraps one bot identity's outbound Bot API traffic.
//
// A Session owns an HTTP client (optionally proxied), a send-rate limiter and
// a retry policy. Every call runs under its own deadline: delivery calls use
// the send timeout, lookups use the lookup timeout and long polls use the poll
// timeout plus a grace period. Close cancels the session context so no new
// call starts and in-flight ones unwind.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultEndpoint is the public Bot API URL template.
const DefaultEndpoint = tgbotapi.APIEndpoint

// ParseModeMarkdown is the legacy Markdown parse mode used by rendered templates.
const ParseModeMarkdown = tgbotapi.ModeMarkdown

// Options configures a Session.
type Options struct {
	Endpoint      string // Bot API URL template with two %s (token, method)
	Proxy         string // optional proxy URL
	SendTimeout   time.Duration
	LookupTimeout time.Duration
	ProbeTimeout  time.Duration
	SendRPS       float64
	Retry         RetryPolicy
	HTTPClient    *http.Client // overrides Proxy when set
}

func (o *Options) defaults() {
	if o.Endpoint == "" {
		o.Endpoint = DefaultEndpoint
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 15 * time.Second
	}
	if o.LookupTimeout <= 0 {
		o.LookupTimeout = 3 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 2 * time.Second
	}
	if o.SendRPS <= 0 {
		o.SendRPS = 25
	}
}

// Outgoing is one rendered message for one destination.
type Outgoing struct {
	ChatID    int64
	TopicID   int64 // 0 posts to the main thread
	Text      string
	PhotoPath string // when set, Text becomes the caption
	ParseMode string
}

// Session is a live connection to the Bot API for one token.
type Session struct {
	api     *tgbotapi.BotAPI
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Open prepares a session without talking to the network; the caller is
// expected to follow up with GetMe.
func Open(token string, opts Options) (*Session, error) {
	if token == "" {
		return nil, errors.New("notify: empty token")
	}
	opts.defaults()

	client := opts.HTTPClient
	if client == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if opts.Proxy != "" {
			pu, err := url.Parse(opts.Proxy)
			if err != nil {
				return nil, fmt.Errorf("notify: parse proxy: %w", err)
			}
			tr.Proxy = http.ProxyURL(pu)
		}
		client = &http.Client{Transport: tr}
	}

	api := &tgbotapi.BotAPI{Token: token, Client: client, Buffer: 100}
	api.SetAPIEndpoint(opts.Endpoint)

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		api:     api,
		client:  client,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.SendRPS), int(opts.SendRPS)+1),
		log:     log.With().Str("component", "notify").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Close cancels outstanding calls and releases idle connections. Safe to call
// more than once.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.client.CloseIdleConnections()
	})
	return nil
}

// ctxClient binds every outgoing request to a context, which tgbotapi does
// not do on its own.
type ctxClient struct {
	ctx context.Context
	c   *http.Client
}

func (cc ctxClient) Do(req *http.Request) (*http.Response, error) {
	return cc.c.Do(req.WithContext(cc.ctx))
}

// bound returns a copy of the API handle whose requests observe ctx, the
// session lifetime and the given timeout.
func (s *Session) bound(ctx context.Context, timeout time.Duration) (*tgbotapi.BotAPI, context.CancelFunc, error) {
	if s.ctx.Err() != nil {
		return nil, nil, ErrSessionClosed
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	stop := context.AfterFunc(s.ctx, cancel)
	api := *s.api
	api.Client = ctxClient{ctx: cctx, c: s.client}
	return &api, func() { stop(); cancel() }, nil
}

func (s *Session) request(ctx context.Context, timeout time.Duration, method string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	api, done, err := s.bound(ctx, timeout)
	if err != nil {
		return nil, err
	}
	defer done()
	resp, err := api.MakeRequest(method, params)
	if err != nil && s.ctx.Err() != nil {
		return nil, ErrSessionClosed
	}
	return resp, err
}

func decode(resp *tgbotapi.APIResponse, into any) error {
	if err := json.Unmarshal(resp.Result, into); err != nil {
		return fmt.Errorf("notify: decode result: %w", err)
	}
	return nil
}

// GetMe is the identity handshake.
func (s *Session) GetMe(ctx context.Context) (tgbotapi.User, error) {
	var u tgbotapi.User
	resp, err := s.request(ctx, s.opts.SendTimeout, "getMe", nil)
	if err != nil {
		return u, err
	}
	return u, decode(resp, &u)
}

// GetWebhookInfo reports the currently configured webhook, if any.
func (s *Session) GetWebhookInfo(ctx context.Context) (tgbotapi.WebhookInfo, error) {
	var info tgbotapi.WebhookInfo
	resp, err := s.request(ctx, s.opts.LookupTimeout, "getWebhookInfo", nil)
	if err != nil {
		return info, err
	}
	return info, decode(resp, &info)
}

// DeleteWebhook clears webhook state so long polling can take over.
func (s *Session) DeleteWebhook(ctx context.Context, dropPending bool) error {
	params := tgbotapi.Params{}
	params.AddBool("drop_pending_updates", dropPending)
	_, err := s.request(ctx, s.opts.LookupTimeout, "deleteWebhook", params)
	return err
}

// GetUpdates long-polls for updates. A zero timeout returns immediately,
// which is how conflict probing detects a competing consumer.
func (s *Session) GetUpdates(ctx context.Context, offset int, timeout time.Duration, limit int, allowed []string) ([]tgbotapi.Update, error) {
	params := tgbotapi.Params{}
	params.AddNonZero("offset", offset)
	params.AddNonZero("limit", limit)
	params.AddNonZero("timeout", int(timeout/time.Second))
	if len(allowed) > 0 {
		if err := params.AddInterface("allowed_updates", allowed); err != nil {
			return nil, err
		}
	}

	callTimeout := timeout + 10*time.Second
	if timeout <= 0 {
		callTimeout = s.opts.ProbeTimeout
	}
	resp, err := s.request(ctx, callTimeout, "getUpdates", params)
	if err != nil {
		return nil, err
	}
	var updates []tgbotapi.Update
	return updates, decode(resp, &updates)
}

// Send delivers one message, as a photo with caption when PhotoPath is set.
// Transient failures are retried according to the session policy.
func (s *Session) Send(ctx context.Context, m Outgoing) error {
	if m.PhotoPath != "" {
		if err := checkImage(m.PhotoPath); err != nil {
			return err
		}
	}
	err := s.opts.Retry.Do(ctx, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if m.PhotoPath != "" {
			return s.sendPhoto(ctx, m)
		}
		return s.sendText(ctx, m)
	})
	if err != nil {
		s.log.Debug().Err(err).Int64("chat_id", m.ChatID).Int64("topic_id", m.TopicID).Msg("send failed")
	}
	return err
}

// SendText is Send without an attachment.
func (s *Session) SendText(ctx context.Context, chatID, topicID int64, text, parseMode string) error {
	return s.Send(ctx, Outgoing{ChatID: chatID, TopicID: topicID, Text: text, ParseMode: parseMode})
}

func (s *Session) sendText(ctx context.Context, m Outgoing) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", m.ChatID)
	params.AddNonZero64("message_thread_id", m.TopicID)
	params["text"] = m.Text
	params.AddNonEmpty("parse_mode", m.ParseMode)
	params.AddBool("disable_web_page_preview", true)
	_, err := s.request(ctx, s.opts.SendTimeout, "sendMessage", params)
	return err
}

func (s *Session) sendPhoto(ctx context.Context, m Outgoing) error {
	if err := checkImage(m.PhotoPath); err != nil {
		return err
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", m.ChatID)
	params.AddNonZero64("message_thread_id", m.TopicID)
	params.AddNonEmpty("caption", m.Text)
	params.AddNonEmpty("parse_mode", m.ParseMode)

	api, done, err := s.bound(ctx, s.opts.SendTimeout)
	if err != nil {
		return err
	}
	defer done()
	_, err = api.UploadFiles("sendPhoto", params, []tgbotapi.RequestFile{
		{Name: "photo", Data: tgbotapi.FilePath(m.PhotoPath)},
	})
	return err
}

func checkImage(path string) error {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() || fi.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrImageMissing, path)
	}
	return nil
}

// CreateInviteLink creates a join link limited to memberLimit uses (0 means
// unlimited) that expires at expire (zero means never).
func (s *Session) CreateInviteLink(ctx context.Context, chatID int64, memberLimit int, expire time.Time) (string, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("member_limit", memberLimit)
	if !expire.IsZero() {
		params["expire_date"] = strconv.FormatInt(expire.Unix(), 10)
	}
	var link tgbotapi.ChatInviteLink
	err := s.opts.Retry.Do(ctx, func(ctx context.Context) error {
		resp, err := s.request(ctx, s.opts.SendTimeout, "createChatInviteLink", params)
		if err != nil {
			return err
		}
		return decode(resp, &link)
	})
	return link.InviteLink, err
}

// BanMember removes a user from a chat.
func (s *Session) BanMember(ctx context.Context, chatID, userID int64) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("user_id", userID)
	return s.opts.Retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.request(ctx, s.opts.SendTimeout, "banChatMember", params)
		return err
	})
}

// UnbanMember lifts a ban so the user may rejoin through an invite later.
func (s *Session) UnbanMember(ctx context.Context, chatID, userID int64) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("user_id", userID)
	params.AddBool("only_if_banned", true)
	return s.opts.Retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.request(ctx, s.opts.SendTimeout, "unbanChatMember", params)
		return err
	})
}

// GetChat fetches chat metadata.
func (s *Session) GetChat(ctx context.Context, chatID int64) (tgbotapi.Chat, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	var chat tgbotapi.Chat
	resp, err := s.request(ctx, s.opts.LookupTimeout, "getChat", params)
	if err != nil {
		return chat, err
	}
	return chat, decode(resp, &chat)
}

// GetChatMemberCount returns the number of members in a chat.
func (s *Session) GetChatMemberCount(ctx context.Context, chatID int64) (int, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	var n int
	resp, err := s.request(ctx, s.opts.LookupTimeout, "getChatMemberCount", params)
	if err != nil {
		return 0, err
	}
	return n, decode(resp, &n)
}
