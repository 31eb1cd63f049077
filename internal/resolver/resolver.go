// Package resolver maps a business subject (a trader uid) to the chat
// destinations that subscribed to it, as published by the social directory.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/signal-relay/internal/sysutil"
)

// DefaultCategory is the subscription category every trader signal falls back to.
const DefaultCategory = "copy"

// Destination is one (chat, topic) that should receive a rendered event.
type Destination struct {
	ChatID  int64
	TopicID int64
	Locale  string // normalized; empty when the directory did not say
	Jump    bool   // append the deep link
}

// Social is one directory entry: a community with its verification setup and
// the topic subscriptions it carries.
type Social struct {
	SocialGroup int64
	VerifyGroup int64
	InfoGroup   int64
	Lang        string
	Chats       []SocialChat
}

// SocialChat is one subscription row inside a Social.
type SocialChat struct {
	Type      string
	Enabled   bool
	TraderUID string
	ChatID    int64
	Jump      bool
}

// Client talks to the social directory.
type Client struct {
	socialAPI string
	adminURL  string
	brand     string
	http      *http.Client
	log       zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// New builds a directory client. socialAPI serves delivery subscriptions,
// adminURL is the admin base used by Socials.
func New(socialAPI, adminURL, brand string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		socialAPI: socialAPI,
		adminURL:  strings.TrimRight(adminURL, "/"),
		brand:     brand,
		http:      &http.Client{Timeout: timeout},
		log:       log.With().Str("component", "resolver").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Resolve returns the destinations subscribed to subject under category,
// retrying with DefaultCategory when category has none. Failures are logged
// and produce an empty slice.
func (c *Client) Resolve(ctx context.Context, subject, category string) []Destination {
	tr := otel.Tracer("resolver")
	ctx, span := tr.Start(ctx, "Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("subject", subject), attribute.String("category", category))

	if c.socialAPI == "" {
		c.log.Warn().Msg("SOCIAL_API not configured")
		return nil
	}
	form := url.Values{"brand": {c.brand}, "type": {"TELEGRAM"}}
	socials, err := c.fetch(ctx, c.socialAPI, form)
	if err != nil {
		c.log.Error().Err(err).Str("subject", subject).Msg("directory lookup failed")
		return nil
	}

	if category == "" {
		category = DefaultCategory
	}
	out := Collect(socials, subject, category)
	if len(out) == 0 && !strings.EqualFold(category, DefaultCategory) {
		c.log.Info().Str("category", category).Msg("no subscribers for category, falling back to copy")
		out = Collect(socials, subject, DefaultCategory)
	}
	span.SetAttributes(attribute.Int("destinations", len(out)))
	c.log.Info().Str("subject", subject).Str("category", category).Int("destinations", len(out)).Msg("resolved")
	return out
}

// Socials lists every directory entry from the admin API.
func (c *Client) Socials(ctx context.Context) ([]Social, error) {
	if c.adminURL == "" {
		return nil, fmt.Errorf("resolver: admin url not configured")
	}
	return c.fetch(ctx, c.adminURL+"/socials", url.Values{})
}

// Collect filters socials down to the enabled subscriptions of subject under
// category, collapsing (chat, topic) duplicates with the last entry winning.
func Collect(socials []Social, subject, category string) []Destination {
	var found []Destination
	for _, s := range socials {
		if s.SocialGroup == 0 {
			continue
		}
		locale := NormalizeLocale(s.Lang)
		for _, ch := range s.Chats {
			if !strings.EqualFold(ch.Type, category) || !ch.Enabled || ch.TraderUID != subject || ch.ChatID == 0 {
				continue
			}
			found = append(found, Destination{ChatID: s.SocialGroup, TopicID: ch.ChatID, Locale: locale, Jump: ch.Jump})
		}
	}
	type key struct{ chat, topic int64 }
	keyOf := func(d Destination) key { return key{d.ChatID, d.TopicID} }
	last := lo.SliceToMap(found, func(d Destination) (key, Destination) { return keyOf(d), d })
	return lo.Map(lo.UniqBy(found, keyOf), func(d Destination, _ int) Destination { return last[keyOf(d)] })
}

// wire shapes; the directory is loose about scalar types.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

type rawSocial struct {
	SocialGroup any       `json:"socialGroup"`
	VerifyGroup any       `json:"verifyGroup"`
	InfoGroup   any       `json:"infoGroup"`
	Lang        any       `json:"lang"`
	Chats       []rawChat `json:"chats"`
}

type rawChat struct {
	Type      any `json:"type"`
	Enable    any `json:"enable"`
	TraderUID any `json:"traderUid"`
	ChatID    any `json:"chatId"`
	Jump      any `json:"jump"`
}

func (c *Client) fetch(ctx context.Context, endpoint string, form url.Values) ([]Social, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolver: directory status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	return Decode(body)
}

// Decode parses a directory response body. A single object under data is
// accepted as a one-element list.
func Decode(body []byte) ([]Social, error) {
	var env envelope
	if err := unmarshalNumbers(body, &env); err != nil {
		return nil, fmt.Errorf("resolver: decode: %w", err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var raws []rawSocial
	if data[0] == '{' {
		var one rawSocial
		if err := unmarshalNumbers(data, &one); err != nil {
			return nil, fmt.Errorf("resolver: decode data: %w", err)
		}
		raws = []rawSocial{one}
	} else if err := unmarshalNumbers(data, &raws); err != nil {
		return nil, fmt.Errorf("resolver: decode data: %w", err)
	}

	return lo.Map(raws, func(r rawSocial, _ int) Social {
		return Social{
			SocialGroup: toInt64(r.SocialGroup),
			VerifyGroup: toInt64(r.VerifyGroup),
			InfoGroup:   toInt64(r.InfoGroup),
			Lang:        toString(r.Lang),
			Chats: lo.Map(r.Chats, func(ch rawChat, _ int) SocialChat {
				return SocialChat{
					Type:      toString(ch.Type),
					Enabled:   toBool(ch.Enable),
					TraderUID: toString(ch.TraderUID),
					ChatID:    toInt64(ch.ChatID),
					Jump:      NormalizeJump(ch.Jump),
				}
			}),
		}
	}), nil
}

func unmarshalNumbers(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

// NormalizeJump accepts the directory's bool, numeric and string encodings
// of the deep-link flag.
func NormalizeJump(v any) bool { return sysutil.IsTruthyValue(v) }

// toBool treats any non-zero number or non-empty, non-false string as set,
// mirroring how the directory flags "enable".
func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s != "" && s != "0" && s != "false"
	default:
		return false
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func toInt64(v any) int64 {
	s := toString(v)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}
