package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/signal-relay/internal/resolver"
)

// LocaleService looks up a chat's language preference from the preference
// service and caches the normalized answer, including "no preference".
type LocaleService struct {
	endpoint string
	http     *http.Client
	cache    *TTLCache
	log      zerolog.Logger
}

// NewLocaleService builds a lookup against endpoint (GET ?chat_id=). An empty
// endpoint yields a service that always answers "".
func NewLocaleService(endpoint string, timeout, ttl time.Duration) (*LocaleService, error) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	c, err := NewTTLCache(ttl)
	if err != nil {
		return nil, err
	}
	return &LocaleService{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		cache:    c,
		log:      log.With().Str("component", "locale").Logger(),
	}, nil
}

// Lookup returns the normalized locale for chatID, or "" when unknown.
// Failures are logged and not cached.
func (s *LocaleService) Lookup(ctx context.Context, chatID int64) string {
	if s == nil || s.endpoint == "" {
		return ""
	}
	key := "lang:" + strconv.FormatInt(chatID, 10)
	if v, ok := s.cache.Get(key); ok {
		return v
	}
	lang, err := s.fetch(ctx, chatID)
	if err != nil {
		s.log.Debug().Err(err).Int64("chat_id", chatID).Msg("locale lookup failed")
		return ""
	}
	lang = resolver.NormalizeLocale(lang)
	s.cache.Set(key, lang)
	return lang
}

func (s *LocaleService) fetch(ctx context.Context, chatID int64) (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("chat_id", strconv.FormatInt(chatID, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	var body struct {
		Lang string `json:"lang"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return body.Lang, nil
}

// Close releases the cache.
func (s *LocaleService) Close() error {
	if s == nil {
		return nil
	}
	return s.cache.Close()
}
