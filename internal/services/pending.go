package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PendingRelay forwards messages queued by an external publisher to one
// chat. Each Run fetches the queue once.
type PendingRelay struct {
	URL    string
	Target int64

	http *http.Client
	log  zerolog.Logger
}

// NewPendingRelay builds a relay; it is disabled when url or target is unset.
func NewPendingRelay(url string, target int64, timeout time.Duration) *PendingRelay {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PendingRelay{
		URL:    url,
		Target: target,
		http:   &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "pending").Logger(),
	}
}

// Enabled reports whether both the queue URL and the target are set.
func (p *PendingRelay) Enabled() bool { return p.URL != "" && p.Target != 0 }

// Run sends every pending message through api and returns how many were
// delivered. Individual send failures are logged.
func (p *PendingRelay) Run(ctx context.Context, api ChatAPI) (int, error) {
	if !p.Enabled() {
		return 0, ErrNotConfigured
	}
	msgs, err := p.fetch(ctx)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		p.log.Debug().Msg("no pending messages")
		return 0, nil
	}
	sent := 0
	for _, m := range msgs {
		if err := api.SendText(ctx, p.Target, 0, m, ""); err != nil {
			p.log.Error().Err(err).Int64("chat_id", p.Target).Msg("pending message failed")
			continue
		}
		sent++
	}
	p.log.Info().Int("sent", sent).Int("pending", len(msgs)).Int64("chat_id", p.Target).Msg("pending messages relayed")
	return sent, nil
}

func (p *PendingRelay) fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: pending status %d", ErrUpstream, resp.StatusCode)
	}
	var body struct {
		Messages []string `json:"messages"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return body.Messages, nil
}
