package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/tbourn/signal-relay/internal/domain"
	"github.com/tbourn/signal-relay/internal/events"
	"github.com/tbourn/signal-relay/internal/repo"
)

// sinkChunk bounds how many holding traders go into one sink post.
const sinkChunk = 10

// mirror posts the raw batch to the kind's secondary sink. Holding lists are
// split into chunks. Failures are logged only.
func (p *Pipeline) mirror(ctx context.Context, b *events.Batch) {
	if p.deps.Sink == nil {
		return
	}
	url := p.deps.Sink(string(b.Kind))
	if url == "" {
		return
	}
	bodies := []any{b.Raw}
	if list, ok := b.Raw.([]any); ok {
		bodies = lo.Map(lo.Chunk(list, sinkChunk), func(c []any, _ int) any { return c })
	}
	for _, body := range bodies {
		if err := p.post(ctx, url, body); err != nil {
			p.log.Warn().Err(err).Str("kind", string(b.Kind)).Msg("sink post failed")
		}
	}
}

func (p *Pipeline) post(ctx context.Context, url string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sink status %d", resp.StatusCode)
	}
	return nil
}

// report persists the delivery audit row. Failures are logged only.
func (p *Pipeline) report(ctx context.Context, ev events.Event, dedupKey string, res Result) {
	if p.deps.DB == nil || p.deps.Node == nil {
		return
	}
	r := &domain.DeliveryReport{
		ID:           p.deps.Node.Generate().Int64(),
		Kind:         string(ev.Kind),
		Subject:      ev.Subject,
		DedupKey:     dedupKey,
		Destinations: res.Total,
		Succeeded:    res.Succeeded,
		Failed:       res.Failed,
		Failures:     failureText(res.Failures),
	}
	if err := repo.CreateReport(ctx, p.deps.DB, r); err != nil {
		p.log.Error().Err(err).Str("kind", r.Kind).Msg("failed to store delivery report")
	}
}

func failureText(fs []Failure) string {
	if len(fs) == 0 {
		return ""
	}
	lines := lo.Map(fs, func(f Failure, _ int) string {
		return fmt.Sprintf("%d/%d: %s", f.ChatID, f.TopicID, f.Error)
	})
	return strings.Join(lines, "\n")
}
