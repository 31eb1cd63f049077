package botmanager

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"github.com/tbourn/signal-relay/internal/notify"
)

const pollLimit = 100

// spawnTasks starts every background task of b. Callers hold m.mu.
func (m *Manager) spawnTasks(ctx context.Context, b *Bot) {
	b.spawn(func() { m.heartbeat(ctx, b) })
	b.spawn(func() { m.poll(ctx, b) })
	for _, t := range m.tasks {
		if t.Interval <= 0 || t.Run == nil {
			continue
		}
		b.spawn(func() { m.periodic(ctx, b, t) })
	}
	if m.cfg.IdleTimeout > 0 {
		b.spawn(func() { m.watchdog(ctx, b) })
	}
}

// heartbeat re-validates the session; failures are retried next tick.
func (m *Manager) heartbeat(ctx context.Context, b *Bot) {
	t := time.NewTicker(m.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := b.session.GetMe(ctx); err != nil && ctx.Err() == nil {
				m.log.Warn().Err(err).Int64("bot_id", b.ID).Msg("heartbeat failed")
			}
		}
	}
}

func (m *Manager) periodic(ctx context.Context, b *Bot, task Task) {
	t := time.NewTicker(task.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := task.Run(ctx, b); err != nil && ctx.Err() == nil {
				m.log.Warn().Err(err).Int64("bot_id", b.ID).Str("task", task.Name).Msg("task failed")
			}
		}
	}
}

// poll long-polls for updates and hands each one to the bot's router. Each
// update is handled on its own goroutine tracked with the bot's tasks.
func (m *Manager) poll(ctx context.Context, b *Bot) {
	bo := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
	offset := 0
	for ctx.Err() == nil {
		updates, err := b.session.GetUpdates(ctx, offset, m.cfg.PollTimeout, pollLimit, allowedUpdates)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ev := m.log.Warn().Err(err).Int64("bot_id", b.ID)
			switch {
			case notify.IsWebhookConflict(err):
				ev.Str("conflict", WarnWebhookActive)
			case notify.IsConflict(err):
				ev.Str("conflict", WarnOtherInstance)
			}
			ev.Msg("polling failed")
			if !sleep(ctx, bo.Duration()) {
				return
			}
			continue
		}
		bo.Reset()

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			b.Touch(m.now())
			b.spawn(func() { b.router.Dispatch(ctx, b, u) })
		}
	}
}

// watchdog stops its own bot after IdleTimeout without activity. The stop
// runs outside the bot's task group since Stop waits for that group.
func (m *Manager) watchdog(ctx context.Context, b *Bot) {
	t := time.NewTicker(m.cfg.IdleCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if m.get(b.ID) != b {
				return
			}
			idle := m.now().Sub(b.LastActivity())
			if idle < m.cfg.IdleTimeout {
				continue
			}
			m.log.Info().Int64("bot_id", b.ID).Dur("idle", idle).Msg("stopping idle bot")
			m.bg.Add(1)
			go func() {
				defer m.bg.Done()
				m.Stop(b.ID)
			}()
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
