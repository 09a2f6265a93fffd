package engagement

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ardu-agent/internal/core/domain"
)

// Refresher is the handle of a running poll loop.
type Refresher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Schedule starts polling Refresh every interval until Stop is called or
// parent is done. Poll failures are retried on the next tick; an auth
// failure emits EventSessionExpired and ends the loop.
func (s *Synchronizer) Schedule(parent context.Context, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(parent)
	r := &Refresher{cancel: cancel, done: make(chan struct{})}
	go r.loop(ctx, s, interval)
	return r
}

func (r *Refresher) loop(ctx context.Context, s *Synchronizer, interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}

		err := s.Refresh(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, domain.ErrSessionExpired):
			slog.Warn("🔒 Session rejected during poll, stopping refresh", "error", err)
			s.emit(ctx, domain.EngagementEvent{Kind: domain.EventSessionExpired, Err: err})
			return
		default:
			slog.Warn("poll failed, retrying on next tick", "error", err)
		}
	}
}

// Stop cancels the loop and waits for it to exit. Once Stop returns no
// further refresh or merge happens. Safe to call more than once.
func (r *Refresher) Stop() {
	r.once.Do(r.cancel)
	<-r.done
}

// Done is closed when the loop has exited, whether stopped or ended by an auth failure.
func (r *Refresher) Done() <-chan struct{} {
	return r.done
}
