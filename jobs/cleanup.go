package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Purger removes expired anonymous uploads and recycle-bin files older
// than retention.
type Purger interface {
	ReapExpired(ctx context.Context, retention time.Duration) (int, error)
}

type Reaper struct {
	purger    Purger
	interval  time.Duration
	retention time.Duration
	log       logrus.FieldLogger
}

func NewReaper(purger Purger, interval, retention time.Duration, log logrus.FieldLogger) *Reaper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Reaper{purger: purger, interval: interval, retention: retention, log: log}
}

// Start runs the cleanup on every tick until ctx is done. The returned
// channel closes once the loop has exited.
func (r *Reaper) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(r.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
	return done
}

func (r *Reaper) RunOnce(ctx context.Context) int {
	n, err := r.purger.ReapExpired(ctx, r.retention)
	if err != nil && ctx.Err() == nil {
		r.log.WithError(err).WithField("purged", n).Error("cleanup of expired files failed")
	}
	return n
}
