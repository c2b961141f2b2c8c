package history

import (
	"context"
	"time"

	"github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
)

// RunSweeper deletes expired messages every interval until ctx is done.
func RunSweeper(ctx context.Context, svc *Service, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	l := log.Ctx(ctx)
	l.Info().Dur("interval", interval).Msg("retention sweeper started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("retention sweeper stopped")
			return
		case <-ticker.C:
			n, err := svc.Sweep(ctx)
			if err != nil {
				l.Error().Err(err).Msg("retention sweep failed")
				continue
			}
			if n > 0 {
				l.Info().Int64("deleted", n).Msg("expired messages removed")
			}
		}
	}
}
