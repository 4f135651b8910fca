package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const republishBatchSize = 100

// RepublishPending publishes tasks for confirmed jobs whose first publish
// never reached the broker. Duplicates are harmless: the worker claim is atomic.
func (o *Orchestrator) RepublishPending(ctx context.Context) (int, error) {
	jobs, err := o.store.ListUnpublished(ctx, o.now().Add(-o.republishGrace), republishBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list unpublished jobs: %w", err)
	}

	published := 0
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		if o.publish(ctx, &jobs[i]) {
			published++
		}
	}

	if len(jobs) > 0 {
		o.logger.Info("Republished stranded tasks",
			slog.Int("found", len(jobs)),
			slog.Int("published", published),
		)
	}
	return published, nil
}

// RunRepublisher calls RepublishPending every interval until ctx is canceled
func (o *Orchestrator) RunRepublisher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.logger.Info("Republisher started",
		slog.Duration("interval", interval),
		slog.Duration("grace", o.republishGrace),
	)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Republisher stopped")
			return
		case <-ticker.C:
			if _, err := o.RepublishPending(ctx); err != nil {
				o.logger.Warn("Republish sweep failed",
					slog.Any("error", err),
				)
			}
		}
	}
}
