package realtime

import (
	"context"
	"time"

	"uplink-service/config"
	"uplink-service/model"

	"go.uber.org/zap"
)

type Beater interface {
	Heartbeat(ctx context.Context, status string) error
}

// RunHeartbeat runs Heartbeat at the configured chat interval.
func RunHeartbeat(ctx context.Context, b Beater, settings *config.Settings, log *zap.Logger) {
	Heartbeat(ctx, b, settings.Heartbeat(), log)
}

// Heartbeat writes an online status right away and then every interval. When
// ctx ends it writes a final offline status and returns.
func Heartbeat(ctx context.Context, b Beater, interval time.Duration, log *zap.Logger) {
	beat := func(ctx context.Context, status string) {
		if err := b.Heartbeat(ctx, status); err != nil {
			log.Warn("heartbeat", zap.String("status", status), zap.Error(err))
		}
	}

	beat(ctx, model.StatusOnline)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			offCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			beat(offCtx, model.StatusOffline)
			cancel()
			return
		case <-ticker.C:
			beat(ctx, model.StatusOnline)
		}
	}
}
