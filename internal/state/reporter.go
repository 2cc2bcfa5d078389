package state

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunReporter logs a statistics summary every interval until ctx is done.
func RunReporter(ctx context.Context, t *Tracker, interval time.Duration, logger *zap.Logger) {
	if t == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logSummary(t.Statistics(), logger)
		}
	}
}

func logSummary(stats Statistics, logger *zap.Logger) {
	logger.Info("detection statistics",
		zap.Uint64("requests_analyzed", stats.RequestsAnalyzed),
		zap.Uint64("requests_detected", stats.RequestsDetected),
		zap.Float64("detection_rate", stats.DetectionRate),
		zap.Uint64("total_detections", stats.TotalDetections),
		zap.Uint64("high", stats.RiskLevels["high"]),
		zap.Uint64("medium", stats.RiskLevels["medium"]),
		zap.Uint64("low", stats.RiskLevels["low"]),
		zap.Int("patterns_loaded", stats.PatternsLoaded),
		zap.Uint64("log_dropped", stats.LogDropped),
	)
}
