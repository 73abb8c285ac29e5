package util

import "log/slog"

// LogNotifyResult logs the outcome of delivering event to sink.
func LogNotifyResult(logger *slog.Logger, sink, event string, err error) {
	if err != nil {
		logger.Error("notification failed", "sink", sink, "event", event, "error", err)
		return
	}
	logger.Info("notification sent", "sink", sink, "event", event)
}
