package source

import (
	"log/slog"
	"time"
)

// LogRequest logs an API request being made.
func LogRequest(log *slog.Logger, method, url string, attrs ...any) {
	log.Debug("request", append([]any{"method", method, "url", url}, attrs...)...)
}

// LogResponse logs an API response received.
func LogResponse(log *slog.Logger, statusCode int, duration time.Duration, attrs ...any) {
	log.Debug("response", append([]any{"status", statusCode, "duration_ms", duration.Milliseconds()}, attrs...)...)
}

// LogError logs an error from an API operation.
func LogError(log *slog.Logger, operation string, err error) {
	log.Warn(operation+" error", "error", err)
}

// LogPage logs one page of a paginated pull.
func LogPage(log *slog.Logger, offset, count int, duration time.Duration) {
	log.Info("fetched page", "offset", offset, "records", count, "duration_ms", duration.Milliseconds())
}
