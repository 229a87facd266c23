package app

import (
	"log/slog"

	"go.temporal.io/sdk/log"
)

// newTemporalLogger routes SDK logs through the process logger.
func newTemporalLogger(l *slog.Logger) log.Logger {
	return log.NewStructuredLogger(l.With("component", "temporal"))
}
