package event

import (
	"log/slog"

	"github.com/mocklet/mocklet/pkg/logging"
)

// LogObserver writes every lifecycle event to a slog.Logger at debug level.
// It is always safe to subscribe alongside other observers.
type LogObserver struct {
	log *slog.Logger
}

// NewLogObserver creates a LogObserver. A nil logger falls back to a no-op
// logger.
func NewLogObserver(log *slog.Logger) *LogObserver {
	if log == nil {
		log = logging.Nop()
	}
	return &LogObserver{log: log}
}

// Initialize is a no-op; the observer has no setup.
func (o *LogObserver) Initialize() error { return nil }

// Start is a no-op.
func (o *LogObserver) Start() error { return nil }

// Observe logs the event name and attributes at debug level.
func (o *LogObserver) Observe(e Event) {
	args := make([]any, 0, len(e.Attributes)*2)
	for k, v := range e.Attributes {
		args = append(args, k, v)
	}
	o.log.Debug(e.Name, args...)
}

// Stop is a no-op.
func (o *LogObserver) Stop() error { return nil }
