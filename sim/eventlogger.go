package sim

import (
	"github.com/sirupsen/logrus"
)

// EventLogger is an hook that prints the event information
type EventLogger struct {
	Logger *logrus.Entry
	Level  logrus.Level
}

// NewEventLogger returns a new EventLogger which writes every dispatched
// event into the logger at debug level.
func NewEventLogger(logger *logrus.Entry) *EventLogger {
	return &EventLogger{
		Logger: logger,
		Level:  logrus.DebugLevel,
	}
}

// Func writes the event information into the logger
func (h *EventLogger) Func(ctx HookCtx) {
	evt, ok := ctx.Item.(*Event)
	if !ok {
		return
	}

	switch ctx.Pos {
	case HookPosBeforeEvent:
		h.Logger.WithFields(evt.Fields()).Log(h.Level, "dispatch")
	case HookPosEventDropped:
		h.Logger.WithFields(evt.Fields()).
			WithField("reason", ctx.Detail).
			Log(h.Level, "drop")
	}
}
