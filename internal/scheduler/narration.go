package scheduler

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/eventbus"
)

// NarrationEvent is a short human-readable line describing a control-loop
// decision (spec §4.7's "scheduler: claimed <tid> by <wid>" and similar),
// published on eventbus.SystemTopic for the Gateway's activity feed.
type NarrationEvent struct {
	eventbus.BaseEvent
	Message string `json:"message"`
}

const narrationEventType = "narration"

func newNarrationEvent(message string) NarrationEvent {
	return NarrationEvent{
		BaseEvent: eventbus.NewBaseEvent(narrationEventType, eventbus.SystemTopic),
		Message:   message,
	}
}

// narrate formats and publishes a narration line, a no-op if the Scheduler
// has no bus (e.g. under test).
func (s *Scheduler) narrate(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.logger.Info(msg)
	if s.bus == nil {
		return
	}
	s.bus.Publish(newNarrationEvent(msg))
}
