package runtime

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/roxid/pipeline"
)

// EventKind identifies what happened.
type EventKind string

const (
	EventPipelineStarted   EventKind = "pipeline_started"
	EventPipelineCompleted EventKind = "pipeline_completed"
	EventStageStarted      EventKind = "stage_started"
	EventStageCompleted    EventKind = "stage_completed"
	EventJobStarted        EventKind = "job_started"
	EventJobCompleted      EventKind = "job_completed"
	EventStepStarted       EventKind = "step_started"
	EventStepOutput        EventKind = "step_output"
	EventStepSkipped       EventKind = "step_skipped"
	EventStepCompleted     EventKind = "step_completed"
	// EventVariableSet reports a ##vso setvariable capture; Line holds
	// "name = value" with secret values already masked.
	EventVariableSet EventKind = "variable_set"
)

// Event is one item on the run's event stream. Scope fields are filled
// top-down as far as the event's level: a step event carries stage, job,
// and step names.
type Event struct {
	ID        string          `json:"id"`
	Kind      EventKind       `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Stage     string          `json:"stage,omitempty"`
	Job       string          `json:"job,omitempty"`
	Step      string          `json:"step,omitempty"`
	Status    pipeline.Status `json:"status,omitempty"`
	// Line holds one line of subprocess output for EventStepOutput, and
	// the skip reason for EventStepSkipped.
	Line   string `json:"line,omitempty"`
	Stderr bool   `json:"stderr,omitempty"`
	// Duration and ExitCode are set on completion events.
	Duration time.Duration `json:"duration,omitempty"`
	ExitCode *int          `json:"exitCode,omitempty"`
}

// EventSink receives run events. Implementations must be safe for
// concurrent emit; events within one step arrive in order.
type EventSink interface {
	Emit(Event)
}

// ChannelSink forwards events to a buffered channel. A nil or full
// channel never blocks the run; overflow events are dropped.
type ChannelSink struct {
	C chan Event
}

// NewChannelSink allocates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{C: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ev Event) {
	if s == nil || s.C == nil {
		return
	}
	select {
	case s.C <- ev:
	default:
	}
}

// Close closes the underlying channel once the run has drained.
func (s *ChannelSink) Close() {
	if s != nil && s.C != nil {
		close(s.C)
	}
}

type discardSink struct{}

func (discardSink) Emit(Event) {}

func newEvent(kind EventKind) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
	}
}
