package events

import "time"

type Kind string

const (
	KindRunStarted  Kind = "run_started"
	KindRunFinished Kind = "run_finished"
	KindRunFailed   Kind = "run_failed"
	KindSkipped     Kind = "skipped"
	KindAllOff      Kind = "all_off"
)

type Source string

const (
	SourceSchedule Source = "schedule"
	SourceManual   Source = "manual"
)

// Event describes one actuation decision. Nothing is stored; events are only published.
type Event struct {
	Kind    Kind      `json:"kind"`
	Source  Source    `json:"source,omitempty"`
	Zone    int       `json:"zone,omitempty"`
	Seconds int       `json:"seconds,omitempty"`
	Cron    string    `json:"cron,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

type Publisher interface {
	Publish(e Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// Multi fans each event out to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		p.Publish(e)
	}
}
