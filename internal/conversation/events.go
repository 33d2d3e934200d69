package conversation

import (
	"errors"
	"time"

	"github.com/ppiankov/roomguard/internal/escalation"
)

// EventKind names a session lifecycle event.
type EventKind string

const (
	EventSessionStarted EventKind = "session_started"
	EventTurnStarted    EventKind = "turn_started"
	EventTurnCompleted  EventKind = "turn_completed"
	EventLevelChanged   EventKind = "level_changed"
	EventSessionEnded   EventKind = "session_ended"
)

// Failure records a collaborator call that did not succeed.
type Failure struct {
	Service string `json:"service"` // generate, speak, listen, classify
	Error   string `json:"error"`
	Timeout bool   `json:"timeout"`
}

func newFailure(service string, err error) Failure {
	return Failure{
		Service: service,
		Error:   err.Error(),
		Timeout: errors.Is(err, ErrExternalTimeout),
	}
}

// Event is delivered to subscribers. Session is a snapshot shared by all
// subscribers and must not be modified.
type Event struct {
	Kind     EventKind           `json:"kind"`
	Time     time.Time           `json:"time"`
	Session  *escalation.Session `json:"session"`
	Turn     *escalation.Turn    `json:"turn,omitempty"`
	Outcome  *escalation.Outcome `json:"outcome,omitempty"`
	Failures []Failure           `json:"failures,omitempty"`
}

// Subscribe returns a channel of lifecycle events and a function that
// cancels the subscription. Delivery never blocks a session: events are
// dropped for subscribers whose buffer is full.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()

	ch := make(chan Event, o.cfg.EventBuffer)
	if o.subsClosed {
		close(ch)
		return ch, func() {}
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	return ch, func() {
		o.subsMu.Lock()
		defer o.subsMu.Unlock()
		if c, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(c)
		}
	}
}

// Dropped returns how many events were discarded for slow subscribers.
func (o *Orchestrator) Dropped() int64 { return o.dropped.Load() }

func (o *Orchestrator) emit(ev Event) {
	o.subsMu.RLock()
	defer o.subsMu.RUnlock()
	for _, ch := range o.subs {
		select {
		case ch <- ev:
		default:
			o.dropped.Add(1)
		}
	}
}

func (o *Orchestrator) closeSubscribers() {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	o.subsClosed = true
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
}
