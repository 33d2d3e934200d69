// Package conversation drives confrontation sessions: one goroutine per
// actor slot running generate, speak, listen and classify turns against
// the escalation machine.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/roomguard/internal/escalation"
)

// Generator produces the next line to speak.
type Generator interface {
	Generate(ctx context.Context, pc escalation.PromptContext) (string, error)
}

// Speaker renders a line as audio.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Listener returns the actor's next transcribed reply, or "" after window.
type Listener interface {
	Listen(ctx context.Context, slot string, window time.Duration) (string, error)
}

// Classifier maps a reply to a response class. It must not block.
type Classifier interface {
	Classify(reply string) escalation.Response
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(reply string) escalation.Response

func (f ClassifierFunc) Classify(reply string) escalation.Response { return f(reply) }

var (
	// ErrSessionConflict is returned when a slot already has an active session.
	ErrSessionConflict = errors.New("session already active for slot")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("orchestrator closed")
	// ErrNoSession is returned by Escalate when the slot is idle.
	ErrNoSession = errors.New("no active session for slot")
	// ErrEscalationPending is returned while an earlier escalation request
	// has not been applied yet.
	ErrEscalationPending = errors.New("escalation already pending")
	// ErrExternalTimeout marks a collaborator call that ran out of time.
	ErrExternalTimeout = errors.New("external call timed out")
	// ErrExternalFailure marks a collaborator call that returned an error.
	ErrExternalFailure = errors.New("external call failed")
)

// call runs fn with a deadline of d and returns as soon as ctx or the
// deadline ends, even if fn ignores cancellation.
func call[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		ch <- result{v, err}
	}()

	var zero T
	select {
	case r := <-ch:
		if r.err == nil {
			return r.v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %v", ErrExternalTimeout, r.err)
		}
		return zero, fmt.Errorf("%w: %v", ErrExternalFailure, r.err)
	case <-cctx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrExternalTimeout, d)
	}
}
