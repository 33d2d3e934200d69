package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/roomguard/internal/escalation"
)

// Config bounds every external call of a turn.
type Config struct {
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
	SpeakTimeout    time.Duration `yaml:"speak_timeout"`
	ResponseWindow  time.Duration `yaml:"response_window"`
	MaxDuration     time.Duration `yaml:"max_duration"`
	EventBuffer     int           `yaml:"event_buffer"`
}

// DefaultConfig returns the built-in timeouts.
func DefaultConfig() Config {
	return Config{
		GenerateTimeout: 10 * time.Second,
		SpeakTimeout:    15 * time.Second,
		ResponseWindow:  8 * time.Second,
		MaxDuration:     2 * time.Minute,
		EventBuffer:     64,
	}
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Machine    *escalation.Machine
	Generator  Generator
	Speaker    Speaker
	Listener   Listener
	Classifier Classifier
	Logger     *zap.Logger
	Now        func() time.Time
}

// stopReason is the cancellation cause carried to a session's loop.
type stopReason string

func (s stopReason) Error() string { return string(s) }

const (
	ReasonMaxDuration = "max_duration"
	ReasonShutdown    = "shutdown"
)

// errEscalationRequested interrupts a listen window when an operator
// raises the level.
var errEscalationRequested = errors.New("operator escalation requested")

// Orchestrator owns all ACTIVE sessions, at most one per slot.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*run
	closed   bool

	subsMu     sync.RWMutex
	subs       map[int]chan Event
	nextSub    int
	subsClosed bool
	dropped    atomic.Int64
}

// run is one session goroutine. session is touched only by that
// goroutine; snap is the copy other goroutines read.
type run struct {
	session  *escalation.Session
	cancel   context.CancelCauseFunc
	done     chan struct{}
	escalate chan string

	mu         sync.Mutex
	snap       *escalation.Session
	stopListen context.CancelCauseFunc
}

func (r *run) publish() {
	c := r.session.Clone()
	r.mu.Lock()
	r.snap = c
	r.mu.Unlock()
}

func (r *run) snapshot() *escalation.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.Clone()
}

func (r *run) setStopListen(stop context.CancelCauseFunc) {
	r.mu.Lock()
	r.stopListen = stop
	r.mu.Unlock()
}

func (r *run) interruptListen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopListen != nil {
		r.stopListen(errEscalationRequested)
	}
}

// Handle refers to a started session.
type Handle struct {
	ID   string
	Slot string
	r    *run
}

// Done is closed when the session has ended and its slot is free.
func (h *Handle) Done() <-chan struct{} { return h.r.done }

// Session returns the latest snapshot; final once Done is closed.
func (h *Handle) Session() *escalation.Session { return h.r.snapshot() }

// New creates an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Machine == nil || deps.Generator == nil || deps.Speaker == nil ||
		deps.Listener == nil || deps.Classifier == nil {
		return nil, errors.New("orchestrator requires machine, generator, speaker, listener and classifier")
	}
	if cfg.GenerateTimeout <= 0 || cfg.SpeakTimeout <= 0 || cfg.ResponseWindow <= 0 {
		return nil, errors.New("orchestrator timeouts must be positive")
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.Named("conversation"),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*run),
		subs:     make(map[int]chan Event),
	}, nil
}

// Machine returns the escalation machine sessions run on.
func (o *Orchestrator) Machine() *escalation.Machine { return o.deps.Machine }

// Start opens a session on slot and begins its turn loop.
func (o *Orchestrator) Start(slot, identity, reason string) (*Handle, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if existing, busy := o.sessions[slot]; busy {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (session %s)", ErrSessionConflict, slot, existing.session.ID)
	}

	sess := o.deps.Machine.Start(slot, identity, reason, o.deps.Now())
	ctx, cancel := context.WithCancelCause(o.ctx)
	r := &run{session: sess, cancel: cancel, done: make(chan struct{}), escalate: make(chan string, 1)}
	r.publish()
	o.sessions[slot] = r
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.Info("session started",
		zap.String("session", sess.ID), zap.String("slot", slot),
		zap.String("identity", identity), zap.String("reason", reason))
	o.emit(Event{Kind: EventSessionStarted, Time: sess.StartedAt, Session: r.snapshot()})

	go o.loop(ctx, r)
	return &Handle{ID: sess.ID, Slot: slot, r: r}, nil
}

// Cancel terminates the session on slot. It reports whether one was running.
func (o *Orchestrator) Cancel(slot, reason string) bool {
	o.mu.Lock()
	r, ok := o.sessions[slot]
	o.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel(stopReason(reason))
	return true
}

// Escalate raises the session on slot one level on operator request. A
// pending listen window is cut short and the next turn speaks at the new
// level.
func (o *Orchestrator) Escalate(slot, reason string) error {
	o.mu.Lock()
	r, ok := o.sessions[slot]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, slot)
	}
	if s := r.snapshot(); s.Level >= s.MaxLevel {
		return fmt.Errorf("%w: %s", escalation.ErrMaxLevel, s.ID)
	}
	select {
	case r.escalate <- reason:
	default:
		return fmt.Errorf("%w: %s", ErrEscalationPending, slot)
	}
	r.interruptListen()
	return nil
}

// CancelAll terminates every active session and returns how many.
func (o *Orchestrator) CancelAll(reason string) int {
	o.mu.Lock()
	runs := make([]*run, 0, len(o.sessions))
	for _, r := range o.sessions {
		runs = append(runs, r)
	}
	o.mu.Unlock()
	for _, r := range runs {
		r.cancel(stopReason(reason))
	}
	return len(runs)
}

// Active returns snapshots of all running sessions.
func (o *Orchestrator) Active() []*escalation.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*escalation.Session, 0, len(o.sessions))
	for _, r := range o.sessions {
		out = append(out, r.snapshot())
	}
	return out
}

// Lookup returns a snapshot of the session on slot, if any.
func (o *Orchestrator) Lookup(slot string) (*escalation.Session, bool) {
	o.mu.Lock()
	r, ok := o.sessions[slot]
	o.mu.Unlock()
	if !ok {
		return nil, false
	}
	return r.snapshot(), true
}

// Close terminates all sessions, waits for their goroutines and closes
// subscriber channels.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel(stopReason(ReasonShutdown))
	o.wg.Wait()
	o.closeSubscribers()
}

func (o *Orchestrator) release(r *run) {
	o.mu.Lock()
	if o.sessions[r.session.Slot] == r {
		delete(o.sessions, r.session.Slot)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) loop(ctx context.Context, r *run) {
	// session_ended goes out after the slot is free and before Done closes,
	// so subscribers may start a new session on the slot.
	var final *Event
	defer o.wg.Done()
	defer close(r.done)
	defer func() {
		if final != nil {
			o.emit(*final)
		}
	}()
	defer o.release(r)
	defer r.cancel(nil)

	if o.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, o.cfg.MaxDuration, stopReason(ReasonMaxDuration))
		defer cancel()
	}

	sess := r.session
	log := o.logger.With(zap.String("session", sess.ID), zap.String("slot", sess.Slot))
	for {
		if ctx.Err() != nil {
			final = o.terminate(ctx, r, log)
			return
		}
		o.applyEscalation(r, log)

		ended, err := o.turn(ctx, r, log)
		if err != nil {
			final = o.terminate(ctx, r, log)
			return
		}
		if ended {
			log.Info("session ended",
				zap.String("status", string(sess.Status)),
				zap.Int("level", int(sess.Level)),
				zap.Int("turns", len(sess.Turns)))
			final = &Event{Kind: EventSessionEnded, Time: sess.EndedAt, Session: r.snapshot()}
			return
		}
	}
}

// applyEscalation raises the level if an operator asked for it.
func (o *Orchestrator) applyEscalation(r *run, log *zap.Logger) {
	var reason string
	select {
	case reason = <-r.escalate:
	default:
		return
	}
	now := o.deps.Now()
	out, err := o.deps.Machine.Escalate(r.session, reason, now)
	if err != nil {
		log.Warn("operator escalation rejected", zap.Error(err))
		return
	}
	r.publish()
	log.Info("escalated by operator", zap.Int("from", int(out.From)), zap.Int("to", int(out.To)), zap.String("reason", reason))
	o.emit(Event{Kind: EventLevelChanged, Time: now, Session: r.snapshot(), Outcome: &out})
}

// turn runs one generate, speak, listen, classify cycle. A non-nil error
// means the session context ended mid-turn.
func (o *Orchestrator) turn(ctx context.Context, r *run, log *zap.Logger) (ended bool, err error) {
	sess := r.session
	m := o.deps.Machine
	now := o.deps.Now()
	pc := m.Context(sess, now)
	o.emit(Event{Kind: EventTurnStarted, Time: now, Session: r.snapshot()})

	t := escalation.Turn{Level: sess.Level, StartedAt: now}
	var failures []Failure

	line, err := call(ctx, o.cfg.GenerateTimeout, func(cctx context.Context) (string, error) {
		return o.deps.Generator.Generate(cctx, pc)
	})
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil && strings.TrimSpace(line) == "" {
		err = fmt.Errorf("%w: empty line", ErrExternalFailure)
	}
	if err != nil {
		log.Warn("dialogue generation failed, using fallback", zap.Error(err))
		failures = append(failures, newFailure("generate", err))
		line = pc.Spec.Fallback
	} else {
		t.Generated = true
	}
	t.Prompt = line

	_, err = call(ctx, o.cfg.SpeakTimeout, func(cctx context.Context) (struct{}, error) {
		return struct{}{}, o.deps.Speaker.Speak(cctx, line)
	})
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		log.Warn("speech rendering failed", zap.Error(err))
		failures = append(failures, newFailure("speak", err))
	} else {
		t.Spoken = true
	}

	window := o.cfg.ResponseWindow
	if pc.Spec.ResponseWindow > 0 {
		window = pc.Spec.ResponseWindow
	}
	lctx, stopListen := context.WithCancelCause(ctx)
	r.setStopListen(stopListen)
	if len(r.escalate) > 0 {
		stopListen(errEscalationRequested)
	}
	// The listener owns the window; the extra second only guards against
	// a listener that overruns it.
	reply, err := call(lctx, window+time.Second, func(cctx context.Context) (string, error) {
		return o.deps.Listener.Listen(cctx, sess.Slot, window)
	})
	r.setStopListen(nil)
	interrupted := err != nil && errors.Is(context.Cause(lctx), errEscalationRequested)
	stopListen(nil)
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if interrupted {
		// The turn is dropped; the loop applies the escalation next.
		log.Debug("listen interrupted by operator escalation")
		return false, nil
	}
	if err != nil {
		log.Warn("speech capture failed, treating as timeout", zap.Error(err))
		failures = append(failures, newFailure("listen", err))
		reply = ""
	}
	reply = strings.TrimSpace(reply)

	response := escalation.Timeout
	if reply != "" {
		class := o.deps.Classifier.Classify(reply)
		response, err = escalation.ParseResponse(string(class))
		if err != nil {
			log.Warn("classifier returned an unknown class, treating as neutral", zap.String("class", string(class)))
			failures = append(failures, newFailure("classify", err))
			response = escalation.Neutral
		}
	}
	t.Reply = reply

	done := o.deps.Now()
	out, err := m.Transition(sess, response, done)
	if err != nil {
		return false, err
	}
	t.Response = out.Response
	t.Effective = out.Effective
	t.LevelAfter = out.To
	t.Duration = done.Sub(now)
	sess.AppendTurn(t)
	r.publish()

	log.Debug("turn completed",
		zap.Int("level", int(out.From)),
		zap.String("response", string(out.Response)),
		zap.String("effective", string(out.Effective)),
		zap.Bool("generated", t.Generated),
		zap.Bool("spoken", t.Spoken))

	recorded := sess.Turns[len(sess.Turns)-1]
	o.emit(Event{Kind: EventTurnCompleted, Time: done, Session: r.snapshot(), Turn: &recorded, Outcome: &out, Failures: failures})
	if out.Escalated() {
		log.Info("escalated", zap.Int("from", int(out.From)), zap.Int("to", int(out.To)))
		o.emit(Event{Kind: EventLevelChanged, Time: done, Session: r.snapshot(), Outcome: &out})
	}
	return sess.Status.Terminal(), nil
}

func (o *Orchestrator) terminate(ctx context.Context, r *run, log *zap.Logger) *Event {
	reason := "cancelled"
	var sr stopReason
	if errors.As(context.Cause(ctx), &sr) {
		reason = string(sr)
	}
	now := o.deps.Now()
	if o.deps.Machine.Terminate(r.session, reason, now) {
		r.publish()
		log.Info("session terminated", zap.String("reason", reason),
			zap.Int("level", int(r.session.Level)), zap.Int("turns", len(r.session.Turns)))
		return &Event{Kind: EventSessionEnded, Time: now, Session: r.snapshot()}
	}
	return nil
}
