package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go-relay/internal/core/ports"
	"go-relay/internal/domain"
	"go-relay/internal/infrastructure/metrics"
	"go-relay/internal/journal"
	"go-relay/internal/retry"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultBudget       = 900 * time.Second
)

// Options tunes one Orchestrator.
type Options struct {
	PollInterval time.Duration
	Budget       time.Duration
	// GatewayRetry bounds retries of the invocation call. Only errors the
	// gateway marks retryable are retried.
	GatewayRetry retry.Policy
	Clock        clock.Clock
	Logger       zerolog.Logger
}

// Orchestrator drives sessions through INITIATED -> INVOKING -> POLLING and
// a terminal state. It holds no per-session memory between runs; every run
// starts by re-deriving the session from the journal.
type Orchestrator struct {
	rec          *journal.Recorder
	gateway      ports.Gateway
	clock        clock.Clock
	pollInterval time.Duration
	budget       time.Duration
	gatewayRetry retry.Policy
	log          zerolog.Logger
}

func New(rec *journal.Recorder, gateway ports.Gateway, opts Options) *Orchestrator {
	o := &Orchestrator{
		rec:          rec,
		gateway:      gateway,
		clock:        opts.Clock,
		pollInterval: opts.PollInterval,
		budget:       opts.Budget,
		gatewayRetry: opts.GatewayRetry,
		log:          opts.Logger.With().Str("component", "orchestrator").Logger(),
	}
	if o.clock == nil {
		o.clock = clock.RealClock{}
	}
	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}
	if o.budget <= 0 {
		o.budget = DefaultBudget
	}
	return o
}

// Result is the outcome of one run.
type Result struct {
	SessionID string              `json:"sessionId"`
	State     domain.SessionState `json:"state"`
	// Terminal is the event that decided the outcome, when it is known.
	Terminal     *domain.Event `json:"terminal,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	// Degraded is set when at least one journal write or read was given up.
	Degraded bool `json:"degraded"`
}

// step is what one advance of the state machine asks the driver to do next.
type step struct {
	wait time.Duration
	done bool
}

type run struct {
	id        string
	payload   json.RawMessage
	state     domain.SessionState
	startedAt time.Time
	pending   bool
	result    Result
	log       zerolog.Logger
}

// Run drives a session to its terminal state. An existing session is resumed
// from the journal instead of being started again. Run blocks; callers that
// must not block start it in a goroutine.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, payload json.RawMessage) (Result, error) {
	r := &run{
		id:      sessionID,
		payload: payload,
		state:   domain.StateInitiated,
		result:  Result{SessionID: sessionID},
		log:     o.log.With().Str("session_id", sessionID).Logger(),
	}

	view, err := o.rec.Load(ctx, sessionID)
	switch {
	case err == nil:
		o.resumeFrom(r, view)
	case errors.Is(err, domain.ErrSessionUnknown):
	default:
		// Unknown history: a fresh start is the only way forward.
		r.log.Warn().Err(err).Msg("journal unreadable at start, continuing degraded")
		r.result.Degraded = true
	}

	metrics.SessionStarted()
	defer metrics.SessionFinished()

	for {
		s := o.advance(ctx, r)
		if s.done {
			r.result.State = r.state
			metrics.ObserveOutcome(string(r.state), o.clock.Since(r.startedAt))
			r.log.Info().Str("state", string(r.state)).Bool("degraded", r.result.Degraded).Msg("session finished")
			return r.result, nil
		}
		if s.wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			r.result.State = r.state
			return r.result, ctx.Err()
		case <-o.clock.After(s.wait):
		}
	}
}

func (o *Orchestrator) resumeFrom(r *run, view domain.SessionView) {
	r.state = view.State
	r.pending = view.InvocationPending
	if view.StartedAt != nil {
		r.startedAt = *view.StartedAt
	}
	if view.Terminal != nil {
		r.result.Terminal = view.Terminal
		r.result.ErrorMessage = view.Terminal.ErrorMessage
	}
	if view.EventCount > 0 {
		r.log.Info().Str("state", string(view.State)).Int("events", view.EventCount).Msg("resuming session from journal")
	}
}

func (o *Orchestrator) advance(ctx context.Context, r *run) step {
	switch r.state {
	case domain.StateInitiated:
		o.initiate(ctx, r)
		return step{}
	case domain.StateInvoking:
		o.invoke(ctx, r)
		return step{}
	case domain.StatePolling:
		return o.poll(ctx, r)
	default:
		return step{done: true}
	}
}

func (o *Orchestrator) initiate(ctx context.Context, r *run) {
	now := o.clock.Now()
	event, _, err := o.rec.Record(ctx, r.id, journal.Entry{Status: domain.StatusSessionInitiated, At: now})
	if err != nil {
		o.degraded(r, domain.StatusSessionInitiated, err)
		r.startedAt = now.UTC().Truncate(time.Millisecond)
	} else {
		r.startedAt = event.Timestamp
	}
	r.state = domain.StateInvoking
}

func (o *Orchestrator) invoke(ctx context.Context, r *run) {
	if r.startedAt.IsZero() {
		r.startedAt = o.clock.Now()
	}
	if r.pending {
		// The previous run crashed between INVOCATION_STARTED and the
		// gateway's answer. The worker may already be running, so the
		// budget decides instead of a second invocation.
		r.log.Warn().Msg("invocation outcome unknown, polling without re-invoking")
		r.state = domain.StatePolling
		return
	}

	// A terminal event written since start (typically CANCELLED) settles
	// the session before any remote work is requested.
	if terminal, ok := o.findTerminal(ctx, r); ok {
		r.log.Info().Str("status", string(terminal.Status)).Msg("session ended before invocation, not invoking")
		o.settle(r, terminal)
		return
	}

	if _, _, err := o.rec.Record(ctx, r.id, journal.Entry{Status: domain.StatusInvocationStarted}); err != nil {
		o.degraded(r, domain.StatusInvocationStarted, err)
	}

	inv := domain.Invocation{SessionID: r.id, Payload: r.payload, RequestedAt: o.clock.Now()}
	_, err := retry.Do(ctx, o.gatewayRetry, "gateway invoke", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.gateway.Invoke(ctx, inv)
	})
	if err != nil {
		r.log.Error().Err(err).Msg("invocation failed")
		r.result.ErrorMessage = err.Error()
		event, _, rerr := o.rec.Record(ctx, r.id, journal.Entry{
			Status:       domain.StatusInvocationFailed,
			ErrorMessage: err.Error(),
		})
		if rerr != nil {
			o.degraded(r, domain.StatusInvocationFailed, rerr)
			r.state = domain.StateFailed
			return
		}
		// An earlier terminal event, such as a cancellation, still wins.
		if first, ferr := o.rec.FirstMatching(ctx, r.id, domain.TerminalStatuses); ferr == nil && first != nil {
			o.settle(r, first)
			return
		}
		o.settle(r, &event)
		return
	}

	if _, _, err := o.rec.Record(ctx, r.id, journal.Entry{Status: domain.StatusInvocationSucceeded}); err != nil {
		o.degraded(r, domain.StatusInvocationSucceeded, err)
	}
	r.state = domain.StatePolling
}

func (o *Orchestrator) poll(ctx context.Context, r *run) step {
	metrics.IncPoll()
	if r.startedAt.IsZero() {
		r.startedAt = o.clock.Now()
	}

	if terminal, ok := o.findTerminal(ctx, r); ok {
		o.settle(r, terminal)
		return step{done: true}
	}

	elapsed := o.clock.Since(r.startedAt)
	if elapsed >= o.budget {
		o.timeOut(ctx, r, elapsed)
		return step{done: true}
	}

	wait := o.pollInterval
	if remaining := o.budget - elapsed; remaining < wait {
		wait = remaining
	}
	return step{wait: wait}
}

// findTerminal checks for any terminal event, then resolves the first one,
// which is the one that decides the outcome.
func (o *Orchestrator) findTerminal(ctx context.Context, r *run) (*domain.Event, bool) {
	latest, err := o.rec.LatestMatching(ctx, r.id, domain.TerminalStatuses)
	if err != nil {
		o.degradedRead(r, err)
		return nil, false
	}
	if latest == nil {
		return nil, false
	}

	first, err := o.rec.FirstMatching(ctx, r.id, domain.TerminalStatuses)
	if err != nil || first == nil {
		if err != nil {
			o.degradedRead(r, err)
		}
		return latest, true
	}
	return first, true
}

func (o *Orchestrator) settle(r *run, terminal *domain.Event) {
	state, _ := domain.OutcomeOf(terminal.Status)
	r.state = state
	r.result.Terminal = terminal
	r.result.ErrorMessage = terminal.ErrorMessage
}

func (o *Orchestrator) timeOut(ctx context.Context, r *run, elapsed time.Duration) {
	r.log.Warn().Dur("elapsed", elapsed).Dur("budget", o.budget).Msg("session exceeded its budget")

	event, _, err := o.rec.Record(ctx, r.id, journal.Entry{Status: domain.StatusSessionTimedOut})
	if err != nil {
		o.degraded(r, domain.StatusSessionTimedOut, err)
		r.state = domain.StateTimedOut
		return
	}

	// A worker result that landed before the timeout still wins.
	if first, ferr := o.rec.FirstMatching(ctx, r.id, domain.TerminalStatuses); ferr == nil && first != nil {
		o.settle(r, first)
		return
	}
	o.settle(r, &event)
}

func (o *Orchestrator) degraded(r *run, status domain.EventStatus, err error) {
	r.result.Degraded = true
	r.log.Error().Err(err).Str("status", string(status)).Msg("journal write given up, continuing degraded")
}

func (o *Orchestrator) degradedRead(r *run, err error) {
	r.result.Degraded = true
	r.log.Warn().Err(err).Msg("journal poll failed")
}
