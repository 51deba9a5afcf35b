package worker

import (
	"context"
	"sync"
	"time"

	"go-relay/internal/domain"
	"go-relay/internal/journal"

	"github.com/rs/zerolog"
)

// PhaseTracker journals TASK_<phase>_* events for one session and remembers
// when each phase started so completions can report a duration.
type PhaseTracker struct {
	rec       *journal.Recorder
	sessionID string
	now       func() time.Time
	log       zerolog.Logger

	mu      sync.Mutex
	started map[string]time.Time
}

func NewPhaseTracker(rec *journal.Recorder, sessionID string, now func() time.Time, log zerolog.Logger) *PhaseTracker {
	return &PhaseTracker{
		rec:       rec,
		sessionID: sessionID,
		now:       now,
		log:       log,
		started:   make(map[string]time.Time),
	}
}

func (p *PhaseTracker) Start(ctx context.Context, phase string) error {
	status, err := domain.PhaseStatus(phase, domain.PhaseStarted)
	if err != nil {
		return err
	}
	at := p.now()
	if _, _, err := p.rec.Record(ctx, p.sessionID, journal.Entry{Status: status, At: at}); err != nil {
		return err
	}
	p.mu.Lock()
	p.started[phaseKey(status)] = at
	p.mu.Unlock()
	return nil
}

// Complete journals TASK_<phase>_COMPLETED and returns how long the phase
// ran, zero if it was never started through this tracker.
func (p *PhaseTracker) Complete(ctx context.Context, phase string) (time.Duration, error) {
	return p.end(ctx, phase, domain.PhaseCompleted, "")
}

func (p *PhaseTracker) Fail(ctx context.Context, phase string, cause error) (time.Duration, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return p.end(ctx, phase, domain.PhaseFailed, msg)
}

func (p *PhaseTracker) end(ctx context.Context, phase string, stage domain.PhaseStage, msg string) (time.Duration, error) {
	status, err := domain.PhaseStatus(phase, stage)
	if err != nil {
		return 0, err
	}
	at := p.now()
	if _, _, err := p.rec.Record(ctx, p.sessionID, journal.Entry{Status: status, ErrorMessage: msg, At: at}); err != nil {
		return 0, err
	}

	key := phaseKey(status)
	p.mu.Lock()
	began, ok := p.started[key]
	delete(p.started, key)
	p.mu.Unlock()
	if !ok {
		return 0, nil
	}

	elapsed := at.Sub(began)
	p.log.Info().
		Str("session_id", p.sessionID).
		Str("phase", key).
		Str("status", string(status)).
		Dur("duration", elapsed).
		Msg("phase finished")
	return elapsed, nil
}

func phaseKey(status domain.EventStatus) string {
	name, _, _ := status.Phase()
	return name
}
