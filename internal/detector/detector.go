package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-relay/internal/core/ports"
	"go-relay/internal/domain"
	"go-relay/internal/infrastructure/metrics"
	"go-relay/internal/journal"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"
)

// Action is what the detector did for one session.
type Action string

const (
	ActionForceStopped    Action = Action(domain.StatusForceStopped)
	ActionStopFailed      Action = Action(domain.StatusStopFailed)
	ActionStopNotRequired Action = Action(domain.StatusStopNotRequired)
	ActionUnknownHealth   Action = "unknown_health"
	ActionSkipped         Action = "skipped"
	ActionIgnored         Action = "ignored"
)

type Options struct {
	SweepInterval time.Duration
	StaleAfter    time.Duration
	ClaimTTL      time.Duration
	BatchSize     int
	Clock         clock.WithTicker
	Logger        zerolog.Logger
}

// Detector watches worker terminal events and compensates for workers that
// finished while still busy. It is advisory: it never writes a terminal
// event, so it cannot change a session's outcome.
type Detector struct {
	rec     *journal.Recorder
	scanner ports.SessionScanner
	bus     ports.EventBus
	gateway ports.Gateway
	claimer ports.Claimer

	clock         clock.WithTicker
	sweepInterval time.Duration
	staleAfter    time.Duration
	claimTTL      time.Duration
	batch         int
	log           zerolog.Logger
}

func New(
	rec *journal.Recorder,
	scanner ports.SessionScanner,
	bus ports.EventBus,
	gateway ports.Gateway,
	claimer ports.Claimer,
	opts Options,
) *Detector {
	d := &Detector{
		rec:           rec,
		scanner:       scanner,
		bus:           bus,
		gateway:       gateway,
		claimer:       claimer,
		clock:         opts.Clock,
		sweepInterval: opts.SweepInterval,
		staleAfter:    opts.StaleAfter,
		claimTTL:      opts.ClaimTTL,
		batch:         opts.BatchSize,
		log:           opts.Logger.With().Str("component", "detector").Logger(),
	}
	if d.clock == nil {
		d.clock = clock.RealClock{}
	}
	if d.sweepInterval <= 0 {
		d.sweepInterval = time.Minute
	}
	if d.staleAfter <= 0 {
		d.staleAfter = time.Hour
	}
	if d.claimTTL <= 0 {
		d.claimTTL = 24 * time.Hour
	}
	if d.batch <= 0 {
		d.batch = 100
	}
	return d
}

// Start runs the detector loop until ctx is done. Notifications are handled
// as they arrive; the sweep catches whatever the bus dropped.
func (d *Detector) Start(ctx context.Context) error {
	d.log.Info().Dur("sweep_interval", d.sweepInterval).Msg("detector started, listening for terminal events")

	var events <-chan domain.Event
	if d.bus != nil {
		ch, err := d.bus.SubscribeTerminal(ctx)
		if err != nil {
			return fmt.Errorf("subscribe to terminal events: %w", err)
		}
		events = ch
	}

	ticker := d.clock.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	d.sweepLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("detector shutting down")
			return nil

		case event, ok := <-events:
			if !ok {
				d.log.Warn().Msg("terminal event stream closed, relying on sweeps")
				events = nil
				continue
			}
			if _, err := d.HandleTerminal(ctx, event); err != nil {
				d.log.Error().Err(err).Str("session_id", event.SessionID).Msg("terminal event handling failed")
			}

		case <-ticker.C():
			d.sweepLogged(ctx)
		}
	}
}

func (d *Detector) sweepLogged(ctx context.Context) {
	n, err := d.Sweep(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("sweep failed")
		return
	}
	if n > 0 {
		d.log.Info().Int("sessions", n).Msg("sweep handled sessions")
	}
}

// HandleTerminal applies the health rule to one worker terminal event.
func (d *Detector) HandleTerminal(ctx context.Context, event domain.Event) (Action, error) {
	if !event.Status.IsWorkerTerminal() {
		return ActionIgnored, nil
	}
	log := d.log.With().Str("session_id", event.SessionID).Str("status", string(event.Status)).Logger()

	answered, err := d.answered(ctx, event.SessionID)
	if err != nil {
		return "", err
	}
	if answered {
		return d.done(ActionSkipped), nil
	}

	health, ok := domain.ParseHealthStatus(string(event.HealthStatus))
	if !ok {
		log.Warn().Str("health_status", string(event.HealthStatus)).Msg("unrecognised health status, no cleanup decision")
		return d.done(ActionUnknownHealth), nil
	}

	claimed, err := d.claim(ctx, event.SessionID)
	if err != nil || !claimed {
		return d.done(ActionSkipped), err
	}

	if health == domain.HealthHealthy {
		if _, _, err := d.rec.Record(ctx, event.SessionID, journal.Entry{Status: domain.StatusStopNotRequired}); err != nil {
			d.release(ctx, event.SessionID)
			return "", fmt.Errorf("record stop not required: %w", err)
		}
		log.Debug().Msg("worker healthy, no stop required")
		return d.done(ActionStopNotRequired), nil
	}

	log.Info().Msg("worker reported busy after finishing, forcing stop")
	return d.forceStop(ctx, event.SessionID, "worker reported Busy on "+string(event.Status))
}

// Sweep re-processes terminal events without a detector answer and stops
// sessions whose background task has been running longer than staleAfter.
// Both scans page through every candidate, so sessions that cannot be
// answered never hide later ones.
func (d *Detector) Sweep(ctx context.Context) (int, error) {
	handled, errs := d.sweepPending(ctx)
	stopped, staleErrs := d.sweepStale(ctx)
	return handled + stopped, errors.Join(append(errs, staleErrs...)...)
}

func (d *Detector) sweepPending(ctx context.Context) (int, []error) {
	var (
		handled int
		errs    []error
		cursor  string
	)
	for ctx.Err() == nil {
		pending, err := d.scanner.PendingCleanup(ctx, cursor, d.batch)
		if err != nil {
			return handled, append(errs, fmt.Errorf("pending cleanup: %w", err))
		}
		for _, event := range pending {
			action, err := d.HandleTerminal(ctx, event)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if action != ActionSkipped && action != ActionUnknownHealth {
				handled++
			}
		}
		if len(pending) < d.batch {
			break
		}
		cursor = pending[len(pending)-1].SequenceKey
	}
	return handled, errs
}

func (d *Detector) sweepStale(ctx context.Context) (int, []error) {
	var (
		handled int
		errs    []error
		cursor  string
	)
	cutoff := d.clock.Now().Add(-d.staleAfter)
	for ctx.Err() == nil {
		stale, err := d.scanner.StaleSessions(ctx, cutoff, cursor, d.batch)
		if err != nil {
			return handled, append(errs, fmt.Errorf("stale sessions: %w", err))
		}
		for _, sessionID := range stale {
			claimed, err := d.claim(ctx, sessionID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !claimed {
				continue
			}
			d.log.Warn().Str("session_id", sessionID).Dur("stale_after", d.staleAfter).Msg("background task silent too long, forcing stop")
			if _, err := d.forceStop(ctx, sessionID, "no worker result within "+d.staleAfter.String()); err != nil {
				errs = append(errs, err)
				continue
			}
			handled++
		}
		if len(stale) < d.batch {
			break
		}
		cursor = stale[len(stale)-1]
	}
	return handled, errs
}

// forceStop makes exactly one stop attempt and records its outcome.
func (d *Detector) forceStop(ctx context.Context, sessionID, reason string) (Action, error) {
	cmd := domain.StopCommand{SessionID: sessionID, Reason: reason, IssuedAt: d.clock.Now()}

	entry := journal.Entry{Status: domain.StatusForceStopped}
	action := ActionForceStopped
	if err := d.gateway.StopSession(ctx, cmd); err != nil {
		d.log.Error().Err(err).Str("session_id", sessionID).Msg("force stop failed")
		entry = journal.Entry{Status: domain.StatusStopFailed, ErrorMessage: "force stop failed: " + err.Error()}
		action = ActionStopFailed
	}

	if _, _, err := d.rec.Record(ctx, sessionID, entry); err != nil {
		d.release(ctx, sessionID)
		return "", fmt.Errorf("record %s: %w", entry.Status, err)
	}
	return d.done(action), nil
}

func (d *Detector) answered(ctx context.Context, sessionID string) (bool, error) {
	outcome, err := d.rec.LatestMatching(ctx, sessionID, domain.StopOutcomeStatuses)
	if err != nil {
		return false, fmt.Errorf("check stop outcome: %w", err)
	}
	return outcome != nil, nil
}

func (d *Detector) claim(ctx context.Context, sessionID string) (bool, error) {
	if d.claimer == nil {
		return true, nil
	}
	ok, err := d.claimer.Claim(ctx, "stop:"+sessionID, d.claimTTL)
	if err != nil {
		return false, fmt.Errorf("claim session %s: %w", sessionID, err)
	}
	return ok, nil
}

// release lets the next sweep retry a session whose outcome was not recorded.
func (d *Detector) release(ctx context.Context, sessionID string) {
	if d.claimer == nil {
		return
	}
	if err := d.claimer.Release(context.WithoutCancel(ctx), "stop:"+sessionID); err != nil {
		d.log.Warn().Err(err).Str("session_id", sessionID).Msg("claim not released, session waits for claim expiry")
	}
}

func (d *Detector) done(a Action) Action {
	metrics.IncDetectorAction(string(a))
	return a
}
