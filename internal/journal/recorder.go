package journal

import (
	"context"
	"errors"
	"time"

	"go-relay/internal/core/ports"
	"go-relay/internal/domain"
	"go-relay/internal/infrastructure/metrics"
	"go-relay/internal/retry"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"
)

const DefaultRetention = 30 * 24 * time.Hour

// Entry describes an event before it is stamped.
type Entry struct {
	Status       domain.EventStatus
	ErrorMessage string
	HealthStatus domain.HealthStatus
	// At overrides the recorder clock. Zero means now.
	At time.Time
}

// Recorder is the single write path into the journal: it stamps, validates,
// appends under the retry policy and fans worker terminal events out to the bus.
type Recorder struct {
	journal   ports.EventJournal
	bus       ports.EventBus
	clock     clock.PassiveClock
	retention time.Duration
	policy    retry.Policy
	log       zerolog.Logger
}

type Option func(*Recorder)

func WithBus(bus ports.EventBus) Option {
	return func(r *Recorder) { r.bus = bus }
}

func WithClock(c clock.PassiveClock) Option {
	return func(r *Recorder) { r.clock = c }
}

func WithRetention(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.retention = d
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(r *Recorder) { r.policy = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Recorder) { r.log = l.With().Str("component", "journal").Logger() }
}

func NewRecorder(j ports.EventJournal, opts ...Option) *Recorder {
	r := &Recorder{
		journal:   j,
		clock:     clock.RealClock{},
		retention: DefaultRetention,
		policy:    retry.Policy{Attempts: 1},
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Journal exposes the underlying store for readers.
func (r *Recorder) Journal() ports.EventJournal {
	return r.journal
}

// Retention is the ttl horizon applied to new events.
func (r *Recorder) Retention() time.Duration {
	return r.retention
}

// Build stamps and validates an event without writing it.
func (r *Recorder) Build(sessionID string, e Entry) (domain.Event, error) {
	at := e.At
	if at.IsZero() {
		at = r.clock.Now()
	}
	event := domain.NewEvent(sessionID, e.Status, at, r.retention)
	event.ErrorMessage = e.ErrorMessage
	event.HealthStatus = e.HealthStatus
	if err := event.Validate(); err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

// Record builds and appends in one step.
func (r *Recorder) Record(ctx context.Context, sessionID string, e Entry) (domain.Event, ports.AppendResult, error) {
	event, err := r.Build(sessionID, e)
	if err != nil {
		metrics.IncAppend(string(e.Status), "invalid")
		return domain.Event{}, 0, err
	}
	res, err := r.Append(ctx, event)
	return event, res, err
}

// Append validates and writes a fully formed event. Retries reuse the same
// event id, so a write that landed before a timeout is reported as a duplicate.
func (r *Recorder) Append(ctx context.Context, event domain.Event) (ports.AppendResult, error) {
	if err := event.Validate(); err != nil {
		metrics.IncAppend(string(event.Status), "invalid")
		return 0, err
	}

	res, err := retry.Do(ctx, r.policy, "journal append", func(ctx context.Context) (ports.AppendResult, error) {
		return r.journal.Append(ctx, event)
	})
	if err != nil {
		metrics.IncAppend(string(event.Status), "error")
		r.log.Error().Err(err).
			Str("session_id", event.SessionID).
			Str("status", string(event.Status)).
			Msg("journal append failed")
		return 0, err
	}
	metrics.IncAppend(string(event.Status), res.String())

	if event.Status.IsWorkerTerminal() && r.bus != nil {
		if perr := r.bus.PublishTerminal(ctx, event); perr != nil {
			// the detector sweep picks the event up later
			r.log.Warn().Err(perr).Str("session_id", event.SessionID).Msg("terminal event notification not published")
		}
	}
	return res, nil
}

// Load reads every event of a session and derives its state.
func (r *Recorder) Load(ctx context.Context, sessionID string) (domain.SessionView, error) {
	events, err := retry.Do(ctx, r.policy, "journal query", func(ctx context.Context) ([]domain.Event, error) {
		return r.journal.QueryAll(ctx, sessionID)
	})
	if err != nil {
		return domain.SessionView{}, err
	}
	if len(events) == 0 {
		return domain.SessionView{}, domain.ErrSessionUnknown
	}
	return domain.DeriveSession(sessionID, events), nil
}

// FirstMatching queries under the retry policy; not-found is returned as
// (nil, nil).
func (r *Recorder) FirstMatching(ctx context.Context, sessionID string, statuses []domain.EventStatus) (*domain.Event, error) {
	return r.matching(ctx, "journal first matching", sessionID, statuses, r.journal.QueryFirstMatching)
}

// LatestMatching queries under the retry policy; not-found is returned as
// (nil, nil).
func (r *Recorder) LatestMatching(ctx context.Context, sessionID string, statuses []domain.EventStatus) (*domain.Event, error) {
	return r.matching(ctx, "journal latest matching", sessionID, statuses, r.journal.QueryLatestMatching)
}

type matchFunc func(context.Context, string, []domain.EventStatus) (*domain.Event, error)

func (r *Recorder) matching(ctx context.Context, op, sessionID string, statuses []domain.EventStatus, q matchFunc) (*domain.Event, error) {
	event, err := retry.Do(ctx, r.policy, op, func(ctx context.Context) (*domain.Event, error) {
		return q(ctx, sessionID, statuses)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return event, err
}
