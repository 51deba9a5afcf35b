package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go-relay/internal/core/ports"
	"go-relay/internal/domain"
	"go-relay/internal/journal"
	"go-relay/internal/orchestrator"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"k8s.io/utils/clock"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Runner drives one session to its outcome.
type Runner interface {
	Run(ctx context.Context, sessionID string, payload json.RawMessage) (orchestrator.Result, error)
}

// TriggerRequest starts (or resumes) a session.
type TriggerRequest struct {
	SessionID string
	Payload   json.RawMessage
}

// Report is a worker-submitted event. EventID and Timestamp are optional;
// a worker that retries a report sends the same pair to stay idempotent.
type Report struct {
	EventID      string
	Timestamp    time.Time
	Status       string
	ErrorMessage string
	HealthStatus string
}

type SessionService interface {
	Trigger(ctx context.Context, req TriggerRequest) (string, error)
	Get(ctx context.Context, sessionID string) (domain.SessionView, error)
	Events(ctx context.Context, sessionID, after string) ([]domain.Event, error)
	Latest(ctx context.Context, sessionID string, statuses []string) (*domain.Event, error)
	Report(ctx context.Context, sessionID string, r Report) (domain.Event, ports.AppendResult, error)
	Cancel(ctx context.Context, sessionID, reason string) (domain.Event, error)
	WriteData(ctx context.Context, sessionID, key, content string) error
	ReadData(ctx context.Context, sessionID, key string) (*domain.SessionData, error)
	Metadata(ctx context.Context, sessionID string) (*domain.SessionMetadata, error)
	ResumeOpen(ctx context.Context, scanner ports.SessionScanner, batch int) (int, error)
	Close()
}

// The Implementation
type sessionService struct {
	rec    *journal.Recorder
	meta   ports.MetadataRepository
	runner Runner
	clock  clock.PassiveClock
	log    zerolog.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[string]struct{}
}

// Constructor
func NewSessionService(rec *journal.Recorder, meta ports.MetadataRepository, runner Runner, c clock.PassiveClock, log zerolog.Logger) SessionService {
	if c == nil {
		c = clock.RealClock{}
	}
	ctx, stop := context.WithCancel(context.Background())
	return &sessionService{
		rec:     rec,
		meta:    meta,
		runner:  runner,
		clock:   c,
		log:     log.With().Str("component", "session_service").Logger(),
		baseCtx: ctx,
		stop:    stop,
		running: make(map[string]struct{}),
	}
}

// Trigger records the session's metadata and starts its orchestrator in the
// background. It returns as soon as the run is scheduled.
func (s *sessionService) Trigger(ctx context.Context, req TriggerRequest) (string, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if !sessionIDPattern.MatchString(sessionID) {
		return "", fmt.Errorf("%w: sessionId %q must match %s", domain.ErrInvalidEvent, sessionID, sessionIDPattern)
	}

	now := s.clock.Now()
	meta := &domain.SessionMetadata{
		SessionID: sessionID,
		Payload:   datatypes.JSON(req.Payload),
		CreatedAt: now,
		TTL:       now.Add(s.rec.Retention()).Unix(),
	}
	if err := s.meta.SaveMetadata(ctx, meta); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("session metadata not saved")
	}

	s.launch(sessionID, req.Payload)
	return sessionID, nil
}

// launch starts the runner for a session unless this process already runs it.
func (s *sessionService) launch(sessionID string, payload json.RawMessage) bool {
	s.mu.Lock()
	if _, ok := s.running[sessionID]; ok {
		s.mu.Unlock()
		return false
	}
	s.running[sessionID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, sessionID)
			s.mu.Unlock()
		}()

		res, err := s.runner.Run(s.baseCtx, sessionID, payload)
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", sessionID).Str("state", string(res.State)).Msg("orchestration interrupted")
		}
	}()
	return true
}

// ResumeOpen restarts orchestration of every session that started but has
// no terminal event, so their budgets keep running after a restart. The
// payload comes from the session metadata when it was saved.
func (s *sessionService) ResumeOpen(ctx context.Context, scanner ports.SessionScanner, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	resumed := 0
	cursor := ""
	for {
		ids, err := scanner.OpenSessions(ctx, cursor, batch)
		if err != nil {
			return resumed, fmt.Errorf("list open sessions: %w", err)
		}
		for _, id := range ids {
			var payload json.RawMessage
			if meta, err := s.meta.GetMetadata(ctx, id); err == nil {
				payload = json.RawMessage(meta.Payload)
			} else if !errors.Is(err, domain.ErrNotFound) {
				s.log.Warn().Err(err).Str("session_id", id).Msg("session metadata unreadable, resuming without payload")
			}
			if s.launch(id, payload) {
				resumed++
			}
		}
		if len(ids) < batch {
			return resumed, nil
		}
		cursor = ids[len(ids)-1]
	}
}

func (s *sessionService) Get(ctx context.Context, sessionID string) (domain.SessionView, error) {
	return s.rec.Load(ctx, sessionID)
}

func (s *sessionService) Events(ctx context.Context, sessionID, after string) ([]domain.Event, error) {
	if after == "" {
		return s.rec.Journal().QueryAll(ctx, sessionID)
	}
	return s.rec.Journal().QueryAfter(ctx, sessionID, after)
}

func (s *sessionService) Latest(ctx context.Context, sessionID string, statuses []string) (*domain.Event, error) {
	set := make([]domain.EventStatus, 0, len(statuses))
	for _, raw := range statuses {
		status, err := domain.ParseStatus(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		set = append(set, status)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: at least one status is required", domain.ErrInvalidStatus)
	}
	return s.rec.Journal().QueryLatestMatching(ctx, sessionID, set)
}

func (s *sessionService) Report(ctx context.Context, sessionID string, r Report) (domain.Event, ports.AppendResult, error) {
	status, err := domain.ParseStatus(r.Status)
	if err != nil {
		return domain.Event{}, 0, err
	}

	var health domain.HealthStatus
	if r.HealthStatus != "" {
		h, ok := domain.ParseHealthStatus(r.HealthStatus)
		if !ok {
			return domain.Event{}, 0, fmt.Errorf("%w: unknown healthStatus %q", domain.ErrInvalidEvent, r.HealthStatus)
		}
		health = h
	}

	entry := journal.Entry{
		Status:       status,
		ErrorMessage: r.ErrorMessage,
		HealthStatus: health,
		At:           r.Timestamp,
	}
	if r.EventID == "" {
		return s.rec.Record(ctx, sessionID, entry)
	}

	at := r.Timestamp
	if at.IsZero() {
		return domain.Event{}, 0, fmt.Errorf("%w: timestamp is required with eventId", domain.ErrInvalidEvent)
	}
	at = at.UTC().Truncate(time.Millisecond)
	event := domain.Event{
		SessionID:    sessionID,
		EventID:      r.EventID,
		SequenceKey:  domain.SequenceKey(at, r.EventID),
		Status:       status,
		Timestamp:    at,
		ErrorMessage: r.ErrorMessage,
		HealthStatus: health,
		TTL:          at.Add(s.rec.Retention()).Unix(),
	}
	res, err := s.rec.Append(ctx, event)
	return event, res, err
}

// Cancel writes CANCELLED unless the session already ended. The running
// orchestrator picks it up on its next poll.
func (s *sessionService) Cancel(ctx context.Context, sessionID, reason string) (domain.Event, error) {
	view, err := s.rec.Load(ctx, sessionID)
	if err != nil {
		return domain.Event{}, err
	}
	if view.State.IsTerminal() {
		return domain.Event{}, fmt.Errorf("%w: %s", domain.ErrSessionEnded, view.State)
	}

	event, _, err := s.rec.Record(ctx, sessionID, journal.Entry{Status: domain.StatusCancelled})
	if err != nil {
		return domain.Event{}, err
	}
	s.log.Info().Str("session_id", sessionID).Str("reason", reason).Msg("session cancelled")
	return event, nil
}

func (s *sessionService) WriteData(ctx context.Context, sessionID, key, content string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: data key is required", domain.ErrInvalidEvent)
	}
	now := s.clock.Now()
	return s.meta.WriteData(ctx, &domain.SessionData{
		SessionID: sessionID,
		DataKey:   key,
		Content:   content,
		CreatedAt: now,
		TTL:       now.Add(s.rec.Retention()).Unix(),
	})
}

func (s *sessionService) ReadData(ctx context.Context, sessionID, key string) (*domain.SessionData, error) {
	return s.meta.ReadData(ctx, sessionID, key)
}

func (s *sessionService) Metadata(ctx context.Context, sessionID string) (*domain.SessionMetadata, error) {
	return s.meta.GetMetadata(ctx, sessionID)
}

// Close interrupts running orchestrations and waits for them to return. They
// resume from the journal on the next trigger or server start.
func (s *sessionService) Close() {
	s.stop()
	s.wg.Wait()
}

// IsClientError reports whether err was caused by bad input.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidStatus) || errors.Is(err, domain.ErrInvalidEvent)
}
