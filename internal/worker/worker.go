package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-relay/internal/core/ports"
	"go-relay/internal/domain"
	"go-relay/internal/journal"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"
)

// ErrStopped is the cause attached to a task cancelled by a stop command.
var ErrStopped = errors.New("stopped by detector")

type Options struct {
	TaskTimeout time.Duration
	PopTimeout  time.Duration
	Clock       clock.PassiveClock
	Logger      zerolog.Logger
}

// Worker is the reference remote worker: it takes invocations off the queue,
// runs the registered action as the session's background task and reports
// every step, plus its own health, to the journal.
type Worker struct {
	workerID    string
	queue       ports.InvocationQueue
	stops       ports.StopListener
	rec         *journal.Recorder
	data        ports.MetadataRepository
	registry    TaskRegistry
	clock       clock.PassiveClock
	taskTimeout time.Duration
	popTimeout  time.Duration
	log         zerolog.Logger

	mu     sync.Mutex
	active map[string]context.CancelCauseFunc
}

func NewWorker(q ports.InvocationQueue, stops ports.StopListener, rec *journal.Recorder, data ports.MetadataRepository, reg TaskRegistry, opts Options) *Worker {
	w := &Worker{
		workerID:    uuid.New().String(),
		queue:       q,
		stops:       stops,
		rec:         rec,
		data:        data,
		registry:    reg,
		clock:       opts.Clock,
		taskTimeout: opts.TaskTimeout,
		popTimeout:  opts.PopTimeout,
		active:      make(map[string]context.CancelCauseFunc),
	}
	if w.clock == nil {
		w.clock = clock.RealClock{}
	}
	if w.popTimeout <= 0 {
		w.popTimeout = 5 * time.Second
	}
	w.log = opts.Logger.With().Str("component", "worker").Str("worker_id", w.workerID).Logger()
	return w
}

// ProcessNextTask handles exactly one invocation lifecycle. It returns false
// when the queue had nothing to offer within the pop timeout.
func (w *Worker) ProcessNextTask(ctx context.Context) bool {
	// 1. POP: Wait until an invocation is available
	inv, err := w.queue.Pop(ctx, w.popTimeout)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("failed to pop invocation")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		return false
	}
	if inv == nil {
		return false
	}
	w.Handle(ctx, *inv)
	return true
}

// Handle runs one invocation to completion.
func (w *Worker) Handle(ctx context.Context, inv domain.Invocation) {
	log := w.log.With().Str("session_id", inv.SessionID).Logger()

	// 2. DEDUPE: a redelivered invocation must not start the work twice
	prior, err := w.rec.FirstMatching(ctx, inv.SessionID, []domain.EventStatus{domain.StatusRuntimeInvokeStarted})
	if err != nil {
		log.Error().Err(err).Msg("cannot check for prior runtime start, dropping invocation")
		return
	}
	if prior != nil {
		log.Warn().Msg("session already started on a runtime, ignoring duplicate invocation")
		return
	}
	if !w.report(ctx, log, inv.SessionID, journal.Entry{Status: domain.StatusRuntimeInvokeStarted}) {
		return
	}

	// 3. RESOLVE: find the right function
	var payload Payload
	if len(inv.Payload) > 0 {
		if err := json.Unmarshal(inv.Payload, &payload); err != nil {
			w.failEntry(ctx, log, inv.SessionID, fmt.Errorf("decode payload: %w", err))
			return
		}
	}
	if payload.Action == "" {
		payload.Action = DefaultAction
	}
	handler, exists := w.registry[payload.Action]
	if !exists {
		w.failEntry(ctx, log, inv.SessionID, fmt.Errorf("unknown action: %s", payload.Action))
		return
	}

	// 4. EXECUTE: run as the session's background task
	taskCtx, cancel := context.WithCancelCause(ctx)
	if w.taskTimeout > 0 {
		var stop context.CancelFunc
		taskCtx, stop = context.WithTimeout(taskCtx, w.taskTimeout)
		defer stop()
	}
	w.register(inv.SessionID, cancel)

	if !w.report(ctx, log, inv.SessionID, journal.Entry{Status: domain.StatusBackgroundTaskStarted}) {
		w.unregister(inv.SessionID)
		cancel(nil)
		return
	}

	task := &Task{
		SessionID: inv.SessionID,
		Input:     payload.Input,
		Phases:    NewPhaseTracker(w.rec, inv.SessionID, w.clock.Now, w.log),
		Data:      w.data,
		Now:       w.clock.Now,
	}
	runErr := handler(taskCtx, task)
	if runErr != nil && context.Cause(taskCtx) != nil && errors.Is(context.Cause(taskCtx), ErrStopped) {
		runErr = fmt.Errorf("%w: %v", ErrStopped, runErr)
	}

	// 5. COMPLETE: report the result with the worker's health at this moment
	w.unregister(inv.SessionID)
	cancel(nil)
	health := w.health()

	if runErr != nil {
		log.Error().Err(runErr).Msg("background task failed")
		w.report(ctx, log, inv.SessionID, journal.Entry{
			Status:       domain.StatusBackgroundTaskFailed,
			ErrorMessage: runErr.Error(),
			HealthStatus: health,
		})
		return
	}
	w.report(ctx, log, inv.SessionID, journal.Entry{
		Status:       domain.StatusBackgroundTaskCompleted,
		HealthStatus: health,
	})
	log.Info().Str("action", payload.Action).Msg("background task finished")
}

// Stop cancels the session's background task if this worker runs it.
func (w *Worker) Stop(cmd domain.StopCommand) bool {
	w.mu.Lock()
	cancel, ok := w.active[cmd.SessionID]
	w.mu.Unlock()
	if ok {
		w.log.Warn().Str("session_id", cmd.SessionID).Str("reason", cmd.Reason).Msg("stopping background task")
		cancel(ErrStopped)
	}
	return ok
}

// ActiveTasks is the number of background tasks currently registered.
func (w *Worker) ActiveTasks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}

func (w *Worker) health() domain.HealthStatus {
	if w.ActiveTasks() > 0 {
		return domain.HealthBusy
	}
	return domain.HealthHealthy
}

func (w *Worker) register(sessionID string, cancel context.CancelCauseFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active[sessionID] = cancel
}

func (w *Worker) unregister(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.active, sessionID)
}

func (w *Worker) failEntry(ctx context.Context, log zerolog.Logger, sessionID string, err error) {
	log.Error().Err(err).Msg("runtime invoke failed")
	w.report(ctx, log, sessionID, journal.Entry{
		Status:       domain.StatusRuntimeInvokeFailed,
		ErrorMessage: err.Error(),
		HealthStatus: w.health(),
	})
}

func (w *Worker) report(ctx context.Context, log zerolog.Logger, sessionID string, e journal.Entry) bool {
	if _, _, err := w.rec.Record(ctx, sessionID, e); err != nil {
		log.Error().Err(err).Str("status", string(e.Status)).Msg("failed to journal worker event")
		return false
	}
	return true
}

// ListenForStops forwards stop commands to running tasks until ctx is done.
func (w *Worker) ListenForStops(ctx context.Context) error {
	if w.stops == nil {
		return nil
	}
	cmds, err := w.stops.SubscribeStops(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to stop commands: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			w.Stop(cmd)
		}
	}
}

// StartPool launches multiple concurrent worker loops
func (w *Worker) StartPool(ctx context.Context, concurrency int) *sync.WaitGroup {
	w.log.Info().Int("concurrency", concurrency).Msg("starting worker pool")

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(threadID int) {
			defer wg.Done()
			w.log.Debug().Int("thread", threadID).Msg("worker thread started")
			for {
				select {
				case <-ctx.Done():
					w.log.Debug().Int("thread", threadID).Msg("worker thread shutting down")
					return
				default:
					w.ProcessNextTask(ctx)
				}
			}
		}(i)
	}
	return &wg
}
