package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go-relay/internal/core/ports"
	"go-relay/internal/domain"
)

// Task is what a handler gets to work with.
type Task struct {
	SessionID string
	Input     json.RawMessage
	Phases    *PhaseTracker
	Data      ports.MetadataRepository
	Now       func() time.Time
}

// WriteData stores a keyed blob for later workers of the same session.
func (t *Task) WriteData(ctx context.Context, key, content string, retention time.Duration) error {
	now := t.Now()
	return t.Data.WriteData(ctx, &domain.SessionData{
		SessionID: t.SessionID,
		DataKey:   key,
		Content:   content,
		CreatedAt: now,
		TTL:       now.Add(retention).Unix(),
	})
}

// TaskHandler is the blueprint for any function that does work
type TaskHandler func(ctx context.Context, task *Task) error

// TaskRegistry holds all our executable actions
type TaskRegistry map[string]TaskHandler

// Payload is the envelope workers expect inside an invocation.
type Payload struct {
	Action string          `json:"action"`
	Input  json.RawMessage `json:"input,omitempty"`
}

const DefaultAction = "echo"

// InitRegistry wires up the reference actions
func InitRegistry() TaskRegistry {
	registry := make(TaskRegistry)

	registry["echo"] = func(ctx context.Context, task *Task) error {
		if err := task.Phases.Start(ctx, "store result"); err != nil {
			return err
		}
		if err := task.WriteData(ctx, "result", string(task.Input), 30*24*time.Hour); err != nil {
			_, _ = task.Phases.Fail(ctx, "store result", err)
			return err
		}
		_, err := task.Phases.Complete(ctx, "store result")
		return err
	}

	registry["sleep"] = func(ctx context.Context, task *Task) error {
		var in struct {
			Duration string `json:"duration"`
		}
		if err := json.Unmarshal(task.Input, &in); err != nil {
			return fmt.Errorf("sleep input: %w", err)
		}
		d, err := time.ParseDuration(in.Duration)
		if err != nil {
			return fmt.Errorf("sleep duration: %w", err)
		}

		if err := task.Phases.Start(ctx, "sleep"); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			_, _ = task.Phases.Fail(context.WithoutCancel(ctx), "sleep", ctx.Err())
			return ctx.Err()
		case <-time.After(d):
		}
		_, err = task.Phases.Complete(ctx, "sleep")
		return err
	}

	return registry
}
