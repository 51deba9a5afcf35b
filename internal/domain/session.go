package domain

import (
	"time"

	"gorm.io/datatypes"
)

// SessionState is the orchestrator's view of a session, always derived from
// the journal.
type SessionState string

const (
	StateInitiated SessionState = "INITIATED"
	StateInvoking  SessionState = "INVOKING"
	StatePolling   SessionState = "POLLING"
	StateSucceeded SessionState = "SUCCEEDED"
	StateFailed    SessionState = "FAILED"
	StateTimedOut  SessionState = "TIMED_OUT"
	StateCancelled SessionState = "CANCELLED"
)

func (s SessionState) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// OutcomeOf maps a terminal status to the session outcome it produces.
func OutcomeOf(status EventStatus) (SessionState, bool) {
	switch status {
	case StatusBackgroundTaskCompleted:
		return StateSucceeded, true
	case StatusBackgroundTaskFailed, StatusRuntimeInvokeFailed, StatusInvocationFailed:
		return StateFailed, true
	case StatusSessionTimedOut:
		return StateTimedOut, true
	case StatusCancelled:
		return StateCancelled, true
	}
	return "", false
}

// PhaseView summarises one caller-named phase.
type PhaseView struct {
	Name         string     `json:"name"`
	Stage        PhaseStage `json:"stage"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// SessionView is a session rebuilt from its ordered events.
type SessionView struct {
	SessionID string       `json:"sessionId"`
	State     SessionState `json:"state"`
	// StartedAt is the SESSION_INITIATED timestamp, the anchor of the budget.
	StartedAt *time.Time `json:"startedAt,omitempty"`
	// Terminal is the first terminal event; later ones never change the outcome.
	Terminal          *Event      `json:"terminal,omitempty"`
	Last              *Event      `json:"last,omitempty"`
	InvocationPending bool        `json:"invocationPending"`
	Phases            []PhaseView `json:"phases,omitempty"`
	EventCount        int         `json:"eventCount"`
}

// DeriveSession folds events (ascending sequence order) into a SessionView.
func DeriveSession(sessionID string, events []Event) SessionView {
	view := SessionView{SessionID: sessionID, State: StateInitiated, EventCount: len(events)}

	var initiated, invokeStarted, invokeDone, workerSeen bool
	phaseIdx := make(map[string]int)

	for i := range events {
		e := events[i]
		view.Last = &events[i]

		switch e.Status {
		case StatusSessionInitiated:
			if !initiated {
				ts := e.Timestamp
				view.StartedAt = &ts
			}
			initiated = true
		case StatusInvocationStarted:
			invokeStarted = true
		case StatusInvocationSucceeded:
			invokeDone = true
		case StatusRuntimeInvokeStarted, StatusBackgroundTaskStarted:
			workerSeen = true
		}

		if view.Terminal == nil && e.Status.IsTerminal() {
			view.Terminal = &events[i]
		}

		if name, stage, ok := e.Status.Phase(); ok {
			ts := e.Timestamp
			idx, seen := phaseIdx[name]
			if !seen {
				view.Phases = append(view.Phases, PhaseView{Name: name})
				idx = len(view.Phases) - 1
				phaseIdx[name] = idx
			}
			p := &view.Phases[idx]
			p.Stage = stage
			if stage == PhaseStarted {
				p.StartedAt = &ts
			} else {
				p.EndedAt = &ts
				p.ErrorMessage = e.ErrorMessage
			}
		}
	}

	switch {
	case view.Terminal != nil:
		view.State, _ = OutcomeOf(view.Terminal.Status)
	case invokeDone || workerSeen:
		view.State = StatePolling
	case invokeStarted:
		view.State = StateInvoking
		view.InvocationPending = true
	case initiated:
		view.State = StateInvoking
	}
	return view
}

// SessionMetadata is written once when a session is triggered.
type SessionMetadata struct {
	SessionID string         `gorm:"column:session_id;type:varchar(128);primaryKey" json:"sessionId"`
	Payload   datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"createdAt"`
	TTL       int64          `gorm:"column:ttl;not null;index" json:"ttl"`
}

func (SessionMetadata) TableName() string {
	return "session_metadata"
}

// SessionData holds a keyed blob that workers hand to each other within a session.
type SessionData struct {
	SessionID string    `gorm:"column:session_id;type:varchar(128);primaryKey" json:"sessionId"`
	DataKey   string    `gorm:"column:data_key;type:varchar(128);primaryKey" json:"dataKey"`
	Content   string    `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	TTL       int64     `gorm:"column:ttl;not null;index" json:"ttl"`
}

func (SessionData) TableName() string {
	return "session_data"
}
