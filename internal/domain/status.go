package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// EventStatus is either one of the predefined lifecycle statuses or a phase
// status of the form TASK_<phase>_{STARTED|COMPLETED|FAILED}.
type EventStatus string

const (
	// Session lifecycle
	StatusSessionInitiated EventStatus = "SESSION_INITIATED"
	StatusSessionTimedOut  EventStatus = "SESSION_TIMED_OUT"
	StatusCancelled        EventStatus = "CANCELLED"

	// Orchestrator -> gateway
	StatusInvocationStarted   EventStatus = "INVOCATION_STARTED"
	StatusInvocationSucceeded EventStatus = "INVOCATION_SUCCEEDED"
	StatusInvocationFailed    EventStatus = "INVOCATION_FAILED"

	// Worker entrypoint and background task
	StatusRuntimeInvokeStarted    EventStatus = "RUNTIME_INVOKE_STARTED"
	StatusRuntimeInvokeFailed     EventStatus = "RUNTIME_INVOKE_FAILED"
	StatusBackgroundTaskStarted   EventStatus = "BACKGROUND_TASK_STARTED"
	StatusBackgroundTaskCompleted EventStatus = "BACKGROUND_TASK_COMPLETED"
	StatusBackgroundTaskFailed    EventStatus = "BACKGROUND_TASK_FAILED"

	// Detector outcomes
	StatusForceStopped    EventStatus = "FORCE_STOPPED"
	StatusStopNotRequired EventStatus = "STOP_NOT_REQUIRED"
	StatusStopFailed      EventStatus = "STOP_FAILED"
)

// PhaseStage is the suffix of a phase status.
type PhaseStage string

const (
	PhaseStarted   PhaseStage = "STARTED"
	PhaseCompleted PhaseStage = "COMPLETED"
	PhaseFailed    PhaseStage = "FAILED"
)

const (
	// MaxPhaseNameLength bounds the caller-supplied part of a phase status.
	MaxPhaseNameLength = 50
	// PhaseNameCharset is the character set accepted in phase names.
	PhaseNameCharset = "[A-Za-z0-9_-]"
)

var (
	phaseNamePattern   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	phaseStatusPattern = regexp.MustCompile(`^TASK_(.*)_(STARTED|COMPLETED|FAILED)$`)
)

var predefinedStatuses = map[EventStatus]struct{}{
	StatusSessionInitiated:        {},
	StatusSessionTimedOut:         {},
	StatusCancelled:               {},
	StatusInvocationStarted:       {},
	StatusInvocationSucceeded:     {},
	StatusInvocationFailed:        {},
	StatusRuntimeInvokeStarted:    {},
	StatusRuntimeInvokeFailed:     {},
	StatusBackgroundTaskStarted:   {},
	StatusBackgroundTaskCompleted: {},
	StatusBackgroundTaskFailed:    {},
	StatusForceStopped:            {},
	StatusStopNotRequired:         {},
	StatusStopFailed:              {},
}

// Status sets used by the orchestrator and the detector.
var (
	// WorkerTerminalStatuses are reported by the worker when its background
	// task ends. They carry the health signal the detector consumes.
	WorkerTerminalStatuses = []EventStatus{
		StatusBackgroundTaskCompleted,
		StatusBackgroundTaskFailed,
	}

	// TerminalStatuses end a session. The first one in sequence order decides
	// the outcome.
	TerminalStatuses = []EventStatus{
		StatusBackgroundTaskCompleted,
		StatusBackgroundTaskFailed,
		StatusRuntimeInvokeFailed,
		StatusInvocationFailed,
		StatusSessionTimedOut,
		StatusCancelled,
	}

	// WorkerEndStatuses close a session from the worker's side: after one of
	// them no background task is left running.
	WorkerEndStatuses = []EventStatus{
		StatusBackgroundTaskCompleted,
		StatusBackgroundTaskFailed,
		StatusRuntimeInvokeFailed,
	}

	// StopOutcomeStatuses are written by the detector, at most one per session.
	StopOutcomeStatuses = []EventStatus{
		StatusForceStopped,
		StatusStopNotRequired,
		StatusStopFailed,
	}
)

// StatusError describes a rejected status string.
type StatusError struct {
	Status    string
	Reason    string
	MaxLength int
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("invalid status %q: %s; phase names may only use %s", e.Status, e.Reason, PhaseNameCharset)
	if e.MaxLength > 0 {
		msg += fmt.Sprintf(" and at most %d characters", e.MaxLength)
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return ErrInvalidStatus
}

// ParseStatus validates s and returns it as an EventStatus.
func ParseStatus(s string) (EventStatus, error) {
	status := EventStatus(s)
	if err := status.Validate(); err != nil {
		return "", err
	}
	return status, nil
}

// Validate accepts predefined statuses and well-formed phase statuses.
func (s EventStatus) Validate() error {
	if _, ok := predefinedStatuses[s]; ok {
		return nil
	}

	m := phaseStatusPattern.FindStringSubmatch(string(s))
	if m == nil {
		return &StatusError{
			Status: string(s),
			Reason: "must be a predefined status or match TASK_<phase>_{STARTED|COMPLETED|FAILED}",
		}
	}

	phase := m[1]
	if len(phase) == 0 || len(phase) > MaxPhaseNameLength {
		return &StatusError{
			Status:    string(s),
			Reason:    fmt.Sprintf("phase name %q must be between 1 and %d characters", phase, MaxPhaseNameLength),
			MaxLength: MaxPhaseNameLength,
		}
	}
	if !phaseNamePattern.MatchString(phase) {
		return &StatusError{
			Status: string(s),
			Reason: fmt.Sprintf("phase name %q contains invalid characters", phase),
		}
	}
	return nil
}

// IsPredefined reports whether s is one of the fixed lifecycle statuses.
func (s EventStatus) IsPredefined() bool {
	_, ok := predefinedStatuses[s]
	return ok
}

// Phase splits a phase status into its phase name and stage.
func (s EventStatus) Phase() (string, PhaseStage, bool) {
	if s.IsPredefined() {
		return "", "", false
	}
	m := phaseStatusPattern.FindStringSubmatch(string(s))
	if m == nil {
		return "", "", false
	}
	return m[1], PhaseStage(m[2]), true
}

// IsFailure reports whether s is a *_FAILED status, the only ones allowed to
// carry an error message.
func (s EventStatus) IsFailure() bool {
	return strings.HasSuffix(string(s), "_FAILED")
}

// IsWorkerTerminal reports whether s ends the worker's background task.
func (s EventStatus) IsWorkerTerminal() bool {
	return containsStatus(WorkerTerminalStatuses, s)
}

// IsTerminal reports whether s ends the session.
func (s EventStatus) IsTerminal() bool {
	return containsStatus(TerminalStatuses, s)
}

// IsStopOutcome reports whether s was written by the detector.
func (s EventStatus) IsStopOutcome() bool {
	return containsStatus(StopOutcomeStatuses, s)
}

// PhaseStatus builds TASK_<phase>_<stage>. The phase name is upper-cased and
// spaces become underscores before validation.
func PhaseStatus(phase string, stage PhaseStage) (EventStatus, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(phase), " ", "_"))
	status := EventStatus(fmt.Sprintf("TASK_%s_%s", name, stage))
	if err := status.Validate(); err != nil {
		return "", err
	}
	return status, nil
}

func containsStatus(set []EventStatus, s EventStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
