package dto

import (
	"encoding/json"
	"time"

	"go-relay/internal/domain"
)

type TriggerSessionRequest struct {
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

type TriggerSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// ReportEventRequest is what a worker posts for its own session.
type ReportEventRequest struct {
	EventID      string    `json:"eventId"`
	Timestamp    time.Time `json:"timestamp"`
	Status       string    `json:"status" binding:"required"`
	ErrorMessage string    `json:"errorMessage"`
	HealthStatus string    `json:"healthStatus"`
}

type ReportEventResponse struct {
	Result string       `json:"result"`
	Event  domain.Event `json:"event"`
}

type CancelSessionRequest struct {
	Reason string `json:"reason"`
}

type WriteDataRequest struct {
	Content string `json:"content"`
}

type EventsResponse struct {
	SessionID string         `json:"sessionId"`
	Events    []domain.Event `json:"events"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
