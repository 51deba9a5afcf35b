package domain

import (
	"encoding/json"
	"time"
)

// Invocation is what the gateway hands to a worker. Payload is opaque.
type Invocation struct {
	SessionID   string          `json:"session_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	RequestedAt time.Time       `json:"requested_at"`
}

// StopCommand asks whichever worker owns SessionID to abandon it.
type StopCommand struct {
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	IssuedAt  time.Time `json:"issued_at"`
}
