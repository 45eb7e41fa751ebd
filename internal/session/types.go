// Package session holds the durable handoff state: the record kinds persisted
// per visitor, the session state machine, the Redis-backed store and the
// idle-timeout manager.
package session

import (
	"encoding/json"
	"time"
)

// State is the explicit lifecycle position of one visitor's handoff.
type State int

const (
	// StatePending: handoff requested, no backend chat confirmed yet.
	StatePending State = iota
	// StateEstablished: the backend confirmed an agent picked up the chat.
	StateEstablished
	// StateConnected: at least one full poll cycle has completed.
	StateConnected
	// StateEnding: a terminal event arrived, teardown in progress.
	StateEnding
	// StateTerminal: teardown finished, the poll loop must exit.
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateEstablished:
		return "established"
	case StateConnected:
		return "connected"
	case StateEnding:
		return "ending"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// CanTransition reports whether moving from s to next is a valid lifecycle
// step. Self-transitions are allowed for the live states since repeated
// events of the same kind rearm rather than advance.
func (s State) CanTransition(next State) bool {
	switch s {
	case StatePending:
		return next == StatePending || next == StateEstablished || next == StateConnected ||
			next == StateEnding || next == StateTerminal
	case StateEstablished:
		return next == StateEstablished || next == StateConnected || next == StateEnding || next == StateTerminal
	case StateConnected:
		return next == StateConnected || next == StateEnding || next == StateTerminal
	case StateEnding:
		return next == StateTerminal
	default:
		return false
	}
}

// Entry is the durable record of an active chat session. It exists if and
// only if polling for the visitor is running or about to resume after a
// restart.
type Entry struct {
	VisitorID     string    `json:"visitorId"`
	SessionKey    string    `json:"session_key"`
	AffinityToken string    `json:"affinity_token"`
	CreatedAt     time.Time `json:"created_at"`
}

// Context is the pending-request record: the bot conversation snapshot
// captured when the handoff was requested, consumed once the handoff
// connects or definitively fails.
type Context struct {
	VisitorID string          `json:"visitorId"`
	Snapshot  json.RawMessage `json:"snapshot,omitempty"`
}

// ConnectedMarker records when the first successful poll cycle completed.
// Observational only; correctness never depends on it.
type ConnectedMarker struct {
	VisitorID   string    `json:"visitorId"`
	ConnectedAt time.Time `json:"time"`
}
