// SPDX-License-Identifier: MIT

// Package bridge contains the connection supervisor and the outbound
// dispatcher: the state machine that keeps one WhatsApp session alive and
// the single funnel for outbound sends.
package bridge

import "time"

// State is the coarse connection state.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// Status is an atomically-readable snapshot of the shared connection state.
// The supervisor is the single writer; the HTTP surface and the dispatcher
// read it.
type Status struct {
	State       State
	Reason      string // close reason, set while StateClosed
	Recoverable bool   // false after a terminal (logged out) close
	PhoneNumber string // own account number, known once connected
	PairingCode string // live pairing artifact, empty outside pairing
	ConnectedAt time.Time
}

// IsOpen reports whether sends are currently permitted.
func (s Status) IsOpen() bool { return s.State == StateOpen }

func stateGaugeValue(s State) float64 {
	switch s {
	case StateOpen:
		return 2
	case StateConnecting:
		return 1
	default:
		return 0
	}
}
