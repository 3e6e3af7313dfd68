// SPDX-License-Identifier: MIT

// Package session abstracts the external protocol engine that owns the
// actual WhatsApp connection (pairing, encryption, framing). The bridge
// consumes it as an opaque collaborator: a connect operation, a send
// operation and an ordered stream of lifecycle events.
package session

import (
	"context"
	"time"
)

// Event is a lifecycle or message event emitted by a Client. Events are
// delivered in arrival order on a single channel; the final event before
// the channel closes is always Disconnected.
type Event interface {
	isEvent()
}

// PairingCode is emitted while connecting when the engine requires a new
// device link. At most one code is relevant at a time; a newer code
// supersedes older ones.
type PairingCode struct {
	Code string
}

// Connected is emitted when the session reaches the network.
type Connected struct {
	PhoneNumber string
}

// Disconnected is the final event of a session. LoggedOut marks the closure
// as terminal: the stored credentials are invalid and reconnecting is
// pointless until the operator pairs again.
type Disconnected struct {
	Reason    string
	LoggedOut bool
}

// CredentialUpdate carries a credential delta that must be durably saved
// before the next event is processed; losing it can force re-pairing.
type CredentialUpdate struct {
	Key   string
	Value []byte
}

// Message is an inbound protocol message.
type Message struct {
	ID           string
	From         string
	FromMe       bool
	Notify       bool // true only for new-notification class events
	Text         string
	ExtendedText string
	Timestamp    time.Time
}

func (PairingCode) isEvent()      {}
func (Connected) isEvent()        {}
func (Disconnected) isEvent()     {}
func (CredentialUpdate) isEvent() {}
func (Message) isEvent()          {}

// Sender sends one text message and returns the protocol-assigned message ID.
type Sender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// Client is a single session instance. A Client is used once: Connect, then
// consume Events until the channel closes, then discard the instance.
type Client interface {
	Sender

	// Connect establishes the session. On success the event channel is
	// live; on failure the instance must be discarded.
	Connect(ctx context.Context) error

	// Events returns the ordered event stream. The channel is closed after
	// the final Disconnected event.
	Events() <-chan Event

	// Close tears the session down. Safe to call multiple times.
	Close() error
}

// CredentialSource provides the stored credential snapshot handed to the
// engine during the connect handshake.
type CredentialSource interface {
	Snapshot() (map[string][]byte, error)
}
