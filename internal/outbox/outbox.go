// SPDX-License-Identifier: MIT

// Package outbox implements the single-slot durable pending-message queue.
// An external producer writes one JSON entry to a well-known path; the
// drainer delivers it and removes it only after a confirmed send. A crash
// between send and delete causes at most one duplicate on the next tick.
package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/renameio/v2"
)

// ActionSendMessage is the only action the drainer understands.
const ActionSendMessage = "send_message"

var (
	// ErrEmpty signals an absent slot; an idle no-op, not a failure.
	ErrEmpty = errors.New("outbox slot is empty")

	// ErrMalformed signals a slot whose content cannot be delivered.
	ErrMalformed = errors.New("malformed outbox entry")
)

// Entry is the durable pending-message record.
type Entry struct {
	Action  string `json:"action"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// validate reports whether the entry is deliverable.
func (e Entry) validate() error {
	if e.Action != ActionSendMessage {
		return fmt.Errorf("%w: unknown action %q", ErrMalformed, e.Action)
	}
	if strings.TrimSpace(e.To) == "" {
		return fmt.Errorf("%w: empty recipient", ErrMalformed)
	}
	if e.Message == "" {
		return fmt.Errorf("%w: empty message", ErrMalformed)
	}
	return nil
}

// Slot is the single durable queue slot backed by one file.
type Slot struct {
	path string
}

// NewSlot creates a Slot at the given path.
func NewSlot(path string) *Slot {
	return &Slot{path: path}
}

// Path returns the slot's file path.
func (s *Slot) Path() string { return s.path }

// Read loads the current entry. It returns ErrEmpty when no slot file
// exists and a wrapped ErrMalformed for unreadable or invalid content.
func (s *Slot) Read() (Entry, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, ErrEmpty
		}
		return Entry{}, fmt.Errorf("read outbox slot: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := entry.validate(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Write atomically and durably replaces the slot with the given entry.
// A second write before a drain overwrites the first; the queue holds at
// most one entry by contract.
func (s *Slot) Write(entry Entry) error {
	if err := entry.validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode outbox entry: %w", err)
	}

	pending, err := renameio.NewPendingFile(s.path)
	if err != nil {
		return fmt.Errorf("create pending outbox file: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	if _, err := pending.Write(raw); err != nil {
		return fmt.Errorf("write outbox entry: %w", err)
	}
	// fsync + rename: the entry either exists completely or not at all.
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace outbox slot: %w", err)
	}
	return nil
}

// Delete removes the slot. Deleting an absent slot is a no-op.
func (s *Slot) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete outbox slot: %w", err)
	}
	return nil
}
