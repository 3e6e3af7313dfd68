// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/caioferrari/zapbridge/internal/log"
	"github.com/caioferrari/zapbridge/internal/metrics"
	"github.com/caioferrari/zapbridge/internal/session"
)

// ErrLoggedOut is returned by Run after a terminal disconnect. The process
// is expected to exit non-zero; recovery requires manual re-pairing.
var ErrLoggedOut = errors.New("logged out from WhatsApp")

const defaultRetryDelay = 5 * time.Second

// ClientFactory produces a fresh session client for each connect attempt.
type ClientFactory func() session.Client

// CredentialStore receives credential deltas for durable persistence.
type CredentialStore interface {
	Put(key string, value []byte) error
}

// MessageHandler is invoked once per inbound protocol message, in event
// order, from the supervisor's event loop.
type MessageHandler func(ctx context.Context, msg session.Message)

// Supervisor owns the single active session client. It drives the
// reconnect-with-fixed-delay policy and publishes connection status for
// observers. There is no backoff and no attempt cap: recoverable closes
// retry forever, terminal closes end Run.
type Supervisor struct {
	factory    ClientFactory
	creds      CredentialStore
	retryDelay time.Duration
	log        zerolog.Logger

	onMessage MessageHandler

	mu     sync.RWMutex
	status Status
	sender session.Sender // current client, non-nil only while open
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithRetryDelay overrides the fixed reconnect delay.
func WithRetryDelay(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// NewSupervisor creates a Supervisor. creds may be nil when the session
// engine manages its own credential storage.
func NewSupervisor(factory ClientFactory, creds CredentialStore, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		factory:    factory,
		creds:      creds,
		retryDelay: defaultRetryDelay,
		log:        log.WithComponent("supervisor"),
		status:     Status{State: StateClosed, Recoverable: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnMessage registers the inbound message handler. Must be called before Run.
func (s *Supervisor) OnMessage(h MessageHandler) { s.onMessage = h }

// Status returns the current connection snapshot.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Sender returns the active session sender, or false while not connected.
func (s *Supervisor) Sender() (session.Sender, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status.State != StateOpen || s.sender == nil {
		return nil, false
	}
	return s.sender, true
}

// Run connects and supervises session clients until ctx is cancelled or a
// terminal disconnect occurs. One client instance exists at a time; exactly
// one connect attempt follows each closed session.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		s.setConnecting()

		client := s.factory()
		if err := client.Connect(ctx); err != nil {
			_ = client.Close()
			if ctx.Err() != nil {
				return nil
			}
			s.setClosed("connect failed: "+err.Error(), true)
			s.log.Warn().Err(err).
				Str(log.FieldEvent, "session.connect_failed").
				Dur("retry_in", s.retryDelay).
				Msg("connect attempt failed, retrying")
			if !s.sleep(ctx) {
				return nil
			}
			continue
		}

		final := s.consume(ctx, client)
		s.clearSender()

		if final.LoggedOut {
			s.setClosed(final.Reason, false)
			s.log.Error().
				Str(log.FieldEvent, "session.logged_out").
				Str(log.FieldReason, final.Reason).
				Msg("terminal disconnect, will not reconnect")
			return ErrLoggedOut
		}

		s.setClosed(final.Reason, true)
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn().
			Str(log.FieldEvent, "session.disconnected").
			Str(log.FieldReason, final.Reason).
			Dur("retry_in", s.retryDelay).
			Msg("recoverable disconnect, scheduling reconnect")
		if !s.sleep(ctx) {
			return nil
		}
	}
}

// consume processes the client's event stream until it closes and returns
// the final Disconnected event. Credential deltas are persisted before the
// next event is read, preserving the stream's write ordering.
func (s *Supervisor) consume(ctx context.Context, client session.Client) session.Disconnected {
	// Unblock the read pump when the daemon shuts down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Close()
		case <-done:
		}
	}()

	final := session.Disconnected{Reason: "event stream ended"}
	for ev := range client.Events() {
		switch e := ev.(type) {
		case session.PairingCode:
			s.setPairingCode(e.Code)
			s.log.Info().Str(log.FieldEvent, "session.pairing_code").Msg("pairing code available")
		case session.Connected:
			s.setOpen(client, e.PhoneNumber)
			s.log.Info().
				Str(log.FieldEvent, "session.connected").
				Msg("session open")
		case session.CredentialUpdate:
			if s.creds == nil {
				continue
			}
			if err := s.creds.Put(e.Key, e.Value); err != nil {
				// An unsaved delta can force re-pairing; drop the session
				// rather than keep running with stale durable state.
				s.log.Error().Err(err).
					Str(log.FieldEvent, "session.credential_save_failed").
					Str("key", e.Key).
					Msg("credential persistence failed, closing session")
				_ = client.Close()
				continue
			}
			metrics.RecordCredentialWrite()
		case session.Message:
			if s.onMessage != nil {
				s.onMessage(ctx, e)
			}
		case session.Disconnected:
			final = e
		}
	}
	return final
}

func (s *Supervisor) sleep(ctx context.Context) bool {
	metrics.RecordReconnect()
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.retryDelay):
		return true
	}
}

// setConnecting marks a new attempt. Any previous pairing artifact is
// superseded and discarded.
func (s *Supervisor) setConnecting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.status.State
	s.status = Status{State: StateConnecting, Recoverable: true, PhoneNumber: s.status.PhoneNumber}
	s.logTransition(old, StateConnecting)
}

func (s *Supervisor) setOpen(sender session.Sender, phoneNumber string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.status.State
	s.status = Status{
		State:       StateOpen,
		Recoverable: true,
		PhoneNumber: phoneNumber,
		ConnectedAt: time.Now(),
	}
	s.sender = sender
	s.logTransition(old, StateOpen)
}

func (s *Supervisor) setClosed(reason string, recoverable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.status.State
	s.status = Status{
		State:       StateClosed,
		Reason:      reason,
		Recoverable: recoverable,
		PhoneNumber: s.status.PhoneNumber,
	}
	s.logTransition(old, StateClosed)
}

func (s *Supervisor) setPairingCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.PairingCode = code
}

func (s *Supervisor) clearSender() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = nil
}

func (s *Supervisor) logTransition(old, next State) {
	metrics.SetConnectionState(stateGaugeValue(next))
	s.log.Debug().
		Str(log.FieldOldState, string(old)).
		Str(log.FieldNewState, string(next)).
		Msg("connection state transition")
}
