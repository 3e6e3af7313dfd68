// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/caioferrari/zapbridge/internal/session"
)

// fakeClient is a scripted session client driven by the test.
type fakeClient struct {
	events     chan session.Event
	connectErr error

	mu    sync.Mutex
	sends []string

	closeOnce sync.Once
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan session.Event, 16)}
}

func (f *fakeClient) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeClient) Events() <-chan session.Event { return f.events }

func (f *fakeClient) Send(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, to)
	return "WAMID-FAKE", nil
}

func (f *fakeClient) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeClient) emit(ev session.Event) { f.events <- ev }

// end emits the final Disconnected event and closes the stream.
func (f *fakeClient) end(reason string, loggedOut bool) {
	f.emit(session.Disconnected{Reason: reason, LoggedOut: loggedOut})
	f.Close()
}

// recordingCreds records Put order for credential-ordering assertions.
type recordingCreds struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingCreds) Put(key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return nil
}

func (r *recordingCreds) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

// clientSequence hands out scripted clients one connect attempt at a time.
type clientSequence struct {
	mu      sync.Mutex
	clients []*fakeClient
	calls   int
}

func (cs *clientSequence) factory() session.Client {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	client := cs.clients[cs.calls%len(cs.clients)]
	cs.calls++
	return client
}

func (cs *clientSequence) callCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.calls
}

func runSupervisor(t *testing.T, s *Supervisor) (cancel func(), done chan error) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done = make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel = func() {
		cancelCtx()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("supervisor did not stop")
		}
	}
	return cancel, done
}

func waitForState(t *testing.T, s *Supervisor, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Status().State == want
	}, 2*time.Second, 5*time.Millisecond, "waiting for state %s", want)
}

func TestSupervisor_PairingArtifactLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := newFakeClient()
	seq := &clientSequence{clients: []*fakeClient{client}}
	s := NewSupervisor(seq.factory, nil, WithRetryDelay(10*time.Millisecond))
	cancel, _ := runSupervisor(t, s)
	defer cancel()

	client.emit(session.PairingCode{Code: "ABCD-1234"})
	require.Eventually(t, func() bool {
		return s.Status().PairingCode == "ABCD-1234"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnecting, s.Status().State)

	client.emit(session.Connected{PhoneNumber: "5511999999999"})
	waitForState(t, s, StateOpen)

	status := s.Status()
	assert.Empty(t, status.PairingCode, "pairing artifact must be cleared once open")
	assert.Equal(t, "5511999999999", status.PhoneNumber)
	assert.False(t, status.ConnectedAt.IsZero())
}

func TestSupervisor_ReconnectOnRecoverableClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	first := newFakeClient()
	second := newFakeClient()
	seq := &clientSequence{clients: []*fakeClient{first, second}}
	s := NewSupervisor(seq.factory, nil, WithRetryDelay(20*time.Millisecond))
	cancel, _ := runSupervisor(t, s)
	defer cancel()

	first.emit(session.Connected{PhoneNumber: "55"})
	waitForState(t, s, StateOpen)

	first.end("stream error", false)
	waitForState(t, s, StateClosed)
	assert.True(t, s.Status().Recoverable)

	// Exactly one new attempt per closed session, after the fixed delay.
	require.Eventually(t, func() bool {
		return seq.callCount() == 2
	}, time.Second, 5*time.Millisecond)

	second.emit(session.Connected{PhoneNumber: "55"})
	waitForState(t, s, StateOpen)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 2, seq.callCount(), "no burst of parallel attempts")
}

func TestSupervisor_NoReconnectOnTerminalClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := newFakeClient()
	seq := &clientSequence{clients: []*fakeClient{client}}
	s := NewSupervisor(seq.factory, nil, WithRetryDelay(10*time.Millisecond))
	_, done := runSupervisor(t, s)

	client.emit(session.Connected{PhoneNumber: "55"})
	waitForState(t, s, StateOpen)

	client.end("logged out", true)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrLoggedOut)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not return after terminal close")
	}

	status := s.Status()
	assert.Equal(t, StateClosed, status.State)
	assert.False(t, status.Recoverable)
	assert.Equal(t, "logged out", status.Reason)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, seq.callCount(), "no reconnect after terminal close")

	_, ok := s.Sender()
	assert.False(t, ok)
}

func TestSupervisor_ConnectFailureRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	failing := newFakeClient()
	failing.connectErr = errors.New("connection refused")
	failing.Close()
	working := newFakeClient()
	seq := &clientSequence{clients: []*fakeClient{failing, working}}
	s := NewSupervisor(seq.factory, nil, WithRetryDelay(10*time.Millisecond))
	cancel, _ := runSupervisor(t, s)
	defer cancel()

	require.Eventually(t, func() bool {
		return seq.callCount() >= 2
	}, time.Second, 5*time.Millisecond)

	working.emit(session.Connected{PhoneNumber: "55"})
	waitForState(t, s, StateOpen)
}

func TestSupervisor_CredentialOrdering(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := newFakeClient()
	seq := &clientSequence{clients: []*fakeClient{client}}
	creds := &recordingCreds{}
	s := NewSupervisor(seq.factory, creds, WithRetryDelay(10*time.Millisecond))

	handled := make(chan []string, 1)
	s.OnMessage(func(ctx context.Context, msg session.Message) {
		handled <- creds.snapshot()
	})

	cancel, _ := runSupervisor(t, s)
	defer cancel()

	client.emit(session.Connected{PhoneNumber: "55"})
	client.emit(session.CredentialUpdate{Key: "noise-key", Value: []byte("a")})
	client.emit(session.CredentialUpdate{Key: "app-state", Value: []byte("b")})
	client.emit(session.Message{ID: "M1", From: "x", Notify: true, Text: "oi"})

	select {
	case persisted := <-handled:
		assert.Equal(t, []string{"noise-key", "app-state"}, persisted,
			"credential deltas must be durably saved, in order, before later events are handled")
	case <-time.After(2 * time.Second):
		t.Fatal("message handler not invoked")
	}
}

func TestSupervisor_SenderOnlyWhileOpen(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := newFakeClient()
	seq := &clientSequence{clients: []*fakeClient{client}}
	s := NewSupervisor(seq.factory, nil, WithRetryDelay(time.Hour))
	cancel, _ := runSupervisor(t, s)
	defer cancel()

	_, ok := s.Sender()
	assert.False(t, ok, "no sender while connecting")

	client.emit(session.Connected{PhoneNumber: "55"})
	waitForState(t, s, StateOpen)

	sender, ok := s.Sender()
	require.True(t, ok)
	assert.NotNil(t, sender)

	client.end("hiccup", false)
	waitForState(t, s, StateClosed)

	_, ok = s.Sender()
	assert.False(t, ok, "no sender after close")
}
