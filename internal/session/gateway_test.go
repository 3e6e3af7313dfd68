// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// fakeGateway runs a scripted gateway behind an httptest server.
type fakeGateway struct {
	server *httptest.Server
	conns  chan *websocket.Conn
	inits  chan frame
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	fg := &fakeGateway{
		conns: make(chan *websocket.Conn, 1),
		inits: make(chan frame, 1),
	}
	fg.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		var init frame
		require.NoError(t, conn.ReadJSON(&init))
		fg.inits <- init
		fg.conns <- conn
	}))
	t.Cleanup(fg.server.Close)
	return fg
}

func (fg *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(fg.server.URL, "http")
}

type staticCreds map[string][]byte

func (s staticCreds) Snapshot() (map[string][]byte, error) { return s, nil }

func dialGateway(t *testing.T, fg *fakeGateway, creds CredentialSource, opts ...GatewayOption) (*GatewayClient, *websocket.Conn) {
	t.Helper()
	client := NewGatewayClient(fg.url(), creds, opts...)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })
	conn := <-fg.conns
	return client, conn
}

func TestGatewayClient_InitCarriesCredentials(t *testing.T) {
	fg := newFakeGateway(t)
	_, conn := dialGateway(t, fg, staticCreds{"noise-key": []byte("secret")})
	defer conn.Close()

	init := <-fg.inits
	assert.Equal(t, "init", init.Type)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("secret")), init.Credentials["noise-key"])
}

func TestGatewayClient_EventDecoding(t *testing.T) {
	fg := newFakeGateway(t)
	client, conn := dialGateway(t, fg, nil)
	defer conn.Close()
	<-fg.inits

	require.NoError(t, conn.WriteJSON(frame{Type: "pairing_code", Code: "ABCD-1234"}))
	require.NoError(t, conn.WriteJSON(frame{Type: "connected", PhoneNumber: "5511999999999"}))
	require.NoError(t, conn.WriteJSON(frame{
		Type: "credential",
		Key:  "app-state",
		Value: base64.StdEncoding.EncodeToString([]byte("delta")),
	}))
	require.NoError(t, conn.WriteJSON(frame{Type: "message", Message: &messageFrame{
		ID: "MSG1", From: "5511888888888@s.whatsapp.net", Notify: true, Text: "oi", Timestamp: 1700000000,
	}}))

	ev := <-client.Events()
	assert.Equal(t, PairingCode{Code: "ABCD-1234"}, ev)

	ev = <-client.Events()
	assert.Equal(t, Connected{PhoneNumber: "5511999999999"}, ev)

	ev = <-client.Events()
	assert.Equal(t, CredentialUpdate{Key: "app-state", Value: []byte("delta")}, ev)

	ev = <-client.Events()
	msg, ok := ev.(Message)
	require.True(t, ok)
	assert.Equal(t, "MSG1", msg.ID)
	assert.Equal(t, "oi", msg.Text)
	assert.True(t, msg.Notify)
	assert.Equal(t, time.Unix(1700000000, 0), msg.Timestamp)
}

func TestGatewayClient_SendCorrelation(t *testing.T) {
	fg := newFakeGateway(t)
	client, conn := dialGateway(t, fg, nil)
	defer conn.Close()
	<-fg.inits

	go func() {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		_ = conn.WriteJSON(frame{Type: "send_result", ID: f.ID, MessageID: "WAMID-1"})
	}()

	id, err := client.Send(context.Background(), "5511888888888@s.whatsapp.net", "hello")
	require.NoError(t, err)
	assert.Equal(t, "WAMID-1", id)
}

func TestGatewayClient_SendError(t *testing.T) {
	fg := newFakeGateway(t)
	client, conn := dialGateway(t, fg, nil)
	defer conn.Close()
	<-fg.inits

	go func() {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		_ = conn.WriteJSON(frame{Type: "send_result", ID: f.ID, Error: "recipient not on whatsapp"})
	}()

	_, err := client.Send(context.Background(), "000", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipient not on whatsapp")
}

func TestGatewayClient_SendTimeout(t *testing.T) {
	fg := newFakeGateway(t)
	client, conn := dialGateway(t, fg, nil, WithSendTimeout(50*time.Millisecond))
	defer conn.Close()
	<-fg.inits

	_, err := client.Send(context.Background(), "5511888888888@s.whatsapp.net", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no reply")
}

func TestGatewayClient_DisconnectedFrameEndsStream(t *testing.T) {
	fg := newFakeGateway(t)
	client, conn := dialGateway(t, fg, nil)
	defer conn.Close()
	<-fg.inits

	require.NoError(t, conn.WriteJSON(frame{Type: "disconnected", Reason: "logged out", LoggedOut: true}))

	ev := <-client.Events()
	assert.Equal(t, Disconnected{Reason: "logged out", LoggedOut: true}, ev)

	_, open := <-client.Events()
	assert.False(t, open, "event channel must close after the final Disconnected")
}

func TestGatewayClient_ConnectionLossEndsStream(t *testing.T) {
	fg := newFakeGateway(t)
	client, conn := dialGateway(t, fg, nil)
	<-fg.inits

	conn.Close()

	ev := <-client.Events()
	dis, ok := ev.(Disconnected)
	require.True(t, ok)
	assert.False(t, dis.LoggedOut)

	_, open := <-client.Events()
	assert.False(t, open)
}

func TestGatewayClient_ConnectRefused(t *testing.T) {
	client := NewGatewayClient("ws://127.0.0.1:1/ws", nil)
	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial gateway")
}
