// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/caioferrari/zapbridge/internal/log"
)

// ErrClosed is returned by Send after the session has ended.
var ErrClosed = errors.New("session closed")

const defaultSendTimeout = 60 * time.Second

// frame is the JSON wire format spoken with the protocol gateway.
type frame struct {
	Type string `json:"type"`

	// gateway → bridge
	Code        string        `json:"code,omitempty"`
	PhoneNumber string        `json:"phone_number,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	LoggedOut   bool          `json:"logged_out,omitempty"`
	Key         string        `json:"key,omitempty"`
	Value       string        `json:"value,omitempty"` // base64
	Message     *messageFrame `json:"message,omitempty"`

	// send / send_result
	ID        string `json:"id,omitempty"`
	To        string `json:"to,omitempty"`
	Text      string `json:"text,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`

	// init (bridge → gateway)
	Credentials map[string]string `json:"credentials,omitempty"`
}

type messageFrame struct {
	ID           string `json:"id"`
	From         string `json:"from"`
	FromMe       bool   `json:"from_me"`
	Notify       bool   `json:"notify"`
	Text         string `json:"text,omitempty"`
	ExtendedText string `json:"extended_text,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

type sendResult struct {
	messageID string
	err       error
}

// GatewayClient is the production Client: a WebSocket connection to the
// protocol gateway process. The gateway owns the WhatsApp protocol; this
// client only relays frames.
type GatewayClient struct {
	url         string
	creds       CredentialSource
	sendTimeout time.Duration
	log         zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	events chan Event

	pendingMu sync.Mutex
	pending   map[string]chan sendResult

	closeOnce sync.Once
	closed    chan struct{}
}

// GatewayOption configures a GatewayClient.
type GatewayOption func(*GatewayClient)

// WithSendTimeout overrides the reply timeout for send operations.
func WithSendTimeout(d time.Duration) GatewayOption {
	return func(g *GatewayClient) {
		if d > 0 {
			g.sendTimeout = d
		}
	}
}

// NewGatewayClient creates a client for the given gateway WebSocket URL.
// creds may be nil when no stored credentials exist yet.
func NewGatewayClient(url string, creds CredentialSource, opts ...GatewayOption) *GatewayClient {
	g := &GatewayClient{
		url:         url,
		creds:       creds,
		sendTimeout: defaultSendTimeout,
		log:         log.WithComponent("session"),
		events:      make(chan Event, 64),
		pending:     make(map[string]chan sendResult),
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Connect dials the gateway and performs the init handshake carrying the
// stored credential snapshot. The event stream is live on return.
func (g *GatewayClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway %s: %w", g.url, err)
	}
	g.conn = conn

	init := frame{Type: "init"}
	if g.creds != nil {
		snap, err := g.creds.Snapshot()
		if err != nil {
			conn.Close()
			return fmt.Errorf("credential snapshot: %w", err)
		}
		if len(snap) > 0 {
			init.Credentials = make(map[string]string, len(snap))
			for k, v := range snap {
				init.Credentials[k] = base64.StdEncoding.EncodeToString(v)
			}
		}
	}
	if err := g.writeFrame(init); err != nil {
		conn.Close()
		return fmt.Errorf("init handshake: %w", err)
	}

	g.log.Info().Str(log.FieldURL, g.url).Msg("gateway connected")
	go g.readPump()
	return nil
}

// Events implements Client.
func (g *GatewayClient) Events() <-chan Event {
	return g.events
}

// Send relays one text message through the gateway and waits for the
// correlated send_result frame.
func (g *GatewayClient) Send(ctx context.Context, to, body string) (string, error) {
	select {
	case <-g.closed:
		return "", ErrClosed
	default:
	}

	id := uuid.NewString()
	reply := make(chan sendResult, 1)
	g.pendingMu.Lock()
	g.pending[id] = reply
	g.pendingMu.Unlock()
	defer func() {
		g.pendingMu.Lock()
		delete(g.pending, id)
		g.pendingMu.Unlock()
	}()

	if err := g.writeFrame(frame{Type: "send", ID: id, To: to, Text: body}); err != nil {
		return "", fmt.Errorf("write send frame: %w", err)
	}

	timer := time.NewTimer(g.sendTimeout)
	defer timer.Stop()

	select {
	case res := <-reply:
		return res.messageID, res.err
	case <-timer.C:
		return "", fmt.Errorf("send %s: no reply within %s", id, g.sendTimeout)
	case <-g.closed:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close tears the session down. The read pump emits the final Disconnected
// event and closes the event channel.
func (g *GatewayClient) Close() error {
	g.closeOnce.Do(func() {
		close(g.closed)
		if g.conn != nil {
			g.conn.Close()
		}
	})
	return nil
}

func (g *GatewayClient) writeFrame(f frame) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return g.conn.WriteJSON(f)
}

// readPump decodes gateway frames into events until the connection drops or
// the gateway announces a disconnect. It always emits exactly one final
// Disconnected event before closing the event channel.
func (g *GatewayClient) readPump() {
	defer close(g.events)
	defer g.failPending()

	for {
		var f frame
		if err := g.conn.ReadJSON(&f); err != nil {
			reason := "gateway connection lost"
			select {
			case <-g.closed:
				reason = "session closed"
			default:
				g.log.Warn().Err(err).Msg("gateway read failed")
			}
			g.events <- Disconnected{Reason: reason}
			return
		}

		switch f.Type {
		case "pairing_code":
			g.events <- PairingCode{Code: f.Code}
		case "connected":
			g.events <- Connected{PhoneNumber: f.PhoneNumber}
		case "disconnected":
			g.events <- Disconnected{Reason: f.Reason, LoggedOut: f.LoggedOut}
			g.Close()
			return
		case "credential":
			value, err := base64.StdEncoding.DecodeString(f.Value)
			if err != nil {
				g.log.Warn().Str("key", f.Key).Msg("dropping credential frame with invalid base64")
				continue
			}
			g.events <- CredentialUpdate{Key: f.Key, Value: value}
		case "message":
			if f.Message == nil {
				continue
			}
			g.events <- Message{
				ID:           f.Message.ID,
				From:         f.Message.From,
				FromMe:       f.Message.FromMe,
				Notify:       f.Message.Notify,
				Text:         f.Message.Text,
				ExtendedText: f.Message.ExtendedText,
				Timestamp:    time.Unix(f.Message.Timestamp, 0),
			}
		case "send_result":
			g.resolveSend(f)
		default:
			g.log.Debug().Str("type", f.Type).Msg("ignoring unknown gateway frame")
		}
	}
}

func (g *GatewayClient) resolveSend(f frame) {
	g.pendingMu.Lock()
	reply, ok := g.pending[f.ID]
	g.pendingMu.Unlock()
	if !ok {
		g.log.Debug().Str("id", f.ID).Msg("send_result for unknown request")
		return
	}
	res := sendResult{messageID: f.MessageID}
	if f.Error != "" {
		res.err = errors.New(f.Error)
	}
	reply <- res
}

// failPending unblocks senders still waiting when the session ends.
func (g *GatewayClient) failPending() {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	for id, reply := range g.pending {
		select {
		case reply <- sendResult{err: ErrClosed}:
		default:
		}
		delete(g.pending, id)
	}
}

var _ Client = (*GatewayClient)(nil)
