// SPDX-License-Identifier: MIT

// Package relay forwards inbound WhatsApp messages to the downstream
// webhook. Forwarding is at-least-once per event with no retry and no
// durable queue: the asymmetry with the outbound path is deliberate.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/caioferrari/zapbridge/internal/log"
	"github.com/caioferrari/zapbridge/internal/metrics"
	"github.com/caioferrari/zapbridge/internal/session"
	"github.com/caioferrari/zapbridge/internal/telemetry"
)

const platformName = "whatsapp"

// ReplyFunc sends an auto-reply back to the originating sender. Usually the
// outbound dispatcher's Send.
type ReplyFunc func(ctx context.Context, to, body string) (string, error)

// webhookPayload is the body POSTed to the downstream webhook.
type webhookPayload struct {
	From      string `json:"from"`
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
	Timestamp string `json:"timestamp"`
	Platform  string `json:"platform"`
}

// webhookReply is the subset of the webhook response the relay understands.
// A non-empty Response is sent back to the sender.
type webhookReply struct {
	Response string `json:"response"`
}

// Relay filters and forwards inbound messages.
type Relay struct {
	webhookURL string
	client     *http.Client
	reply      ReplyFunc
	log        zerolog.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithHTTPClient overrides the webhook HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Relay) {
		if c != nil {
			r.client = c
		}
	}
}

// WithReply enables webhook-driven auto-replies through the given sender.
func WithReply(fn ReplyFunc) Option {
	return func(r *Relay) { r.reply = fn }
}

// New creates a Relay for the given webhook URL. An empty URL disables
// forwarding entirely (messages are counted and dropped).
func New(webhookURL string, opts ...Option) *Relay {
	r := &Relay{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log.WithComponent("relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleMessage processes one inbound event: filter, extract, forward.
// Failures are logged and dropped; the supervisor's event loop must never
// stall on webhook trouble.
func (r *Relay) HandleMessage(ctx context.Context, msg session.Message) {
	if msg.FromMe {
		metrics.RecordInbound("self")
		return
	}
	if !msg.Notify {
		// History-sync replays and similar non-notification events must
		// not reach the webhook.
		metrics.RecordInbound("not_notify")
		return
	}

	body := extractBody(msg)
	if body == "" {
		// Media, reactions and other non-text events carry no relayable
		// body; dropping them is silent and expected.
		metrics.RecordInbound("no_text")
		return
	}

	metrics.RecordInbound("relayed")
	if r.webhookURL == "" {
		return
	}

	reply, err := r.forward(ctx, msg, body)
	if err != nil {
		metrics.RecordWebhookForward("failure")
		r.log.Warn().Err(err).
			Str(log.FieldEvent, "relay.forward_failed").
			Str(log.FieldMessageID, msg.ID).
			Msg("webhook forward failed, message dropped")
		return
	}
	metrics.RecordWebhookForward("success")

	if reply != "" && r.reply != nil {
		if _, err := r.reply(ctx, msg.From, reply); err != nil {
			r.log.Warn().Err(err).
				Str(log.FieldEvent, "relay.reply_failed").
				Str(log.FieldMessageID, msg.ID).
				Msg("auto-reply failed")
		}
	}
}

// extractBody takes the first non-empty of the possible content fields.
func extractBody(msg session.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.ExtendedText
}

func (r *Relay) forward(ctx context.Context, msg session.Message, body string) (string, error) {
	tracer := telemetry.Tracer("zapbridge.relay")
	ctx, span := tracer.Start(ctx, "zapbridge.webhook.forward", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("messaging.message_id", msg.ID))
	defer span.End()

	payload := webhookPayload{
		From:      msg.From,
		Message:   body,
		MessageID: msg.ID,
		Timestamp: msg.Timestamp.UTC().Format(time.RFC3339),
		Platform:  platformName,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.webhookURL, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := r.client.Do(req)
	if err != nil {
		err = fmt.Errorf("post webhook: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer res.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))
	if res.StatusCode < 200 || res.StatusCode > 299 {
		err = fmt.Errorf("webhook returned status %d", res.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var reply webhookReply
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		// A webhook that answers 2xx with a non-JSON body is still a
		// successful forward; there is just no auto-reply to send.
		return "", nil
	}
	return reply.Response, nil
}
