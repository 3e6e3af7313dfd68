// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/caioferrari/zapbridge/internal/log"
	"github.com/caioferrari/zapbridge/internal/metrics"
	"github.com/caioferrari/zapbridge/internal/session"
)

// ErrNotConnected is returned when a send is attempted while the connection
// is not open. Transport failures after the precondition passed are wrapped
// separately and never match this sentinel.
var ErrNotConnected = errors.New("not connected to WhatsApp")

// SenderProvider yields the active session sender while the connection is
// open. Implemented by Supervisor.
type SenderProvider interface {
	Sender() (session.Sender, bool)
}

// Dispatcher is the single funnel for outbound sends. It performs no retry;
// queue-sourced sends are retried by the outbox drainer, HTTP-sourced sends
// surface the error to the caller.
type Dispatcher struct {
	provider    SenderProvider
	countryCode string
	log         zerolog.Logger
}

// NewDispatcher creates a Dispatcher. countryCode is prepended to bare
// national numbers during recipient normalization.
func NewDispatcher(provider SenderProvider, countryCode string) *Dispatcher {
	return &Dispatcher{
		provider:    provider,
		countryCode: countryCode,
		log:         log.WithComponent("dispatch"),
	}
}

// Send normalizes the recipient and forwards one text message through the
// active session. The connectivity check and the network call are not
// atomic: a concurrent disconnect can still fail the send with a transport
// error after the check passed.
func (d *Dispatcher) Send(ctx context.Context, to, body string) (string, error) {
	sender, ok := d.provider.Sender()
	if !ok {
		metrics.RecordSend("not_connected")
		return "", ErrNotConnected
	}

	recipient := NormalizeRecipient(to, d.countryCode)
	messageID, err := sender.Send(ctx, recipient, body)
	if err != nil {
		metrics.RecordSend("transport_error")
		return "", fmt.Errorf("send to %s: %w", maskRecipient(recipient), err)
	}

	metrics.RecordSend("success")
	d.log.Info().
		Str(log.FieldEvent, "dispatch.sent").
		Str(log.FieldRecipient, maskRecipient(recipient)).
		Str(log.FieldMessageID, messageID).
		Msg("message sent")
	return messageID, nil
}

// NormalizeRecipient converts a raw phone number into a WhatsApp JID.
// Inputs that already carry a JID domain pass through unchanged; everything
// else is reduced to digits, given the default country code when missing,
// and suffixed with the user domain.
func NormalizeRecipient(to, countryCode string) string {
	if strings.Contains(to, "@") {
		return to
	}
	var digits strings.Builder
	for _, r := range to {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	number := digits.String()
	if countryCode != "" && !strings.HasPrefix(number, countryCode) {
		number = countryCode + number
	}
	return number + "@s.whatsapp.net"
}

// maskRecipient keeps logs free of full phone numbers.
func maskRecipient(jid string) string {
	number, domain, found := strings.Cut(jid, "@")
	if !found {
		number = jid
	}
	if len(number) > 6 {
		number = number[:4] + strings.Repeat("*", len(number)-6) + number[len(number)-2:]
	}
	if found {
		return number + "@" + domain
	}
	return number
}
