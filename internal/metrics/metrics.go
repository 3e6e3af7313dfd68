// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus metrics for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zapbridge_connection_state",
		Help: "Current connection state (0=closed, 1=connecting, 2=open)",
	})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zapbridge_reconnects_total",
		Help: "Total number of reconnect attempts after a recoverable close",
	})

	sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zapbridge_sends_total",
		Help: "Outbound send attempts by outcome",
	}, []string{"outcome"}) // outcome=success|not_connected|transport_error

	queueDrainsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zapbridge_queue_drains_total",
		Help: "Pending-queue drain attempts by outcome",
	}, []string{"outcome"}) // outcome=sent|empty|failed|malformed

	inboundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zapbridge_inbound_messages_total",
		Help: "Inbound protocol messages by disposition",
	}, []string{"disposition"}) // disposition=relayed|self|not_notify|no_text

	webhookForwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zapbridge_webhook_forwards_total",
		Help: "Webhook forward attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	credentialWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zapbridge_credential_writes_total",
		Help: "Total number of credential deltas persisted",
	})
)

// SetConnectionState records the supervisor's current state.
func SetConnectionState(state float64) { connectionState.Set(state) }

// RecordReconnect counts one scheduled reconnect attempt.
func RecordReconnect() { reconnectsTotal.Inc() }

// RecordSend counts one outbound send attempt by outcome.
func RecordSend(outcome string) { sendsTotal.WithLabelValues(outcome).Inc() }

// RecordQueueDrain counts one drain tick result.
func RecordQueueDrain(outcome string) { queueDrainsTotal.WithLabelValues(outcome).Inc() }

// RecordInbound counts one inbound message disposition.
func RecordInbound(disposition string) { inboundTotal.WithLabelValues(disposition).Inc() }

// RecordWebhookForward counts one webhook forward attempt.
func RecordWebhookForward(outcome string) { webhookForwardsTotal.WithLabelValues(outcome).Inc() }

// RecordCredentialWrite counts one persisted credential delta.
func RecordCredentialWrite() { credentialWritesTotal.Inc() }
