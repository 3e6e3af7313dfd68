// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/caioferrari/zapbridge/internal/bridge"
	"github.com/caioferrari/zapbridge/internal/log"
)

// qrStatusResponse mirrors the pairing status polled by the QR page.
type qrStatusResponse struct {
	HasQR       bool   `json:"hasQR"`
	IsConnected bool   `json:"isConnected"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
	Timestamp   string `json:"timestamp"`
	Status      string `json:"status"`
}

type sendMessageRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type sendMessageResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	To        string `json:"to"`
	Timestamp string `json:"timestamp"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	Uptime    int64  `json:"uptime"` // whole seconds since process start
	Timestamp string `json:"timestamp"`
}

// handleQRStatus reports the pairing lifecycle. The status field is the
// page's state machine input: generating_qr before a code exists,
// waiting_for_scan while one is live, connected once the session is open.
func (s *Server) handleQRStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()

	resp := qrStatusResponse{
		HasQR:       st.PairingCode != "",
		IsConnected: st.IsOpen(),
		PairingCode: st.PairingCode,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}

	switch {
	case st.IsOpen():
		resp.Status = "connected"
		resp.PhoneNumber = st.PhoneNumber
	case st.PairingCode != "":
		resp.Status = "waiting_for_scan"
	default:
		resp.Status = "generating_qr"
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSendMessage accepts an outbound text and hands it to the dispatcher.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	var req sendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeSendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.To = strings.TrimSpace(req.To)
	if req.To == "" || req.Message == "" {
		writeSendError(w, http.StatusBadRequest, "both 'to' and 'message' are required")
		return
	}

	messageID, err := s.sender.Send(r.Context(), req.To, req.Message)
	if err != nil {
		if errors.Is(err, bridge.ErrNotConnected) {
			writeSendError(w, http.StatusServiceUnavailable, "not connected to WhatsApp")
			return
		}
		logger.Error().
			Err(err).
			Str("event", "api.send_failed").
			Str(log.FieldRequestID, log.RequestIDFromContext(r.Context())).
			Msg("send failed")
		writeSendError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	writeJSON(w, http.StatusOK, sendMessageResponse{
		Success:   true,
		MessageID: messageID,
		To:        req.To,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleHealth is the liveness probe. It always answers 200; the connected
// flag is informational so dashboards can read it without a second call.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Connected: s.status.Status().IsOpen(),
		Uptime:    int64(time.Since(s.startedAt).Seconds()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
