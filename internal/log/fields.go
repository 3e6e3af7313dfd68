// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldMessageID = "message_id"

	// Event fields
	FieldEvent  = "event"
	FieldReason = "reason"

	// Connection state fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Delivery fields
	FieldRecipient = "recipient"
	FieldOutcome   = "outcome"
	FieldAttempt   = "attempt"

	// Path / URL fields
	FieldPath = "path"
	FieldURL  = "url"
)
