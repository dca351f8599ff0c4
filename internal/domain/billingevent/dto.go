// internal/domain/billingevent/dto.go
package billingevent

import "time"

type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeIgnored     Outcome = "ignored"
	OutcomeUnresolved  Outcome = "unresolved"
	OutcomeStale       Outcome = "stale"
	OutcomeProvisioned Outcome = "provisioned"
)

// Acknowledgment is what the dispatcher reports back to the endpoint.
type Acknowledgment struct {
	EventID   string  `json:"event_id"`
	Outcome   Outcome `json:"outcome"`
	AccountID string  `json:"account_id,omitempty"`
}

// Skipped reports whether the event was de-duplicated.
func (a Acknowledgment) Skipped() bool {
	return a.Outcome == OutcomeDuplicate
}

type WebhookResponse struct {
	Received bool   `json:"received"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

type LivenessResponse struct {
	Status                  string    `json:"status"`
	WebhookSecretConfigured bool      `json:"webhook_secret_configured"`
	Timestamp               time.Time `json:"timestamp"`
}

type DeadLetterListFilters struct {
	Limit int64 `form:"limit" binding:"omitempty,min=1,max=500"`
}

type DeadLetterListResponse struct {
	DeadLetters []DeadLetter `json:"dead_letters"`
	Total       int          `json:"total"`
}
