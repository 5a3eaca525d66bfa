package mq

import "time"

// Routing keys on the "events" topic exchange.
const (
	RoutingEmailIngested        = "email.ingested"
	RoutingSyncCompleted        = "sync.completed"
	RoutingUnsubscribeAttempted = "unsubscribe.attempted"
)

// EmailIngestedPayload is published after a message is stored and archived.
type EmailIngestedPayload struct {
	UserID     int       `json:"user_id"`
	EmailID    int       `json:"email_id"`
	GmailID    string    `json:"gmail_id"`
	CategoryID *int      `json:"category_id"`
	Confidence float64   `json:"confidence"`
	Fallback   bool      `json:"fallback"`
	IngestedAt time.Time `json:"ingested_at"`
}

// SyncCompletedPayload summarizes one sync run.
type SyncCompletedPayload struct {
	UserID    int           `json:"user_id"`
	Trigger   string        `json:"trigger"` // scheduler / manual
	Processed int           `json:"processed"`
	Errors    int           `json:"errors"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration_ns"`
}

type UnsubscribeAttemptedPayload struct {
	UserID  int    `json:"user_id"`
	EmailID int    `json:"email_id"`
	URL     string `json:"url,omitempty"`
	Email   string `json:"email,omitempty"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}
