package model

import "time"

// Email is a stored, classified copy of a provider message.
// (UserID, GmailID) is unique.
type Email struct {
	ID         int      `json:"id"`
	UserID     int      `json:"user_id"`
	CategoryID *int     `json:"category_id"`
	GmailID    string   `json:"gmail_id"`
	ThreadID   string   `json:"thread_id"`
	Subject    string   `json:"subject"`
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients"`
	Body       string   `json:"body"`
	HTMLBody   string   `json:"html_body"`
	CleanText  string   `json:"clean_text"`
	// ListUnsubscribe is the raw List-Unsubscribe header, if any.
	ListUnsubscribe string    `json:"list_unsubscribe,omitempty"`
	AISummary       string    `json:"ai_summary"`
	Confidence      float64   `json:"confidence"`
	IsRead          bool      `json:"is_read"`
	IsArchived      bool      `json:"is_archived"`
	ReceivedAt      time.Time `json:"received_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// EmailFilter narrows ListByUser.
type EmailFilter struct {
	CategoryID    *int
	Uncategorized bool
	Limit         int
	Offset        int
}

// CategoryCount is one row of per-category statistics. CategoryID is nil for uncategorized mail.
type CategoryCount struct {
	CategoryID *int   `json:"category_id"`
	Name       string `json:"name"`
	Color      string `json:"color"`
	Total      int    `json:"total"`
	Unread     int    `json:"unread"`
}
