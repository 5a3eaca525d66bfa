package model

// CategoryRef is the part of a Category the classifier sees.
type CategoryRef struct {
	ID          int
	Name        string
	Description string
}

// ClassificationResult is produced per message and folded into Email.
type ClassificationResult struct {
	CategoryID *int    `json:"category_id"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`
	Fallback   bool    `json:"-"`
}

// SyncResult reports a sync run.
type SyncResult struct {
	Processed    int           `json:"processed"`
	Errors       int           `json:"errors"`
	Skipped      int           `json:"skipped"`
	TotalFound   int           `json:"totalFound"`
	ErrorDetails []ErrorDetail `json:"errorDetails"`
}

// ErrorDetail records one failed message.
type ErrorDetail struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}
