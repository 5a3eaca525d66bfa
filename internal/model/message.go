package model

// Header is a single message header.
type Header struct {
	Name  string
	Value string
}

// Part is a node of the MIME tree. Data is base64url encoded as delivered by the provider.
type Part struct {
	MimeType string
	Headers  []Header
	Data     string
	Parts    []Part
}

// Envelope is a provider message as fetched: headers plus a single inline body
// (Body) or a tree of parts.
type Envelope struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	InternalDate int64 // epoch millis
	Headers      []Header
	MimeType     string
	Body         string
	Parts        []Part
}

// ExtractedContent is the normalized form of an Envelope.
type ExtractedContent struct {
	Subject         string
	Sender          string
	Recipients      []string
	Body            string
	HTMLBody        string
	CleanText       string
	ListUnsubscribe string
}
