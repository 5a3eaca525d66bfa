package model

// ActionType is the kind of browser step.
type ActionType string

const (
	ActionClick  ActionType = "click"
	ActionFill   ActionType = "fill"
	ActionSelect ActionType = "select"
	ActionWait   ActionType = "wait"
)

// UnsubscribeAction is one step the automation agent performs.
type UnsubscribeAction struct {
	Type     ActionType `json:"type"`
	Selector string     `json:"selector,omitempty"`
	Value    string     `json:"value,omitempty"`
}

// UnsubscribeInfo is what extraction found in a message.
type UnsubscribeInfo struct {
	URL   string `json:"url,omitempty"`
	Email string `json:"email,omitempty"`
	Found bool   `json:"found"`
}

// UnsubscribeResult is the agent's report.
type UnsubscribeResult struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	Steps       []string `json:"steps"`
	Screenshots []string `json:"screenshots"`
}

// BulkUnsubscribeResult is the per-email outcome of a bulk unsubscribe.
type BulkUnsubscribeResult struct {
	EmailID int                `json:"emailId"`
	Info    UnsubscribeInfo    `json:"info"`
	Result  *UnsubscribeResult `json:"result,omitempty"`
	Error   string             `json:"error,omitempty"`
}
