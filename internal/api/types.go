package api

// ProcessRequest is the body of POST /process.
type ProcessRequest struct {
	RequestID     string `json:"requestId,omitempty"`
	Filename      string `json:"filename"`
	SchemaVersion string `json:"schemaVersion"`
	Source        string `json:"source,omitempty"`
}

// ProcessResponse is returned for a processed submission.
type ProcessResponse struct {
	RequestID     string   `json:"requestId"`
	Filename      string   `json:"filename"`
	SchemaVersion string   `json:"schemaVersion"`
	Status        string   `json:"status"`
	FailedTargets []string `json:"failedTargets,omitempty"`
	ProcessedAt   string   `json:"processedAt"`
	Service       string   `json:"service"`
	Env           string   `json:"env"`
}

// EnqueueResponse is returned when a message is accepted onto the queue.
type EnqueueResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// HealthResponse is the verbose health payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env"`
	Ledger  string `json:"ledger"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
