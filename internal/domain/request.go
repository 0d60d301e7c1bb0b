package domain

// RunAPIRequest is the control-surface payload to start a batch run.
type RunAPIRequest struct {
	Entities []string `json:"entities"`
	Backup   bool     `json:"backup"`
}

// RunAPIResponse acknowledges an accepted batch run.
type RunAPIResponse struct {
	RunID    string   `json:"run_id"`
	Plan     []string `json:"plan"`
	Accepted bool     `json:"accepted"`
}

// LogResponse wraps the journal entries returned to the UI.
type LogResponse struct {
	Entries []LogEntry `json:"entries"`
}

// OKResponse is the generic acknowledgement envelope.
type OKResponse struct {
	OK bool `json:"ok"`
}

// UpdatesResponse lists the pending update items for the panel.
type UpdatesResponse struct {
	Updates []UpdateItem `json:"updates"`
}

// RunsResponse lists historical batch runs.
type RunsResponse struct {
	Runs []BatchRun `json:"runs"`
}

// APIError is the machine-readable error envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError.
type ErrorResponse struct {
	Error APIError `json:"error"`
}
