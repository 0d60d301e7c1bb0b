package domain

import "time"

// RunRequest is an operator's request to start a batch run.
type RunRequest struct {
	SelectedIDs      []string `json:"selected_ids"`
	BackupBeforeEach bool     `json:"backup_before_each"`
}

// BatchRun is the state of one batch run. Exactly one exists process-wide at
// a time; the service guards all transitions with its run lock.
type BatchRun struct {
	RunID            string     `json:"run_id"`
	Status           RunStatus  `json:"status"`
	Plan             []string   `json:"plan"`
	CurrentIndex     int        `json:"current_index"`
	BackupBeforeEach bool       `json:"backup_before_each"`
	StoppedReason    StopReason `json:"stopped_reason"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

// LogEntry is one record in the append-only batch journal. Reason is set only
// for the failed kinds; Detail is free text for the operator.
type LogEntry struct {
	Seq         int64     `json:"seq"`
	Ts          time.Time `json:"ts"`
	RunID       string    `json:"run_id,omitempty"`
	ItemID      string    `json:"item_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Kind        EventKind `json:"kind"`
	Reason      string    `json:"reason,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// FeedEvent is one event pushed to connected UI panels.
type FeedEvent struct {
	Type        FeedEventType `json:"type"`
	Ts          int64         `json:"ts"`
	RunID       string        `json:"run_id"`
	ItemID      string        `json:"item_id,omitempty"`
	DisplayName string        `json:"display_name,omitempty"`
	Index       int           `json:"index,omitempty"`
	PlanSize    int           `json:"plan_size,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	StopReason  StopReason    `json:"stopped_reason,omitempty"`
}
