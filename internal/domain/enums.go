// Package domain defines the core domain models for the batch update orchestrator.
package domain

// ItemCategory classifies an update item for ordering purposes.
type ItemCategory string

const (
	CategoryNormal     ItemCategory = "normal"
	CategoryCore       ItemCategory = "core"
	CategoryOS         ItemCategory = "os"
	CategorySupervisor ItemCategory = "supervisor"
)

// Critical reports whether items of this category are deferred to the end of a plan.
func (c ItemCategory) Critical() bool {
	switch c {
	case CategoryCore, CategoryOS, CategorySupervisor:
		return true
	}
	return false
}

// RunStatus represents the status of a batch run.
type RunStatus string

const (
	RunStatusIdle     RunStatus = "idle"
	RunStatusRunning  RunStatus = "running"
	RunStatusFinished RunStatus = "finished"
)

// StopReason explains why a batch run stopped.
type StopReason string

const (
	StopReasonNone          StopReason = "none"
	StopReasonItemFailure   StopReason = "item_failure"
	StopReasonBackupFailure StopReason = "backup_failure"
)

// EventKind is the closed set of log entry kinds.
type EventKind string

const (
	EventKindStarted       EventKind = "started"
	EventKindSuccess       EventKind = "success"
	EventKindFailed        EventKind = "failed"
	EventKindBackupStarted EventKind = "backup_started"
	EventKindBackupFailed  EventKind = "backup_failed"
)

// FeedEventType represents the type of an event pushed to the UI feed.
type FeedEventType string

const (
	FeedEventRunAccepted   FeedEventType = "run_accepted"
	FeedEventBackupStarted FeedEventType = "backup_started"
	FeedEventBackupFailed  FeedEventType = "backup_failed"
	FeedEventItemStarted   FeedEventType = "item_started"
	FeedEventItemSucceeded FeedEventType = "item_succeeded"
	FeedEventItemFailed    FeedEventType = "item_failed"
	FeedEventRunFinished   FeedEventType = "run_finished"
)
