package domain

// UpdateItem is a read-only view of one installable unit exposed by the host
// supervisor. The orchestrator never mutates items; it reads a fresh snapshot
// before planning and polls it while a run is in flight.
type UpdateItem struct {
	ID               string       `json:"id"`
	DisplayName      string       `json:"display_name"`
	InstalledVersion string       `json:"installed_version"`
	LatestVersion    string       `json:"latest_version"`
	Pending          bool         `json:"pending"`
	InProgress       bool         `json:"in_progress"`
	Category         ItemCategory `json:"category"`
}
