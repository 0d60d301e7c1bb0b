// Package platform abstracts the host supervisor's update, backup and restart
// capabilities. The orchestrator only observes item state through snapshots;
// it never mutates items directly.
package platform

import (
	"context"
	"errors"

	"github.com/upbatch/orchestrator/internal/domain"
)

// ErrRestartNotSupported is returned by RestartHost in deployment modes
// without host-level control.
var ErrRestartNotSupported = errors.New("platform: host restart not supported")

// Platform defines the host capabilities the orchestrator depends on.
type Platform interface {
	// SnapshotItems returns a point-in-time view of all update items.
	SnapshotItems(ctx context.Context) ([]domain.UpdateItem, error)

	// Install kicks off installation of one item. Fire-and-forget: the
	// outcome is observed by polling SnapshotItems, not through the return
	// value, which only reports whether the kick itself was delivered.
	Install(ctx context.Context, itemID string) error

	// Backup performs a backup for the given scope and blocks until the
	// platform reports the result.
	Backup(ctx context.Context, scope string) error

	// RestartHost asks the platform to restart the host. Returns
	// ErrRestartNotSupported when SupportsHostRestart is false.
	RestartHost(ctx context.Context) error

	// SupportsHostRestart reports whether this deployment can restart the host.
	SupportsHostRestart() bool
}
