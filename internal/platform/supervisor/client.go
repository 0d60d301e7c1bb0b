// Package supervisor implements the platform interface against the host
// supervisor's REST API.
package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/upbatch/orchestrator/internal/domain"
	"github.com/upbatch/orchestrator/internal/platform"
)

// Client talks to the host supervisor.
type Client struct {
	baseURL     string
	token       string
	hostControl bool
	httpClient  *http.Client
}

// Ensure Client implements the platform interface.
var _ platform.Platform = (*Client)(nil)

// NewClient creates a new supervisor client. hostControl is false for
// deployment modes without host-level control, disabling RestartHost.
func NewClient(baseURL, token string, hostControl bool) *Client {
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		token:       token,
		hostControl: hostControl,
		// Per-call deadlines come from the caller's context; backups in
		// particular run far longer than any sane client-level timeout.
		httpClient: &http.Client{},
	}
}

type updatesEnvelope struct {
	Updates []domain.UpdateItem `json:"updates"`
}

type backupRequest struct {
	Scope string `json:"scope"`
}

// SnapshotItems returns a point-in-time view of all update items.
func (c *Client) SnapshotItems(ctx context.Context) ([]domain.UpdateItem, error) {
	var env updatesEnvelope
	if err := c.do(ctx, http.MethodGet, "/updates", nil, &env); err != nil {
		return nil, fmt.Errorf("failed to snapshot updates: %w", err)
	}
	return env.Updates, nil
}

// Install kicks off installation of one item.
func (c *Client) Install(ctx context.Context, itemID string) error {
	path := "/updates/" + itemID + "/install"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("failed to start install of %s: %w", itemID, err)
	}
	return nil
}

// Backup performs a backup for the given scope, blocking until the supervisor
// reports the result.
func (c *Client) Backup(ctx context.Context, scope string) error {
	if err := c.do(ctx, http.MethodPost, "/backups", &backupRequest{Scope: scope}, nil); err != nil {
		return fmt.Errorf("backup of %s failed: %w", scope, err)
	}
	return nil
}

// RestartHost asks the supervisor to restart the host.
func (c *Client) RestartHost(ctx context.Context) error {
	if !c.hostControl {
		return platform.ErrRestartNotSupported
	}
	if err := c.do(ctx, http.MethodPost, "/host/restart", nil, nil); err != nil {
		return fmt.Errorf("failed to restart host: %w", err)
	}
	return nil
}

// SupportsHostRestart reports whether this deployment can restart the host.
func (c *Client) SupportsHostRestart() bool {
	return c.hostControl
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("supervisor returned %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
