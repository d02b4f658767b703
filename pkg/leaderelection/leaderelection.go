// Package leaderelection asks the elector sidecar which replica is the
// leader, so that work on shared state runs on one replica only.
package leaderelection

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
)

const EnvElectorPath = "ELECTOR_PATH"

type Elector struct {
	path     string
	hostname string
	client   *http.Client
	retries  int
	backoff  time.Duration
}

// IsLeader reports whether this replica is the elected leader. Without an
// elector path every replica is the leader, which is what local development
// and single replica deployments want.
func (e *Elector) IsLeader(ctx context.Context) (bool, error) {
	if e.path == "" {
		return true, nil
	}

	leader, err := e.leader(ctx)
	if err != nil {
		return false, err
	}

	return e.hostname == leader, nil
}

func (e *Elector) leader(ctx context.Context) (string, error) {
	resp, err := e.requestWithRetry(ctx)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("elector responded with status %d", resp.StatusCode)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading elector response: %w", err)
	}

	var electorResponse struct {
		Name string `json:"name"`
	}

	if err := json.Unmarshal(bodyBytes, &electorResponse); err != nil {
		return "", fmt.Errorf("decoding elector response: %w", err)
	}

	return electorResponse.Name, nil
}

func (e *Elector) requestWithRetry(ctx context.Context) (*http.Response, error) {
	var lastErr error

	for i := 1; i <= e.retries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+e.path, nil)
		if err != nil {
			return nil, fmt.Errorf("creating elector request: %w", err)
		}

		resp, err := e.client.Do(req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		select {
		case <-time.After(e.backoff * time.Duration(i)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("no response from elector after %d retries: %w", e.retries, lastErr)
}

// New returns an elector asking the sidecar at path, a host:port pair. An
// empty path makes this replica the leader.
func New(path string) (*Elector, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("getting hostname: %w", err)
	}

	return NewWithHostname(path, hostname), nil
}

func NewWithHostname(path, hostname string) *Elector {
	return &Elector{
		path:     path,
		hostname: hostname,
		client:   &http.Client{Timeout: 5 * time.Second},
		retries:  3,
		backoff:  time.Second,
	}
}

// NewFromEnv reads the elector path from ELECTOR_PATH.
func NewFromEnv() (*Elector, error) {
	return New(os.Getenv(EnvElectorPath))
}
