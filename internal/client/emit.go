package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tungdtfgw/ccviz/pkg/types"
)

// Emitter posts hook events to a relay, the way the hook scripts do.
type Emitter struct {
	endpoint string
	http     *http.Client
}

// NewEmitter targets serverURL's /api/events. A short timeout keeps a hook
// from stalling the agent when no relay is running.
func NewEmitter(serverURL string, timeout time.Duration) (*Emitter, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/events"
	return &Emitter{endpoint: u.String(), http: &http.Client{Timeout: timeout}}, nil
}

func (e *Emitter) Endpoint() string { return e.endpoint }

// Emit stamps ev when needed and posts it. Any non-200 answer is an error.
func (e *Emitter) Emit(ctx context.Context, ev types.BarEvent) error {
	if ev.Timestamp == 0 {
		ev.Timestamp = types.NowMillis()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", ev.Type, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: %s: %s", ev.Type, resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
