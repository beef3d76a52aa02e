package admin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/andresmejia3/sentinel-watch/internal/triage"
)

// Client calls a running daemon's admin server.
type Client struct {
	base string
	http *http.Client
}

// NewClient accepts a bare host:port (as in the config) or a full URL.
func NewClient(bind string) *Client {
	base := bind
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 10 * time.Second}}
}

// Status fetches the daemon's triage summary.
func (c *Client) Status(ctx context.Context) (triage.Summary, error) {
	var sum triage.Summary
	err := c.do(ctx, http.MethodGet, "/status", nil, &sum)
	return sum, err
}

// SetDetection enables or disables the sensing loop.
func (c *Client) SetDetection(ctx context.Context, enabled bool) (triage.Summary, error) {
	var sum triage.Summary
	err := c.do(ctx, http.MethodPut, "/detection", DetectionRequest{Enabled: &enabled}, &sum)
	return sum, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is the watch daemon running? %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var e errorResponse
		_ = json.NewDecoder(res.Body).Decode(&e)
		return fmt.Errorf("%s %s: HTTP %d %s", method, path, res.StatusCode, e.Error)
	}
	return json.NewDecoder(res.Body).Decode(out)
}
