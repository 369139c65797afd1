package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vitrinehq/vitrine/pkg/api"
	"github.com/vitrinehq/vitrine/pkg/types"
)

const requestTimeout = 10 * time.Second

// Client wraps the Vitrine HTTP API for easy CLI usage
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
}

// NewClient creates a client for the daemon at addr. addr may be a bare
// host:port or a full http:// URL.
func NewClient(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	base = strings.TrimRight(base, "/")

	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: requestTimeout},
		// The stream client carries no timeout; /v1/events runs until
		// the caller cancels
		stream: &http.Client{},
	}
}

// Status returns the pool snapshot
func (c *Client) Status() (*types.PoolStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var status types.PoolStatus
	if err := c.do(ctx, http.MethodGet, "/v1/pool/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Devices returns the configured device inventory
func (c *Client) Devices() ([]*types.Device, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var response struct {
		Devices []*types.Device `json:"devices"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/devices", nil, &response); err != nil {
		return nil, err
	}
	return response.Devices, nil
}

// StartCast starts a cast. device may be empty to auto-assign an idle
// device in configuration order.
func (c *Client) StartCast(target, device string, skipHealthCheck bool) (*types.Cast, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req := api.StartCastRequest{
		Target:          target,
		Device:          device,
		SkipHealthCheck: skipHealthCheck,
	}

	var cast types.Cast
	if err := c.do(ctx, http.MethodPost, "/v1/casts", req, &cast); err != nil {
		return nil, err
	}
	return &cast, nil
}

// GetCast returns the active cast on a device
func (c *Client) GetCast(address string) (*types.Cast, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var cast types.Cast
	if err := c.do(ctx, http.MethodGet, "/v1/casts/"+address, nil, &cast); err != nil {
		return nil, err
	}
	return &cast, nil
}

// Release ends the cast on a device. The returned warning is non-empty
// when the cast ended but the device could not immediately re-pool; the
// daemon keeps recovering it in the background.
func (c *Client) Release(address string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var response struct {
		Status  string `json:"status"`
		Warning string `json:"warning"`
	}
	if err := c.do(ctx, http.MethodDelete, "/v1/casts/"+address, nil, &response); err != nil {
		return "", err
	}
	return response.Warning, nil
}

// RecordActivity reports content activity on a cast, resetting its
// inactivity clock
func (c *Client) RecordActivity(address string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	return c.do(ctx, http.MethodPost, "/v1/casts/"+address+"/activity", nil, nil)
}

// RecordError reports a content error on a cast and returns the running
// count
func (c *Client) RecordError(address string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var response api.CastErrorResponse
	if err := c.do(ctx, http.MethodPost, "/v1/casts/"+address+"/errors", nil, &response); err != nil {
		return 0, err
	}
	return response.ErrorCount, nil
}

// CastHistory returns finished casts, optionally filtered to one device
func (c *Client) CastHistory(device string) ([]*types.CastRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	path := "/v1/history/casts"
	if device != "" {
		path += "?device=" + device
	}

	var response struct {
		Casts []*types.CastRecord `json:"casts"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	return response.Casts, nil
}

// RecoveryHistory returns recovery runs, optionally filtered to one device
func (c *Client) RecoveryHistory(device string) ([]*types.RecoveryRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	path := "/v1/history/recoveries"
	if device != "" {
		path += "?device=" + device
	}

	var response struct {
		Recoveries []*types.RecoveryRecord `json:"recoveries"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	return response.Recoveries, nil
}

// WatchEvents streams pool events, calling fn for each one, until ctx is
// cancelled or the daemon closes the stream
func (c *Client) WatchEvents(ctx context.Context, fn func(types.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events", nil)
	if err != nil {
		return err
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var event types.Event
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		fn(event)
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("event stream failed: %w", err)
	}
	return nil
}

// do performs one JSON request. out may be nil when the response body
// does not matter.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// responseError turns a non-2xx response into an error, preferring the
// server's own message
func responseError(resp *http.Response) error {
	var e api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
		return errors.New(e.Error)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
