// Package forwarder implements the HTTPS client that posts events,
// health snapshots, and configuration pulls to the remote collector
// described in §4.4 and §6. It never retries internally — that is the
// queue/drainer's responsibility — and reports every call's outcome to
// a connectivity observer.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/D0cNet/SiemCore/internal/config"
	"github.com/D0cNet/SiemCore/internal/event"
	"github.com/D0cNet/SiemCore/internal/health"
)

const (
	requestTimeout            = 30 * time.Second
	compressionThresholdBytes = 4096
)

// Observer is notified of every call's outcome so the connectivity
// supervisor can drive its state machine without the forwarder knowing
// about it directly.
type Observer interface {
	ObserveSuccess()
	ObserveFailure()
}

// Client is safe to call concurrently from any goroutine, as required by
// §4.4.
type Client struct {
	baseURL      string
	apiKey       string
	agentID      string
	agentVersion string
	httpClient   *http.Client
	observer     Observer
	encoder      *zstd.Encoder
}

// New builds a Client bound to baseURL with the given bearer token and
// agent identity headers.
func New(baseURL, apiKey, agentID, agentVersion string, observer Observer) (*Client, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("forwarder: new zstd encoder: %w", err)
	}
	return &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		agentID:      agentID,
		agentVersion: agentVersion,
		httpClient:   &http.Client{Timeout: requestTimeout},
		observer:     observer,
		encoder:      encoder,
	}, nil
}

// ForwardOne posts a single event. Success increments forwarded by one
// (caller's responsibility, via the returned nil error).
func (c *Client) ForwardOne(ctx context.Context, ev event.Event) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/api/siem/events", ev, nil)
	return err
}

// ForwardBatch posts a batch of events as a JSON array.
func (c *Client) ForwardBatch(ctx context.Context, events []event.Event) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/api/siem/events/batch", events, nil)
	return err
}

// SendHealth posts the agent's current health snapshot.
func (c *Client) SendHealth(ctx context.Context, snapshot health.Snapshot) error {
	path := fmt.Sprintf("/api/siem/agents/%s/health", c.agentID)
	_, err := c.doJSON(ctx, http.MethodPost, path, snapshot, nil)
	return err
}

// FetchConfig pulls the agent's configuration document. A 2xx response
// with an empty body returns nil with no error; any non-empty body,
// including an empty JSON object, is decoded and returned; a non-2xx
// response is returned as an error.
func (c *Client) FetchConfig(ctx context.Context) (*config.AgentConfig, error) {
	path := fmt.Sprintf("/api/siem/agents/%s/configuration", c.agentID)
	var cfg config.AgentConfig
	body, err := c.doJSON(ctx, http.MethodGet, path, nil, &cfg)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	return &cfg, nil
}

// Probe checks remote liveness, driving the connectivity supervisor.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
	return err
}

// doJSON performs one HTTPS round trip and reports the outcome to the
// observer. A non-2xx response and any transport-level failure are both
// reported as failure; either way the call returns a non-nil error.
func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) ([]byte, error) {
	var bodyReader io.Reader
	var contentEncoding string

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("forwarder: encode request: %w", err)
		}
		if len(encoded) > compressionThresholdBytes {
			encoded = c.encoder.EncodeAll(encoded, nil)
			contentEncoding = "zstd"
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("forwarder: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Agent-Id", c.agentID)
	req.Header.Set("X-Agent-Version", c.agentVersion)
	req.Header.Set("User-Agent", "SiemAgent/"+c.agentVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observer.ObserveFailure()
		return nil, fmt.Errorf("forwarder: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.observer.ObserveFailure()
		return nil, fmt.Errorf("forwarder: %s %s: status %d: %s", method, path, resp.StatusCode, string(body))
	}
	c.observer.ObserveSuccess()
	if readErr != nil {
		return nil, fmt.Errorf("forwarder: %s %s: read body: %w", method, path, readErr)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("forwarder: %s %s: decode response: %w", method, path, err)
		}
	}
	return body, nil
}

// IsPermanent classifies a transport error as permanent per §7 (401/403,
// 4xx except 408/429) versus transient, for logging purposes only — the
// retry policy itself does not branch on this classification.
func IsPermanent(statusCode int) bool {
	if statusCode == http.StatusRequestTimeout || statusCode == http.StatusTooManyRequests {
		return false
	}
	return statusCode >= 400 && statusCode < 500
}
