// Package http delivers analytics batches to the collector endpoint.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultBeaconTimeout = 3 * time.Second

	// maxReceiptSize limits how much of the collector response is read.
	maxReceiptSize = 64 * 1024
)

// ErrCollectorStatus is returned (wrapped with the status) when the collector
// answers with a non-2xx code.
var ErrCollectorStatus = errors.New("collector rejected batch")

// Receipt describes a successful delivery.
type Receipt struct {
	StatusCode int
	// Accepted is the number of events the collector reported keeping, or -1
	// when the response carried no count.
	Accepted int
}

// AcceptedOf returns how many of the sent events count as delivered. A
// response without a count accepts the whole batch.
func (r Receipt) AcceptedOf(sent int) int {
	if r.Accepted < 0 {
		return sent
	}
	return min(r.Accepted, sent)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Endpoint      string
	HTTPClient    *http.Client
	BeaconTimeout time.Duration
	Debug         *DebugLogger
}

// Client posts JSON batches to one collector endpoint.
type Client struct {
	endpoint      string
	client        *http.Client
	beaconTimeout time.Duration
	debug         *DebugLogger
}

func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		endpoint:      cfg.Endpoint,
		client:        cfg.HTTPClient,
		beaconTimeout: cfg.BeaconTimeout,
		debug:         cfg.Debug,
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: DefaultTimeout}
	}
	if c.beaconTimeout <= 0 {
		c.beaconTimeout = DefaultBeaconTimeout
	}
	return c
}

// Send posts payload as JSON and waits for the collector's answer.
func (c *Client) Send(ctx context.Context, payload any) (Receipt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("encoding batch: %w", err)
	}
	return c.post(ctx, "send", body)
}

// Beacon posts payload in the background, detached from any caller context,
// so delivery can outlive the caller. The returned channel yields the outcome
// once and may be ignored.
func (c *Client) Beacon(payload any) <-chan error {
	done := make(chan error, 1)
	body, err := json.Marshal(payload)
	if err != nil {
		done <- fmt.Errorf("encoding beacon: %w", err)
		return done
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.beaconTimeout)
		defer cancel()
		_, err := c.post(ctx, "beacon", body)
		done <- err
	}()
	return done
}

func (c *Client) post(ctx context.Context, label string, body []byte) (Receipt, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.debug.LogRequest(label, req)

	resp, err := c.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.debug.LogError(label, err, duration)
		return Receipt{}, fmt.Errorf("posting to collector: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxReceiptSize))
	_, _ = io.Copy(io.Discard, resp.Body) // drain errors are ignorable
	c.debug.LogResponse(label, resp, respBody, duration)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Receipt{StatusCode: resp.StatusCode}, fmt.Errorf("%w: %s", ErrCollectorStatus, resp.Status)
	}
	return parseReceipt(resp.StatusCode, respBody), nil
}

func parseReceipt(status int, body []byte) Receipt {
	r := Receipt{StatusCode: status, Accepted: -1}
	if !gjson.ValidBytes(body) {
		return r
	}
	if n := gjson.GetBytes(body, "accepted"); n.Type == gjson.Number {
		r.Accepted = max(int(n.Int()), 0)
	}
	return r
}
