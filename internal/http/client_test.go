package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type batch struct {
	SessionID string           `json:"sessionId"`
	Events    []map[string]any `json:"events"`
}

func TestClient_SendPostsJSON(t *testing.T) {
	var (
		mu          sync.Mutex
		gotMethod   string
		gotType     string
		gotSession  string
		gotEventLen int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b batch
		_ = json.NewDecoder(r.Body).Decode(&b)
		mu.Lock()
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		gotSession = b.SessionID
		gotEventLen = len(b.Events)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(ClientConfig{Endpoint: server.URL})
	receipt, err := c.Send(context.Background(), batch{
		SessionID: "s-1",
		Events:    []map[string]any{{"type": "start"}, {"type": "exit"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotType != "application/json" {
		t.Errorf("expected JSON content type, got %q", gotType)
	}
	if gotSession != "s-1" || gotEventLen != 2 {
		t.Errorf("unexpected batch: session=%q events=%d", gotSession, gotEventLen)
	}
	if receipt.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", receipt.StatusCode)
	}
	if receipt.AcceptedOf(2) != 2 {
		t.Errorf("a receipt without a count accepts everything, got %d", receipt.AcceptedOf(2))
	}
}

func TestClient_SendNon2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(ClientConfig{Endpoint: server.URL})
	receipt, err := c.Send(context.Background(), map[string]string{})

	if !errors.Is(err, ErrCollectorStatus) {
		t.Fatalf("expected ErrCollectorStatus, got %v", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("expected status in error, got %v", err)
	}
	if receipt.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 in receipt, got %d", receipt.StatusCode)
	}
}

func TestClient_SendConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewClient(ClientConfig{Endpoint: url})
	if _, err := c.Send(context.Background(), map[string]string{}); err == nil {
		t.Fatal("expected error for closed server")
	}
}

func TestClient_SendHonoursContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewClient(ClientConfig{Endpoint: server.URL})
	_, err := c.Send(ctx, map[string]string{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClient_SendUnencodablePayload(t *testing.T) {
	c := NewClient(ClientConfig{Endpoint: "http://localhost:1"})
	if _, err := c.Send(context.Background(), make(chan int)); err == nil {
		t.Fatal("expected encoding error")
	}
}

func TestParseReceipt(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		sent     int
		expected int
	}{
		{"empty body", "", 5, 5},
		{"plain text", "ok", 5, 5},
		{"no accepted field", `{"status":"ok"}`, 5, 5},
		{"partial", `{"accepted":3}`, 5, 3},
		{"zero", `{"accepted":0}`, 5, 0},
		{"more than sent", `{"accepted":9}`, 5, 5},
		{"negative", `{"accepted":-2}`, 5, 0},
		{"string count ignored", `{"accepted":"3"}`, 5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := parseReceipt(200, []byte(tt.body))
			if got := r.AcceptedOf(tt.sent); got != tt.expected {
				t.Errorf("AcceptedOf(%d) = %d, expected %d", tt.sent, got, tt.expected)
			}
		})
	}
}

func TestClient_Beacon(t *testing.T) {
	received := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- body
	}))
	defer server.Close()

	c := NewClient(ClientConfig{Endpoint: server.URL})
	done := c.Beacon(map[string]string{"sessionId": "late"})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected beacon error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("beacon did not complete")
	}
	if body := <-received; !bytes.Contains(body, []byte(`"late"`)) {
		t.Errorf("unexpected beacon body: %s", body)
	}
}

func TestClient_BeaconTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := NewClient(ClientConfig{Endpoint: server.URL, BeaconTimeout: 20 * time.Millisecond})
	select {
	case err := <-c.Beacon(map[string]string{}):
		if err == nil {
			t.Fatal("expected timeout error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("beacon was not bounded by its timeout")
	}
}

func TestClient_DebugOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accepted":1}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(ClientConfig{Endpoint: server.URL, Debug: NewDebugLogger(&buf)})
	receipt, err := c.Send(context.Background(), map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Accepted != 1 {
		t.Errorf("expected accepted=1, got %d", receipt.Accepted)
	}

	output := buf.String()
	if !strings.Contains(output, ">>> POST") || !strings.Contains(output, "<<< 200") {
		t.Errorf("expected request and response in debug output, got: %s", output)
	}
}
