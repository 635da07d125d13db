package core

import (
	"strings"
	"sync"
)

// MockWriter is a thread-safe io.Writer for capturing log output in tests.
type MockWriter struct {
	mu   sync.Mutex
	data []byte
}

func (w *MockWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *MockWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.data)
}

// Contains reports whether the captured output contains substr.
func (w *MockWriter) Contains(substr string) bool {
	return strings.Contains(w.String(), substr)
}
