// Package analytics records the lifecycle events of one tour session and
// delivers them to a collector in batches.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"docent/internal/core"
	collectorhttp "docent/internal/http"
)

const (
	DefaultBatchSize     = 5
	DefaultFlushInterval = 15 * time.Second

	// asyncFlushTimeout bounds flushes the recorder starts on its own.
	asyncFlushTimeout = 10 * time.Second
)

// Sender delivers payloads to the collector. *collectorhttp.Client
// implements it.
type Sender interface {
	Send(ctx context.Context, payload any) (collectorhttp.Receipt, error)
	Beacon(payload any) <-chan error
}

// Config configures a Recorder.
type Config struct {
	// Endpoint is the collector URL. It is used to build the default
	// transport when Transport is nil. With neither set the recorder only
	// keeps history.
	Endpoint string
	// BatchSize is the pending count that triggers an asynchronous flush.
	BatchSize int
	// FlushInterval paces background flushes. Negative disables them.
	FlushInterval time.Duration
	Referrer      string

	Transport Sender
	Clock     core.Clock
	Logger    *slog.Logger
}

// Payload is the body posted to the collector.
type Payload struct {
	SessionID string       `json:"sessionId"`
	Events    []core.Event `json:"events"`
	Metadata  Metadata     `json:"metadata"`
}

type Metadata struct {
	Referrer          string `json:"referrer,omitempty"`
	Duration          int64  `json:"duration"` // milliseconds since the session started
	Completed         bool   `json:"completed"`
	InteractionPoints int    `json:"interactionPoints"`
}

// Recorder buffers events for one session. It implements core.Tracker and
// core.Flusher; all methods are safe for concurrent use.
type Recorder struct {
	sessionID string
	startTime time.Time
	batchSize int
	referrer  string
	transport Sender
	clock     core.Clock
	log       *slog.Logger

	mu                sync.Mutex
	history           []core.Event
	pending           []core.Event
	completed         bool
	interactionPoints int
	closed            bool
	waiters           int // asynchronous flushes are refused while Wait runs

	flights singleflight.Group
	async   sync.WaitGroup

	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewRecorder starts a session with a fresh id and, when a transport is
// configured, the periodic flush loop.
func NewRecorder(cfg Config) *Recorder {
	r := &Recorder{
		sessionID: uuid.NewString(),
		batchSize: cfg.BatchSize,
		referrer:  cfg.Referrer,
		transport: cfg.Transport,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	if r.batchSize <= 0 {
		r.batchSize = DefaultBatchSize
	}
	if r.clock == nil {
		r.clock = core.RealClock{}
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.transport == nil && cfg.Endpoint != "" {
		r.transport = collectorhttp.NewClient(collectorhttp.ClientConfig{Endpoint: cfg.Endpoint})
	}
	r.startTime = r.clock.Now()
	r.log = r.log.With(slog.String("session", r.sessionID))

	interval := cfg.FlushInterval
	if interval == 0 {
		interval = DefaultFlushInterval
	}
	if r.transport != nil && interval > 0 {
		go r.flushLoop(interval)
	} else {
		close(r.stopped)
	}
	return r
}

func (r *Recorder) SessionID() string {
	return r.sessionID
}

// Track stamps e with the session id and the current time and appends it to
// the history and the pending buffer. Reaching the batch size starts an
// asynchronous flush.
func (r *Recorder) Track(e core.Event) {
	e.SessionID = r.sessionID
	e.Timestamp = r.clock.Now()

	r.mu.Lock()
	r.history = append(r.history, e)
	switch e.Type {
	case core.EventComplete:
		r.completed = true
	case core.EventUserInteraction:
		r.interactionPoints++
	}
	if r.transport == nil || r.closed {
		r.mu.Unlock()
		return
	}
	r.pending = append(r.pending, e)
	flush := len(r.pending) >= r.batchSize && r.reserveFlushLocked()
	r.mu.Unlock()

	if flush {
		r.flushAsync()
	}
}

// Events returns a copy of every event tracked so far.
func (r *Recorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Event, len(r.history))
	copy(out, r.history)
	return out
}

// Pending returns the number of events not yet accepted by the collector.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush sends the pending events. Overlapping calls share one request. On
// failure the events stay pending for a later flush; on success only the
// events the collector accepted are removed.
func (r *Recorder) Flush(ctx context.Context) error {
	if r.transport == nil {
		return nil
	}
	_, err, _ := r.flights.Do("flush", func() (any, error) {
		return nil, r.send(ctx)
	})
	return err
}

func (r *Recorder) send(ctx context.Context) error {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return nil
	}
	payload := r.payloadLocked()
	r.mu.Unlock()

	sent := len(payload.Events)
	receipt, err := r.transport.Send(ctx, payload)
	if err != nil {
		r.log.Warn("analytics_flush_failed",
			slog.Int("pending", sent),
			slog.Any("error", err),
		)
		return err
	}

	accepted := receipt.AcceptedOf(sent)
	r.mu.Lock()
	// Only flushes remove from pending and flushes never overlap, so the
	// sent events are still the head of the buffer.
	r.pending = append([]core.Event(nil), r.pending[accepted:]...)
	remaining := len(r.pending)
	r.mu.Unlock()

	if accepted < sent {
		r.log.Warn("analytics_partial_accept",
			slog.Int("sent", sent),
			slog.Int("accepted", accepted),
		)
	}
	r.log.Debug("analytics_flushed",
		slog.Int("accepted", accepted),
		slog.Int("pending", remaining),
	)
	return nil
}

// reserveFlushLocked counts an asynchronous flush in before it starts. It
// refuses while a Wait is in progress; the events stay pending for the next
// trigger.
func (r *Recorder) reserveFlushLocked() bool {
	if r.waiters > 0 {
		return false
	}
	r.async.Add(1)
	return true
}

// flushAsync runs a flush reserved by reserveFlushLocked.
func (r *Recorder) flushAsync() {
	go func() {
		defer r.async.Done()
		ctx, cancel := context.WithTimeout(context.Background(), asyncFlushTimeout)
		defer cancel()
		_ = r.Flush(ctx) // failures are logged by send
	}()
}

func (r *Recorder) flushLoop(interval time.Duration) {
	defer close(r.stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			flush := r.reserveFlushLocked()
			r.mu.Unlock()
			if flush {
				r.flushAsync()
			}
		}
	}
}

// Wait blocks until every flush the recorder started on its own has
// finished. No new one starts while it waits.
func (r *Recorder) Wait() {
	r.mu.Lock()
	r.waiters++
	r.mu.Unlock()

	r.async.Wait()

	r.mu.Lock()
	r.waiters--
	r.mu.Unlock()
}

// Close ends the session: the flush loop stops and whatever is still pending
// goes out as a detached best-effort beacon. Close does not wait for the
// beacon and does not touch the pending buffer; the returned channel reports
// the beacon's outcome to callers that want it. Calls after the first return
// a closed channel.
func (r *Recorder) Close() <-chan error {
	done := make(chan error, 1)
	first := false
	r.closeOnce.Do(func() {
		first = true
		close(r.stop)
	})
	<-r.stopped

	r.mu.Lock()
	if !first || r.transport == nil || len(r.pending) == 0 {
		r.closed = true
		r.mu.Unlock()
		close(done)
		return done
	}
	r.closed = true
	payload := r.payloadLocked()
	r.mu.Unlock()

	r.log.Debug("analytics_beacon", slog.Int("pending", len(payload.Events)))
	return r.transport.Beacon(payload)
}

func (r *Recorder) payloadLocked() Payload {
	events := make([]core.Event, len(r.pending))
	copy(events, r.pending)
	return Payload{
		SessionID: r.sessionID,
		Events:    events,
		Metadata: Metadata{
			Referrer:          r.referrer,
			Duration:          r.clock.Since(r.startTime).Milliseconds(),
			Completed:         r.completed,
			InteractionPoints: r.interactionPoints,
		},
	}
}
