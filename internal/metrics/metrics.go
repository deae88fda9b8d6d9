// Package metrics provides lightweight, lock-free counters for tracking
// the progress of a single qnc run.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one pipeline run.
type Collector struct {
	bytesIn     atomic.Int64
	bytesOut    atomic.Int64
	errorsTotal atomic.Int64
	handshakes  atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	stage        string
	stageStart   time.Time
	stageTimes   map[string]time.Duration
	stageOrder   []string
	lastError    time.Time
	lastErrorMsg string
	lastErrKind  string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	now := time.Now()
	return &Collector{
		startTime:  now,
		stageStart: now,
		stageTimes: make(map[string]time.Duration),
	}
}

// ── Stage metrics ────────────────────────────────────────────────────

// EnterStage closes the timer of the current stage and starts name.
func (c *Collector) EnterStage(name string) {
	if c == nil {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stage != "" {
		if _, seen := c.stageTimes[c.stage]; !seen {
			c.stageOrder = append(c.stageOrder, c.stage)
		}
		c.stageTimes[c.stage] += now.Sub(c.stageStart)
	}
	c.stage = name
	c.stageStart = now
}

// Stage returns the name of the current stage.
func (c *Collector) Stage() string {
	if c == nil {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stage
}

// StageDuration returns the total time spent in a finished stage.
func (c *Collector) StageDuration(name string) time.Duration {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stageTimes[name]
}

// HandshakeCompleted counts an established session.
func (c *Collector) HandshakeCompleted() {
	if c == nil {
		return
	}
	c.handshakes.Add(1)
}

// Handshakes returns the number of established sessions.
func (c *Collector) Handshakes() int64 {
	if c == nil {
		return 0
	}
	return c.handshakes.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the stream.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the stream.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the kind and
// message of the latest error.
func (c *Collector) RecordError(kind, msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.lastErrKind = kind
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// StageTiming is the time spent in one finished stage.
type StageTiming struct {
	Stage    string `json:"stage"`
	Duration string `json:"duration"`
}

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string        `json:"uptime"`
	Stage            string        `json:"stage,omitempty"`
	Stages           []StageTiming `json:"stages,omitempty"`
	Handshakes       int64         `json:"handshakes"`
	BytesIn          int64         `json:"bytes_in"`
	BytesOut         int64         `json:"bytes_out"`
	ErrorsTotal      int64         `json:"errors_total"`
	LastError        string        `json:"last_error,omitempty"`
	LastErrorKind    string        `json:"last_error_kind,omitempty"`
	LastErrorMessage string        `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:      time.Since(c.startTime).String(),
		Stage:       c.stage,
		Handshakes:  c.handshakes.Load(),
		BytesIn:     c.bytesIn.Load(),
		BytesOut:    c.bytesOut.Load(),
		ErrorsTotal: c.errorsTotal.Load(),
	}
	for _, name := range c.stageOrder {
		s.Stages = append(s.Stages, StageTiming{Stage: name, Duration: c.stageTimes[name].String()})
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorKind = c.lastErrKind
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
