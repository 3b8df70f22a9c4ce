// Package telemetry records engine events (pool lifecycle, statement timing,
// transaction outcomes) for an opt-in sink. Disabled collectors drop events
// without allocation; nothing is ever sent anywhere unless the embedder
// installs a sink.
package telemetry

import (
	"sync"
	"time"
)

// Event is one engine occurrence.
type Event struct {
	Kind      string        // "pool_init", "pool_close", "execute", "tx_commit", "tx_rollback", "tx_reaped"
	Pool      string
	Dialect   string
	Duration  time.Duration
	ErrorKind string
	Timestamp time.Time
}

// Sink consumes recorded events.
type Sink func(Event)

var (
	mu      sync.RWMutex
	sink    Sink
	enabled bool
)

// Enable installs a sink and starts recording.
func Enable(s Sink) {
	mu.Lock()
	defer mu.Unlock()
	sink = s
	enabled = s != nil
}

// Disable stops recording and drops the sink.
func Disable() {
	mu.Lock()
	defer mu.Unlock()
	sink = nil
	enabled = false
}

// Enabled reports whether a sink is installed.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// Record delivers the event to the sink if one is installed. The timestamp is
// filled in when absent.
func Record(e Event) {
	mu.RLock()
	s := sink
	on := enabled
	mu.RUnlock()
	if !on {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s(e)
}
