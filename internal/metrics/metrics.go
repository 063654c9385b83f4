package metrics

import (
	"sync"
	"time"
)

// Collector tracks streaming activity for the /metrics endpoint.
// This implementation uses manual metric tracking without external
// dependencies, matching the gateway's zero-dependency exposition.
type Collector struct {
	mu sync.RWMutex

	// Stream lifecycle
	streamsStarted   map[string]int64 // by model key
	streamsCompleted map[string]int64
	streamsFailed    map[string]int64
	activeStreams    int64

	// Session registry
	sessionsCreated int64
	sessionsDenied  int64 // missing, expired, or replayed

	// Chunk volume
	chunksEmitted map[string]int64 // by kind (reasoning/content/json)

	// Token accounting
	totalPromptTokens     int64
	totalCompletionTokens int64
	tokensByModel         map[string]int64

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		streamsStarted:   make(map[string]int64),
		streamsCompleted: make(map[string]int64),
		streamsFailed:    make(map[string]int64),
		chunksEmitted:    make(map[string]int64),
		tokensByModel:    make(map[string]int64),
		startTime:        time.Now(),
	}
}

// StreamStarted records a stream opening for a model key.
func (c *Collector) StreamStarted(modelKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamsStarted[modelKey]++
	c.activeStreams++
}

// StreamCompleted records a stream reaching its complete event.
func (c *Collector) StreamCompleted(modelKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamsCompleted[modelKey]++
	c.activeStreams--
}

// StreamFailed records a stream ending in an error event or disconnect.
func (c *Collector) StreamFailed(modelKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamsFailed[modelKey]++
	c.activeStreams--
}

// SessionCreated records a successful init.
func (c *Collector) SessionCreated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionsCreated++
}

// SessionDenied records a consume miss (missing, expired, or replayed).
func (c *Collector) SessionDenied() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionsDenied++
}

// ChunkEmitted records one chunk event of the given kind.
func (c *Collector) ChunkEmitted(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunksEmitted[kind]++
}

// RecordTokenUsage records token usage for a completed turn.
func (c *Collector) RecordTokenUsage(model string, promptTokens, completionTokens int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalPromptTokens += promptTokens
	c.totalCompletionTokens += completionTokens
	if model != "" {
		c.tokensByModel[model] += promptTokens + completionTokens
	}
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime                int64
	StreamsStarted        map[string]int64
	StreamsCompleted      map[string]int64
	StreamsFailed         map[string]int64
	ActiveStreams         int64
	SessionsCreated       int64
	SessionsDenied        int64
	ChunksEmitted         map[string]int64
	TotalPromptTokens     int64
	TotalCompletionTokens int64
	TokensByModel         map[string]int64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Uptime:                int64(time.Since(c.startTime).Seconds()),
		StreamsStarted:        copyMap(c.streamsStarted),
		StreamsCompleted:      copyMap(c.streamsCompleted),
		StreamsFailed:         copyMap(c.streamsFailed),
		ActiveStreams:         c.activeStreams,
		SessionsCreated:       c.sessionsCreated,
		SessionsDenied:        c.sessionsDenied,
		ChunksEmitted:         copyMap(c.chunksEmitted),
		TotalPromptTokens:     c.totalPromptTokens,
		TotalCompletionTokens: c.totalCompletionTokens,
		TokensByModel:         copyMap(c.tokensByModel),
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
