package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/debatearena/arena-gateway/internal/turn"
)

// DefaultTTL bounds how long a client may wait between init and opening the
// streaming connection.
const DefaultTTL = 5 * time.Minute

// Handle is returned to the init caller and must be echoed back verbatim on
// the streaming GET.
type Handle struct {
	SessionID string    `json:"session_id"`
	TaskID    string    `json:"task_id"`
	ModelKey  string    `json:"model_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

type record struct {
	taskID    string
	modelKey  string
	payload   turn.Request
	createdAt time.Time
	expiresAt time.Time
	consumed  bool
}

// Registry holds ephemeral single-use streaming sessions. It is the only
// piece of shared mutable state in the streaming core; create, consume and
// the lazy sweep all serialize on one mutex so a session can be consumed at
// most once regardless of concurrent callers.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*record
	ttl      time.Duration
	now      func() time.Time
}

// Option adjusts registry construction.
type Option func(*Registry)

// WithTTL overrides the default session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock injects a clock for deterministic expiry tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*record),
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores the payload under a fresh unguessable session id and returns
// the handle the client must present on the streaming GET.
func (r *Registry) Create(taskID, modelKey string, payload turn.Request) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweepLocked(now)

	id := uuid.NewString()
	rec := &record{
		taskID:    taskID,
		modelKey:  modelKey,
		payload:   payload,
		createdAt: now,
		expiresAt: now.Add(r.ttl),
	}
	r.sessions[id] = rec

	return Handle{
		SessionID: id,
		TaskID:    taskID,
		ModelKey:  modelKey,
		ExpiresAt: rec.expiresAt,
	}
}

// Consume atomically looks up and invalidates a session. It returns false
// when the id is unknown, the (taskID, modelKey) pair does not match what
// the session was created with, the session already got consumed, or it has
// expired. A successful consume removes the record, so replaying the same
// GET can never reach the provider twice.
func (r *Registry) Consume(sessionID, taskID, modelKey string) (turn.Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweepLocked(now)

	rec, ok := r.sessions[sessionID]
	if !ok || rec.consumed {
		return turn.Request{}, false
	}
	if rec.taskID != taskID || rec.modelKey != modelKey {
		return turn.Request{}, false
	}
	if now.After(rec.expiresAt) {
		delete(r.sessions, sessionID)
		return turn.Request{}, false
	}
	rec.consumed = true
	delete(r.sessions, sessionID)
	return rec.payload, true
}

// Len reports how many live sessions are held. Intended for metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// sweepLocked drops every expired record; caller holds the mutex. Sweeping
// opportunistically on each create/consume bounds memory without a timer
// goroutine.
func (r *Registry) sweepLocked(now time.Time) {
	for id, rec := range r.sessions {
		if now.After(rec.expiresAt) {
			delete(r.sessions, id)
		}
	}
}
