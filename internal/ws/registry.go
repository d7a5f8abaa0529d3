package ws

import (
	"encoding/json"
	"hash/fnv"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the registry writes through. Narrow
// so tests can swap in a recording fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

const registryShards = 16

// Registry is the concurrency-safe session-key -> connection map. Sharded so
// unrelated sessions never contend on one lock; each connection additionally
// carries its own write mutex because gorilla connections do not allow
// concurrent writers.
type Registry struct {
	shards [registryShards]registryShard
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[string]*channel
}

type channel struct {
	mu   sync.Mutex
	conn Conn
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].conns = make(map[string]*channel)
	}
	return r
}

func (r *Registry) shardFor(sessionID string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &r.shards[h.Sum32()%registryShards]
}

// Register adds the connection under its session key, replacing any previous
// registration for that key.
func (r *Registry) Register(sessionID string, conn Conn) {
	s := r.shardFor(sessionID)
	s.mu.Lock()
	s.conns[sessionID] = &channel{conn: conn}
	s.mu.Unlock()
}

// Deregister removes the session's channel. Safe to call for a key that was
// never registered.
func (r *Registry) Deregister(sessionID string) {
	s := r.shardFor(sessionID)
	s.mu.Lock()
	delete(s.conns, sessionID)
	s.mu.Unlock()
}

func (r *Registry) lookup(sessionID string) *channel {
	s := r.shardFor(sessionID)
	s.mu.RLock()
	ch := s.conns[sessionID]
	s.mu.RUnlock()
	return ch
}

// Send delivers one event to the session's channel. Sending to an
// unregistered key is a silent no-op: the client may already have left, and
// in-flight pipeline output for a gone session is simply discarded. A write
// failure on a live connection is returned to the caller.
func (r *Registry) Send(sessionID string, ev Event) error {
	ch := r.lookup(sessionID)
	if ch == nil {
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.conn.WriteMessage(websocket.TextMessage, data)
}

// CloseWithCode sends a close frame with the given status code and closes the
// underlying connection. No-op for unregistered keys.
func (r *Registry) CloseWithCode(sessionID string, code int, reason string) {
	ch := r.lookup(sessionID)
	if ch == nil {
		return
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	_ = ch.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = ch.conn.Close()
}
