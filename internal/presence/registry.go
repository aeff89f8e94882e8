// Package presence tracks which users hold a live connection right now.
package presence

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/pigeon/internal/conn"
	"github.com/matheus3301/pigeon/internal/protocol"
)

const shardCount = 64

// Entry is the registry record for one online user.
type Entry struct {
	Conn        conn.Conn
	Generation  uint64
	Typing      bool
	ConnectedAt time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// Registry maps user ids to their current connection. The most recent
// connection of a user wins routing; each registration gets a generation so
// a late unregister from a superseded connection is ignored.
//
// Keys are spread over shards so unrelated users never share a lock.
type Registry struct {
	shards [shardCount]*shard
	gen    atomic.Uint64
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{now: time.Now}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[string]*Entry)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// Register records c as the routing handle for its user, replacing any
// previous entry. It returns the new generation and the replaced connection
// (nil when the user was offline, or when c was already registered).
func (r *Registry) Register(c conn.Conn) (generation uint64, replaced conn.Conn) {
	s := r.shardFor(c.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.entries[c.UserID()]
	if prev != nil && prev.Conn.ID() == c.ID() {
		return prev.Generation, nil
	}
	gen := r.gen.Add(1)
	s.entries[c.UserID()] = &Entry{
		Conn:        c,
		Generation:  gen,
		ConnectedAt: r.now(),
	}
	if prev != nil {
		replaced = prev.Conn
	}
	return gen, replaced
}

// Unregister removes userID's entry only if it still carries generation.
// It reports whether the entry was removed.
func (r *Registry) Unregister(userID string, generation uint64) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok || e.Generation != generation {
		return false
	}
	delete(s.entries, userID)
	return true
}

// IsOnline reports whether userID currently holds a registered connection.
func (r *Registry) IsOnline(userID string) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[userID]
	return ok
}

// Lookup returns the current connection for userID.
func (r *Registry) Lookup(userID string) (conn.Conn, bool) {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[userID]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

// SetTyping updates the transient typing flag. No-op for offline users.
func (r *Registry) SetTyping(userID string, typing bool) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[userID]; ok {
		e.Typing = typing
	}
}

// Typing returns the transient typing flag of userID.
func (r *Registry) Typing(userID string) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[userID]
	return ok && e.Typing
}

// Snapshot returns every online user, ordered by username.
func (r *Registry) Snapshot() []protocol.OnlineUser {
	var out []protocol.OnlineUser
	for _, s := range r.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			out = append(out, protocol.OnlineUser{
				UserID:   e.Conn.UserID(),
				Username: e.Conn.Username(),
				IsOnline: true,
				IsTyping: e.Typing,
			})
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Conns returns the registered connections, one per online user.
func (r *Registry) Conns() []conn.Conn {
	var out []conn.Conn
	for _, s := range r.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			out = append(out, e.Conn)
		}
		s.mu.RUnlock()
	}
	return out
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
