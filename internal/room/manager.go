// Package room groups connections into per-pair conversation rooms.
//
// Rooms are routing metadata only. They are never persisted and never
// consulted for authorization.
package room

import (
	"sync"

	"github.com/matheus3301/pigeon/internal/conn"
)

// Key returns the canonical room id for a pair of users: the two ids in
// sorted order joined with "-".
func Key(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "-" + b
}

// Manager manages room membership. A room exists while it has members.
type Manager struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]conn.Conn // room key -> conn id -> conn
	byConn map[string]map[string]struct{}  // conn id -> room keys
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		rooms:  make(map[string]map[string]conn.Conn),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join attaches c to the room of (self, other). joined is false when c was
// already a member.
func (m *Manager) Join(c conn.Conn, self, other string) (key string, joined bool) {
	key = Key(self, other)
	m.mu.Lock()
	defer m.mu.Unlock()

	members := m.rooms[key]
	if members == nil {
		members = make(map[string]conn.Conn)
		m.rooms[key] = members
	}
	if _, ok := members[c.ID()]; ok {
		return key, false
	}
	members[c.ID()] = c

	keys := m.byConn[c.ID()]
	if keys == nil {
		keys = make(map[string]struct{})
		m.byConn[c.ID()] = keys
	}
	keys[key] = struct{}{}
	return key, true
}

// Leave detaches c from the room of (self, other). Returns false if c was not a member.
func (m *Manager) Leave(c conn.Conn, self, other string) bool {
	key := Key(self, other)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(c.ID(), key)
}

// LeaveAll detaches c from every room it joined and returns how many.
func (m *Manager) LeaveAll(c conn.Conn) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.byConn[c.ID()] {
		if m.removeLocked(c.ID(), key) {
			n++
		}
	}
	return n
}

func (m *Manager) removeLocked(connID, key string) bool {
	members, ok := m.rooms[key]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(m.rooms, key)
	}
	if keys := m.byConn[connID]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(m.byConn, connID)
		}
	}
	return true
}

// Members returns the connections attached to the room key.
func (m *Manager) Members(key string) []conn.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.rooms[key]
	if len(members) == 0 {
		return nil
	}
	out := make([]conn.Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Rooms returns the number of non-empty rooms.
func (m *Manager) Rooms() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}
