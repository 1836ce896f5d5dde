// Package group implements named groups with creator-authoritative
// membership. Member lists converge last-writer-wins by TIMESTAMP within
// the creator origin; messages append in local receive order with no
// cross-peer ordering guarantee.
package group

import (
	"errors"
	"sort"
	"sync"

	"github.com/petervdpas/lsnp/internal/util"
)

// messageCap bounds the in-memory history kept per group.
const messageCap = 256

var (
	ErrUnknownGroup = errors.New("unknown group id")
	ErrNotCreator   = errors.New("update from non-creator")
	ErrStaleUpdate  = errors.New("stale update timestamp")
	ErrNotMember    = errors.New("sender is not a member")
)

// Message is one group chat entry as stored locally.
type Message struct {
	From      string
	Content   string
	Timestamp int64
}

type groupRecord struct {
	id        string
	name      string
	creator   string
	members   map[string]struct{}
	createdAt int64
	updatedAt int64 // highest creator TIMESTAMP applied so far
	messages  *util.RingBuffer[Message]
}

// Snapshot is a read-only copy of a group for display.
type Snapshot struct {
	ID        string
	Name      string
	Creator   string
	Members   []string
	CreatedAt int64
	Messages  []Message
}

// Manager holds every group this peer knows about, whether it created
// them or was listed as a member.
type Manager struct {
	mu     sync.RWMutex
	groups map[string]*groupRecord
}

func NewManager() *Manager {
	return &Manager{groups: make(map[string]*groupRecord)}
}

// Create registers (or refreshes) a group record. A re-delivered create
// from the same creator keeps the existing message history; a create that
// changes the creator replaces the record wholesale.
func (m *Manager) Create(groupID, name, creator string, members []string, timestamp int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok || g.creator != creator {
		g = &groupRecord{
			id:        groupID,
			creator:   creator,
			createdAt: timestamp,
			messages:  util.NewRingBuffer[Message](messageCap),
		}
		m.groups[groupID] = g
	}
	g.name = name
	g.members = make(map[string]struct{}, len(members))
	for _, u := range members {
		if u != "" {
			g.members[u] = struct{}{}
		}
	}
	if timestamp > g.updatedAt {
		g.updatedAt = timestamp
	}
}

// Update applies a membership change: adds first, then removes. Only the
// recorded creator is authoritative, and updates older than the last one
// applied are refused (last-writer-wins within the creator origin).
func (m *Manager) Update(groupID, from string, add, remove []string, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return ErrUnknownGroup
	}
	if from != g.creator {
		return ErrNotCreator
	}
	if timestamp < g.updatedAt {
		return ErrStaleUpdate
	}
	for _, u := range add {
		if u != "" {
			g.members[u] = struct{}{}
		}
	}
	for _, u := range remove {
		delete(g.members, u)
	}
	g.updatedAt = timestamp
	return nil
}

// AddMessage appends a group message. Senders outside the current member
// list are refused.
func (m *Manager) AddMessage(groupID, from, content string, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return ErrUnknownGroup
	}
	if _, ok := g.members[from]; !ok {
		return ErrNotMember
	}
	g.messages.Push(Message{From: from, Content: content, Timestamp: timestamp})
	return nil
}

// IsMember reports whether userID is currently in the group.
func (m *Manager) IsMember(groupID, userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return false
	}
	_, ok = g.members[userID]
	return ok
}

// Creator returns the group's creator, or "" for an unknown group.
func (m *Manager) Creator(groupID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.groups[groupID]; ok {
		return g.creator
	}
	return ""
}

// Members returns the current member list, sorted.
func (m *Manager) Members(groupID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil
	}
	return memberList(g)
}

// Get returns a read-only copy of a group.
func (m *Manager) Get(groupID string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(g), true
}

// List returns copies of every known group, sorted by GroupId.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, snapshotOf(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func memberList(g *groupRecord) []string {
	out := make([]string, 0, len(g.members))
	for u := range g.members {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func snapshotOf(g *groupRecord) Snapshot {
	return Snapshot{
		ID:        g.id,
		Name:      g.name,
		Creator:   g.creator,
		Members:   memberList(g),
		CreatedAt: g.createdAt,
		Messages:  g.messages.Snapshot(),
	}
}
