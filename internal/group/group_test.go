package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	creator = "carol@10.0.0.3"
	alice   = "alice@10.0.0.1"
	bob     = "bob@10.0.0.2"
)

func newGroup(t *testing.T) *Manager {
	t.Helper()
	m := NewManager()
	m.Create("gang", "The Gang", creator, []string{creator, alice, bob}, 100)
	return m
}

func TestCreateAndMembership(t *testing.T) {
	m := newGroup(t)
	g, ok := m.Get("gang")
	require.True(t, ok)
	assert.Equal(t, "The Gang", g.Name)
	assert.Equal(t, creator, g.Creator)
	assert.Equal(t, []string{alice, bob, creator}, g.Members)
	assert.True(t, m.IsMember("gang", bob))
}

func TestRedeliveredCreateKeepsHistory(t *testing.T) {
	m := newGroup(t)
	require.NoError(t, m.AddMessage("gang", alice, "hello", 110))

	m.Create("gang", "The Gang", creator, []string{creator, alice, bob}, 100)
	g, _ := m.Get("gang")
	assert.Len(t, g.Messages, 1)
}

func TestUpdateAddsThenRemoves(t *testing.T) {
	m := newGroup(t)
	dave := "dave@10.0.0.4"

	require.NoError(t, m.Update("gang", creator, []string{dave}, []string{bob}, 200))
	assert.Equal(t, []string{alice, creator, dave}, m.Members("gang"))
}

func TestUpdateOnlyCreatorIsAuthoritative(t *testing.T) {
	m := newGroup(t)
	err := m.Update("gang", alice, nil, []string{bob}, 200)
	assert.ErrorIs(t, err, ErrNotCreator)
	assert.True(t, m.IsMember("gang", bob))
}

func TestUpdateLastWriterWins(t *testing.T) {
	m := newGroup(t)
	require.NoError(t, m.Update("gang", creator, nil, []string{bob}, 300))

	// A delayed older update must not resurrect bob.
	err := m.Update("gang", creator, []string{bob}, nil, 250)
	assert.ErrorIs(t, err, ErrStaleUpdate)
	assert.False(t, m.IsMember("gang", bob))
}

func TestUpdateUnknownGroup(t *testing.T) {
	m := NewManager()
	assert.ErrorIs(t, m.Update("nope", creator, nil, nil, 1), ErrUnknownGroup)
}

func TestMessagesRequireMembership(t *testing.T) {
	m := newGroup(t)

	require.NoError(t, m.AddMessage("gang", alice, "hi all", 150))
	assert.ErrorIs(t, m.AddMessage("gang", "mallory@10.0.0.9", "spam", 151), ErrNotMember)

	g, _ := m.Get("gang")
	require.Len(t, g.Messages, 1)
	assert.Equal(t, alice, g.Messages[0].From)
}

func TestEvictedMemberKeepsHistoryButCannotPost(t *testing.T) {
	m := newGroup(t)
	require.NoError(t, m.AddMessage("gang", bob, "before eviction", 150))
	require.NoError(t, m.Update("gang", creator, nil, []string{bob}, 200))

	assert.ErrorIs(t, m.AddMessage("gang", bob, "after eviction", 210), ErrNotMember)
	g, _ := m.Get("gang")
	require.Len(t, g.Messages, 1)
	assert.Equal(t, "before eviction", g.Messages[0].Content)
}
