package dispatch

import (
	"encoding/base64"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/lsnp/internal/file"
	"github.com/petervdpas/lsnp/internal/game"
	"github.com/petervdpas/lsnp/internal/group"
	"github.com/petervdpas/lsnp/internal/logger"
	"github.com/petervdpas/lsnp/internal/mq"
	"github.com/petervdpas/lsnp/internal/proto"
	"github.com/petervdpas/lsnp/internal/state"
	"github.com/petervdpas/lsnp/internal/token"
)

const (
	aliceID = "alice@10.0.0.1"
	aliceIP = "10.0.0.1"
	bobID   = "bob@10.0.0.2"
)

type recorder struct {
	mu     sync.Mutex
	frames []*proto.Message
	ips    []string
}

func (r *recorder) send(frame []byte, ip string) error {
	m, err := proto.Parse(frame)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, m)
	r.ips = append(r.ips, ip)
	return nil
}

func (r *recorder) byType(msgType string) []*proto.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*proto.Message
	for _, m := range r.frames {
		if m.Type() == msgType {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	d     *Dispatcher
	store *state.Store
	games *game.Manager
	grps  *group.Manager
	files *file.Manager
	sink  *memSink
	trk   *mq.Tracker
	rec   *recorder
}

type memSink struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (s *memSink) StoreFile(offer file.Offer, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[offer.Name] = append([]byte(nil), data...)
	return nil
}

// newHarness builds a dispatcher acting as bob@10.0.0.2.
func newHarness(t *testing.T) *harness {
	t.Helper()
	store := state.New("10.0.0.2")
	_, err := store.SetOwnProfile("bob", "Bob", "around")
	require.NoError(t, err)

	rec := &recorder{}
	sink := &memSink{files: make(map[string][]byte)}
	h := &harness{
		store: store,
		games: game.NewManager(),
		grps:  group.NewManager(),
		files: file.NewManager(sink),
		sink:  sink,
		rec:   rec,
	}
	h.trk = mq.NewTracker(clock.NewMock(), func(frame []byte, _ *net.UDPAddr) error { return nil }, nil, 0, 0)
	h.d = New(Deps{
		Store:   store,
		Games:   h.games,
		Groups:  h.grps,
		Files:   h.files,
		Tracker: h.trk,
		Revoked: token.NewRevocationList(),
		Log:     logger.New(false),
		Send:    rec.send,
	})
	return h
}

func mintFor(user string, scope token.Scope) string {
	return token.Mint(user, time.Hour, scope)
}

func (h *harness) deliver(m *proto.Message, srcIP string) {
	h.d.Handle(m.Craft(), srcIP)
}

func profileFrame(userID, name, status string) *proto.Message {
	return proto.New(proto.TypeProfile).
		Set(proto.KeyUserID, userID).
		Set(proto.KeyDisplayName, name).
		Set(proto.KeyStatus, status)
}

func dmFrame(from, to, content, msgID string, tok string) *proto.Message {
	return proto.New(proto.TypeDM).
		Set(proto.KeyFrom, from).
		Set(proto.KeyTo, to).
		Set(proto.KeyContent, content).
		Set(proto.KeyTimestamp, "1000").
		Set(proto.KeyMessageID, msgID).
		Set(proto.KeyToken, tok)
}

func TestProfileDiscovery(t *testing.T) {
	h := newHarness(t)
	h.deliver(profileFrame(aliceID, "Alice", "hi"), aliceIP)

	p, ok := h.store.Peer(aliceID)
	require.True(t, ok)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.Equal(t, "hi", p.Status)
}

func TestOwnProfileLoopbackIgnored(t *testing.T) {
	h := newHarness(t)
	h.deliver(profileFrame(bobID, "Bob", "around"), "10.0.0.2")

	_, ok := h.store.Peer(bobID)
	assert.False(t, ok, "the own profile must not become a peer record")
}

func TestMalformedFrameDropped(t *testing.T) {
	h := newHarness(t)
	h.d.Handle([]byte{0xff, 0xfe}, aliceIP)
	h.d.Handle([]byte("no colon here\n\n"), aliceIP)
	assert.Empty(t, h.store.Peers())
}

func TestUnknownTypeDropped(t *testing.T) {
	h := newHarness(t)
	h.deliver(proto.New("TELEPORT").Set(proto.KeyUserID, aliceID), aliceIP)
	assert.Empty(t, h.store.Peers())
}

func TestMissingMandatoryFieldDropped(t *testing.T) {
	h := newHarness(t)
	m := proto.New(proto.TypeProfile).Set(proto.KeyUserID, aliceID) // no DISPLAY_NAME/STATUS
	h.deliver(m, aliceIP)
	assert.Empty(t, h.store.Peers())
}

func TestDMStoredOnceAckedEveryTime(t *testing.T) {
	h := newHarness(t)
	tok := mintFor(aliceID, token.ScopeChat)
	m := dmFrame(aliceID, bobID, "hi", "0000000000000001", tok)

	for i := 0; i < 3; i++ {
		h.deliver(m, aliceIP)
	}

	p, ok := h.store.Peer(aliceID)
	require.True(t, ok)
	require.Len(t, p.DMs, 1, "duplicates must not re-append")
	assert.Equal(t, "hi", p.DMs[0].Content)

	acks := h.rec.byType(proto.TypeAck)
	require.Len(t, acks, 3, "every delivery is acked, duplicates included")
	for _, ack := range acks {
		assert.Equal(t, "0000000000000001", ack.Get(proto.KeyMessageID))
		assert.Equal(t, proto.StatusReceived, ack.Get(proto.KeyStatus))
	}
}

func TestDMForSomeoneElseSilentlyDropped(t *testing.T) {
	h := newHarness(t)
	tok := mintFor(aliceID, token.ScopeChat)
	h.deliver(dmFrame(aliceID, "carol@10.0.0.3", "psst", "00000000000000aa", tok), aliceIP)

	_, ok := h.store.Peer(aliceID)
	assert.False(t, ok)
	assert.Empty(t, h.rec.byType(proto.TypeAck))
}

func TestDMTokenRejections(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name string
		tok  string
	}{
		{"bad format", "not-a-token"},
		{"expired", aliceID + "|1|chat"},
		{"wrong scope", mintFor(aliceID, token.ScopeBroadcast)},
		{"foreign user", mintFor("mallory@10.0.0.9", token.ScopeChat)},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h.deliver(dmFrame(aliceID, bobID, "x", "000000000000000"+strconv.Itoa(i+2), tc.tok), aliceIP)
			_, ok := h.store.Peer(aliceID)
			assert.False(t, ok)
			assert.Empty(t, h.rec.byType(proto.TypeAck))
		})
	}
}

func postFrame(userID, content, msgID, tok string) *proto.Message {
	return proto.New(proto.TypePost).
		Set(proto.KeyUserID, userID).
		Set(proto.KeyContent, content).
		Set(proto.KeyTTL, "3600").
		Set(proto.KeyTimestamp, "1000").
		Set(proto.KeyMessageID, msgID).
		Set(proto.KeyToken, tok)
}

func TestPostFromFollowedUserStored(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Follow(aliceID))

	h.deliver(postFrame(aliceID, "lunch?", "00000000000000b1", mintFor(aliceID, token.ScopeBroadcast)), aliceIP)

	p, _ := h.store.Peer(aliceID)
	require.Len(t, p.Posts, 1)
	assert.Equal(t, "lunch?", p.Posts[0].Content)
}

func TestPostFromUnfollowedUserDiscarded(t *testing.T) {
	h := newHarness(t)
	h.deliver(postFrame(aliceID, "noise", "00000000000000b2", mintFor(aliceID, token.ScopeBroadcast)), aliceIP)

	if p, ok := h.store.Peer(aliceID); ok {
		assert.Empty(t, p.Posts)
	}
}

func TestRevokedTokenRejectsLaterPosts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Follow(aliceID))
	tok := mintFor(aliceID, token.ScopeBroadcast)

	h.deliver(proto.New(proto.TypeRevoke).Set(proto.KeyToken, tok), aliceIP)
	h.deliver(postFrame(aliceID, "too late", "00000000000000b3", tok), aliceIP)

	p, _ := h.store.Peer(aliceID)
	assert.Empty(t, p.Posts)
}

func followFrame(msgType, from, to, msgID, tok string) *proto.Message {
	return proto.New(msgType).
		Set(proto.KeyFrom, from).
		Set(proto.KeyTo, to).
		Set(proto.KeyMessageID, msgID).
		Set(proto.KeyTimestamp, "1000").
		Set(proto.KeyToken, tok)
}

func TestFollowIdempotence(t *testing.T) {
	h := newHarness(t)
	tok := mintFor(aliceID, token.ScopeFollow)

	h.deliver(followFrame(proto.TypeFollow, aliceID, bobID, "00000000000000c1", tok), aliceIP)
	h.deliver(followFrame(proto.TypeFollow, aliceID, bobID, "00000000000000c1", tok), aliceIP)
	assert.Equal(t, []string{aliceID}, h.store.Followers())

	h.deliver(followFrame(proto.TypeUnfollow, aliceID, bobID, "00000000000000c2", tok), aliceIP)
	assert.Empty(t, h.store.Followers())
}

func TestFollowForSomeoneElseIgnored(t *testing.T) {
	h := newHarness(t)
	tok := mintFor(aliceID, token.ScopeFollow)
	h.deliver(followFrame(proto.TypeFollow, aliceID, "carol@10.0.0.3", "00000000000000c3", tok), aliceIP)
	assert.Empty(t, h.store.Followers())
}

func TestAckClearsPendingEntry(t *testing.T) {
	h := newHarness(t)
	h.trk.Track("00000000000000d1", []byte("frame"), &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 50999})
	require.Equal(t, 1, h.trk.PendingCount())

	h.deliver(proto.New(proto.TypeAck).
		Set(proto.KeyMessageID, "00000000000000d1").
		Set(proto.KeyStatus, proto.StatusReceived), aliceIP)
	assert.Zero(t, h.trk.PendingCount())
}

func TestLikeAndUnlike(t *testing.T) {
	h := newHarness(t)
	tok := mintFor(aliceID, token.ScopeBroadcast)
	like := proto.New(proto.TypeLike).
		Set(proto.KeyFrom, aliceID).
		Set(proto.KeyTo, bobID).
		Set(proto.KeyPostTimestamp, "1000").
		Set(proto.KeyAction, proto.ActionLike).
		Set(proto.KeyTimestamp, "1010").
		Set(proto.KeyToken, tok)

	h.deliver(like, aliceIP)
	h.deliver(like, aliceIP)
	require.Len(t, h.store.Likes(), 1, "duplicate like is a no-op")

	unlike := proto.New(proto.TypeLike).
		Set(proto.KeyFrom, aliceID).
		Set(proto.KeyTo, bobID).
		Set(proto.KeyPostTimestamp, "1000").
		Set(proto.KeyAction, proto.ActionUnlike).
		Set(proto.KeyTimestamp, "1020").
		Set(proto.KeyToken, tok)
	h.deliver(unlike, aliceIP)
	assert.Empty(t, h.store.Likes())
}

func inviteFrame(from, to, gameID, symbol, tok string) *proto.Message {
	return proto.New(proto.TypeGameInvite).
		Set(proto.KeyFrom, from).
		Set(proto.KeyRecipient, to).
		Set(proto.KeyMessageID, proto.NewMessageID()).
		Set(proto.KeyGameID, gameID).
		Set(proto.KeySymbol, symbol).
		Set(proto.KeyTimestamp, "1000").
		Set(proto.KeyToken, tok)
}

func moveFrame(from, to, gameID string, turn, position int, symbol, tok string) *proto.Message {
	return proto.New(proto.TypeGameMove).
		Set(proto.KeyFrom, from).
		Set(proto.KeyRecipient, to).
		Set(proto.KeyGameID, gameID).
		Set(proto.KeyMessageID, proto.NewMessageID()).
		Set(proto.KeyTurn, strconv.Itoa(turn)).
		Set(proto.KeyPosition, strconv.Itoa(position)).
		Set(proto.KeySymbol, symbol).
		Set(proto.KeyToken, tok)
}

func TestGameInviteThenMoves(t *testing.T) {
	h := newHarness(t)
	tok := mintFor(aliceID, token.ScopeGame)

	h.deliver(inviteFrame(aliceID, bobID, "g1", "X", tok), aliceIP)
	g, ok := h.games.Get("g1")
	require.True(t, ok)
	assert.Equal(t, byte('O'), g.MySymbol)
	assert.False(t, g.MyTurn)
	assert.Equal(t, 1, g.Turn)

	// Re-delivered invite must not reset the game.
	h.deliver(inviteFrame(aliceID, bobID, "g1", "X", tok), aliceIP)

	h.deliver(moveFrame(aliceID, bobID, "g1", 1, 4, "X", tok), aliceIP)
	g, _ = h.games.Get("g1")
	assert.Equal(t, 2, g.Turn)
	assert.True(t, g.MyTurn)
	assert.Equal(t, g.Turn-1, g.Board.FilledCells())

	// Stale and out-of-order turns are dropped.
	h.deliver(moveFrame(aliceID, bobID, "g1", 1, 0, "X", tok), aliceIP)
	h.deliver(moveFrame(aliceID, bobID, "g1", 5, 0, "X", tok), aliceIP)
	g, _ = h.games.Get("g1")
	assert.Equal(t, 1, g.Board.FilledCells())

	// A move with our own symbol is refused.
	h.deliver(moveFrame(aliceID, bobID, "g1", 2, 0, "O", tok), aliceIP)
	g, _ = h.games.Get("g1")
	assert.Equal(t, 1, g.Board.FilledCells())
}

func TestGameResultRetiresGame(t *testing.T) {
	h := newHarness(t)
	tok := mintFor(aliceID, token.ScopeGame)
	h.deliver(inviteFrame(aliceID, bobID, "g2", "X", tok), aliceIP)

	res := proto.New(proto.TypeGameResult).
		Set(proto.KeyFrom, aliceID).
		Set(proto.KeyTo, bobID).
		Set(proto.KeyGameID, "g2").
		Set(proto.KeyMessageID, proto.NewMessageID()).
		Set(proto.KeyResult, proto.ResultWin).
		Set(proto.KeySymbol, "X").
		Set(proto.KeyWinningLine, "0,4,8").
		Set(proto.KeyTimestamp, "1000")
	h.deliver(res, aliceIP)

	_, ok := h.games.Get("g2")
	assert.False(t, ok)
}

func TestGroupLifecycleOverTheWire(t *testing.T) {
	h := newHarness(t)
	tok := mintFor(aliceID, token.ScopeGroup)

	create := proto.New(proto.TypeGroupCreate).
		Set(proto.KeyFrom, aliceID).
		Set(proto.KeyGroupID, "team").
		Set(proto.KeyGroupName, "Team").
		Set(proto.KeyMembers, aliceID+","+bobID).
		Set(proto.KeyTimestamp, "100").
		Set(proto.KeyToken, tok)
	h.deliver(create, aliceIP)
	assert.True(t, h.grps.IsMember("team", bobID))

	msg := proto.New(proto.TypeGroupMessage).
		Set(proto.KeyFrom, aliceID).
		Set(proto.KeyGroupID, "team").
		Set(proto.KeyContent, "standup at 10").
		Set(proto.KeyTimestamp, "110").
		Set(proto.KeyToken, tok)
	h.deliver(msg, aliceIP)
	g, _ := h.grps.Get("team")
	require.Len(t, g.Messages, 1)

	// Update from a non-creator is ignored.
	evil := proto.New(proto.TypeGroupUpdate).
		Set(proto.KeyFrom, "mallory@10.0.0.9").
		Set(proto.KeyGroupID, "team").
		Set(proto.KeyRemove, bobID).
		Set(proto.KeyTimestamp, "120").
		Set(proto.KeyToken, mintFor("mallory@10.0.0.9", token.ScopeGroup))
	h.deliver(evil, "10.0.0.9")
	assert.True(t, h.grps.IsMember("team", bobID))

	// Creator update applies adds, then removes.
	update := proto.New(proto.TypeGroupUpdate).
		Set(proto.KeyFrom, aliceID).
		Set(proto.KeyGroupID, "team").
		Set(proto.KeyAdd, "carol@10.0.0.3").
		Set(proto.KeyRemove, bobID).
		Set(proto.KeyTimestamp, "130").
		Set(proto.KeyToken, tok)
	h.deliver(update, aliceIP)
	assert.False(t, h.grps.IsMember("team", bobID))
	assert.True(t, h.grps.IsMember("team", "carol@10.0.0.3"))

	// Evicted, our messages are refused but history remains.
	g, _ = h.grps.Get("team")
	assert.Len(t, g.Messages, 1)
}

func TestGroupCreateNotListingUsIgnored(t *testing.T) {
	h := newHarness(t)
	create := proto.New(proto.TypeGroupCreate).
		Set(proto.KeyFrom, aliceID).
		Set(proto.KeyGroupID, "others").
		Set(proto.KeyGroupName, "Others").
		Set(proto.KeyMembers, aliceID+",carol@10.0.0.3").
		Set(proto.KeyTimestamp, "100").
		Set(proto.KeyToken, mintFor(aliceID, token.ScopeGroup))
	h.deliver(create, aliceIP)

	_, ok := h.grps.Get("others")
	assert.False(t, ok)
}

func TestFileTransferEmitsReceived(t *testing.T) {
	h := newHarness(t)
	tok := mintFor(aliceID, token.ScopeFile)
	payload := []byte("attached file body")
	chunks := file.Split(payload, 8)

	offer := proto.New(proto.TypeFileOffer).
		Set(proto.KeyFrom, aliceID).
		Set(proto.KeyTo, bobID).
		Set(proto.KeyFilename, "note.txt").
		Set(proto.KeyFilesize, strconv.Itoa(len(payload))).
		Set(proto.KeyFiletype, "text/plain").
		Set(proto.KeyFileID, "f1").
		Set(proto.KeyDescription, "a note").
		Set(proto.KeyTimestamp, "1000").
		Set(proto.KeyToken, tok)
	h.deliver(offer, aliceIP)

	for i, c := range chunks {
		chunk := proto.New(proto.TypeFileChunk).
			Set(proto.KeyFrom, aliceID).
			Set(proto.KeyTo, bobID).
			Set(proto.KeyFileID, "f1").
			Set(proto.KeyChunkIndex, strconv.Itoa(i)).
			Set(proto.KeyTotalChunks, strconv.Itoa(len(chunks))).
			Set(proto.KeyChunkSize, strconv.Itoa(len(c))).
			Set(proto.KeyData, base64.StdEncoding.EncodeToString(c)).
			Set(proto.KeyToken, tok)
		h.deliver(chunk, aliceIP)
	}

	assert.Equal(t, payload, h.sink.files["note.txt"])
	received := h.rec.byType(proto.TypeFileReceived)
	require.Len(t, received, 1)
	assert.Equal(t, "f1", received[0].Get(proto.KeyFileID))
	assert.Equal(t, bobID, received[0].Get(proto.KeyFrom))
	assert.Equal(t, aliceID, received[0].Get(proto.KeyTo))
}
