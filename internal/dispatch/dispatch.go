// Package dispatch routes inbound frames to their per-TYPE handlers. Each
// datagram is handled as one critical section: parse, check mandatory
// keys, validate the token, mutate state, optionally reply. Failures drop
// the frame; only a DM ever produces a reply (its ACK).
package dispatch

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/petervdpas/lsnp/internal/file"
	"github.com/petervdpas/lsnp/internal/game"
	"github.com/petervdpas/lsnp/internal/group"
	"github.com/petervdpas/lsnp/internal/logger"
	"github.com/petervdpas/lsnp/internal/mq"
	"github.com/petervdpas/lsnp/internal/proto"
	"github.com/petervdpas/lsnp/internal/state"
	"github.com/petervdpas/lsnp/internal/token"
)

// SendFunc transmits a frame to a peer IP on the LSNP port.
type SendFunc func(frame []byte, ip string) error

// Deps are the collaborators the dispatcher drives.
type Deps struct {
	Store   *state.Store
	Games   *game.Manager
	Groups  *group.Manager
	Files   *file.Manager
	Tracker *mq.Tracker
	Revoked *token.RevocationList
	Log     *logger.Logger
	Send    SendFunc
}

// Dispatcher is safe for use from a single receive loop; the internal
// mutex additionally serializes it against outbound actions that share
// the same engines.
type Dispatcher struct {
	mu sync.Mutex
	Deps

	// onEvent, when set, receives human-readable lines for the shell
	// (incoming DMs, game events, completed files). Called outside the
	// dispatch lock.
	onEvent func(text string)
}

func New(deps Deps) *Dispatcher {
	return &Dispatcher{Deps: deps}
}

// OnEvent registers the display sink.
func (d *Dispatcher) OnEvent(fn func(text string)) { d.onEvent = fn }

// mandatoryKeys lists the required fields per TYPE, checked after parse.
var mandatoryKeys = map[string][]string{
	proto.TypeProfile:      {proto.KeyUserID, proto.KeyDisplayName, proto.KeyStatus},
	proto.TypePing:         {proto.KeyUserID},
	proto.TypePost:         {proto.KeyUserID, proto.KeyContent, proto.KeyTTL, proto.KeyMessageID, proto.KeyToken},
	proto.TypeDM:           {proto.KeyFrom, proto.KeyTo, proto.KeyContent, proto.KeyTimestamp, proto.KeyMessageID, proto.KeyToken},
	proto.TypeAck:          {proto.KeyMessageID, proto.KeyStatus},
	proto.TypeFollow:       {proto.KeyFrom, proto.KeyTo, proto.KeyMessageID, proto.KeyTimestamp, proto.KeyToken},
	proto.TypeUnfollow:     {proto.KeyFrom, proto.KeyTo, proto.KeyMessageID, proto.KeyTimestamp, proto.KeyToken},
	proto.TypeRevoke:       {proto.KeyToken},
	proto.TypeLike:         {proto.KeyFrom, proto.KeyTo, proto.KeyPostTimestamp, proto.KeyAction, proto.KeyTimestamp, proto.KeyToken},
	proto.TypeGameInvite:   {proto.KeyFrom, proto.KeyRecipient, proto.KeyMessageID, proto.KeyGameID, proto.KeySymbol, proto.KeyTimestamp, proto.KeyToken},
	proto.TypeGameMove:     {proto.KeyFrom, proto.KeyRecipient, proto.KeyGameID, proto.KeyMessageID, proto.KeyTurn, proto.KeyPosition, proto.KeySymbol, proto.KeyToken},
	proto.TypeGameResult:   {proto.KeyFrom, proto.KeyTo, proto.KeyGameID, proto.KeyMessageID, proto.KeyResult, proto.KeyTimestamp},
	proto.TypeGroupCreate:  {proto.KeyFrom, proto.KeyGroupID, proto.KeyGroupName, proto.KeyMembers, proto.KeyTimestamp, proto.KeyToken},
	proto.TypeGroupUpdate:  {proto.KeyFrom, proto.KeyGroupID, proto.KeyTimestamp, proto.KeyToken},
	proto.TypeGroupMessage: {proto.KeyFrom, proto.KeyGroupID, proto.KeyContent, proto.KeyTimestamp, proto.KeyToken},
	proto.TypeFileOffer:    {proto.KeyFrom, proto.KeyTo, proto.KeyFilename, proto.KeyFilesize, proto.KeyFiletype, proto.KeyFileID, proto.KeyTimestamp, proto.KeyToken},
	proto.TypeFileChunk:    {proto.KeyFrom, proto.KeyTo, proto.KeyFileID, proto.KeyChunkIndex, proto.KeyTotalChunks, proto.KeyChunkSize, proto.KeyData, proto.KeyToken},
	proto.TypeFileReceived: {proto.KeyFrom, proto.KeyTo, proto.KeyFileID, proto.KeyStatus, proto.KeyTimestamp},
}

// tokenScopes maps the TYPEs that carry a TOKEN to the scope it must have.
var tokenScopes = map[string]token.Scope{
	proto.TypePost:         token.ScopeBroadcast,
	proto.TypeDM:           token.ScopeChat,
	proto.TypeFollow:       token.ScopeFollow,
	proto.TypeUnfollow:     token.ScopeFollow,
	proto.TypeLike:         token.ScopeBroadcast,
	proto.TypeGameInvite:   token.ScopeGame,
	proto.TypeGameMove:     token.ScopeGame,
	proto.TypeGroupCreate:  token.ScopeGroup,
	proto.TypeGroupUpdate:  token.ScopeGroup,
	proto.TypeGroupMessage: token.ScopeGroup,
	proto.TypeFileOffer:    token.ScopeFile,
	proto.TypeFileChunk:    token.ScopeFile,
}

// Handle processes one raw datagram from srcIP.
func (d *Dispatcher) Handle(raw []byte, srcIP string) {
	m, err := proto.Parse(raw)
	if err != nil {
		d.Log.LogParse(srcIP, err)
		return
	}
	msgType := m.Type()

	keys, known := mandatoryKeys[msgType]
	if !known {
		d.Log.LogDrop(msgType, srcIP, "unknown message type")
		return
	}
	for _, k := range keys {
		if !m.Has(k) {
			d.Log.LogDrop(msgType, srcIP, "missing mandatory field "+k)
			return
		}
	}
	if scope, ok := tokenScopes[msgType]; ok {
		if err := token.Validate(m.Get(proto.KeyToken), scope, d.Revoked); err != nil {
			d.Log.LogReject(msgType, srcIP, err.Error())
			return
		}
	}

	d.Log.LogRecv(msgType, srcIP, m)

	d.mu.Lock()
	event := d.route(m, srcIP)
	d.mu.Unlock()

	if event != "" && d.onEvent != nil {
		d.onEvent(event)
	}
}

// route runs the per-TYPE handler under the dispatch lock and returns an
// optional display line.
func (d *Dispatcher) route(m *proto.Message, srcIP string) string {
	switch m.Type() {
	case proto.TypeProfile:
		return d.handleProfile(m)
	case proto.TypePing:
		d.Store.TouchPeer(m.Get(proto.KeyUserID))
		return ""
	case proto.TypePost:
		return d.handlePost(m, srcIP)
	case proto.TypeDM:
		return d.handleDM(m, srcIP)
	case proto.TypeAck:
		d.Tracker.Ack(m.Get(proto.KeyMessageID))
		return ""
	case proto.TypeFollow, proto.TypeUnfollow:
		return d.handleFollow(m)
	case proto.TypeRevoke:
		d.Revoked.Revoke(m.Get(proto.KeyToken))
		return ""
	case proto.TypeLike:
		return d.handleLike(m, srcIP)
	case proto.TypeGameInvite:
		return d.handleGameInvite(m, srcIP)
	case proto.TypeGameMove:
		return d.handleGameMove(m, srcIP)
	case proto.TypeGameResult:
		return d.handleGameResult(m)
	case proto.TypeGroupCreate:
		return d.handleGroupCreate(m)
	case proto.TypeGroupUpdate:
		return d.handleGroupUpdate(m, srcIP)
	case proto.TypeGroupMessage:
		return d.handleGroupMessage(m, srcIP)
	case proto.TypeFileOffer:
		return d.handleFileOffer(m)
	case proto.TypeFileChunk:
		return d.handleFileChunk(m, srcIP)
	case proto.TypeFileReceived:
		return d.handleFileReceived(m)
	}
	return ""
}

func (d *Dispatcher) handleProfile(m *proto.Message) string {
	userID := m.Get(proto.KeyUserID)
	if d.Store.IsSelf(userID) {
		// Self-broadcast loops back; the own profile is not a peer.
		return ""
	}
	d.Store.AddOrUpdatePeer(
		userID,
		m.Get(proto.KeyDisplayName),
		m.Get(proto.KeyStatus),
		m.Get(proto.KeyAvatarType),
		m.Get(proto.KeyAvatarData),
	)
	return ""
}

func (d *Dispatcher) handlePost(m *proto.Message, srcIP string) string {
	userID := m.Get(proto.KeyUserID)
	if d.Store.IsSelf(userID) {
		return ""
	}
	tok, _ := token.Parse(m.Get(proto.KeyToken))
	if tok.UserID != userID {
		d.Log.LogDrop(proto.TypePost, srcIP, "token user does not match USER_ID")
		return ""
	}
	if !d.Store.IsFollowing(userID) {
		// Posts from users we do not follow are dropped without a log line.
		return ""
	}
	ttl, err := strconv.ParseInt(m.Get(proto.KeyTTL), 10, 64)
	if err != nil {
		d.Log.LogDrop(proto.TypePost, srcIP, "non-numeric TTL")
		return ""
	}
	d.Store.AddPost(userID, state.Post{
		Content:   m.Get(proto.KeyContent),
		Timestamp: parseTimestamp(m),
		TTL:       ttl,
		MessageID: m.Get(proto.KeyMessageID),
		Token:     m.Get(proto.KeyToken),
	})
	return fmt.Sprintf("POST from %s: %s", userID, m.Get(proto.KeyContent))
}

func (d *Dispatcher) handleDM(m *proto.Message, srcIP string) string {
	from := m.Get(proto.KeyFrom)
	if !d.Store.IsSelf(m.Get(proto.KeyTo)) {
		return ""
	}
	tok, _ := token.Parse(m.Get(proto.KeyToken))
	if tok.UserID != from {
		d.Log.LogDrop(proto.TypeDM, srcIP, "token user does not match FROM")
		return ""
	}
	msgID := m.Get(proto.KeyMessageID)
	stored := d.Store.AddDM(from, state.DM{
		Content:   m.Get(proto.KeyContent),
		Timestamp: parseTimestamp(m),
		MessageID: msgID,
		Token:     m.Get(proto.KeyToken),
	})

	// Always ACK, duplicates included: the sender may have lost our first
	// ACK and keeps retransmitting until it hears one.
	ack := proto.New(proto.TypeAck).
		Set(proto.KeyMessageID, msgID).
		Set(proto.KeyStatus, proto.StatusReceived)
	d.Log.LogSend(proto.TypeAck, srcIP, ack)
	if err := d.Send(ack.Craft(), srcIP); err != nil {
		d.Log.LogError("dispatch", err)
	}

	if !stored {
		return ""
	}
	return fmt.Sprintf("DM from %s: %s", from, m.Get(proto.KeyContent))
}

func (d *Dispatcher) handleFollow(m *proto.Message) string {
	if !d.Store.IsSelf(m.Get(proto.KeyTo)) {
		return ""
	}
	from := m.Get(proto.KeyFrom)
	if m.Type() == proto.TypeFollow {
		if d.Store.AddFollower(from, m.Get(proto.KeyMessageID), parseTimestamp(m)) {
			return fmt.Sprintf("%s now follows you", from)
		}
		return ""
	}
	if d.Store.RemoveFollower(from) {
		return fmt.Sprintf("%s unfollowed you", from)
	}
	return ""
}

func (d *Dispatcher) handleLike(m *proto.Message, srcIP string) string {
	if !d.Store.IsSelf(m.Get(proto.KeyTo)) {
		return ""
	}
	from := m.Get(proto.KeyFrom)
	postTS, err := strconv.ParseInt(m.Get(proto.KeyPostTimestamp), 10, 64)
	if err != nil {
		d.Log.LogDrop(proto.TypeLike, srcIP, "non-numeric POST_TIMESTAMP")
		return ""
	}
	switch m.Get(proto.KeyAction) {
	case proto.ActionLike:
		if d.Store.AddLike(from, postTS, parseTimestamp(m)) {
			return fmt.Sprintf("%s liked your post [%d]", from, postTS)
		}
	case proto.ActionUnlike:
		if d.Store.RemoveLike(from, postTS) {
			return fmt.Sprintf("%s unliked your post [%d]", from, postTS)
		}
	default:
		d.Log.LogDrop(proto.TypeLike, srcIP, "unknown ACTION "+m.Get(proto.KeyAction))
	}
	return ""
}

func (d *Dispatcher) handleGameInvite(m *proto.Message, srcIP string) string {
	if !d.Store.IsSelf(m.Get(proto.KeyRecipient)) {
		return ""
	}
	symbol, ok := parseSymbol(m.Get(proto.KeySymbol))
	if !ok {
		d.Log.LogDrop(proto.TypeGameInvite, srcIP, "bad SYMBOL")
		return ""
	}
	from := m.Get(proto.KeyFrom)
	gameID := m.Get(proto.KeyGameID)
	g, created := d.Games.AcceptInvite(gameID, from, symbol, m.Get(proto.KeyToken))
	if !created {
		d.Log.LogDrop(proto.TypeGameInvite, srcIP, "game id already known")
		return ""
	}
	return fmt.Sprintf("%s invites you to tic-tac-toe [%s]; you play %c", from, gameID, g.MySymbol)
}

func (d *Dispatcher) handleGameMove(m *proto.Message, srcIP string) string {
	if !d.Store.IsSelf(m.Get(proto.KeyRecipient)) {
		return ""
	}
	gameID := m.Get(proto.KeyGameID)
	turn, err1 := strconv.Atoi(m.Get(proto.KeyTurn))
	position, err2 := strconv.Atoi(m.Get(proto.KeyPosition))
	if err1 != nil || err2 != nil {
		d.Log.LogDrop(proto.TypeGameMove, srcIP, "non-numeric TURN or POSITION")
		return ""
	}
	symbol, ok := parseSymbol(m.Get(proto.KeySymbol))
	if !ok {
		d.Log.LogDrop(proto.TypeGameMove, srcIP, "bad SYMBOL")
		return ""
	}
	g, err := d.Games.ApplyRemoteMove(gameID, turn, position, symbol)
	if err != nil {
		d.Log.LogDrop(proto.TypeGameMove, srcIP, err.Error())
		return ""
	}

	winner, _, done := g.Board.Result()
	if !done {
		return fmt.Sprintf("[%s] %s played %c at %d\n%s", gameID, g.Opponent, symbol, position, g.Board)
	}

	// The opponent wrote the final cell; they announce the result. We only
	// retire the game and report the outcome locally.
	d.Games.Remove(gameID)
	switch winner {
	case g.MySymbol:
		return fmt.Sprintf("[%s] you win!\n%s", gameID, g.Board)
	case g.OpponentSymbol:
		return fmt.Sprintf("[%s] %s wins.\n%s", gameID, g.Opponent, g.Board)
	default:
		return fmt.Sprintf("[%s] draw.\n%s", gameID, g.Board)
	}
}

func (d *Dispatcher) handleGameResult(m *proto.Message) string {
	if !d.Store.IsSelf(m.Get(proto.KeyTo)) {
		return ""
	}
	gameID := m.Get(proto.KeyGameID)
	d.Games.Remove(gameID)
	result := m.Get(proto.KeyResult)
	if line := m.Get(proto.KeyWinningLine); line != "" {
		return fmt.Sprintf("[%s] result from %s: %s (line %s)", gameID, m.Get(proto.KeyFrom), result, line)
	}
	return fmt.Sprintf("[%s] result from %s: %s", gameID, m.Get(proto.KeyFrom), result)
}

func (d *Dispatcher) handleGroupCreate(m *proto.Message) string {
	members := splitMembers(m.Get(proto.KeyMembers))
	own, ok := d.Store.OwnProfile()
	if !ok || !contains(members, own.UserID) {
		return ""
	}
	groupID := m.Get(proto.KeyGroupID)
	d.Groups.Create(groupID, m.Get(proto.KeyGroupName), m.Get(proto.KeyFrom), members, parseTimestamp(m))
	return fmt.Sprintf("added to group %q [%s]", m.Get(proto.KeyGroupName), groupID)
}

func (d *Dispatcher) handleGroupUpdate(m *proto.Message, srcIP string) string {
	groupID := m.Get(proto.KeyGroupID)
	add := splitMembers(m.Get(proto.KeyAdd))
	remove := splitMembers(m.Get(proto.KeyRemove))
	err := d.Groups.Update(groupID, m.Get(proto.KeyFrom), add, remove, parseTimestamp(m))
	if err != nil {
		// Non-creator and stale updates are ignored per the membership
		// policy; unknown groups are just noise from before we joined.
		d.Log.Log("DEBUG", fmt.Sprintf("GROUP_UPDATE for %s ignored: %v", groupID, err))
		return ""
	}
	return fmt.Sprintf("group %s membership updated", groupID)
}

func (d *Dispatcher) handleGroupMessage(m *proto.Message, srcIP string) string {
	groupID := m.Get(proto.KeyGroupID)
	from := m.Get(proto.KeyFrom)
	if err := d.Groups.AddMessage(groupID, from, m.Get(proto.KeyContent), parseTimestamp(m)); err != nil {
		d.Log.LogDrop(proto.TypeGroupMessage, srcIP, err.Error())
		return ""
	}
	return fmt.Sprintf("[%s] %s: %s", groupID, from, m.Get(proto.KeyContent))
}

func (d *Dispatcher) handleFileOffer(m *proto.Message) string {
	if !d.Store.IsSelf(m.Get(proto.KeyTo)) {
		return ""
	}
	size, _ := strconv.ParseInt(m.Get(proto.KeyFilesize), 10, 64)
	d.Files.AddOffer(file.Offer{
		ID:          m.Get(proto.KeyFileID),
		From:        m.Get(proto.KeyFrom),
		Name:        m.Get(proto.KeyFilename),
		MIME:        m.Get(proto.KeyFiletype),
		Description: m.Get(proto.KeyDescription),
		Size:        size,
		Timestamp:   parseTimestamp(m),
	})
	return fmt.Sprintf("%s offers file %q (%s bytes)", m.Get(proto.KeyFrom), m.Get(proto.KeyFilename), m.Get(proto.KeyFilesize))
}

func (d *Dispatcher) handleFileChunk(m *proto.Message, srcIP string) string {
	if !d.Store.IsSelf(m.Get(proto.KeyTo)) {
		return ""
	}
	fileID := m.Get(proto.KeyFileID)
	index, err1 := strconv.Atoi(m.Get(proto.KeyChunkIndex))
	total, err2 := strconv.Atoi(m.Get(proto.KeyTotalChunks))
	if err1 != nil || err2 != nil {
		d.Log.LogDrop(proto.TypeFileChunk, srcIP, "non-numeric chunk fields")
		return ""
	}
	data, err := decodeBase64(m.Get(proto.KeyData))
	if err != nil {
		d.Log.LogDrop(proto.TypeFileChunk, srcIP, "bad base64 DATA")
		return ""
	}
	from := m.Get(proto.KeyFrom)
	done, err := d.Files.AddChunk(fileID, from, index, total, data)
	if err != nil {
		d.Log.LogDrop(proto.TypeFileChunk, srcIP, err.Error())
		return ""
	}
	if !done {
		return ""
	}

	own, _ := d.Store.OwnProfile()
	received := proto.New(proto.TypeFileReceived).
		Set(proto.KeyFrom, own.UserID).
		Set(proto.KeyTo, from).
		Set(proto.KeyFileID, fileID).
		Set(proto.KeyStatus, proto.StatusReceived).
		Set(proto.KeyTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	d.Log.LogSend(proto.TypeFileReceived, srcIP, received)
	if err := d.Send(received.Craft(), srcIP); err != nil {
		d.Log.LogError("dispatch", err)
	}
	return fmt.Sprintf("file %s from %s complete", fileID, from)
}

func (d *Dispatcher) handleFileReceived(m *proto.Message) string {
	if !d.Store.IsSelf(m.Get(proto.KeyTo)) {
		return ""
	}
	return fmt.Sprintf("%s received file %s", m.Get(proto.KeyFrom), m.Get(proto.KeyFileID))
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

func parseTimestamp(m *proto.Message) int64 {
	ts, _ := strconv.ParseInt(m.Get(proto.KeyTimestamp), 10, 64)
	return ts
}

func parseSymbol(s string) (byte, bool) {
	switch s {
	case "X":
		return game.SymbolX, true
	case "O":
		return game.SymbolO, true
	}
	return 0, false
}

func splitMembers(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
