// Package actions implements the outbound primitives the shell drives:
// craft a frame, validate its own token, transmit, record the local side
// effects. Every minted token lands in the issued log so shutdown can
// broadcast a REVOKE for it.
package actions

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/petervdpas/lsnp/internal/avatar"
	"github.com/petervdpas/lsnp/internal/file"
	"github.com/petervdpas/lsnp/internal/game"
	"github.com/petervdpas/lsnp/internal/group"
	"github.com/petervdpas/lsnp/internal/logger"
	"github.com/petervdpas/lsnp/internal/mq"
	"github.com/petervdpas/lsnp/internal/proto"
	"github.com/petervdpas/lsnp/internal/state"
	"github.com/petervdpas/lsnp/internal/token"
)

var (
	ErrNoProfile   = errors.New("own profile not set; use the profile command first")
	ErrUnknownPeer = errors.New("peer address unknown")
)

// Transport is the slice of the UDP layer the actions need.
type Transport interface {
	SendTo(frame []byte, addr *net.UDPAddr) error
	Broadcast(frame []byte) error
	Addr(ip string) *net.UDPAddr
}

// Actions bundles the engines an outbound operation touches.
type Actions struct {
	Store   *state.Store
	Games   *game.Manager
	Groups  *group.Manager
	Tracker *mq.Tracker
	Revoked *token.RevocationList
	Issued  *token.IssuedLog
	Log     *logger.Logger
	Net     Transport

	TokenTTL  time.Duration
	ChunkSize int
}

// mint issues a token for the own user, validates it the way a receiver
// would, and records it for shutdown revocation.
func (a *Actions) mint(scope token.Scope) (string, error) {
	own, ok := a.Store.OwnProfile()
	if !ok {
		return "", ErrNoProfile
	}
	raw := token.Mint(own.UserID, a.TokenTTL, scope)
	if err := token.Validate(raw, scope, a.Revoked); err != nil {
		return "", fmt.Errorf("minted token rejected: %w", err)
	}
	a.Issued.Add(raw)
	return raw, nil
}

func (a *Actions) unicast(m *proto.Message, toUserID string) error {
	ip := proto.UserIP(toUserID)
	if ip == "" {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, toUserID)
	}
	a.Log.LogSend(m.Type(), ip, m)
	return a.Net.SendTo(m.Craft(), a.Net.Addr(ip))
}

func (a *Actions) broadcast(m *proto.Message) error {
	a.Log.LogSend(m.Type(), "broadcast", m)
	return a.Net.Broadcast(m.Craft())
}

// SendProfile broadcasts the current own profile, avatar included when set.
func (a *Actions) SendProfile() error {
	own, ok := a.Store.OwnProfile()
	if !ok {
		return ErrNoProfile
	}
	m := proto.New(proto.TypeProfile).
		Set(proto.KeyUserID, own.UserID).
		Set(proto.KeyDisplayName, own.DisplayName).
		Set(proto.KeyStatus, own.Status)
	if own.AvatarType != "" && own.AvatarData != "" {
		m.Set(proto.KeyAvatarType, own.AvatarType).
			Set(proto.KeyAvatarEncoding, proto.EncodingBase64).
			Set(proto.KeyAvatarData, own.AvatarData)
	}
	return a.broadcast(m)
}

// SendPing broadcasts a bare presence signal.
func (a *Actions) SendPing() error {
	own, ok := a.Store.OwnProfile()
	if !ok {
		return ErrNoProfile
	}
	return a.broadcast(proto.New(proto.TypePing).Set(proto.KeyUserID, own.UserID))
}

// SetAvatar loads an image file into the own profile and re-announces it.
func (a *Actions) SetAvatar(path string) error {
	mimeType, data, err := avatar.Load(path)
	if err != nil {
		return err
	}
	if !a.Store.SetOwnAvatar(mimeType, data) {
		return ErrNoProfile
	}
	return a.SendProfile()
}

// SendPost stores the post in the own feed and unicasts it to every
// follower. ttl is the post validity window in seconds.
func (a *Actions) SendPost(content string, ttl int64) error {
	own, ok := a.Store.OwnProfile()
	if !ok {
		return ErrNoProfile
	}
	tok, err := a.mint(token.ScopeBroadcast)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	msgID := proto.NewMessageID()
	m := proto.New(proto.TypePost).
		Set(proto.KeyUserID, own.UserID).
		Set(proto.KeyContent, content).
		Set(proto.KeyTTL, strconv.FormatInt(ttl, 10)).
		Set(proto.KeyTimestamp, strconv.FormatInt(now, 10)).
		Set(proto.KeyMessageID, msgID).
		Set(proto.KeyToken, tok)

	a.Store.AddOwnPost(state.Post{
		Content:   content,
		Timestamp: now,
		TTL:       ttl,
		MessageID: msgID,
		Token:     tok,
	})

	frame := m.Craft()
	for _, ip := range a.Store.FollowerIPs() {
		a.Log.LogSend(proto.TypePost, ip, m)
		if err := a.Net.SendTo(frame, a.Net.Addr(ip)); err != nil {
			a.Log.LogError("actions", err)
		}
	}
	return nil
}

// SendDM transmits a reliable direct message and registers it with the
// ACK tracker. Returns the MessageId used on the wire.
func (a *Actions) SendDM(toUserID, content string) (string, error) {
	own, ok := a.Store.OwnProfile()
	if !ok {
		return "", ErrNoProfile
	}
	tok, err := a.mint(token.ScopeChat)
	if err != nil {
		return "", err
	}
	ip := proto.UserIP(toUserID)
	if ip == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownPeer, toUserID)
	}
	msgID := proto.NewMessageID()
	m := proto.New(proto.TypeDM).
		Set(proto.KeyFrom, own.UserID).
		Set(proto.KeyTo, toUserID).
		Set(proto.KeyContent, content).
		Set(proto.KeyTimestamp, strconv.FormatInt(time.Now().Unix(), 10)).
		Set(proto.KeyMessageID, msgID).
		Set(proto.KeyToken, tok)

	frame := m.Craft()
	addr := a.Net.Addr(ip)
	a.Log.LogSend(proto.TypeDM, ip, m)
	if err := a.Net.SendTo(frame, addr); err != nil {
		return "", err
	}
	a.Tracker.Track(msgID, frame, addr)
	return msgID, nil
}

// Follow sends a FOLLOW and records the edge locally.
func (a *Actions) Follow(toUserID string) error {
	if err := a.Store.Follow(toUserID); err != nil {
		return err
	}
	return a.sendFollowFrame(proto.TypeFollow, toUserID)
}

// Unfollow sends an UNFOLLOW and removes the local edge.
func (a *Actions) Unfollow(toUserID string) error {
	a.Store.Unfollow(toUserID)
	return a.sendFollowFrame(proto.TypeUnfollow, toUserID)
}

func (a *Actions) sendFollowFrame(msgType, toUserID string) error {
	own, ok := a.Store.OwnProfile()
	if !ok {
		return ErrNoProfile
	}
	tok, err := a.mint(token.ScopeFollow)
	if err != nil {
		return err
	}
	m := proto.New(msgType).
		Set(proto.KeyFrom, own.UserID).
		Set(proto.KeyTo, toUserID).
		Set(proto.KeyMessageID, proto.NewMessageID()).
		Set(proto.KeyTimestamp, strconv.FormatInt(time.Now().Unix(), 10)).
		Set(proto.KeyToken, tok)
	return a.unicast(m, toUserID)
}

// SendLike likes or unlikes a peer's post, identified by its timestamp.
func (a *Actions) SendLike(toUserID string, postTimestamp int64, unlike bool) error {
	own, ok := a.Store.OwnProfile()
	if !ok {
		return ErrNoProfile
	}
	tok, err := a.mint(token.ScopeBroadcast)
	if err != nil {
		return err
	}
	action := proto.ActionLike
	if unlike {
		action = proto.ActionUnlike
	}
	m := proto.New(proto.TypeLike).
		Set(proto.KeyFrom, own.UserID).
		Set(proto.KeyTo, toUserID).
		Set(proto.KeyPostTimestamp, strconv.FormatInt(postTimestamp, 10)).
		Set(proto.KeyAction, action).
		Set(proto.KeyTimestamp, strconv.FormatInt(time.Now().Unix(), 10)).
		Set(proto.KeyToken, tok)
	return a.unicast(m, toUserID)
}

// InviteGame starts a new tic-tac-toe match. The initiator plays X and
// moves first.
func (a *Actions) InviteGame(opponentUserID string) (game.Game, error) {
	own, ok := a.Store.OwnProfile()
	if !ok {
		return game.Game{}, ErrNoProfile
	}
	tok, err := a.mint(token.ScopeGame)
	if err != nil {
		return game.Game{}, err
	}
	gameID := proto.NewShortID()
	g, err := a.Games.StartLocal(gameID, opponentUserID, tok)
	if err != nil {
		return game.Game{}, err
	}
	m := proto.New(proto.TypeGameInvite).
		Set(proto.KeyFrom, own.UserID).
		Set(proto.KeyRecipient, opponentUserID).
		Set(proto.KeyMessageID, proto.NewMessageID()).
		Set(proto.KeyGameID, gameID).
		Set(proto.KeySymbol, string(g.MySymbol)).
		Set(proto.KeyTimestamp, strconv.FormatInt(time.Now().Unix(), 10)).
		Set(proto.KeyToken, tok)
	if err := a.unicast(m, opponentUserID); err != nil {
		a.Games.Remove(gameID)
		return game.Game{}, err
	}
	return g, nil
}

// SendMove plays a cell in a running game. When the move finishes the
// game, the result is announced to the opponent and the game retired; the
// returned game snapshot carries the final board either way.
func (a *Actions) SendMove(gameID string, position int) (game.Game, error) {
	own, ok := a.Store.OwnProfile()
	if !ok {
		return game.Game{}, ErrNoProfile
	}
	g, turn, err := a.Games.ApplyLocalMove(gameID, position)
	if err != nil {
		return game.Game{}, err
	}
	tok, err := a.mint(token.ScopeGame)
	if err != nil {
		return game.Game{}, err
	}
	m := proto.New(proto.TypeGameMove).
		Set(proto.KeyFrom, own.UserID).
		Set(proto.KeyRecipient, g.Opponent).
		Set(proto.KeyGameID, gameID).
		Set(proto.KeyMessageID, proto.NewMessageID()).
		Set(proto.KeyTurn, strconv.Itoa(turn)).
		Set(proto.KeyPosition, strconv.Itoa(position)).
		Set(proto.KeySymbol, string(g.MySymbol)).
		Set(proto.KeyToken, tok)
	if err := a.unicast(m, g.Opponent); err != nil {
		return g, err
	}

	winner, line, done := g.Board.Result()
	if !done {
		return g, nil
	}

	// We wrote the final cell, so the result announcement is ours to send.
	result := proto.ResultDraw
	if winner == g.MySymbol {
		result = proto.ResultWin
	}
	res := proto.New(proto.TypeGameResult).
		Set(proto.KeyFrom, own.UserID).
		Set(proto.KeyTo, g.Opponent).
		Set(proto.KeyGameID, gameID).
		Set(proto.KeyMessageID, proto.NewMessageID()).
		Set(proto.KeyResult, result).
		Set(proto.KeyTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	if result == proto.ResultWin {
		res.Set(proto.KeySymbol, string(g.MySymbol)).
			Set(proto.KeyWinningLine, game.FormatLine(line))
	}
	if err := a.unicast(res, g.Opponent); err != nil {
		a.Log.LogError("actions", err)
	}
	a.Games.Remove(gameID)
	return g, nil
}

// CreateGroup registers a group with us as creator and announces it to
// every listed member. The own user is always part of the member list.
func (a *Actions) CreateGroup(name string, members []string) (string, error) {
	own, ok := a.Store.OwnProfile()
	if !ok {
		return "", ErrNoProfile
	}
	tok, err := a.mint(token.ScopeGroup)
	if err != nil {
		return "", err
	}
	if !containsString(members, own.UserID) {
		members = append([]string{own.UserID}, members...)
	}
	groupID := proto.NewShortID()
	now := time.Now().Unix()
	a.Groups.Create(groupID, name, own.UserID, members, now)

	m := proto.New(proto.TypeGroupCreate).
		Set(proto.KeyFrom, own.UserID).
		Set(proto.KeyGroupID, groupID).
		Set(proto.KeyGroupName, name).
		Set(proto.KeyMembers, joinMembers(members)).
		Set(proto.KeyTimestamp, strconv.FormatInt(now, 10)).
		Set(proto.KeyToken, tok)
	a.fanOut(m, members, own.UserID)
	return groupID, nil
}

// UpdateGroup applies a membership change we author and announces it to
// the post-update member list, removed members included so they learn of
// their eviction.
func (a *Actions) UpdateGroup(groupID string, add, remove []string) error {
	own, ok := a.Store.OwnProfile()
	if !ok {
		return ErrNoProfile
	}
	tok, err := a.mint(token.ScopeGroup)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	if err := a.Groups.Update(groupID, own.UserID, add, remove, now); err != nil {
		return err
	}

	m := proto.New(proto.TypeGroupUpdate).
		Set(proto.KeyFrom, own.UserID).
		Set(proto.KeyGroupID, groupID)
	if len(add) > 0 {
		m.Set(proto.KeyAdd, joinMembers(add))
	}
	if len(remove) > 0 {
		m.Set(proto.KeyRemove, joinMembers(remove))
	}
	m.Set(proto.KeyTimestamp, strconv.FormatInt(now, 10)).
		Set(proto.KeyToken, tok)

	recipients := append(a.Groups.Members(groupID), remove...)
	a.fanOut(m, recipients, own.UserID)
	return nil
}

// SendGroupMessage posts to a group we are a member of. The frame goes to
// every current member except ourselves.
func (a *Actions) SendGroupMessage(groupID, content string) error {
	own, ok := a.Store.OwnProfile()
	if !ok {
		return ErrNoProfile
	}
	tok, err := a.mint(token.ScopeGroup)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	if err := a.Groups.AddMessage(groupID, own.UserID, content, now); err != nil {
		return err
	}
	m := proto.New(proto.TypeGroupMessage).
		Set(proto.KeyFrom, own.UserID).
		Set(proto.KeyGroupID, groupID).
		Set(proto.KeyContent, content).
		Set(proto.KeyTimestamp, strconv.FormatInt(now, 10)).
		Set(proto.KeyToken, tok)
	a.fanOut(m, a.Groups.Members(groupID), own.UserID)
	return nil
}

// SendFile offers a file to a peer and streams its chunks. Returns the
// FILEID used on the wire.
func (a *Actions) SendFile(toUserID, path, description string) (string, error) {
	own, ok := a.Store.OwnProfile()
	if !ok {
		return "", ErrNoProfile
	}
	tok, err := a.mint(token.ScopeFile)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	chunks := file.Split(data, a.ChunkSize)
	fileID := proto.NewShortID()
	now := time.Now().Unix()
	name := filepath.Base(path)

	offer := proto.New(proto.TypeFileOffer).
		Set(proto.KeyFrom, own.UserID).
		Set(proto.KeyTo, toUserID).
		Set(proto.KeyFilename, name).
		Set(proto.KeyFilesize, strconv.Itoa(len(data))).
		Set(proto.KeyFiletype, sniffMIME(name, data)).
		Set(proto.KeyFileID, fileID).
		Set(proto.KeyDescription, description).
		Set(proto.KeyTimestamp, strconv.FormatInt(now, 10)).
		Set(proto.KeyToken, tok)
	if err := a.unicast(offer, toUserID); err != nil {
		return "", err
	}

	for i, c := range chunks {
		chunk := proto.New(proto.TypeFileChunk).
			Set(proto.KeyFrom, own.UserID).
			Set(proto.KeyTo, toUserID).
			Set(proto.KeyFileID, fileID).
			Set(proto.KeyChunkIndex, strconv.Itoa(i)).
			Set(proto.KeyTotalChunks, strconv.Itoa(len(chunks))).
			Set(proto.KeyChunkSize, strconv.Itoa(len(c))).
			Set(proto.KeyToken, tok).
			Set(proto.KeyData, encodeBase64(c))
		if err := a.unicast(chunk, toUserID); err != nil {
			return fileID, err
		}
	}
	return fileID, nil
}

// RevokeIssued broadcasts a REVOKE for every token this process minted.
// Best-effort: send failures are logged, not retried.
func (a *Actions) RevokeIssued() {
	for _, tok := range a.Issued.Snapshot() {
		m := proto.New(proto.TypeRevoke).Set(proto.KeyToken, tok)
		if err := a.broadcast(m); err != nil {
			a.Log.LogError("actions", err)
		}
	}
}

func (a *Actions) fanOut(m *proto.Message, recipients []string, except string) {
	frame := m.Craft()
	sent := make(map[string]struct{}, len(recipients))
	for _, userID := range recipients {
		if userID == except {
			continue
		}
		ip := proto.UserIP(userID)
		if ip == "" {
			continue
		}
		if _, dup := sent[ip]; dup {
			continue
		}
		sent[ip] = struct{}{}
		a.Log.LogSend(m.Type(), ip, m)
		if err := a.Net.SendTo(frame, a.Net.Addr(ip)); err != nil {
			a.Log.LogError("actions", err)
		}
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
