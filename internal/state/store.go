// Package state holds all mutable domain state of the peer process: the
// own profile, the catalog of known peers with their posts and DMs, the
// follow graph and received likes. Every mutation goes through the Store's
// methods; readers get copies so display code never observes torn state.
package state

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/petervdpas/lsnp/internal/proto"
)

var (
	// ErrUsernameImmutable is returned when a profile update tries to
	// change the username portion of the UserId.
	ErrUsernameImmutable = errors.New("username cannot be changed after first set")

	// ErrInvalidUsername is returned for empty or malformed usernames.
	ErrInvalidUsername = errors.New("username must be non-empty without spaces, '@' or '|'")

	// ErrSelfFollow is returned when asked to follow ourselves.
	ErrSelfFollow = errors.New("cannot follow own profile")
)

type followerInfo struct {
	Since     int64
	MessageID string
}

// Store is the single process-wide state object.
type Store struct {
	localIP string

	mu        sync.RWMutex
	own       Profile
	ownSet    bool
	ownPosts  []Post
	peers     map[string]*Peer
	followers map[string]followerInfo
	following map[string]struct{}
	likes     []Like

	// seenDMs deduplicates delivered DMs by MessageId; it is read on the
	// hot receive path, hence the lock-free map.
	seenDMs *xsync.Map[string, struct{}]

	// onProfile fires outside the store lock after every successful
	// SetOwnProfile, so the caller can broadcast the new PROFILE at once.
	onProfile func(Profile)
}

func New(localIP string) *Store {
	return &Store{
		localIP:   localIP,
		peers:     make(map[string]*Peer),
		followers: make(map[string]followerInfo),
		following: make(map[string]struct{}),
		seenDMs:   xsync.NewMap[string, struct{}](),
	}
}

// LocalIP returns the IPv4 this store was created with.
func (s *Store) LocalIP() string { return s.localIP }

// OnProfileChange registers the hook invoked after SetOwnProfile.
func (s *Store) OnProfileChange(fn func(Profile)) {
	s.mu.Lock()
	s.onProfile = fn
	s.mu.Unlock()
}

// SetOwnProfile creates the own profile on first call and updates the
// mutable fields afterwards. The username portion is immutable once set.
func (s *Store) SetOwnProfile(username, displayName, status string) (Profile, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.ContainsAny(username, " @|\n") {
		return Profile{}, ErrInvalidUsername
	}

	s.mu.Lock()
	if s.ownSet {
		current, _ := proto.SplitUserID(s.own.UserID)
		if current != username {
			s.mu.Unlock()
			return Profile{}, ErrUsernameImmutable
		}
	} else {
		s.own.UserID = proto.MakeUserID(username, s.localIP)
		s.ownSet = true
	}
	s.own.DisplayName = displayName
	s.own.Status = status
	prof := s.own
	hook := s.onProfile
	s.mu.Unlock()

	if hook != nil {
		hook(prof)
	}
	return prof, nil
}

// SetOwnAvatar attaches an in-memory avatar to the own profile. Both the
// MIME type and the base64 payload must be non-empty.
func (s *Store) SetOwnAvatar(mimeType, data string) bool {
	if mimeType == "" || data == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownSet {
		return false
	}
	s.own.AvatarType = mimeType
	s.own.AvatarData = data
	return true
}

// OwnProfile returns the own profile and whether it has been set.
func (s *Store) OwnProfile() (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.own, s.ownSet
}

// IsSelf reports whether userID identifies this process.
func (s *Store) IsSelf(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownSet && s.own.UserID == userID
}

// AddOrUpdatePeer upserts a peer profile. Avatar fields only change when
// both the type and the payload were supplied.
func (s *Store) AddOrUpdatePeer(userID, displayName, status, avatarType, avatarData string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[userID]
	if !ok {
		p = newPlaceholderPeer(userID)
		s.peers[userID] = p
	}
	p.DisplayName = displayName
	p.Status = status
	if avatarType != "" && avatarData != "" {
		p.AvatarType = avatarType
		p.AvatarData = avatarData
	}
	p.LastSeen = time.Now()
}

// TouchPeer refreshes a peer's LastSeen without other changes.
func (s *Store) TouchPeer(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[userID]; ok {
		p.LastSeen = time.Now()
	}
}

// Peer returns a copy of a peer record.
func (s *Store) Peer(userID string) (Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[userID]
	if !ok {
		return Peer{}, false
	}
	return p.clone(), true
}

// Peers returns copies of all known peers, sorted by UserId.
func (s *Store) Peers() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// AddPost appends a post to a remote peer's feed, creating a placeholder
// peer if needed. Own posts never go through here (invariant: the own feed
// and peer feeds are disjoint by origin).
func (s *Store) AddPost(userID string, post Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownSet && userID == s.own.UserID {
		return
	}
	p, ok := s.peers[userID]
	if !ok {
		p = newPlaceholderPeer(userID)
		s.peers[userID] = p
	}
	p.Posts = append(p.Posts, post)
	p.LastSeen = time.Now()
}

// AddOwnPost appends to the own feed.
func (s *Store) AddOwnPost(post Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownPosts = append(s.ownPosts, post)
}

// OwnPosts returns a copy of the own feed.
func (s *Store) OwnPosts() []Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Post(nil), s.ownPosts...)
}

// AddDM appends a direct message under its source peer, creating a
// placeholder peer if needed. Duplicate MessageIds are not re-appended;
// the return value reports whether the DM was stored (false = duplicate).
func (s *Store) AddDM(fromUser string, dm DM) bool {
	if _, loaded := s.seenDMs.LoadOrStore(dm.MessageID, struct{}{}); loaded {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[fromUser]
	if !ok {
		p = newPlaceholderPeer(fromUser)
		s.peers[fromUser] = p
	}
	p.DMs = append(p.DMs, dm)
	p.LastSeen = time.Now()
	return true
}

// SeenDM reports whether a DM with this MessageId was already delivered.
func (s *Store) SeenDM(messageID string) bool {
	_, ok := s.seenDMs.Load(messageID)
	return ok
}

// AddFollower records that fromUser follows us. Re-FOLLOW is a no-op; the
// return value reports whether the follower set changed.
func (s *Store) AddFollower(fromUser, messageID string, timestamp int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.followers[fromUser]; ok {
		return false
	}
	s.followers[fromUser] = followerInfo{Since: timestamp, MessageID: messageID}
	if _, ok := s.peers[fromUser]; !ok {
		s.peers[fromUser] = newPlaceholderPeer(fromUser)
	}
	return true
}

// RemoveFollower forgets a follower. Unfollow from a non-follower is a
// no-op; the return value reports whether the set changed.
func (s *Store) RemoveFollower(fromUser string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.followers[fromUser]; !ok {
		return false
	}
	delete(s.followers, fromUser)
	return true
}

// Followers returns the UserIds that currently follow us, sorted.
func (s *Store) Followers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.followers))
	for id := range s.followers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FollowerIPs returns the IPs of our current followers, for POST fan-out.
func (s *Store) FollowerIPs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.followers))
	for id := range s.followers {
		if ip := proto.UserIP(id); ip != "" {
			out = append(out, ip)
		}
	}
	sort.Strings(out)
	return out
}

// Follow adds userID to the set of users we follow. Following oneself is
// refused to keep the graph loop-free.
func (s *Store) Follow(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownSet && userID == s.own.UserID {
		return ErrSelfFollow
	}
	s.following[userID] = struct{}{}
	if _, ok := s.peers[userID]; !ok {
		s.peers[userID] = newPlaceholderPeer(userID)
	}
	return nil
}

// Unfollow removes userID from the set of users we follow.
func (s *Store) Unfollow(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.following, userID)
}

// IsFollowing reports whether we follow userID.
func (s *Store) IsFollowing(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.following[userID]
	return ok
}

// Following returns the UserIds we follow, sorted.
func (s *Store) Following() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.following))
	for id := range s.following {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AddLike records a LIKE on one of our posts. A repeated LIKE from the
// same user on the same post is a no-op.
func (s *Store) AddLike(fromUser string, postTimestamp, timestamp int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.likes {
		if l.From == fromUser && l.PostTimestamp == postTimestamp {
			return false
		}
	}
	s.likes = append(s.likes, Like{From: fromUser, PostTimestamp: postTimestamp, Timestamp: timestamp})
	return true
}

// RemoveLike undoes a LIKE (the UNLIKE action).
func (s *Store) RemoveLike(fromUser string, postTimestamp int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.likes {
		if l.From == fromUser && l.PostTimestamp == postTimestamp {
			s.likes = append(s.likes[:i], s.likes[i+1:]...)
			return true
		}
	}
	return false
}

// Likes returns a copy of the received likes.
func (s *Store) Likes() []Like {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Like(nil), s.likes...)
}
