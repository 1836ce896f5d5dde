package state

import "time"

// Profile is an identity record: ours or a remote peer's.
type Profile struct {
	UserID      string
	DisplayName string
	Status      string
	AvatarType  string // MIME type, "" when no avatar
	AvatarData  string // base64, in memory only
}

// Post is a broadcast post as stored locally.
type Post struct {
	Content   string
	Timestamp int64
	TTL       int64
	MessageID string
	Token     string
}

// DM is a direct message as stored locally, keyed under its source peer.
type DM struct {
	Content   string
	Timestamp int64
	MessageID string
	Token     string
}

// Like records a LIKE on one of our posts, identified by the post's
// timestamp the way the wire protocol does.
type Like struct {
	From          string
	PostTimestamp int64
	Timestamp     int64
}

// Peer is everything we know about a remote peer. Peers are created on the
// first PROFILE, POST, DM or FOLLOW from that user and never destroyed.
type Peer struct {
	Profile
	Posts    []Post
	DMs      []DM
	LastSeen time.Time
}

func (p *Peer) clone() Peer {
	out := *p
	out.Posts = append([]Post(nil), p.Posts...)
	out.DMs = append([]DM(nil), p.DMs...)
	return out
}

// newPlaceholderPeer builds the record for a peer we have not yet received
// a PROFILE from. The display name falls back to the raw UserId.
func newPlaceholderPeer(userID string) *Peer {
	return &Peer{
		Profile:  Profile{UserID: userID, DisplayName: userID},
		LastSeen: time.Now(),
	}
}
