// Package token implements LSNP capability tokens: unsigned
// user|expiry|scope triples validated on both the send and receive path,
// plus the process-local revocation and issuance bookkeeping.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Scope is the permitted operation class of a token.
type Scope string

const (
	ScopeBroadcast Scope = "broadcast"
	ScopeChat      Scope = "chat"
	ScopeFollow    Scope = "follow"
	ScopeFile      Scope = "file"
	ScopeGame      Scope = "game"
	ScopeGroup     Scope = "group"
)

// Rejection reasons. The dispatcher logs these verbatim on the REJECT path,
// so the strings are part of the observable protocol behaviour.
var (
	ErrFormat  = errors.New("Invalid token format")
	ErrExpired = errors.New("Expired token")
	ErrScope   = errors.New("Scope mismatch")
	ErrRevoked = errors.New("Token has been revoked")
)

// Token is the parsed form of a capability token.
type Token struct {
	UserID string
	Expiry int64 // seconds since epoch
	Scope  Scope
}

// Parse splits raw into its three parts. It fails with ErrFormat when the
// part count or the expiry field is off; it does not check expiry or scope.
func Parse(raw string) (Token, error) {
	parts := strings.Split(raw, "|")
	if len(parts) != 3 {
		return Token{}, ErrFormat
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Token{}, ErrFormat
	}
	return Token{UserID: parts[0], Expiry: expiry, Scope: Scope(parts[2])}, nil
}

// Mint issues a token for userID valid for ttl from now.
func Mint(userID string, ttl time.Duration, scope Scope) string {
	return fmt.Sprintf("%s|%d|%s", userID, time.Now().Add(ttl).Unix(), scope)
}

// Validate checks raw against the required scope and the revocation list.
// A nil error means the token authorizes the operation right now.
func Validate(raw string, required Scope, revoked *RevocationList) error {
	return validateAt(raw, required, revoked, time.Now())
}

func validateAt(raw string, required Scope, revoked *RevocationList, now time.Time) error {
	t, err := Parse(raw)
	if err != nil {
		return err
	}
	if t.Expiry < now.Unix() {
		return ErrExpired
	}
	if t.Scope != required {
		return ErrScope
	}
	if revoked != nil && revoked.Contains(raw) {
		return ErrRevoked
	}
	return nil
}

// RevocationList is the process-local set of revoked token strings. It only
// grows: a token seen in a REVOKE frame stays rejected for the lifetime of
// the process.
type RevocationList struct {
	set *xsync.Map[string, struct{}]
}

func NewRevocationList() *RevocationList {
	return &RevocationList{set: xsync.NewMap[string, struct{}]()}
}

// Revoke adds raw to the set. Idempotent.
func (r *RevocationList) Revoke(raw string) {
	r.set.Store(raw, struct{}{})
}

// Contains reports whether raw has been revoked.
func (r *RevocationList) Contains(raw string) bool {
	_, ok := r.set.Load(raw)
	return ok
}

// Size returns the number of revoked tokens.
func (r *RevocationList) Size() int { return r.set.Size() }

// IssuedLog records every token this peer minted, so a clean shutdown can
// broadcast a REVOKE for each of them.
type IssuedLog struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	tokens []string
}

func NewIssuedLog() *IssuedLog {
	return &IssuedLog{seen: make(map[string]struct{})}
}

// Add appends raw unless it was already recorded. Tokens minted within the
// same second for the same scope collide on purpose.
func (l *IssuedLog) Add(raw string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[raw]; ok {
		return
	}
	l.seen[raw] = struct{}{}
	l.tokens = append(l.tokens, raw)
}

// Snapshot returns the issued tokens in mint order.
func (l *IssuedLog) Snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.tokens))
	copy(out, l.tokens)
	return out
}
