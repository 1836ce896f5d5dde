package proto

import (
	"strings"

	"github.com/google/uuid"
)

// NewMessageID mints a fresh 16-lowercase-hex-digit message identifier.
func NewMessageID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// NewShortID mints an 8-character identifier for games and file transfers.
// Uniqueness only needs to hold per sender.
func NewShortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// MakeUserID joins a username and an IPv4 address into "username@ip".
func MakeUserID(username, ip string) string {
	return username + "@" + ip
}

// SplitUserID splits "username@ip" into its parts. The ip part is "" when
// the identifier carries no @.
func SplitUserID(userID string) (username, ip string) {
	username, ip, _ = strings.Cut(userID, "@")
	return username, ip
}

// UserIP returns the IPv4 portion of a UserId, or "" when absent.
func UserIP(userID string) string {
	_, ip := SplitUserID(userID)
	return ip
}
