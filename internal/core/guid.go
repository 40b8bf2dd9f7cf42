package core

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const ShortIDLength = 8

// NewID returns a fresh uuid string for messages, reactions and attachments.
func NewID() string {
	return uuid.NewString()
}

// ShortID returns the display prefix of an id.
func ShortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) <= ShortIDLength {
		return id
	}
	return id[:ShortIDLength]
}

// MatchesIDPrefix reports whether ref names id, either in full or as a
// display prefix.
func MatchesIDPrefix(id, ref string) bool {
	ref = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ref), "#"))
	if ref == "" {
		return false
	}
	if strings.EqualFold(id, ref) {
		return true
	}
	compact := strings.ToLower(strings.ReplaceAll(id, "-", ""))
	return strings.HasPrefix(compact, strings.ReplaceAll(ref, "-", ""))
}

// InviteCodeLength is the length of a workspace invite code.
const InviteCodeLength = 10

// NewInviteCode returns a random uppercase invite code.
func NewInviteCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:InviteCodeLength]
}

// WorkspaceSlug derives a unique slug from a workspace name and its creation
// time, e.g. "Acme Corp!" -> "acme-corp-lq3k1x2a".
func WorkspaceSlug(name string, at time.Time) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	base := strings.TrimSuffix(b.String(), "-")
	suffix := strconv.FormatInt(at.UnixMilli(), 36)
	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}
