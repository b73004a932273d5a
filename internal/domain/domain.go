package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeterministicID derives a stable SHA1-based UUID from the given parts.
// Identical inputs always produce the same ID, across processes and restarts.
func DeterministicID(parts ...string) string {
	seed := strings.Join(parts, ":")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

// CommentID derives the identifier for a comment created at the given
// instant by the given agent.
func CommentID(created time.Time, creator Agent) string {
	return DeterministicID(created.UTC().Format(time.RFC3339Nano), "comment", creator.Identifier())
}

// DelegationID derives the identifier for a delegation.
func DelegationID(delegate, creator Agent, created time.Time) string {
	return DeterministicID(delegate.Identifier(), creator.Identifier(), created.UTC().Format(time.RFC3339Nano))
}
