package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// NewIdentity generates a stable per-connection participant identity.
// Identities are never reused across reconnects.
func NewIdentity(username string) string {
	return fmt.Sprintf("%s-%s", username, uuid.NewString()[:8])
}

// NewHeartID generates a local id for an ephemeral heart visual.
func NewHeartID() string {
	return "heart-" + uuid.NewString()
}

// NewCommentID generates a local id for a comment entry.
func NewCommentID() string {
	return "comment-" + uuid.NewString()
}
