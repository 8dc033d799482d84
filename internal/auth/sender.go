package auth

import (
	"github.com/google/uuid"
)

// SenderKind tags the active variant of a SenderContext.
type SenderKind int

const (
	SenderRegistered SenderKind = iota + 1
	SenderAnonymous
)

// SenderContext identifies who is attempting to post. Exactly one variant is
// active: a registered user resolved from an access token, or an anonymous
// participant resolved from a share-link session token.
type SenderContext struct {
	Kind SenderKind

	// Registered sender
	UserID uuid.UUID

	// Anonymous sender
	SessionToken string
}

func Registered(userID uuid.UUID) SenderContext {
	return SenderContext{Kind: SenderRegistered, UserID: userID}
}

func Anonymous(sessionToken string) SenderContext {
	return SenderContext{Kind: SenderAnonymous, SessionToken: sessionToken}
}

// Key returns a stable identifier for rate limiting and logging.
func (s SenderContext) Key() string {
	if s.Kind == SenderRegistered {
		return "user:" + s.UserID.String()
	}
	return "anon:" + s.SessionToken
}

// PermissionGrant is the structured result of a successful authorization.
// The ingestion pipeline enforces its limits; the resolver only computes them.
type PermissionGrant struct {
	Sender         SenderContext
	ConversationID uuid.UUID

	CanSendMessages bool
	CanSendFiles    bool
	CanSendImages   bool

	// ContentLimit is the maximum content length in runes for this sender.
	ContentLimit int
	// AllowedAttachmentTypes whitelists attachment kinds.
	AllowedAttachmentTypes []string
	// RateLimitTokens is the per-window send budget for this sender.
	RateLimitTokens int

	// Anonymous bookkeeping, zero-valued for registered senders.
	ParticipantID uuid.NullUUID
	ShareLinkID   uuid.NullUUID
	DisplayName   string
	Language      string
}

// AllowsAttachmentType reports whether the grant whitelists the given kind.
func (g PermissionGrant) AllowsAttachmentType(kind string) bool {
	for _, t := range g.AllowedAttachmentTypes {
		if t == kind {
			return true
		}
	}
	return false
}
