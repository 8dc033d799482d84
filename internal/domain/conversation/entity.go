package conversation

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Conversation types
const (
	TypeDirect = "DIRECT"
	TypeGroup  = "GROUP"
	TypeGlobal = "GLOBAL"
)

// Conversation represents the conversations table
type Conversation struct {
	ID            uuid.UUID
	Identifier    sql.NullString // human-readable alias, unique when set
	Type          string
	Title         sql.NullString
	CreatedBy     uuid.NullUUID
	LastMessageAt sql.NullTime
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Relationships
	Members []Member
}

// Member represents the conversation_members table
type Member struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	Role           string
	IsActive       bool
	CanSendMessage bool
	CanSendFiles   bool
	CanSendImages  bool
	JoinedAt       time.Time
	LeftAt         sql.NullTime
}

// ShareLink represents the share_links table. A link accepts new traffic only
// while IsActive, not expired, and CurrentUses < MaxUses (when set).
type ShareLink struct {
	ID                     uuid.UUID
	ConversationID         uuid.UUID
	Token                  string
	CreatedBy              uuid.UUID
	IsActive               bool
	ExpiresAt              sql.NullTime
	MaxUses                sql.NullInt32
	CurrentUses            int
	AllowAnonymousMessages bool
	AllowAnonymousFiles    bool
	AllowAnonymousImages   bool
	CreatedAt              time.Time
}

// Expired reports whether the link's expiry has passed at the given instant.
func (l ShareLink) Expired(now time.Time) bool {
	return l.ExpiresAt.Valid && !now.Before(l.ExpiresAt.Time)
}

// QuotaExhausted reports whether the link's usage quota is spent.
func (l ShareLink) QuotaExhausted() bool {
	return l.MaxUses.Valid && l.CurrentUses >= int(l.MaxUses.Int32)
}

// AnonymousParticipant represents the anonymous_participants table. Each row
// is bound to exactly one share link; its capability flags can only restrict
// the link's, never widen them.
type AnonymousParticipant struct {
	ID              uuid.UUID
	ShareLinkID     uuid.UUID
	ConversationID  uuid.UUID
	SessionToken    string
	DisplayName     string
	Language        string
	IsActive        bool
	CanSendMessages bool
	CanSendFiles    bool
	JoinedAt        time.Time
	LastActiveAt    sql.NullTime
}

func (Conversation) TableName() string {
	return "conversations"
}

func (Member) TableName() string {
	return "conversation_members"
}

func (ShareLink) TableName() string {
	return "share_links"
}

func (AnonymousParticipant) TableName() string {
	return "anonymous_participants"
}
