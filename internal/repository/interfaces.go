package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"meeshy/internal/domain/conversation"
	"meeshy/internal/domain/message"
	"meeshy/internal/domain/user"
)

type ConversationRepository interface {
	Create(ctx context.Context, c *conversation.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error)
	ResolveIdentifier(ctx context.Context, identifier string) (uuid.UUID, error)
	TouchLastMessage(ctx context.Context, id uuid.UUID, at time.Time) error

	AddMember(ctx context.Context, m *conversation.Member) error
	GetMember(ctx context.Context, conversationID, userID uuid.UUID) (conversation.Member, error)
	GetActiveMembers(ctx context.Context, conversationID uuid.UUID) ([]conversation.Member, error)
	GetMemberUserIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)

	CreateShareLink(ctx context.Context, l *conversation.ShareLink) error
	GetShareLinkByID(ctx context.Context, id uuid.UUID) (conversation.ShareLink, error)
	GetShareLinkByToken(ctx context.Context, token string) (conversation.ShareLink, error)
	IncrementShareLinkUses(ctx context.Context, id uuid.UUID) error

	CreateAnonymousParticipant(ctx context.Context, p *conversation.AnonymousParticipant) error
	GetAnonymousParticipant(ctx context.Context, sessionToken string, conversationID uuid.UUID) (conversation.AnonymousParticipant, conversation.ShareLink, error)
	TouchAnonymousParticipant(ctx context.Context, id uuid.UUID, at time.Time) error

	CountParticipantsByLanguage(ctx context.Context, conversationID uuid.UUID) (map[string]int64, error)
	GetParticipantCount(ctx context.Context, conversationID uuid.UUID) (int64, error)
}

type MessageRepository interface {
	Create(ctx context.Context, m *message.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	UpdateContent(ctx context.Context, id uuid.UUID, content, originalLanguage string, editedAt time.Time) error
	SoftDelete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error

	GetConversationMessages(ctx context.Context, conversationID uuid.UUID, before time.Time, limit int) ([]message.Message, error)
	MarkAsRead(ctx context.Context, messageID, readerID uuid.UUID) error
	AddMention(ctx context.Context, m *message.MessageMention) error

	CountMessagesByLanguage(ctx context.Context, conversationID uuid.UUID) (map[string]int64, error)
}

type UserRepository interface {
	Create(ctx context.Context, u *user.User) error
	GetByID(ctx context.Context, id uuid.UUID) (user.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]user.User, error)
	GetActiveUsers(ctx context.Context) ([]user.User, error)
	UpdateLastSeen(ctx context.Context, userID uuid.UUID, lastSeen time.Time) error
}
