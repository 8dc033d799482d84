package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"meeshy/internal/domain/conversation"
	meeshy_errors "meeshy/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &PostgresConversationRepository{db: db}
}

func (r *PostgresConversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	res := r.db.WithContext(ctx).Create(c)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return meeshy_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return conversation.Conversation{}, meeshy_errors.ErrNotFound
		}
		return conversation.Conversation{}, err
	}
	return c, nil
}

// ResolveIdentifier maps a human-readable alias to the conversation's stable
// id. Pure lookup, no side effects.
func (r *PostgresConversationRepository) ResolveIdentifier(ctx context.Context, identifier string) (uuid.UUID, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).
		Select("id").
		Where("identifier = ?", identifier).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, meeshy_errors.ErrNotFound
		}
		return uuid.Nil, err
	}
	return c.ID, nil
}

func (r *PostgresConversationRepository) TouchLastMessage(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_message_at": sql.NullTime{Time: at, Valid: true},
			"updated_at":      at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return meeshy_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresConversationRepository) AddMember(ctx context.Context, m *conversation.Member) error {
	res := r.db.WithContext(ctx).Create(m)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return meeshy_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresConversationRepository) GetMember(ctx context.Context, conversationID, userID uuid.UUID) (conversation.Member, error) {
	var m conversation.Member
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return conversation.Member{}, meeshy_errors.ErrNotFound
		}
		return conversation.Member{}, err
	}
	return m, nil
}

func (r *PostgresConversationRepository) GetActiveMembers(ctx context.Context, conversationID uuid.UUID) ([]conversation.Member, error) {
	var members []conversation.Member
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND is_active = true", conversationID).
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *PostgresConversationRepository) GetMemberUserIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&conversation.Member{}).
		Where("conversation_id = ? AND is_active = true", conversationID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresConversationRepository) CreateShareLink(ctx context.Context, l *conversation.ShareLink) error {
	res := r.db.WithContext(ctx).Create(l)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return meeshy_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresConversationRepository) GetShareLinkByID(ctx context.Context, id uuid.UUID) (conversation.ShareLink, error) {
	var l conversation.ShareLink
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&l).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return conversation.ShareLink{}, meeshy_errors.ErrNotFound
		}
		return conversation.ShareLink{}, err
	}
	return l, nil
}

func (r *PostgresConversationRepository) GetShareLinkByToken(ctx context.Context, token string) (conversation.ShareLink, error) {
	var l conversation.ShareLink
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&l).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return conversation.ShareLink{}, meeshy_errors.ErrNotFound
		}
		return conversation.ShareLink{}, err
	}
	return l, nil
}

// IncrementShareLinkUses bumps current_uses atomically, guarded against
// overshooting max_uses under concurrent joins.
func (r *PostgresConversationRepository) IncrementShareLinkUses(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.ShareLink{}).
		Where("id = ? AND (max_uses IS NULL OR current_uses < max_uses)", id).
		Update("current_uses", gorm.Expr("current_uses + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return meeshy_errors.ErrConflict
	}
	return nil
}

func (r *PostgresConversationRepository) CreateAnonymousParticipant(ctx context.Context, p *conversation.AnonymousParticipant) error {
	res := r.db.WithContext(ctx).Create(p)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return meeshy_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresConversationRepository) GetAnonymousParticipant(ctx context.Context, sessionToken string, conversationID uuid.UUID) (conversation.AnonymousParticipant, conversation.ShareLink, error) {
	var p conversation.AnonymousParticipant
	err := r.db.WithContext(ctx).
		Where("session_token = ? AND conversation_id = ?", sessionToken, conversationID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return conversation.AnonymousParticipant{}, conversation.ShareLink{}, meeshy_errors.ErrNotFound
		}
		return conversation.AnonymousParticipant{}, conversation.ShareLink{}, err
	}

	link, err := r.GetShareLinkByID(ctx, p.ShareLinkID)
	if err != nil {
		return conversation.AnonymousParticipant{}, conversation.ShareLink{}, err
	}
	return p, link, nil
}

func (r *PostgresConversationRepository) TouchAnonymousParticipant(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&conversation.AnonymousParticipant{}).
		Where("id = ?", id).
		Update("last_active_at", sql.NullTime{Time: at, Valid: true}).Error
}

// CountParticipantsByLanguage aggregates member system languages and
// anonymous participant languages in one map.
func (r *PostgresConversationRepository) CountParticipantsByLanguage(ctx context.Context, conversationID uuid.UUID) (map[string]int64, error) {
	type row struct {
		Language string
		Count    int64
	}

	var memberRows []row
	err := r.db.WithContext(ctx).
		Table("conversation_members").
		Select("users.system_language as language, COUNT(*) as count").
		Joins("JOIN users ON users.id = conversation_members.user_id").
		Where("conversation_members.conversation_id = ? AND conversation_members.is_active = true", conversationID).
		Group("users.system_language").
		Scan(&memberRows).Error
	if err != nil {
		return nil, err
	}

	var anonRows []row
	err = r.db.WithContext(ctx).
		Model(&conversation.AnonymousParticipant{}).
		Select("language, COUNT(*) as count").
		Where("conversation_id = ? AND is_active = true", conversationID).
		Group("language").
		Scan(&anonRows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(memberRows)+len(anonRows))
	for _, r := range memberRows {
		counts[r.Language] += r.Count
	}
	for _, r := range anonRows {
		counts[r.Language] += r.Count
	}
	return counts, nil
}

func (r *PostgresConversationRepository) GetParticipantCount(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	var memberCount int64
	err := r.db.WithContext(ctx).
		Model(&conversation.Member{}).
		Where("conversation_id = ? AND is_active = true", conversationID).
		Count(&memberCount).Error
	if err != nil {
		return 0, err
	}

	var anonCount int64
	err = r.db.WithContext(ctx).
		Model(&conversation.AnonymousParticipant{}).
		Where("conversation_id = ? AND is_active = true", conversationID).
		Count(&anonCount).Error
	if err != nil {
		return 0, err
	}
	return memberCount + anonCount, nil
}
