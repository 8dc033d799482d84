package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"meeshy/internal/domain/message"
	meeshy_errors "meeshy/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *message.Message) error {
	res := r.db.WithContext(ctx).Create(m)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return meeshy_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, meeshy_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

func (r *PostgresMessageRepository) UpdateContent(ctx context.Context, id uuid.UUID, content, originalLanguage string, editedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ? AND is_deleted = false", id).
		Updates(map[string]interface{}{
			"content":           content,
			"original_language": originalLanguage,
			"is_edited":         true,
			"edited_at":         sql.NullTime{Time: editedAt, Valid: true},
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return meeshy_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) SoftDelete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ? AND is_deleted = false", id).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"deleted_at": sql.NullTime{Time: deletedAt, Valid: true},
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return meeshy_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) GetConversationMessages(ctx context.Context, conversationID uuid.UUID, before time.Time, limit int) ([]message.Message, error) {
	var messages []message.Message
	q := r.db.WithContext(ctx).
		Where("conversation_id = ? AND is_deleted = false", conversationID)

	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}

	err := q.Order("created_at DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *PostgresMessageRepository) MarkAsRead(ctx context.Context, messageID, readerID uuid.UUID) error {
	read := message.MessageRead{
		MessageID: messageID,
		ReaderID:  readerID,
		ReadAt:    time.Now(),
	}
	res := r.db.WithContext(ctx).Create(&read)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return nil // already read
		}
		return res.Error
	}
	return nil
}

func (r *PostgresMessageRepository) AddMention(ctx context.Context, m *message.MessageMention) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *PostgresMessageRepository) CountMessagesByLanguage(ctx context.Context, conversationID uuid.UUID) (map[string]int64, error) {
	type row struct {
		OriginalLanguage string
		Count            int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Select("original_language, COUNT(*) as count").
		Where("conversation_id = ? AND is_deleted = false", conversationID).
		Group("original_language").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.OriginalLanguage] = r.Count
	}
	return counts, nil
}
