package message

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Message represents the messages table. Core fields are immutable after
// creation; only the edit/delete lifecycle columns are ever updated.
type Message struct {
	ID                uuid.UUID
	ConversationID    uuid.UUID
	SenderUserID      uuid.NullUUID
	SenderParticipant uuid.NullUUID
	SenderDisplayName sql.NullString
	Type              string
	Content           string
	OriginalLanguage  string
	ReplyToMsgID      uuid.NullUUID
	AttachmentCount   int
	MentionCount      int
	HasLinks          bool
	IsEdited          bool
	EditedAt          sql.NullTime
	IsDeleted         bool
	DeletedAt         sql.NullTime
	CreatedAt         time.Time
}

// IsAnonymous reports whether the message was posted through a share link.
func (m Message) IsAnonymous() bool {
	return m.SenderParticipant.Valid
}

// MessageRead represents the message_reads table
type MessageRead struct {
	MessageID uuid.UUID
	ReaderID  uuid.UUID
	ReadAt    time.Time
}

// MessageMention represents the message_mentions table
type MessageMention struct {
	MessageID uuid.UUID
	Username  string
	Offset    int
	Length    int
}

func (Message) TableName() string {
	return "messages"
}

func (MessageRead) TableName() string {
	return "message_reads"
}

func (MessageMention) TableName() string {
	return "message_mentions"
}
