package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"meeshy/internal/auth"
	"meeshy/internal/domain/message"
	"meeshy/internal/events"
	"meeshy/internal/redis"
	"meeshy/internal/repository"
	"meeshy/internal/stats"
	"meeshy/internal/translation"
	meeshy_errors "meeshy/pkg/errors"
	"meeshy/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxAttachments = 10

var (
	mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_]{2,32})`)
	linkPattern    = regexp.MustCompile(`https?://\S+`)
)

// RateLimiter is the send-budget gate; the limit comes from the permission
// grant, not from limiter configuration.
type RateLimiter interface {
	AllowMessage(ctx context.Context, senderKey string, limit int) (*redis.RateLimitResult, error)
}

// TranslationDispatcher fans a persisted message out to the languages its
// audience requires.
type TranslationDispatcher interface {
	Dispatch(ctx context.Context, msg message.Message) (translation.DispatchSummary, error)
}

// TranslationInvalidator drops cached translations for a message.
type TranslationInvalidator interface {
	Invalidate(ctx context.Context, messageID uuid.UUID) error
}

// PresenceSource intersects the online set against a member list.
type PresenceSource interface {
	OnlineAmong(ctx context.Context, memberIDs []uuid.UUID) ([]uuid.UUID, error)
}

// MessageService is the ingestion pipeline: validate, authorize, persist,
// then fan out translation and stats work without blocking the caller.
type MessageService struct {
	msgRepo      repository.MessageRepository
	convRepo     repository.ConversationRepository
	resolver     *auth.Resolver
	limiter      RateLimiter
	dispatcher   TranslationDispatcher
	translations TranslationInvalidator
	stats        *stats.Cache
	presence     PresenceSource
	events       events.Publisher
	detector     translation.Detector
	fallbackLang string
	log          *logger.Logger
}

func NewMessageService(
	msgRepo repository.MessageRepository,
	convRepo repository.ConversationRepository,
	resolver *auth.Resolver,
	limiter RateLimiter,
	dispatcher TranslationDispatcher,
	translations TranslationInvalidator,
	statsCache *stats.Cache,
	presence PresenceSource,
	publisher events.Publisher,
	detector translation.Detector,
	fallbackLang string,
	log *logger.Logger,
) *MessageService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if fallbackLang == "" {
		fallbackLang = "en"
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &MessageService{
		msgRepo:      msgRepo,
		convRepo:     convRepo,
		resolver:     resolver,
		limiter:      limiter,
		dispatcher:   dispatcher,
		translations: translations,
		stats:        statsCache,
		presence:     presence,
		events:       publisher,
		detector:     detector,
		fallbackLang: fallbackLang,
		log:          log,
	}
}

// AttachmentInput describes one attachment accompanying a message. Payload
// storage is handled elsewhere; the pipeline validates shape only.
type AttachmentInput struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
}

// IngestRequest is the raw inbound message submission.
type IngestRequest struct {
	ConversationID   string            `json:"conversation_id"` // stable id or alias
	Content          string            `json:"content"`
	OriginalLanguage string            `json:"original_language,omitempty"`
	Type             string            `json:"type,omitempty"`
	ReplyToID        string            `json:"reply_to_id,omitempty"`
	Attachments      []AttachmentInput `json:"attachments,omitempty"`
	DisplayName      string            `json:"display_name,omitempty"` // required for anonymous senders
}

// Timings is the per-step processing breakdown returned with each result.
type Timings struct {
	ValidateMs  int64 `json:"validate_ms"`
	AuthorizeMs int64 `json:"authorize_ms"`
	PersistMs   int64 `json:"persist_ms"`
	TotalMs     int64 `json:"total_ms"`
}

// IngestResult carries the persisted message and derived metadata.
type IngestResult struct {
	Message        message.Message `json:"message"`
	Mentions       []string        `json:"mentions,omitempty"`
	HasLinks       bool            `json:"has_links"`
	DispatchStatus string          `json:"dispatch_status"`
	Timings        Timings         `json:"timings"`
	RequestID      string          `json:"request_id"`
}

// Ingest runs the pipeline for one inbound message. Persistence success is
// the only hard success criterion: translation and stats failures are logged
// and independently recoverable, never rolled back.
func (s *MessageService) Ingest(ctx context.Context, req IngestRequest, sender auth.SenderContext) (IngestResult, error) {
	start := time.Now()
	requestID := requestIDFromContext(ctx)
	var timings Timings

	// Structural validation.
	if err := s.validateShape(req, sender); err != nil {
		return IngestResult{RequestID: requestID}, err
	}
	timings.ValidateMs = time.Since(start).Milliseconds()

	// Conversation resolution: alias or stable id.
	conversationID, err := s.resolveConversation(ctx, req.ConversationID)
	if err != nil {
		return IngestResult{RequestID: requestID}, err
	}

	// Authorization; denials propagate verbatim.
	authStart := time.Now()
	grant, err := s.resolver.Resolve(ctx, sender, conversationID)
	if err != nil {
		return IngestResult{RequestID: requestID}, err
	}
	if err := s.enforceGrant(req, grant); err != nil {
		return IngestResult{RequestID: requestID}, err
	}
	if s.limiter != nil {
		res, err := s.limiter.AllowMessage(ctx, sender.Key(), grant.RateLimitTokens)
		if err != nil {
			return IngestResult{RequestID: requestID}, &meeshy_errors.ResolverFault{Op: "rate limit", Err: err}
		}
		if !res.Allowed {
			return IngestResult{RequestID: requestID}, meeshy_errors.ErrRateLimited
		}
	}
	timings.AuthorizeMs = time.Since(authStart).Milliseconds()

	// Language resolution never fails ingestion.
	lang := s.resolveLanguage(req)

	msg, err := s.buildMessage(req, grant, lang)
	if err != nil {
		return IngestResult{RequestID: requestID}, err
	}

	persistStart := time.Now()
	if err := s.persist(ctx, &msg, grant); err != nil {
		return IngestResult{RequestID: requestID}, err
	}
	timings.PersistMs = time.Since(persistStart).Milliseconds()

	_ = s.events.Publish(ctx, events.EventMessagePersisted, "conversation", msg.ConversationID.String(), msg)

	// Side effects run detached from the request lifetime but are awaited and
	// logged individually inside the goroutine.
	s.fanOut(context.WithoutCancel(ctx), msg)

	mentions := extractMentions(msg.Content)
	timings.TotalMs = time.Since(start).Milliseconds()

	return IngestResult{
		Message:        msg,
		Mentions:       mentions,
		HasLinks:       msg.HasLinks,
		DispatchStatus: "queued",
		Timings:        timings,
		RequestID:      requestID,
	}, nil
}

// EditMessage replaces a message's content, invalidating every cached
// translation and the conversation aggregates before re-dispatch so no stale
// artifact survives the edit.
func (s *MessageService) EditMessage(ctx context.Context, messageID uuid.UUID, newContent string, editor auth.SenderContext) (IngestResult, error) {
	requestID := requestIDFromContext(ctx)

	if newContent == "" {
		return IngestResult{RequestID: requestID}, fmt.Errorf("%w: content must not be empty", meeshy_errors.ErrInvalidInput)
	}

	msg, err := s.msgRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, meeshy_errors.ErrNotFound) {
			return IngestResult{RequestID: requestID}, meeshy_errors.ErrNotFound
		}
		return IngestResult{RequestID: requestID}, &meeshy_errors.RepositoryFault{Op: "message lookup", Err: err}
	}
	if msg.IsDeleted {
		return IngestResult{RequestID: requestID}, meeshy_errors.ErrNotFound
	}

	grant, err := s.resolver.Resolve(ctx, editor, msg.ConversationID)
	if err != nil {
		return IngestResult{RequestID: requestID}, err
	}
	if !s.isAuthor(msg, editor, grant) {
		return IngestResult{RequestID: requestID}, meeshy_errors.ErrForbidden
	}
	if utf8.RuneCountInString(newContent) > grant.ContentLimit {
		return IngestResult{RequestID: requestID}, fmt.Errorf("%w: content exceeds %d characters", meeshy_errors.ErrInvalidInput, grant.ContentLimit)
	}

	lang := s.resolveLanguage(IngestRequest{Content: newContent})
	editedAt := time.Now()
	if err := s.msgRepo.UpdateContent(ctx, messageID, newContent, lang, editedAt); err != nil {
		return IngestResult{RequestID: requestID}, &meeshy_errors.RepositoryFault{Op: "message update", Err: err}
	}

	msg.Content = newContent
	msg.OriginalLanguage = lang
	msg.IsEdited = true
	msg.EditedAt = sql.NullTime{Time: editedAt, Valid: true}
	msg.HasLinks = linkPattern.MatchString(newContent)

	// Invalidate before re-dispatch: stale translations of the previous
	// content must never be served, and the incremental stats counters no
	// longer add up once a language can change under them.
	if s.translations != nil {
		if err := s.translations.Invalidate(ctx, messageID); err != nil {
			s.log.Logger.Error("translation invalidation failed",
				zap.String("message_id", messageID.String()),
				zap.Error(err),
			)
		}
	}
	if s.stats != nil {
		s.stats.Invalidate(msg.ConversationID)
	}

	_ = s.events.Publish(ctx, events.EventMessagePersisted, "conversation", msg.ConversationID.String(), msg)
	s.fanOut(context.WithoutCancel(ctx), msg)

	return IngestResult{
		Message:        msg,
		Mentions:       extractMentions(newContent),
		HasLinks:       msg.HasLinks,
		DispatchStatus: "queued",
		RequestID:      requestID,
	}, nil
}

// DeleteMessage soft-deletes; the row is never physically removed.
func (s *MessageService) DeleteMessage(ctx context.Context, messageID uuid.UUID, editor auth.SenderContext) error {
	msg, err := s.msgRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	grant, err := s.resolver.Resolve(ctx, editor, msg.ConversationID)
	if err != nil {
		return err
	}
	if !s.isAuthor(msg, editor, grant) {
		return meeshy_errors.ErrForbidden
	}

	if err := s.msgRepo.SoftDelete(ctx, messageID, time.Now()); err != nil {
		return &meeshy_errors.RepositoryFault{Op: "message delete", Err: err}
	}

	if s.translations != nil {
		if err := s.translations.Invalidate(ctx, messageID); err != nil {
			s.log.Logger.Error("translation invalidation failed",
				zap.String("message_id", messageID.String()),
				zap.Error(err),
			)
		}
	}
	if s.stats != nil {
		s.stats.Invalidate(msg.ConversationID)
	}
	return nil
}

// GetStats returns the conversation aggregate for an authorized sender,
// computing it when the cached entry has expired. Aggregates expose member
// presence, so the sender must resolve against the conversation first.
func (s *MessageService) GetStats(ctx context.Context, sender auth.SenderContext, conversationID uuid.UUID) (stats.Entry, error) {
	if _, err := s.resolver.Resolve(ctx, sender, conversationID); err != nil {
		return stats.Entry{}, err
	}
	if s.stats == nil {
		return stats.Entry{}, meeshy_errors.ErrServiceUnavailable
	}
	return s.stats.GetOrCompute(ctx, conversationID, s.onlineProvider(conversationID))
}

// GetConversationMessages pages a conversation's history for an authorized
// sender.
func (s *MessageService) GetConversationMessages(ctx context.Context, sender auth.SenderContext, conversationID uuid.UUID, before time.Time, limit int) ([]message.Message, error) {
	if _, err := s.resolver.Resolve(ctx, sender, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.msgRepo.GetConversationMessages(ctx, conversationID, before, limit)
}

func (s *MessageService) validateShape(req IngestRequest, sender auth.SenderContext) error {
	if req.Content == "" && len(req.Attachments) == 0 {
		return fmt.Errorf("%w: content must not be empty without attachments", meeshy_errors.ErrInvalidInput)
	}
	if len(req.Attachments) > maxAttachments {
		return fmt.Errorf("%w: at most %d attachments", meeshy_errors.ErrInvalidInput, maxAttachments)
	}
	if sender.Kind == auth.SenderAnonymous && req.DisplayName == "" {
		return fmt.Errorf("%w: display name required for anonymous senders", meeshy_errors.ErrInvalidInput)
	}
	if req.ConversationID == "" {
		return fmt.Errorf("%w: conversation id required", meeshy_errors.ErrInvalidInput)
	}
	return nil
}

func (s *MessageService) resolveConversation(ctx context.Context, identifier string) (uuid.UUID, error) {
	if id, err := uuid.Parse(identifier); err == nil {
		return id, nil
	}
	id, err := s.convRepo.ResolveIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, meeshy_errors.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("%w: conversation not found", meeshy_errors.ErrNotFound)
		}
		return uuid.Nil, &meeshy_errors.ResolverFault{Op: "alias resolution", Err: err}
	}
	return id, nil
}

func (s *MessageService) enforceGrant(req IngestRequest, grant auth.PermissionGrant) error {
	if utf8.RuneCountInString(req.Content) > grant.ContentLimit {
		return fmt.Errorf("%w: content exceeds %d characters", meeshy_errors.ErrInvalidInput, grant.ContentLimit)
	}
	for _, a := range req.Attachments {
		if !grant.AllowsAttachmentType(a.Type) {
			return fmt.Errorf("%w: attachment type %q not allowed", meeshy_errors.ErrInvalidInput, a.Type)
		}
	}
	return nil
}

func (s *MessageService) resolveLanguage(req IngestRequest) string {
	if req.OriginalLanguage != "" {
		return req.OriginalLanguage
	}
	if s.detector != nil {
		if lang, err := s.detector.Detect(req.Content); err == nil {
			return lang
		}
	}
	return s.fallbackLang
}

func (s *MessageService) buildMessage(req IngestRequest, grant auth.PermissionGrant, lang string) (message.Message, error) {
	msgType := req.Type
	if msgType == "" {
		msgType = "TEXT"
	}

	msg := message.Message{
		ID:               uuid.New(),
		ConversationID:   grant.ConversationID,
		Type:             msgType,
		Content:          req.Content,
		OriginalLanguage: lang,
		AttachmentCount:  len(req.Attachments),
		HasLinks:         linkPattern.MatchString(req.Content),
		CreatedAt:        time.Now(),
	}

	if req.ReplyToID != "" {
		replyTo, err := uuid.Parse(req.ReplyToID)
		if err != nil {
			return message.Message{}, fmt.Errorf("%w: invalid reply_to_id", meeshy_errors.ErrInvalidInput)
		}
		msg.ReplyToMsgID = uuid.NullUUID{UUID: replyTo, Valid: true}
	}

	switch grant.Sender.Kind {
	case auth.SenderRegistered:
		msg.SenderUserID = uuid.NullUUID{UUID: grant.Sender.UserID, Valid: true}
	case auth.SenderAnonymous:
		msg.SenderParticipant = grant.ParticipantID
		name := grant.DisplayName
		if name == "" {
			name = req.DisplayName
		}
		msg.SenderDisplayName = sql.NullString{String: name, Valid: true}
	}

	return msg, nil
}

func (s *MessageService) persist(ctx context.Context, msg *message.Message, grant auth.PermissionGrant) error {
	// The row carries its mention count from the start; mention rows are
	// detail records persisted after it.
	mentionRows := extractMentionRows(msg)
	msg.MentionCount = len(mentionRows)

	if err := s.msgRepo.Create(ctx, msg); err != nil {
		return &meeshy_errors.RepositoryFault{Op: "message create", Err: err}
	}

	if err := s.convRepo.TouchLastMessage(ctx, msg.ConversationID, msg.CreatedAt); err != nil {
		s.log.Logger.Warn("last message touch failed",
			zap.String("conversation_id", msg.ConversationID.String()),
			zap.Error(err),
		)
	}

	// The sender has read their own message by definition.
	readerID := grant.Sender.UserID
	if grant.Sender.Kind == auth.SenderAnonymous && grant.ParticipantID.Valid {
		readerID = grant.ParticipantID.UUID
	}
	if err := s.msgRepo.MarkAsRead(ctx, msg.ID, readerID); err != nil {
		s.log.Logger.Warn("self read mark failed",
			zap.String("message_id", msg.ID.String()),
			zap.Error(err),
		)
	}

	for i := range mentionRows {
		if err := s.msgRepo.AddMention(ctx, &mentionRows[i]); err != nil {
			s.log.Logger.Warn("mention persist failed",
				zap.String("message_id", msg.ID.String()),
				zap.Error(err),
			)
		}
	}

	// Each successful anonymous send consumes one share-link use. Denied
	// sends must never increment the counter.
	if grant.Sender.Kind == auth.SenderAnonymous && grant.ShareLinkID.Valid {
		if err := s.convRepo.IncrementShareLinkUses(ctx, grant.ShareLinkID.UUID); err != nil {
			s.log.Logger.Warn("share link usage increment failed",
				zap.String("share_link_id", grant.ShareLinkID.UUID.String()),
				zap.Error(err),
			)
		}
		if grant.ParticipantID.Valid {
			if err := s.convRepo.TouchAnonymousParticipant(ctx, grant.ParticipantID.UUID, msg.CreatedAt); err != nil {
				s.log.Logger.Warn("participant activity touch failed",
					zap.String("participant_id", grant.ParticipantID.UUID.String()),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// fanOut submits translation dispatch and the incremental stats update. Both
// run after persistence, are independent of each other, and never fail the
// parent call.
func (s *MessageService) fanOut(ctx context.Context, msg message.Message) {
	go func() {
		if s.dispatcher != nil {
			if summary, err := s.dispatcher.Dispatch(ctx, msg); err != nil {
				s.log.Logger.Error("translation dispatch failed",
					zap.String("message_id", msg.ID.String()),
					zap.Error(err),
				)
			} else if summary.Failed() > 0 {
				s.log.Logger.Warn("translation dispatch degraded",
					zap.String("message_id", msg.ID.String()),
					zap.Int("fallbacks", summary.Failed()),
				)
			}
		}

		if s.stats != nil {
			if _, err := s.stats.UpdateOnNewMessage(ctx, msg.ConversationID, msg.OriginalLanguage, s.onlineProvider(msg.ConversationID)); err != nil {
				s.log.Logger.Error("stats update failed",
					zap.String("conversation_id", msg.ConversationID.String()),
					zap.Error(err),
				)
			}
		}
	}()
}

func (s *MessageService) onlineProvider(conversationID uuid.UUID) stats.OnlineIDsProvider {
	return func(ctx context.Context) ([]uuid.UUID, error) {
		if s.presence == nil {
			return nil, nil
		}
		memberIDs, err := s.convRepo.GetMemberUserIDs(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		return s.presence.OnlineAmong(ctx, memberIDs)
	}
}

func (s *MessageService) isAuthor(msg message.Message, editor auth.SenderContext, grant auth.PermissionGrant) bool {
	switch editor.Kind {
	case auth.SenderRegistered:
		return msg.SenderUserID.Valid && msg.SenderUserID.UUID == editor.UserID
	case auth.SenderAnonymous:
		return msg.SenderParticipant.Valid && grant.ParticipantID.Valid &&
			msg.SenderParticipant.UUID == grant.ParticipantID.UUID
	}
	return false
}

func extractMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var names []string
	for _, m := range matches {
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

func extractMentionRows(msg *message.Message) []message.MessageMention {
	locs := mentionPattern.FindAllStringSubmatchIndex(msg.Content, -1)
	var rows []message.MessageMention
	for _, loc := range locs {
		rows = append(rows, message.MessageMention{
			MessageID: msg.ID,
			Username:  msg.Content[loc[2]:loc[3]],
			Offset:    loc[0],
			Length:    loc[1] - loc[0],
		})
	}
	return rows
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(logger.RequestIdKey).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
