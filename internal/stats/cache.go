package stats

import (
	"context"
	"sync"
	"time"

	"meeshy/internal/events"
	"meeshy/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTTL is how long a computed aggregate stays valid.
const DefaultTTL = time.Hour

// Entry is the per-conversation aggregate snapshot.
type Entry struct {
	ConversationID          uuid.UUID            `json:"conversation_id"`
	MessagesPerLanguage     map[string]int64     `json:"messages_per_language"`
	ParticipantCount        int64                `json:"participant_count"`
	ParticipantsPerLanguage map[string]int64     `json:"participants_per_language"`
	OnlineUsers             []uuid.UUID          `json:"online_users"`
	UpdatedAt               time.Time            `json:"updated_at"`
}

// clone returns a snapshot that shares no mutable state with the cached
// entry, so callers can read it while the incremental path keeps writing.
func (e Entry) clone() Entry {
	out := e
	out.MessagesPerLanguage = copyCounts(e.MessagesPerLanguage)
	out.ParticipantsPerLanguage = copyCounts(e.ParticipantsPerLanguage)
	if e.OnlineUsers != nil {
		out.OnlineUsers = append([]uuid.UUID(nil), e.OnlineUsers...)
	}
	return out
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Source is the repository slice needed for a full recompute.
type Source interface {
	CountMessagesByLanguage(ctx context.Context, conversationID uuid.UUID) (map[string]int64, error)
	CountParticipantsByLanguage(ctx context.Context, conversationID uuid.UUID) (map[string]int64, error)
	GetParticipantCount(ctx context.Context, conversationID uuid.UUID) (int64, error)
}

// OnlineIDsProvider yields the currently connected user ids for a
// conversation (an intersection of the global online set against membership).
type OnlineIDsProvider func(ctx context.Context) ([]uuid.UUID, error)

type holder struct {
	mu        sync.Mutex
	entry     *Entry
	expiresAt time.Time
}

// Cache keeps TTL-bounded aggregates with an O(1) incremental path for new
// messages. One lock per conversation key, so unrelated conversations never
// serialize on each other.
type Cache struct {
	source Source
	events events.Publisher
	ttl    time.Duration
	clock  func() time.Time
	log    *logger.Logger

	mu      sync.Mutex
	entries map[uuid.UUID]*holder
}

func NewCache(source Source, publisher events.Publisher, ttl time.Duration, log *logger.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Cache{
		source:  source,
		events:  publisher,
		ttl:     ttl,
		clock:   time.Now,
		log:     log,
		entries: make(map[uuid.UUID]*holder),
	}
}

// WithClock substitutes the time source, for tests.
func (c *Cache) WithClock(clock func() time.Time) *Cache {
	c.clock = clock
	return c
}

func (c *Cache) holderFor(conversationID uuid.UUID) *holder {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.entries[conversationID]
	if !ok {
		h = &holder{}
		c.entries[conversationID] = h
	}
	return h
}

// GetOrCompute returns the cached entry if fresh, recomputing from the
// repository otherwise.
func (c *Cache) GetOrCompute(ctx context.Context, conversationID uuid.UUID, online OnlineIDsProvider) (Entry, error) {
	h := c.holderFor(conversationID)
	h.mu.Lock()
	defer h.mu.Unlock()

	now := c.clock()
	if h.entry != nil && now.Before(h.expiresAt) {
		return h.entry.clone(), nil
	}
	return c.recomputeLocked(ctx, conversationID, online, h)
}

// UpdateOnNewMessage patches the cached aggregate for one message arrival:
// bump the language counter and refresh the online snapshot, skipping the
// expensive repository aggregates. Falls back to a full recompute when no
// valid entry exists.
func (c *Cache) UpdateOnNewMessage(ctx context.Context, conversationID uuid.UUID, messageLanguage string, online OnlineIDsProvider) (Entry, error) {
	h := c.holderFor(conversationID)
	h.mu.Lock()
	defer h.mu.Unlock()

	now := c.clock()
	if h.entry == nil || !now.Before(h.expiresAt) {
		return c.recomputeLocked(ctx, conversationID, online, h)
	}

	h.entry.MessagesPerLanguage[messageLanguage]++
	if online != nil {
		ids, err := online(ctx)
		if err != nil {
			// Presence is best-effort; keep the previous snapshot.
			c.log.Logger.Warn("online snapshot refresh failed",
				zap.String("conversation_id", conversationID.String()),
				zap.Error(err),
			)
		} else {
			h.entry.OnlineUsers = ids
		}
	}
	h.entry.UpdatedAt = now

	entry := h.entry.clone()
	c.publishUpdated(ctx, entry)
	return entry, nil
}

// Invalidate forces the next access to fully recompute. Used after edits and
// deletes that would make the incremental counters lie.
func (c *Cache) Invalidate(conversationID uuid.UUID) {
	h := c.holderFor(conversationID)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entry = nil
	h.expiresAt = time.Time{}
}

func (c *Cache) recomputeLocked(ctx context.Context, conversationID uuid.UUID, online OnlineIDsProvider, h *holder) (Entry, error) {
	messages, err := c.source.CountMessagesByLanguage(ctx, conversationID)
	if err != nil {
		return Entry{}, err
	}
	participants, err := c.source.CountParticipantsByLanguage(ctx, conversationID)
	if err != nil {
		return Entry{}, err
	}
	count, err := c.source.GetParticipantCount(ctx, conversationID)
	if err != nil {
		return Entry{}, err
	}

	var onlineIDs []uuid.UUID
	if online != nil {
		if ids, err := online(ctx); err == nil {
			onlineIDs = ids
		}
	}

	if messages == nil {
		messages = make(map[string]int64)
	}
	if participants == nil {
		participants = make(map[string]int64)
	}

	now := c.clock()
	entry := Entry{
		ConversationID:          conversationID,
		MessagesPerLanguage:     messages,
		ParticipantCount:        count,
		ParticipantsPerLanguage: participants,
		OnlineUsers:             onlineIDs,
		UpdatedAt:               now,
	}
	h.entry = &entry
	h.expiresAt = now.Add(c.ttl)

	snapshot := entry.clone()
	c.publishUpdated(ctx, snapshot)
	return snapshot, nil
}

func (c *Cache) publishUpdated(ctx context.Context, entry Entry) {
	_ = c.events.Publish(ctx, events.EventStatsUpdated, "conversation", entry.ConversationID.String(), entry)
}
