package translation

import (
	"context"

	"meeshy/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache guarantees at-most-one externally visible compute per translation
// key. Concurrent callers for the same key wait on the first computation via
// singleflight; the store's SetNX keeps the first written value authoritative
// across processes.
type Cache struct {
	store Store
	group singleflight.Group
	log   *logger.Logger
}

func NewCache(store Store, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.NewNop()
	}
	return &Cache{store: store, log: log}
}

// Get is a pure lookup.
func (c *Cache) Get(ctx context.Context, messageID uuid.UUID, sourceLang, targetLang string) (Translation, bool, error) {
	return c.store.Get(ctx, Key(messageID, sourceLang, targetLang))
}

// GetOrCreate returns the cached translation for the triple, computing it at
// most once under concurrency. The bool reports whether a fresh compute ran
// for this flight (false means the value pre-existed).
func (c *Cache) GetOrCreate(ctx context.Context, messageID uuid.UUID, sourceLang, targetLang string, compute func(ctx context.Context) (Translation, error)) (Translation, bool, error) {
	key := Key(messageID, sourceLang, targetLang)

	type outcome struct {
		value    Translation
		computed bool
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		if cached, ok, err := c.store.Get(ctx, key); err != nil {
			return nil, err
		} else if ok {
			return outcome{value: cached}, nil
		}

		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		stored, err := c.store.SetNX(ctx, key, value)
		if err != nil {
			return nil, err
		}
		return outcome{value: stored, computed: stored == value}, nil
	})
	if err != nil {
		return Translation{}, false, err
	}

	out := v.(outcome)
	if shared {
		c.log.Logger.Debug("translation compute collapsed",
			zap.String("key", key),
		)
	}
	return out.value, out.computed, nil
}

// Invalidate drops every cached entry for a message. Called before
// re-dispatch when a message's content is edited.
func (c *Cache) Invalidate(ctx context.Context, messageID uuid.UUID) error {
	removed, err := c.store.DeleteByMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Logger.Debug("translation cache invalidated",
			zap.String("message_id", messageID.String()),
			zap.Int64("entries", removed),
		)
	}
	return nil
}
