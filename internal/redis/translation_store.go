package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"meeshy/internal/translation"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Translation key patterns:
// - translation:{key} - the cached artifact, no expiry (translations are
//   immutable until the source message is edited)
// - translation:keys:{message_id} - set of keys cached for a message, so an
//   edit can drop them all in one pass

// TranslationStore is the durable layer under the translation cache.
type TranslationStore struct {
	client *goredis.Client
}

func NewTranslationStore(client *goredis.Client) *TranslationStore {
	return &TranslationStore{client: client}
}

func (s *TranslationStore) Get(ctx context.Context, key string) (translation.Translation, bool, error) {
	data, err := s.client.Get(ctx, "translation:"+key).Result()
	if err == goredis.Nil {
		return translation.Translation{}, false, nil
	}
	if err != nil {
		return translation.Translation{}, false, err
	}

	var t translation.Translation
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return translation.Translation{}, false, err
	}
	return t, true, nil
}

// SetNX writes the value only when the key is empty; a concurrent writer's
// value wins and is returned instead.
func (s *TranslationStore) SetNX(ctx context.Context, key string, value translation.Translation) (translation.Translation, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return translation.Translation{}, err
	}

	set, err := s.client.SetNX(ctx, "translation:"+key, data, 0).Result()
	if err != nil {
		return translation.Translation{}, err
	}
	if !set {
		existing, ok, err := s.Get(ctx, key)
		if err != nil {
			return translation.Translation{}, err
		}
		if ok {
			return existing, nil
		}
		// Raced with an invalidation; retry once.
		return s.SetNX(ctx, key, value)
	}

	indexKey := fmt.Sprintf("translation:keys:%s", value.MessageID)
	if err := s.client.SAdd(ctx, indexKey, key).Err(); err != nil {
		return translation.Translation{}, err
	}
	return value, nil
}

func (s *TranslationStore) DeleteByMessage(ctx context.Context, messageID uuid.UUID) (int64, error) {
	indexKey := fmt.Sprintf("translation:keys:%s", messageID)
	keys, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	del := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		del = append(del, "translation:"+k)
	}
	del = append(del, indexKey)
	removed, err := s.client.Del(ctx, del...).Result()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		removed-- // the index key itself
	}
	return removed, nil
}
