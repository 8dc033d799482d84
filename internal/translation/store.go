package translation

import (
	"context"

	"github.com/google/uuid"
)

// Store is the durable key-value layer under the cache. SetNX must be atomic:
// when the key already holds a value, the stored value wins and is returned.
type Store interface {
	Get(ctx context.Context, key string) (Translation, bool, error)
	SetNX(ctx context.Context, key string, value Translation) (Translation, error)
	DeleteByMessage(ctx context.Context, messageID uuid.UUID) (int64, error)
}
