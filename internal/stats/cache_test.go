package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu         sync.Mutex
	messages   map[string]int64
	langs      map[string]int64
	count      int64
	recomputes int
}

func (f *fakeSource) CountMessagesByLanguage(ctx context.Context, conversationID uuid.UUID) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recomputes++
	out := make(map[string]int64, len(f.messages))
	for k, v := range f.messages {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSource) CountParticipantsByLanguage(ctx context.Context, conversationID uuid.UUID) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.langs))
	for k, v := range f.langs {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSource) GetParticipantCount(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, nil
}

func (f *fakeSource) recomputeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recomputes
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(source *fakeSource) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewCache(source, nil, DefaultTTL, nil).WithClock(clock.Now)
	return cache, clock
}

func TestGetOrComputeCachesUntilTTL(t *testing.T) {
	source := &fakeSource{
		messages: map[string]int64{"en": 10, "fr": 3},
		langs:    map[string]int64{"en": 2, "fr": 1},
		count:    3,
	}
	cache, clock := newTestCache(source)
	convID := uuid.New()

	entry, err := cache.GetOrCompute(context.Background(), convID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), entry.MessagesPerLanguage["en"])
	assert.Equal(t, int64(3), entry.ParticipantCount)
	assert.Equal(t, 1, source.recomputeCount())

	// Fresh entry, no second recompute.
	_, err = cache.GetOrCompute(context.Background(), convID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, source.recomputeCount())

	clock.Advance(DefaultTTL + time.Second)
	_, err = cache.GetOrCompute(context.Background(), convID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, source.recomputeCount())
}

func TestUpdateOnNewMessageBumpsIncrementally(t *testing.T) {
	source := &fakeSource{
		messages: map[string]int64{"en": 5},
		langs:    map[string]int64{"en": 1},
		count:    1,
	}
	cache, _ := newTestCache(source)
	convID := uuid.New()

	_, err := cache.GetOrCompute(context.Background(), convID, nil)
	require.NoError(t, err)
	require.Equal(t, 1, source.recomputeCount())

	// N incremental arrivals keep the counter exact without recomputing.
	for i := 0; i < 4; i++ {
		_, err = cache.UpdateOnNewMessage(context.Background(), convID, "en", nil)
		require.NoError(t, err)
	}
	entry, err := cache.UpdateOnNewMessage(context.Background(), convID, "de", nil)
	require.NoError(t, err)

	assert.Equal(t, int64(9), entry.MessagesPerLanguage["en"])
	assert.Equal(t, int64(1), entry.MessagesPerLanguage["de"])
	assert.Equal(t, 1, source.recomputeCount())
}

func TestUpdateOnNewMessageRecomputesWhenStale(t *testing.T) {
	source := &fakeSource{messages: map[string]int64{"en": 5}}
	cache, clock := newTestCache(source)
	convID := uuid.New()

	_, err := cache.GetOrCompute(context.Background(), convID, nil)
	require.NoError(t, err)

	clock.Advance(DefaultTTL + time.Second)
	_, err = cache.UpdateOnNewMessage(context.Background(), convID, "en", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, source.recomputeCount())
}

func TestUpdateOnNewMessageWithoutEntryComputesFirst(t *testing.T) {
	source := &fakeSource{messages: map[string]int64{"en": 7}}
	cache, _ := newTestCache(source)

	entry, err := cache.UpdateOnNewMessage(context.Background(), uuid.New(), "en", nil)
	require.NoError(t, err)
	// The recompute already includes the new message.
	assert.Equal(t, int64(7), entry.MessagesPerLanguage["en"])
	assert.Equal(t, 1, source.recomputeCount())
}

func TestUpdateOnNewMessageRefreshesOnlineSnapshot(t *testing.T) {
	source := &fakeSource{messages: map[string]int64{}}
	cache, _ := newTestCache(source)
	convID := uuid.New()

	onlineNow := []uuid.UUID{uuid.New(), uuid.New()}
	entry, err := cache.UpdateOnNewMessage(context.Background(), convID, "en", func(ctx context.Context) ([]uuid.UUID, error) {
		return onlineNow, nil
	})
	require.NoError(t, err)
	assert.Equal(t, onlineNow, entry.OnlineUsers)

	// Presence failures keep the previous snapshot instead of erroring.
	entry, err = cache.UpdateOnNewMessage(context.Background(), convID, "en", func(ctx context.Context) ([]uuid.UUID, error) {
		return nil, assert.AnError
	})
	require.NoError(t, err)
	assert.Equal(t, onlineNow, entry.OnlineUsers)
}

func TestInvalidateForcesRecompute(t *testing.T) {
	source := &fakeSource{messages: map[string]int64{"en": 5}}
	cache, _ := newTestCache(source)
	convID := uuid.New()

	_, err := cache.GetOrCompute(context.Background(), convID, nil)
	require.NoError(t, err)
	require.Equal(t, 1, source.recomputeCount())

	// An edit changed a message's language; counters can no longer be patched.
	source.mu.Lock()
	source.messages = map[string]int64{"en": 4, "fr": 1}
	source.mu.Unlock()
	cache.Invalidate(convID)

	entry, err := cache.GetOrCompute(context.Background(), convID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, source.recomputeCount())
	assert.Equal(t, int64(4), entry.MessagesPerLanguage["en"])
	assert.Equal(t, int64(1), entry.MessagesPerLanguage["fr"])
}

func TestSnapshotsDoNotAliasCachedState(t *testing.T) {
	source := &fakeSource{
		messages: map[string]int64{"en": 1},
		langs:    map[string]int64{"en": 1},
	}
	cache, _ := newTestCache(source)
	convID := uuid.New()

	snap, err := cache.GetOrCompute(context.Background(), convID, func(ctx context.Context) ([]uuid.UUID, error) {
		return []uuid.UUID{uuid.New()}, nil
	})
	require.NoError(t, err)

	// Mutating a returned snapshot must not reach the cached entry.
	snap.MessagesPerLanguage["en"] = 99
	snap.ParticipantsPerLanguage["en"] = 99
	snap.OnlineUsers[0] = uuid.Nil

	entry, err := cache.GetOrCompute(context.Background(), convID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.MessagesPerLanguage["en"])
	assert.Equal(t, int64(1), entry.ParticipantsPerLanguage["en"])
	assert.NotEqual(t, uuid.Nil, entry.OnlineUsers[0])

	// And incremental writes must not show through older snapshots.
	before, err := cache.GetOrCompute(context.Background(), convID, nil)
	require.NoError(t, err)
	_, err = cache.UpdateOnNewMessage(context.Background(), convID, "en", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), before.MessagesPerLanguage["en"])
}

func TestConcurrentSnapshotReadsAndUpdates(t *testing.T) {
	source := &fakeSource{messages: map[string]int64{"en": 1}}
	cache, _ := newTestCache(source)
	convID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				entry, err := cache.GetOrCompute(context.Background(), convID, nil)
				assert.NoError(t, err)
				var total int64
				for _, v := range entry.MessagesPerLanguage {
					total += v
				}
				assert.GreaterOrEqual(t, total, int64(1))
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, err := cache.UpdateOnNewMessage(context.Background(), convID, "en", nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}

func TestIndependentConversationsDoNotShareEntries(t *testing.T) {
	source := &fakeSource{messages: map[string]int64{"en": 1}}
	cache, _ := newTestCache(source)

	a, b := uuid.New(), uuid.New()
	_, err := cache.GetOrCompute(context.Background(), a, nil)
	require.NoError(t, err)
	_, err = cache.GetOrCompute(context.Background(), b, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, source.recomputeCount())

	entryA, err := cache.UpdateOnNewMessage(context.Background(), a, "en", nil)
	require.NoError(t, err)
	entryB, err := cache.GetOrCompute(context.Background(), b, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), entryA.MessagesPerLanguage["en"])
	assert.Equal(t, int64(1), entryB.MessagesPerLanguage["en"])
}
