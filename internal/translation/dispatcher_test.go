package translation

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"meeshy/internal/domain/conversation"
	"meeshy/internal/domain/message"
	"meeshy/internal/domain/user"
	"meeshy/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatchConvRepo struct {
	repository.ConversationRepository
	conv      conversation.Conversation
	memberIDs []uuid.UUID
}

func (f *dispatchConvRepo) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	return f.conv, nil
}

func (f *dispatchConvRepo) GetMemberUserIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	return f.memberIDs, nil
}

type dispatchUserRepo struct {
	repository.UserRepository
	users       []user.User
	activeUsers []user.User
}

func (f *dispatchUserRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]user.User, error) {
	return f.users, nil
}

func (f *dispatchUserRepo) GetActiveUsers(ctx context.Context) ([]user.User, error) {
	return f.activeUsers, nil
}

type countingWorker struct {
	mu    sync.Mutex
	calls map[string]int
	fail  bool
}

func newCountingWorker() *countingWorker {
	return &countingWorker{calls: make(map[string]int)}
}

func (w *countingWorker) Translate(ctx context.Context, req Request) (Translation, error) {
	w.mu.Lock()
	w.calls[req.TargetLang]++
	w.mu.Unlock()
	if w.fail {
		return Translation{}, errors.New("worker unavailable")
	}
	return Translation{
		MessageID:      req.MessageID,
		SourceLanguage: req.SourceLang,
		TargetLanguage: req.TargetLang,
		TranslatedText: "[" + req.TargetLang + "] " + req.Text,
		ModelUsed:      "basic",
	}, nil
}

func userWithSystemLang(lang string) user.User {
	return user.User{ID: uuid.New(), SystemLanguage: lang, TranslateToSystem: true}
}

func testMessage(convID uuid.UUID) message.Message {
	return message.Message{
		ID:               uuid.New(),
		ConversationID:   convID,
		Content:          "hello",
		OriginalLanguage: "en",
	}
}

func newTestDispatcher(convRepo *dispatchConvRepo, userRepo *dispatchUserRepo, worker Translator) *Dispatcher {
	cache := NewCache(newMemStore(), nil)
	return NewDispatcher(cache, worker, convRepo, userRepo, nil, nil)
}

func TestDispatchFansOutPerDistinctTargetLanguage(t *testing.T) {
	convID := uuid.New()
	convRepo := &dispatchConvRepo{conv: conversation.Conversation{ID: convID, Type: conversation.TypeGroup}}
	userRepo := &dispatchUserRepo{users: []user.User{
		userWithSystemLang("fr"),
		userWithSystemLang("fr"), // duplicate language, one pair
		userWithSystemLang("es"),
		userWithSystemLang("en"), // matches source, excluded
	}}
	worker := newCountingWorker()
	d := newTestDispatcher(convRepo, userRepo, worker)

	summary, err := d.Dispatch(context.Background(), testMessage(convID))
	require.NoError(t, err)

	require.Len(t, summary.Pairs, 2)
	assert.Equal(t, "es", summary.Pairs[0].TargetLanguage)
	assert.Equal(t, "fr", summary.Pairs[1].TargetLanguage)
	for _, p := range summary.Pairs {
		assert.Equal(t, StatusSucceeded, p.Status)
		assert.Equal(t, "basic", p.ModelUsed)
	}
	assert.Equal(t, 1, worker.calls["fr"])
	assert.Equal(t, 1, worker.calls["es"])
}

func TestDispatchTargetPrecedence(t *testing.T) {
	convID := uuid.New()
	custom := user.User{
		ID:                    uuid.New(),
		SystemLanguage:        "en",
		CustomDestinationLang: sql.NullString{String: "pt", Valid: true},
		UseCustomDestination:  true,
	}
	regional := user.User{
		ID:                  uuid.New(),
		SystemLanguage:      "en",
		RegionalLanguage:    sql.NullString{String: "de", Valid: true},
		TranslateToRegional: true,
	}
	fallbackOnly := user.User{ID: uuid.New(), SystemLanguage: "it"}

	convRepo := &dispatchConvRepo{conv: conversation.Conversation{ID: convID, Type: conversation.TypeGroup}}
	userRepo := &dispatchUserRepo{users: []user.User{custom, regional, fallbackOnly}}
	d := newTestDispatcher(convRepo, userRepo, newCountingWorker())

	summary, err := d.Dispatch(context.Background(), testMessage(convID))
	require.NoError(t, err)

	var targets []string
	for _, p := range summary.Pairs {
		targets = append(targets, p.TargetLanguage)
	}
	assert.ElementsMatch(t, []string{"pt", "de", "it"}, targets)
}

func TestDispatchGlobalConversationAddressesActiveUsers(t *testing.T) {
	convID := uuid.New()
	convRepo := &dispatchConvRepo{conv: conversation.Conversation{ID: convID, Type: conversation.TypeGlobal}}
	userRepo := &dispatchUserRepo{activeUsers: []user.User{userWithSystemLang("ja")}}
	d := newTestDispatcher(convRepo, userRepo, newCountingWorker())

	summary, err := d.Dispatch(context.Background(), testMessage(convID))
	require.NoError(t, err)
	require.Len(t, summary.Pairs, 1)
	assert.Equal(t, "ja", summary.Pairs[0].TargetLanguage)
}

func TestDispatchWorkerFailureCachesFallback(t *testing.T) {
	convID := uuid.New()
	convRepo := &dispatchConvRepo{conv: conversation.Conversation{ID: convID, Type: conversation.TypeGroup}}
	userRepo := &dispatchUserRepo{users: []user.User{userWithSystemLang("fr")}}
	worker := newCountingWorker()
	worker.fail = true

	cache := NewCache(newMemStore(), nil)
	d := NewDispatcher(cache, worker, convRepo, userRepo, nil, nil)
	msg := testMessage(convID)

	summary, err := d.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, summary.Pairs, 1)
	assert.Equal(t, StatusFallback, summary.Pairs[0].Status)
	assert.Equal(t, 1, summary.Failed())

	// The fallback is cached with the original text so the worker is not
	// re-invoked for the same pair.
	cached, ok, err := cache.Get(context.Background(), msg.ID, "en", "fr")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cached.IsFallback())
	assert.Equal(t, msg.Content, cached.TranslatedText)

	summary, err = d.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StatusCached, summary.Pairs[0].Status)
	assert.Equal(t, 1, worker.calls["fr"])
}

func TestDispatchSecondRunServesFromCache(t *testing.T) {
	convID := uuid.New()
	convRepo := &dispatchConvRepo{conv: conversation.Conversation{ID: convID, Type: conversation.TypeGroup}}
	userRepo := &dispatchUserRepo{users: []user.User{userWithSystemLang("fr"), userWithSystemLang("es")}}
	worker := newCountingWorker()
	d := newTestDispatcher(convRepo, userRepo, worker)
	msg := testMessage(convID)

	_, err := d.Dispatch(context.Background(), msg)
	require.NoError(t, err)

	summary, err := d.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	for _, p := range summary.Pairs {
		assert.Equal(t, StatusCached, p.Status)
	}
	assert.Equal(t, 1, worker.calls["fr"])
	assert.Equal(t, 1, worker.calls["es"])
}

func TestConcurrentDispatchInvokesWorkerOncePerPair(t *testing.T) {
	convID := uuid.New()
	convRepo := &dispatchConvRepo{conv: conversation.Conversation{ID: convID, Type: conversation.TypeGroup}}
	userRepo := &dispatchUserRepo{users: []user.User{userWithSystemLang("fr"), userWithSystemLang("es")}}
	worker := newCountingWorker()
	d := newTestDispatcher(convRepo, userRepo, worker)
	msg := testMessage(convID)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Dispatch(context.Background(), msg)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, worker.calls["fr"])
	assert.Equal(t, 1, worker.calls["es"])
}

func TestEditInvalidationForcesFreshTranslations(t *testing.T) {
	convID := uuid.New()
	convRepo := &dispatchConvRepo{conv: conversation.Conversation{ID: convID, Type: conversation.TypeGroup}}
	userRepo := &dispatchUserRepo{users: []user.User{userWithSystemLang("fr")}}
	worker := newCountingWorker()
	cache := NewCache(newMemStore(), nil)
	d := NewDispatcher(cache, worker, convRepo, userRepo, nil, nil)
	msg := testMessage(convID)

	_, err := d.Dispatch(context.Background(), msg)
	require.NoError(t, err)

	msg.Content = "hello, edited"
	require.NoError(t, cache.Invalidate(context.Background(), msg.ID))

	_, err = d.Dispatch(context.Background(), msg)
	require.NoError(t, err)

	cached, ok, err := cache.Get(context.Background(), msg.ID, "en", "fr")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[fr] hello, edited", cached.TranslatedText)
	assert.Equal(t, 2, worker.calls["fr"])
}
