package translation

import (
	"context"
	"sort"
	"sync"
	"time"

	"meeshy/internal/domain/conversation"
	"meeshy/internal/domain/message"
	"meeshy/internal/domain/user"
	"meeshy/internal/events"
	"meeshy/internal/repository"
	"meeshy/pkg/logger"

	"go.uber.org/zap"
)

// Dispatcher fans one message out across every distinct target language its
// audience requires and fills the cache through the worker RPC.
type Dispatcher struct {
	cache    *Cache
	worker   Translator
	convRepo repository.ConversationRepository
	userRepo repository.UserRepository
	events   events.Publisher
	log      *logger.Logger
}

func NewDispatcher(cache *Cache, worker Translator, convRepo repository.ConversationRepository, userRepo repository.UserRepository, publisher events.Publisher, log *logger.Logger) *Dispatcher {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		cache:    cache,
		worker:   worker,
		convRepo: convRepo,
		userRepo: userRepo,
		events:   publisher,
		log:      log,
	}
}

// Dispatch computes the target-language set for the message's conversation
// and requests each missing translation. Worker failures degrade to a cached
// fallback value so repeated dispatches never hammer a failing worker for the
// same pair.
func (d *Dispatcher) Dispatch(ctx context.Context, msg message.Message) (DispatchSummary, error) {
	summary := DispatchSummary{
		MessageID:      msg.ID,
		SourceLanguage: msg.OriginalLanguage,
		StartedAt:      time.Now(),
	}

	targets, err := d.targetLanguages(ctx, msg)
	if err != nil {
		return summary, err
	}
	if len(targets) == 0 {
		summary.CompletedAt = time.Now()
		return summary, nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, target := range targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			outcome := d.translatePair(ctx, msg, target)
			mu.Lock()
			summary.Pairs = append(summary.Pairs, outcome)
			mu.Unlock()
		}(target)
	}
	wg.Wait()

	sort.Slice(summary.Pairs, func(i, j int) bool {
		return summary.Pairs[i].TargetLanguage < summary.Pairs[j].TargetLanguage
	})
	summary.CompletedAt = time.Now()

	d.log.Logger.Info("translation dispatch completed",
		zap.String("message_id", msg.ID.String()),
		zap.String("source_lang", msg.OriginalLanguage),
		zap.Int("pairs", len(summary.Pairs)),
		zap.Int("fallbacks", summary.Failed()),
	)
	return summary, nil
}

func (d *Dispatcher) translatePair(ctx context.Context, msg message.Message, target string) PairOutcome {
	value, computed, err := d.cache.GetOrCreate(ctx, msg.ID, msg.OriginalLanguage, target, func(ctx context.Context) (Translation, error) {
		t, err := d.worker.Translate(ctx, Request{
			MessageID:  msg.ID,
			Text:       msg.Content,
			SourceLang: msg.OriginalLanguage,
			TargetLang: target,
		})
		if err != nil {
			// The compute must still yield a usable cached value; tag it so
			// clients can show the original text instead of a broken state.
			d.log.Logger.Warn("translation worker failed, caching fallback",
				zap.String("message_id", msg.ID.String()),
				zap.String("target_lang", target),
				zap.Error(err),
			)
			return Translation{
				MessageID:      msg.ID,
				SourceLanguage: msg.OriginalLanguage,
				TargetLanguage: target,
				TranslatedText: msg.Content,
				ModelUsed:      FallbackModel,
				CreatedAt:      time.Now(),
			}, nil
		}
		return t, nil
	})
	if err != nil {
		// Store-level failure: nothing cached, report as degraded.
		d.log.Logger.Error("translation cache failure",
			zap.String("message_id", msg.ID.String()),
			zap.String("target_lang", target),
			zap.Error(err),
		)
		return PairOutcome{TargetLanguage: target, Status: StatusFallback}
	}

	status := StatusCached
	if computed {
		if value.IsFallback() {
			status = StatusFallback
		} else {
			status = StatusSucceeded
		}
		_ = d.events.Publish(ctx, events.EventMessageTranslated, "message", msg.ID.String(), map[string]interface{}{
			"message_id":  msg.ID,
			"target_lang": value.TargetLanguage,
			"model_used":  value.ModelUsed,
		})
	}
	return PairOutcome{
		TargetLanguage: target,
		Status:         status,
		ModelUsed:      value.ModelUsed,
	}
}

// targetLanguages collects each audience member's preferred target language,
// deduplicated and stripped of the source language. Global conversations
// address every active user.
func (d *Dispatcher) targetLanguages(ctx context.Context, msg message.Message) ([]string, error) {
	conv, err := d.convRepo.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}

	audience, err := d.audienceUsers(ctx, conv)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var targets []string
	for _, u := range audience {
		lang := u.PreferredTargetLanguage()
		if lang == "" || lang == msg.OriginalLanguage {
			continue
		}
		if _, dup := seen[lang]; dup {
			continue
		}
		seen[lang] = struct{}{}
		targets = append(targets, lang)
	}
	return targets, nil
}

func (d *Dispatcher) audienceUsers(ctx context.Context, conv conversation.Conversation) ([]user.User, error) {
	if conv.Type == conversation.TypeGlobal {
		return d.userRepo.GetActiveUsers(ctx)
	}
	ids, err := d.convRepo.GetMemberUserIDs(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return d.userRepo.GetByIDs(ctx, ids)
}
