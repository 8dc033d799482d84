package translation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FallbackModel tags cached values produced when the worker failed or timed
// out. They are served like any other translation so a failing worker is not
// re-invoked for the same pair.
const FallbackModel = "fallback"

// Request is the wire contract sent to the external translation worker.
type Request struct {
	MessageID  uuid.UUID `json:"messageId"`
	Text       string    `json:"text"`
	SourceLang string    `json:"sourceLang"`
	TargetLang string    `json:"targetLang"`
	ModelHint  string    `json:"modelHint,omitempty"`
}

// Translation is one cached artifact for a (message, source, target) triple.
type Translation struct {
	MessageID       uuid.UUID `json:"message_id"`
	SourceLanguage  string    `json:"source_language"`
	TargetLanguage  string    `json:"target_language"`
	TranslatedText  string    `json:"translated_text"`
	ModelUsed       string    `json:"model_used"`
	ConfidenceScore float64   `json:"confidence_score,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsFallback reports whether the value was cached in place of real worker
// output.
func (t Translation) IsFallback() bool {
	return t.ModelUsed == FallbackModel
}

// Key builds the deterministic cache key for a translation triple. The
// message id is unique, so the triple is collision-free by construction.
func Key(messageID uuid.UUID, sourceLang, targetLang string) string {
	return fmt.Sprintf("%s:%s:%s", messageID, sourceLang, targetLang)
}

// Per-pair dispatch outcomes.
const (
	StatusSucceeded = "succeeded"
	StatusFallback  = "failed-fallback"
	StatusCached    = "cached"
)

// PairOutcome records what happened for one (message, target language) pair.
type PairOutcome struct {
	TargetLanguage string `json:"target_language"`
	Status         string `json:"status"`
	ModelUsed      string `json:"model_used,omitempty"`
}

// DispatchSummary reflects the fan-out of one message across the target
// languages its audience requires.
type DispatchSummary struct {
	MessageID      uuid.UUID     `json:"message_id"`
	SourceLanguage string        `json:"source_language"`
	Pairs          []PairOutcome `json:"pairs"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// Failed counts pairs that degraded to a fallback value.
func (s DispatchSummary) Failed() int {
	n := 0
	for _, p := range s.Pairs {
		if p.Status == StatusFallback {
			n++
		}
	}
	return n
}
