package translation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meeshy/pkg/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubject is the request/reply subject the external translation worker
// listens on.
const DefaultSubject = "translation.request"

// Translator is the RPC boundary to the external translation worker.
type Translator interface {
	Translate(ctx context.Context, req Request) (Translation, error)
}

// workerResponse is the worker's reply payload.
type workerResponse struct {
	TranslatedText  string  `json:"translatedText"`
	ModelUsed       string  `json:"modelUsed"`
	ConfidenceScore float64 `json:"confidenceScore,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// WorkerClient reaches the translation worker over NATS request/reply with a
// bounded timeout.
type WorkerClient struct {
	conn      *nats.Conn
	subject   string
	timeout   time.Duration
	modelHint string
	log       *logger.Logger
}

func NewWorkerClient(conn *nats.Conn, subject string, timeout time.Duration, modelHint string, log *logger.Logger) *WorkerClient {
	if subject == "" {
		subject = DefaultSubject
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &WorkerClient{
		conn:      conn,
		subject:   subject,
		timeout:   timeout,
		modelHint: modelHint,
		log:       log,
	}
}

func (c *WorkerClient) Translate(ctx context.Context, req Request) (Translation, error) {
	if req.ModelHint == "" {
		req.ModelHint = c.modelHint
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Translation{}, fmt.Errorf("failed to marshal translation request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.conn.RequestWithContext(ctx, c.subject, payload)
	if err != nil {
		return Translation{}, fmt.Errorf("translation worker request failed: %w", err)
	}

	var resp workerResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return Translation{}, fmt.Errorf("failed to decode worker response: %w", err)
	}
	if resp.Error != "" {
		return Translation{}, fmt.Errorf("translation worker error: %s", resp.Error)
	}

	c.log.Logger.Debug("translation received",
		zap.String("message_id", req.MessageID.String()),
		zap.String("target_lang", req.TargetLang),
		zap.String("model", resp.ModelUsed),
	)

	return Translation{
		MessageID:       req.MessageID,
		SourceLanguage:  req.SourceLang,
		TargetLanguage:  req.TargetLang,
		TranslatedText:  resp.TranslatedText,
		ModelUsed:       resp.ModelUsed,
		ConfidenceScore: resp.ConfidenceScore,
		CreatedAt:       time.Now(),
	}, nil
}
