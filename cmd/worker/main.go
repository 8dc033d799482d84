package main

import (
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"meeshy/internal/config"
	"meeshy/internal/translation"
	"meeshy/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Reference translation worker. It answers the request/reply contract with an
// echo model so the pipeline can run end to end without a real model server;
// deployments replace it with the actual translation service.

type workerReply struct {
	TranslatedText  string  `json:"translatedText"`
	ModelUsed       string  `json:"modelUsed"`
	ConfidenceScore float64 `json:"confidenceScore,omitempty"`
	Error           string  `json:"error,omitempty"`
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(cfg.Server.Environment)
	defer appLogger.Logger.Sync()

	conn, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer conn.Drain()

	sub, err := conn.QueueSubscribe(cfg.Translation.Subject, "translators", func(msg *nats.Msg) {
		var req translation.Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			respond(msg, workerReply{Error: "malformed request"}, appLogger)
			return
		}

		respond(msg, workerReply{
			TranslatedText:  "[" + req.TargetLang + "] " + req.Text,
			ModelUsed:       "echo",
			ConfidenceScore: 1.0,
		}, appLogger)

		appLogger.Logger.Debug("translated",
			zap.String("message_id", req.MessageID.String()),
			zap.String("source_lang", req.SourceLang),
			zap.String("target_lang", req.TargetLang),
		)
	})
	if err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	appLogger.Infof("Translation worker listening on %s", cfg.Translation.Subject)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
}

func respond(msg *nats.Msg, reply workerReply, l *logger.Logger) {
	data, err := json.Marshal(reply)
	if err != nil {
		l.Errorf("failed to marshal reply: %v", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		l.Errorf("failed to respond: %v", err)
	}
}
