package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"scribe-server/pkg/analysis"
	"scribe-server/pkg/cache"
	"scribe-server/pkg/config"
	httpserver "scribe-server/pkg/http"
	"scribe-server/pkg/messaging"
	"scribe-server/pkg/metrics"
	"scribe-server/pkg/stt"
	"scribe-server/pkg/ws"
)

// cacheCleanupInterval is how often expired cache entries are swept.
const cacheCleanupInterval = 10 * time.Minute

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	cfg.ApplyLogging(logger)

	metrics.Init(logger)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	responseCache := cache.NewAnalysisCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	sessionCaches := cache.NewSessionCacheStore(cfg.Cache.SessionMaxEntries, cfg.Cache.SessionTTL)

	model := analysis.NewOpenAIModel(logger, cfg.AI)
	analyzer := analysis.NewAnalyzer(logger, model, responseCache, cfg.AI)

	provider := stt.NewDeepgramProvider(logger, cfg.STT)

	wsHandler := ws.NewHandler(logger, provider, analyzer, sessionCaches, cfg.STT)
	wsHandler.SetMaxMessageBytes(cfg.HTTP.MaxMessageBytes)

	var amqpClient *messaging.AMQPClient
	if cfg.Messaging.Enabled() {
		amqpClient = messaging.NewAMQPClient(logger, cfg.Messaging)
		if err := amqpClient.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP unavailable, analysis delivery disabled")
			amqpClient = nil
		} else {
			wsHandler.SetPublisher(amqpClient)
		}
	}

	server := httpserver.NewServer(logger, cfg.HTTP, wsHandler)
	server.AddStatsSource("analyzer", analyzer)
	server.AddStatsSource("session_caches", sessionCaches)

	go cleanupLoop(rootCtx, logger, responseCache, sessionCaches)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigChan
		logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		rootCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Error shutting down HTTP server")
		}
		if amqpClient != nil {
			amqpClient.Disconnect()
		}
	}()

	if err := server.Start(); err != nil {
		logger.WithError(err).Fatal("HTTP server failed")
	}
	logger.Info("Server shut down")
}

// cleanupLoop periodically evicts expired entries from both cache tiers.
func cleanupLoop(ctx context.Context, logger *logrus.Logger, responseCache *cache.AnalysisCache, sessionCaches *cache.SessionCacheStore) {
	ticker := time.NewTicker(cacheCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := responseCache.CleanupExpired()
			perSession := sessionCaches.CleanupAll()
			logger.WithFields(logrus.Fields{
				"response_cache": removed,
				"session_caches": len(perSession),
			}).Debug("Cache cleanup pass complete")
		}
	}
}
