package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"inboxvetter/internal/gmail"
	"inboxvetter/internal/handler"
	"inboxvetter/internal/httpserver"
	"inboxvetter/internal/inbox"
	"inboxvetter/internal/repository"
	"inboxvetter/internal/scheduler"
	"inboxvetter/pkg/config"
	"inboxvetter/pkg/db"
	"inboxvetter/pkg/logger"
	"inboxvetter/pkg/mq"
	"inboxvetter/pkg/outbox"
	"inboxvetter/pkg/redis"
	"inboxvetter/pkg/util"
)

func main() {
	// Load config
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger()
	defer log.Sync()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Init Redis (optional fast-path dedup)
	rdb := redis.NewClient(cfg.Redis)
	defer rdb.Close()
	deduper := util.NewDeduper(rdb, 30*24*time.Hour, log)

	// Init MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Init Repositories
	userRepo := repository.NewUserRepository(dbConn)
	reportRepo := repository.NewReportRepository(dbConn)
	outboxRepo := outbox.NewRepository(dbConn)
	vetterRepo := repository.NewVetterRepository(dbConn, outboxRepo)
	tokenRepo, err := repository.NewTokenRepository(dbConn, cfg.Inbox.DataEncryptionKey, log)
	if err != nil {
		log.Fatal("Token repository init failed", zap.Error(err))
	}

	// Init Gmail gateway
	authenticator := gmail.NewAuthenticator(cfg.Google, tokenRepo, log)
	gatewayFactory := gmail.NewFactory(authenticator, log)

	// Init pipeline and run lifecycle
	classifier := inbox.NewOpenAIClassifier(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, log)
	pipeline := inbox.NewPipeline(gatewayFactory, classifier, deduper, log)
	runner := inbox.NewRunner(vetterRepo, pipeline, cfg.Inbox.ReportDir, log)

	// Init Scheduler
	sched := scheduler.New(runner, userRepo, tokenRepo, log)
	if err := sched.Bootstrap(rootCtx); err != nil {
		log.Error("Scheduler bootstrap failed", zap.Error(err))
	}

	// Init Outbox Dispatcher
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
	go dispatcher.Start(rootCtx)

	// Init Handlers
	authHandler := handler.NewAuthHandler(userRepo, cfg.JWT.Secret, log)
	vetterHandler := handler.NewVetterHandler(runner, vetterRepo, sched, rootCtx, log)
	reportHandler := handler.NewReportHandler(reportRepo, log)
	settingsHandler := handler.NewSettingsHandler(userRepo, log)
	googleHandler := handler.NewGoogleHandler(authenticator, cfg.JWT.Secret, log)
	adminHandler := handler.NewAdminHandler(userRepo, log)

	// Router
	router := httpserver.NewRouter(
		authHandler,
		vetterHandler,
		reportHandler,
		settingsHandler,
		googleHandler,
		adminHandler,
		userRepo,
		cfg.JWT.Secret,
		dbConn,
	)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router.Engine,
	}

	go func() {
		log.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server start failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	cancel()
	sched.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	log.Info("Shutdown complete")
}
