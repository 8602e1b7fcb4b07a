// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/config"
	"github.com/unclebandit/campaign-engine/internal/controller"
	"github.com/unclebandit/campaign-engine/internal/db"
	"github.com/unclebandit/campaign-engine/internal/handler"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/plan"
	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/repository"
	"github.com/unclebandit/campaign-engine/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil && !errors.Is(err, config.ErrNoEnvFile) {
		log.Fatalf("config: %v", err)
	}
	logger, lerr := config.NewLogger(cfg.LogLevel)
	if lerr != nil {
		log.Fatalf("logger: %v", lerr)
	}
	defer logger.Sync()
	if errors.Is(err, config.ErrNoEnvFile) {
		logger.Warn("⚠️ " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DB, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	guard, err := service.ParseGuardPolicy(cfg.GuardPolicy)
	if err != nil {
		logger.Fatal("guard policy", zap.Error(err))
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	versionRepo := &repository.PlanVersionRepository{DB: conn}
	transitionRepo := &repository.TransitionRepository{DB: conn}
	actionRepo := &repository.ScheduledActionRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}

	var q queue.Queue
	switch cfg.QueueBackend {
	case "amqp":
		aq, err := queue.DialAMQP(cfg.AMQPURL, logger)
		if err != nil {
			logger.Fatal("queue", zap.Error(err))
		}
		defer aq.Close()
		q = aq
	default:
		q = queue.NewInMemoryQueue(logger)
	}

	execution := &service.ExecutionService{
		CampaignRepo:   campaignRepo,
		ActionRepo:     actionRepo,
		TransitionRepo: transitionRepo,
		Queue:          q,
		GuardPolicy:    guard,
		Logger:         logger,
	}
	plans := &service.PlanService{
		CampaignRepo: campaignRepo,
		VersionRepo:  versionRepo,
		Normalizer:   plan.NewNormalizer(logger),
		Logger:       logger,
	}

	// With the in-memory queue this process is also the worker.
	if cfg.QueueBackend != "amqp" {
		worker := service.NewWorker(actionRepo, campaignRepo, contactRepo, execution, &service.LogSender{Logger: logger}, logger)
		worker.BatchSize = cfg.WorkerBatchSize
		worker.PollInterval = cfg.WorkerPollInterval
		if err := queue.StartActionSubscriber(q, func(model.ScheduledAction) { worker.Wake() }, logger); err != nil {
			logger.Fatal("subscribe actions", zap.Error(err))
		}
		if err := queue.StartEventSubscriber(ctx, q, execution, logger); err != nil {
			logger.Fatal("subscribe events", zap.Error(err))
		}
		go worker.Start(ctx)
	}

	campaignController := &controller.CampaignController{
		Plans:     plans,
		Execution: execution,
		Logger:    logger,
	}
	webhookHandler := &handler.EventWebhookHandler{
		Queue:  q,
		Logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	campaignController.Routes(r)
	webhookHandler.Routes(r)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	logger.Info("🚀 Server running", zap.String("addr", cfg.HTTPAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server", zap.Error(err))
	}
}
