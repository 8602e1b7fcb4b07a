package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/config"
	"github.com/unclebandit/campaign-engine/internal/db"
	"github.com/unclebandit/campaign-engine/internal/model"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DB, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer conn.Close()

	guard, err := service.ParseGuardPolicy(cfg.GuardPolicy)
	if err != nil {
		logger.Fatal("guard policy", zap.Error(err))
	}

	// Repositories
	campaignRepo := &repository.CampaignRepository{DB: conn}
	transitionRepo := &repository.TransitionRepository{DB: conn}
	actionRepo := &repository.ScheduledActionRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}

	// Connect to RabbitMQ
	q, err := queue.DialAMQP(cfg.AMQPURL, logger)
	if err != nil {
		logger.Fatal("queue", zap.Error(err))
	}
	defer q.Close()

	execution := &service.ExecutionService{
		CampaignRepo:   campaignRepo,
		ActionRepo:     actionRepo,
		TransitionRepo: transitionRepo,
		Queue:          q,
		GuardPolicy:    guard,
		Logger:         logger,
	}

	worker := service.NewWorker(actionRepo, campaignRepo, contactRepo, execution, &service.LogSender{Logger: logger}, logger)
	worker.BatchSize = cfg.WorkerBatchSize
	worker.PollInterval = cfg.WorkerPollInterval

	if err := queue.StartEventSubscriber(ctx, q, execution, logger); err != nil {
		logger.Fatal("subscribe events", zap.Error(err))
	}
	if err := queue.StartActionSubscriber(q, func(model.ScheduledAction) { worker.Wake() }, logger); err != nil {
		logger.Fatal("subscribe actions", zap.Error(err))
	}

	logger.Info("Worker running, waiting for messages...")
	worker.Start(ctx)
}
