package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/labguard/labguard-api/internal/config"
	"github.com/labguard/labguard-api/internal/database"
	"github.com/labguard/labguard-api/internal/handler"
	"github.com/labguard/labguard-api/internal/middleware"
	"github.com/labguard/labguard-api/internal/models"
	"github.com/labguard/labguard-api/internal/queue"
	"github.com/labguard/labguard-api/internal/repository"
	"github.com/labguard/labguard-api/internal/router"
	"github.com/labguard/labguard-api/internal/service"
	"github.com/labguard/labguard-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Activity{},
		&models.TestCase{},
		&models.Submission{},
		&models.ProctoringSession{},
		&models.ProctoringEvent{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	} else {
		logger.Warn().Msg("nats url not configured, cross-node event relay disabled")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	submissionRepo := repository.NewSubmissionRepository(db)
	testCaseRepo := repository.NewTestCaseRepository(db)
	proctoringRepo := repository.NewProctoringRepository(db)

	aiClient, err := ai.NewClient(ai.ClientConfig{
		EndpointURL: cfg.AIEndpointURL,
		APIKey:      cfg.AIAPIKey,
		Models:      cfg.AIModels,
		Timeout:     cfg.AITimeout,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("failed to create ai validation client: %v", err)
	}

	eventBus := service.NewEventBus(redisClient, natsConn, logger)

	validationService := service.NewValidationService(submissionRepo, testCaseRepo, aiClient, eventBus, service.ValidationConfig{
		ShortCircuitScore: cfg.StaticShortCircuitScore,
		RecoveryWindow:    cfg.RecoveryWindow,
		RecoveryBatch:     cfg.RecoveryBatch,
	}, logger)
	plagiarismService := service.NewPlagiarismService(submissionRepo, cfg.PlagiarismThreshold, logger)
	proctoringService := service.NewProctoringService(proctoringRepo, eventBus, logger)

	validationQueue := queue.New(validationService, queue.Options{
		InterItemDelay: cfg.QueueInterItemDelay,
		Recovery:       validationService.ListRecoverable,
	}, logger)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus.Start(runCtx)
	validationQueue.Start(runCtx)
	defer validationQueue.Stop()

	validationHandler := handler.NewValidationHandler(validationQueue, validationService, validate, logger)
	plagiarismHandler := handler.NewPlagiarismHandler(plagiarismService, validate, logger)
	proctoringHandler := handler.NewProctoringHandler(proctoringService, validate, logger)
	streamHandler := handler.NewStreamHandler(eventBus, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ValidationHandler: validationHandler,
		PlagiarismHandler: plagiarismHandler,
		ProctoringHandler: proctoringHandler,
		StreamHandler:     streamHandler,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
