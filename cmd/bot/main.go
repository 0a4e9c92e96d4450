package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"questioner_bot/internal/app"
	"questioner_bot/internal/domain/job"
	"questioner_bot/internal/domain/settings"
	"questioner_bot/internal/infra/config"
	idb "questioner_bot/internal/infra/database"
	"questioner_bot/internal/infra/httpserver"
	"questioner_bot/internal/infra/jobstore"
	"questioner_bot/internal/infra/logger"
	"questioner_bot/internal/infra/scheduler"
	"questioner_bot/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	fmt.Println("Questioner Bot starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"forum_id":    cfg.ForumGroupID,
		"admins":      len(cfg.AdminTelegramIDs),
		"job_store":   cfg.JobStore,
	}).Info("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	if err := idb.EnsureSchema(ctx, db); err != nil {
		mainLogger.WithError(err).Fatal("Could not prepare database schema")
	}
	mainLogger.Info("Database connection established successfully.")

	// Initialize Repositories
	questionRepo := idb.NewPostgresQuestionRepository(db)
	settingsRepo := idb.NewPostgresSettingsRepository(db)
	pairRepo := idb.NewPostgresPairRepository(db)

	store, closeStore, err := openJobStore(cfg)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not open job store")
	}
	defer closeStore()
	mainLogger.WithField("job_store", cfg.JobStore).Info("Job store initialized.")

	jobScheduler := scheduler.NewScheduler(store, logger.Component("scheduler"), scheduler.Options{
		SweepSpec:    cfg.JobSweepSpec,
		MisfireGrace: cfg.JobMisfireGrace,
		JobTimeout:   cfg.JobTimeout,
		Location:     cfg.Timezone,
	})

	// Initialize Telegram Bot
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) { // Global error handler
			entry := logger.Component("telebot").WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
			}
			entry.Error("Unhandled bot error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not create Telegram bot")
	}
	tgClient := telegram.NewTelebotAdapter(bot)

	// Initialize services
	defaults := settings.Defaults{
		ActivityStatus:       cfg.DefaultActivityStatus,
		ActivityWarnMinutes:  cfg.DefaultActivityWarnMinutes,
		ActivityCloseMinutes: cfg.DefaultActivityCloseMinutes,
	}
	timerManager := app.NewTimerManager(questionRepo, settingsRepo, defaults, tgClient, jobScheduler,
		logger.Component("timer_manager"), cfg.AttentionInterval, cfg.Timezone)
	cleanupService := app.NewCleanupService(questionRepo, pairRepo, tgClient, jobScheduler,
		logger.Component("cleanup_service"), cfg.DeleteDelay, cfg.RemoveTopicDelay, cfg.RemoveOldQuestionsDays)
	settingsService := app.NewSettingsService(settingsRepo, defaults, cfg.AdminTelegramIDs, timerManager)
	questionService := app.NewQuestionService(questionRepo, pairRepo, settingsService, timerManager, cleanupService, tgClient,
		logger.Component("question_service"), cfg.ForumGroupID)
	mainLogger.Info("Application services initialized.")

	// Register Handlers
	handlerLogger := logger.Component("telegram_handler")
	telegram.RegisterBotCommands(ctx, bot, settingsService, handlerLogger)
	telegram.RegisterQuestionHandlers(ctx, bot, questionService, cfg.ForumGroupID, handlerLogger)
	telegram.RegisterAdminHandlers(ctx, bot, settingsService, jobScheduler, cfg.ForumGroupID, cfg.Timezone, handlerLogger)
	mainLogger.Info("Telegram handlers registered.")

	if cfg.RemoveOldQuestions {
		if err := jobScheduler.AddMaintenanceFunc(cfg.CronSpecPurge, "purge_old_questions", cleanupService.PurgeOldQuestions); err != nil {
			mainLogger.WithError(err).Fatal("Could not schedule old question purge")
		}
	}
	if err := jobScheduler.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start scheduler")
	}

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = httpserver.New(cfg.HTTPAddr, jobScheduler, logger.Component("http"))
		go func() {
			mainLogger.WithField("addr", cfg.HTTPAddr).Info("Diagnostics server listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				mainLogger.WithError(err).Error("Diagnostics server stopped")
			}
		}()
	}

	mainLogger.Info("Application setup complete. Bot and Scheduler are starting...")

	// Start bot in a goroutine so it doesn't block graceful shutdown handling
	go bot.Start()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit // Block until a signal is received

	mainLogger.Info("Shutting down application...")
	bot.Stop()
	jobScheduler.Stop()
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			mainLogger.WithError(err).Warn("Diagnostics server shutdown failed")
		}
		shutdownCancel()
	}
	cancel()
	mainLogger.Info("Application shut down gracefully.")
}

func openJobStore(cfg *config.AppConfig) (job.Store, func(), error) {
	switch cfg.JobStore {
	case config.JobStoreRedis:
		s, err := jobstore.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.JobStorePostgres:
		s, err := jobstore.OpenSQLStore(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return jobstore.NewMemoryStore(), func() {}, nil
	}
}
