// Package main contains the entrypoint for the Telegram mirror bot.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgard/tgmirror/internal/bot"
	"github.com/edgard/tgmirror/internal/bot/handlers"
	"github.com/edgard/tgmirror/internal/bot/tasks"
	"github.com/edgard/tgmirror/internal/config"
	"github.com/edgard/tgmirror/internal/database"
	"github.com/edgard/tgmirror/internal/logger"
	"github.com/edgard/tgmirror/internal/mirror"
	"github.com/edgard/tgmirror/internal/render"
	"github.com/edgard/tgmirror/internal/telegram"
	"github.com/edgard/tgmirror/internal/userbot"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all components and returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	envFile := flag.String("env", config.DefaultEnvFile, "Path to .env file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath, *envFile)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	var logLevel slog.LevelVar
	log, logCloser := logger.NewLogger(logger.Options{
		Level:       cfg.Logging.Level,
		LevelVar:    &logLevel,
		JSON:        cfg.Logging.Format == "json",
		FilePath:    cfg.Logging.FilePath,
		MaxFileSize: cfg.Logging.MaxFileSize,
		BackupCount: cfg.Logging.BackupCount,
	})
	defer logCloser.Close()
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	db, err := database.NewDB(cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		log.Error("Failed to open database", "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	renderer, err := render.NewFromConfig(cfg, log)
	if err != nil {
		log.Error("Failed to initialize renderer", "error", err)
		return 1
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := mirror.NewMetrics(reg)

	ingress := telegram.NewIngress(log)
	tg, err := telegram.NewTelegramBot(cfg.Telegram.BotToken, log,
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(ingress.Handle),
	)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	cfg.Telegram.BotInfo, err = tg.GetMe(ctx)
	if err != nil {
		log.Error("Failed to get bot info", "error", err)
		return 1
	}
	log.Info("Retrieved bot info", "bot_id", cfg.Telegram.BotInfo.ID, "bot_username", cfg.Telegram.BotInfo.Username)

	// With a user account configured it both reads the sources and delivers
	// the copies. Otherwise the bot does both.
	var (
		sender    mirror.Sender = telegram.NewBotSender(tg)
		transport               = "bot"
		ub        *userbot.Client
		ubRunner  bot.Runner
	)
	if cfg.Telegram.UserbotEnabled() {
		ub, err = userbot.New(cfg.Telegram, log)
		if err != nil {
			log.Error("Failed to create user account client", "error", err)
			return 1
		}
		sender, transport, ubRunner = ub, "userbot", ub
	}

	svc := mirror.NewService(store, sender, renderer, cfg, mirror.Options{
		Workers:       cfg.Mirror.Workers,
		RatePerSecond: cfg.Mirror.RatePerSecond,
		Burst:         cfg.Mirror.Burst,
		SendTimeout:   cfg.Mirror.SendTimeout,
		RenderImages:  cfg.Mirror.RenderImages,
	}, metrics, log)
	if ub != nil {
		ub.Attach(svc)
	} else {
		ingress.Attach(svc)
	}
	log.Info("Mirror service ready", "transport", transport)

	hDeps := handlers.HandlerDeps{
		Logger:    log,
		Config:    cfg,
		Mirrors:   svc,
		Transport: transport,
		LogLevel:  &logLevel,
	}
	if err := telegram.RegisterHandlers(tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}

	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:   log,
		Store:    store,
		Config:   cfg,
		Renderer: renderer,
	}))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	app := bot.NewBot(log, cfg, tg, ubRunner, sched, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
