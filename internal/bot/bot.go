// Package bot implements lifecycle management and component orchestration
// for the mirror bot: the Bot API listener, the optional user account client,
// the housekeeping scheduler and the metrics endpoint.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/tgmirror/internal/config"
)

// Runner is a long-running component that stops when its context is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Bot represents the main application and manages its components' lifecycle.
type Bot struct {
	logger    *slog.Logger
	cfg       *config.Config
	tgBot     *tgbot.Bot
	userbot   Runner // nil when no user account is configured
	scheduler *Scheduler
	metrics   http.Handler
}

// NewBot wires the components together. userbot and metrics may be nil.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	tgBot *tgbot.Bot,
	userbot Runner,
	scheduler *Scheduler,
	metrics http.Handler,
) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		cfg:       cfg,
		tgBot:     tgBot,
		userbot:   userbot,
		scheduler: scheduler,
		metrics:   metrics,
	}
}

// Run starts all components and blocks until ctx is cancelled or one of them fails.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if b.cfg.Telegram.DropPendingUpdates {
			if _, err := b.tgBot.DeleteWebhook(gCtx, &tgbot.DeleteWebhookParams{DropPendingUpdates: true}); err != nil {
				b.logger.Warn("Failed to drop pending updates", "error", err)
			}
		}

		b.logger.Info("Starting Telegram bot listener...")
		b.tgBot.Start(gCtx)
		b.logger.Info("Telegram bot listener stopped.")

		if gCtx.Err() == nil {
			return errors.New("telegram listener stopped unexpectedly")
		}
		return nil
	})

	if b.userbot != nil {
		g.Go(func() error {
			b.logger.Info("Starting user account client...")
			err := b.userbot.Run(gCtx)
			if err != nil && gCtx.Err() == nil {
				return fmt.Errorf("user account client failed: %w", err)
			}
			b.logger.Info("User account client stopped.")
			return nil
		})
	}

	g.Go(func() error {
		if err := b.scheduler.Start(gCtx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	if b.metrics != nil && b.cfg.Metrics.ListenAddr != "" {
		g.Go(func() error {
			return b.serveMetrics(gCtx)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

func (b *Bot) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", b.metrics)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              b.cfg.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		b.logger.Info("Serving metrics", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		b.logger.Warn("Metrics server shutdown error", "error", err)
	}
	return nil
}
