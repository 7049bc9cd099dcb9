// Package logger provides structured logging for tgmirror.
// It uses Go's slog package with configurable level, format and an optional
// size-rotated log file.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures NewLogger.
type Options struct {
	Level       string
	JSON        bool
	FilePath    string // empty disables file output
	MaxFileSize int    // megabytes
	BackupCount int
	// LevelVar, when set, receives Level and stays live so the level can be
	// changed while running.
	LevelVar *slog.LevelVar
}

// ParseLevel maps a textual level to slog.Level, defaulting to info.
func ParseLevel(levelStr string) slog.Level {
	level, _ := LookupLevel(levelStr)
	return level
}

// LookupLevel maps a textual level to slog.Level and reports whether the
// name was recognised.
func LookupLevel(levelStr string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// NewLogger creates a new slog Logger writing to stdout and, when
// opts.FilePath is set, to a rotating file. The returned closer releases the
// file and is safe to call when no file is used.
func NewLogger(opts Options) (*slog.Logger, io.Closer) {
	var level slog.Leveler = ParseLevel(opts.Level)
	if opts.LevelVar != nil {
		opts.LevelVar.Set(ParseLevel(opts.Level))
		level = opts.LevelVar
	}
	handlerOpts := &slog.HandlerOptions{
		Level: level,
	}

	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if opts.FilePath != "" {
		file := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxFileSize,
			MaxBackups: opts.BackupCount,
		}
		out = io.MultiWriter(os.Stdout, file)
		closer = file
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Middleware creates a logging middleware for the Telegram bot.
// It logs incoming updates with their chat and sender for debugging purposes.
func Middleware(log *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			startTime := time.Now()

			logEntry := log.With("update_id", update.ID)

			updateType, msg := classifyUpdate(update)
			if msg != nil {
				var userID int64
				if msg.From != nil {
					userID = msg.From.ID
				}
				text := msg.Text
				if text == "" {
					text = msg.Caption
				}
				logEntry = logEntry.With(
					"message_id", msg.ID,
					"chat_id", msg.Chat.ID,
					"user_id", userID,
					"text_preview", truncateString(text, 50),
				)
			}
			logEntry = logEntry.With("update_type", updateType)

			logEntry.DebugContext(ctx, "Processing update")

			next(ctx, b, update)

			logEntry.DebugContext(ctx, "Finished processing update", "duration", time.Since(startTime))
		}
	}
}

func classifyUpdate(update *models.Update) (string, *models.Message) {
	switch {
	case update.Message != nil:
		return "message", update.Message
	case update.EditedMessage != nil:
		return "edited_message", update.EditedMessage
	case update.ChannelPost != nil:
		return "channel_post", update.ChannelPost
	case update.EditedChannelPost != nil:
		return "edited_channel_post", update.EditedChannelPost
	default:
		return "other", nil
	}
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(r[:maxLen-3]) + "..."
}
