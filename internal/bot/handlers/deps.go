package handlers

import (
	"log/slog"

	"github.com/edgard/tgmirror/internal/config"
	"github.com/edgard/tgmirror/internal/mirror"
)

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger    *slog.Logger
	Config    *config.Config
	Mirrors   *mirror.Service
	Transport string // "bot" or "userbot", shown by /status
	// LogLevel is the live level behind Logger. Nil keeps log_level read-only.
	LogLevel *slog.LevelVar
}
