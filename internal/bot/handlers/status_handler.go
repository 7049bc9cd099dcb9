package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStatusHandler returns a handler for the /status command.
func NewStatusHandler(deps HandlerDeps) bot.HandlerFunc {
	return statusHandler{deps}.Handle
}

type statusHandler struct {
	deps HandlerDeps
}

func (h statusHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "status")
	chatID := update.Message.Chat.ID

	st, err := h.deps.Mirrors.Status(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to collect status", "error", err)
		sendReply(ctx, b, log, chatID, h.deps.Config.Messages.GeneralError)
		return
	}
	sendReply(ctx, b, log, chatID, formatStatus(st, h.deps.Transport))
}
