package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStartHandler returns a handler for the /start command.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	return startHandler{deps}.Handle
}

// startHandler greets with the command list.
type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "start")

	if update.Message == nil {
		log.WarnContext(ctx, "Start handler received update with nil message", "update_id", update.ID)
		return
	}

	var userID int64
	if update.Message.From != nil {
		userID = update.Message.From.ID
	}
	log.InfoContext(ctx, "Handling /start command", "chat_id", update.Message.Chat.ID, "user_id", userID)

	text := helpText(h.deps)
	if userID != 0 && !h.deps.Config.IsAdmin(userID) {
		text += "\n\nYour user id is " + formatID(userID) + ". Ask an admin to add it to MIRROR__ADMIN_USER_IDS."
	}
	sendReply(ctx, b, log, update.Message.Chat.ID, text)
}
