package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// maxReplyLength stays under the 4096 character message limit.
const maxReplyLength = 4000

// NewMirrorsHandler returns a handler for the /mirrors command.
func NewMirrorsHandler(deps HandlerDeps) bot.HandlerFunc {
	return mirrorsHandler{deps}.Handle
}

type mirrorsHandler struct {
	deps HandlerDeps
}

func (h mirrorsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "mirrors")
	chatID := update.Message.Chat.ID

	mirrors, err := h.deps.Mirrors.ListMirrors(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to list mirrors", "error", err)
		sendReply(ctx, b, log, chatID, h.deps.Config.Messages.GeneralError)
		return
	}
	if len(mirrors) == 0 {
		sendReply(ctx, b, log, chatID, h.deps.Config.Messages.NoMirrors)
		return
	}

	name := func(id int64) string { return h.deps.Mirrors.ChatName(ctx, id) }
	for _, chunk := range chunkLines(formatMirrors(mirrors, name), maxReplyLength) {
		sendReply(ctx, b, log, chatID, chunk)
	}
}

// NewChatsHandler returns a handler for the /chats command.
func NewChatsHandler(deps HandlerDeps) bot.HandlerFunc {
	return chatsHandler{deps}.Handle
}

type chatsHandler struct {
	deps HandlerDeps
}

func (h chatsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "chats")
	chatID := update.Message.Chat.ID

	chats, err := h.deps.Mirrors.ListChats(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to list chats", "error", err)
		sendReply(ctx, b, log, chatID, h.deps.Config.Messages.GeneralError)
		return
	}
	if len(chats) == 0 {
		sendReply(ctx, b, log, chatID, h.deps.Config.Messages.NoChats)
		return
	}
	for _, chunk := range chunkLines(formatChats(chats), maxReplyLength) {
		sendReply(ctx, b, log, chatID, chunk)
	}
}
