package handlers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewRemoveMirrorHandler returns a handler for the /remove_mirror command.
func NewRemoveMirrorHandler(deps HandlerDeps) bot.HandlerFunc {
	return removeMirrorHandler{deps}.Handle
}

type removeMirrorHandler struct {
	deps HandlerDeps
}

func (h removeMirrorHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "remove_mirror")
	chatID := update.Message.Chat.ID

	id, err := parseMirrorID(commandArgs(update.Message.Text))
	if err != nil {
		sendReply(ctx, b, log, chatID, usageText(err, h.deps.Config.Messages.RemoveMirrorUsage))
		return
	}

	if err := h.deps.Mirrors.RemoveMirror(ctx, id); err != nil {
		log.WarnContext(ctx, "Failed to remove mirror", "mirror_id", id, "error", err)
		sendReply(ctx, b, log, chatID, mirrorErrorText(err, h.deps.Config))
		return
	}
	sendReply(ctx, b, log, chatID, fmt.Sprintf("Mirror #%d removed.", id))
}

// NewToggleMirrorHandler returns a handler for the /toggle_mirror command.
func NewToggleMirrorHandler(deps HandlerDeps) bot.HandlerFunc {
	return toggleMirrorHandler{deps}.Handle
}

type toggleMirrorHandler struct {
	deps HandlerDeps
}

func (h toggleMirrorHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "toggle_mirror")
	chatID := update.Message.Chat.ID

	id, err := parseMirrorID(commandArgs(update.Message.Text))
	if err != nil {
		sendReply(ctx, b, log, chatID, usageText(err, h.deps.Config.Messages.ToggleMirrorUsage))
		return
	}

	active, err := h.deps.Mirrors.ToggleMirror(ctx, id)
	if err != nil {
		log.WarnContext(ctx, "Failed to toggle mirror", "mirror_id", id, "error", err)
		sendReply(ctx, b, log, chatID, mirrorErrorText(err, h.deps.Config))
		return
	}
	state := "paused"
	if active {
		state = "active"
	}
	sendReply(ctx, b, log, chatID, fmt.Sprintf("Mirror #%d is now %s.", id, state))
}
