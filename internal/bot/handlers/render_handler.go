package handlers

import (
	"context"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/tgmirror/internal/config"
)

// renderEnvKey is the variable that persists the global render switch.
const renderEnvKey = "MIRROR__RENDER_IMAGES"

// NewRenderHandler returns a handler for the /render command.
func NewRenderHandler(deps HandlerDeps) bot.HandlerFunc {
	return renderHandler{deps}.Handle
}

// renderHandler shows or flips image rendering and writes the choice to the
// env file so it survives restarts.
type renderHandler struct {
	deps HandlerDeps
}

func (h renderHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "render")
	chatID := update.Message.Chat.ID

	value, ok, err := parseSwitch(commandArgs(update.Message.Text))
	if err != nil {
		sendReply(ctx, b, log, chatID, usageText(err, h.deps.Config.Messages.RenderUsage))
		return
	}
	if !ok {
		sendReply(ctx, b, log, chatID, "Image rendering is "+onOff(h.deps.Mirrors.RenderImages())+".\n"+h.deps.Config.Messages.RenderUsage)
		return
	}

	h.deps.Mirrors.SetRenderImages(value)
	text := "Image rendering is now " + onOff(value) + "."
	if err := config.SetEnvValue(h.deps.Config.EnvFile, renderEnvKey, strconv.FormatBool(value)); err != nil {
		log.ErrorContext(ctx, "Failed to persist render setting", "env_file", h.deps.Config.EnvFile, "error", err)
		text += " The setting could not be saved and will reset on restart."
	}
	sendReply(ctx, b, log, chatID, text)
}
