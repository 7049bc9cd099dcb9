package handlers

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewSettingsHandler returns a handler for the /settings command.
func NewSettingsHandler(m *settingsManager) bot.HandlerFunc {
	return settingsHandler{m}.Handle
}

// settingsHandler lists the runtime settings and their current values.
type settingsHandler struct {
	settings *settingsManager
}

func (h settingsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.settings.deps.Logger.With("handler", "settings")
	sendReply(ctx, b, log, update.Message.Chat.ID, h.settings.view()+"\n\n"+setUsage(h.settings.deps))
}

// NewSetHandler returns a handler for the /set command.
func NewSetHandler(m *settingsManager) bot.HandlerFunc {
	return setHandler{m}.Handle
}

// setHandler changes one setting, applies it to the running bot and writes it
// to the env file.
type setHandler struct {
	settings *settingsManager
}

func (h setHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.settings.deps.Logger.With("handler", "set")
	chatID := update.Message.Chat.ID

	reply, err := h.settings.set(ctx, commandArgs(update.Message.Text))
	switch {
	case errors.Is(err, errUsage):
		reply = usageText(err, setUsage(h.settings.deps))
	case err != nil:
		log.WarnContext(ctx, "Setting not changed", "error", err)
		reply = "Cannot change that setting: " + err.Error()
	}
	sendReply(ctx, b, log, chatID, reply)
}

func setUsage(deps HandlerDeps) string {
	return deps.Config.Messages.SetUsage + "\nSettings:\n" + settingExamples()
}
