package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/tgmirror/internal/config"
	"github.com/edgard/tgmirror/internal/mirror"
)

// NewAddMirrorHandler returns a handler for the /add_mirror command.
func NewAddMirrorHandler(deps HandlerDeps) bot.HandlerFunc {
	return addMirrorHandler{deps}.Handle
}

type addMirrorHandler struct {
	deps HandlerDeps
}

func (h addMirrorHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "add_mirror")
	chatID := update.Message.Chat.ID

	args, err := parseAddMirror(commandArgs(update.Message.Text))
	if err != nil {
		sendReply(ctx, b, log, chatID, usageText(err, h.deps.Config.Messages.AddMirrorUsage))
		return
	}

	m, err := h.deps.Mirrors.CreateMirror(ctx, args.Source, args.Target, args.Topic, mirror.MirrorOptions{
		RenderAsImage:  args.RenderAsImage,
		IncludeMedia:   args.IncludeMedia,
		IncludeReplies: args.IncludeReplies,
	})
	if err != nil {
		log.WarnContext(ctx, "Failed to add mirror", "source_chat_id", args.Source, "target_chat_id", args.Target, "error", err)
		sendReply(ctx, b, log, chatID, mirrorErrorText(err, h.deps.Config))
		return
	}

	name := func(id int64) string { return h.deps.Mirrors.ChatName(ctx, id) }
	sendReply(ctx, b, log, chatID, "Mirror added:\n"+formatMirror(*m, name))
}

// usageText prefixes the usage line with the parse problem when there is one.
func usageText(err error, usage string) string {
	if errors.Is(err, errUsage) && err.Error() != errUsage.Error() {
		return err.Error() + "\n" + usage
	}
	return usage
}

// mirrorErrorText turns mirror errors into admin-facing text.
func mirrorErrorText(err error, cfg *config.Config) string {
	switch {
	case errors.Is(err, mirror.ErrMirrorExists):
		return "That mirror already exists."
	case errors.Is(err, mirror.ErrMirrorCycle):
		return "That mirror would send messages back to their source chat."
	case errors.Is(err, mirror.ErrMirrorNotFound):
		return cfg.Messages.MirrorNotFound
	case errors.Is(err, mirror.ErrInvalidMirror), errors.Is(err, mirror.ErrChatUnavailable):
		return fmt.Sprintf("Cannot do that: %v", err)
	default:
		return cfg.Messages.GeneralError
	}
}
