package telegram

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/tgmirror/internal/mirror"
)

// MessageHandler consumes source messages. *mirror.Service satisfies it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *mirror.Message) (*mirror.Result, error)
	HandleEdit(ctx context.Context, msg *mirror.Message) (int, error)
}

// Ingress feeds Bot API updates that no command handler claimed into the
// mirror pipeline. It is installed as the bot's default handler before the
// pipeline exists, so the handler is attached later.
type Ingress struct {
	logger  *slog.Logger
	handler atomic.Pointer[MessageHandler]
}

// NewIngress creates an ingress with no handler attached.
func NewIngress(logger *slog.Logger) *Ingress {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingress{logger: logger.With("component", "bot_ingress")}
}

// Attach sets the pipeline. Updates received before Attach are dropped.
func (i *Ingress) Attach(h MessageHandler) {
	i.handler.Store(&h)
}

// Handle is a bot.HandlerFunc.
func (i *Ingress) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	hp := i.handler.Load()
	if hp == nil || update == nil {
		return
	}
	h := *hp

	switch {
	case update.Message != nil:
		i.handleNew(ctx, h, update.Message)
	case update.ChannelPost != nil:
		i.handleNew(ctx, h, update.ChannelPost)
	case update.EditedMessage != nil:
		i.handleEdit(ctx, h, update.EditedMessage)
	case update.EditedChannelPost != nil:
		i.handleEdit(ctx, h, update.EditedChannelPost)
	}
}

func (i *Ingress) handleNew(ctx context.Context, h MessageHandler, m *models.Message) {
	msg := ConvertMessage(m)
	res, err := h.HandleMessage(ctx, msg)
	if err != nil {
		i.logger.ErrorContext(ctx, "Failed to mirror message", "chat_id", msg.Chat.ID, "message_id", msg.ID, "error", err)
		return
	}
	if err := res.Err(); err != nil {
		i.logger.WarnContext(ctx, "Some mirrors failed", "chat_id", msg.Chat.ID, "message_id", msg.ID, "error", err)
	}
}

func (i *Ingress) handleEdit(ctx context.Context, h MessageHandler, m *models.Message) {
	msg := ConvertMessage(m)
	if _, err := h.HandleEdit(ctx, msg); err != nil {
		i.logger.ErrorContext(ctx, "Failed to propagate edit", "chat_id", msg.Chat.ID, "message_id", msg.ID, "error", err)
	}
}
