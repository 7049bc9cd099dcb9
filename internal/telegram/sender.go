package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/tgmirror/internal/mirror"
)

// Bot API limits, in characters.
const (
	maxTextLength    = 4096
	maxCaptionLength = 1024
)

// BotSender delivers mirrored messages through the Bot API.
type BotSender struct {
	b *bot.Bot
}

// NewBotSender wraps a bot as a mirror.Sender.
func NewBotSender(b *bot.Bot) *BotSender {
	return &BotSender{b: b}
}

var _ mirror.Sender = (*BotSender)(nil)

func replyParams(to mirror.Target) *models.ReplyParameters {
	if to.ReplyToID == 0 {
		return nil
	}
	return &models.ReplyParameters{MessageID: to.ReplyToID, AllowSendingWithoutReply: true}
}

// CopyMessage copies a message without the forward header.
func (s *BotSender) CopyMessage(ctx context.Context, fromChatID int64, messageID int, to mirror.Target) (int, error) {
	res, err := s.b.CopyMessage(ctx, &bot.CopyMessageParams{
		ChatID:          to.ChatID,
		MessageThreadID: to.TopicID,
		FromChatID:      fromChatID,
		MessageID:       messageID,
		ReplyParameters: replyParams(to),
	})
	if err != nil {
		return 0, classify(err)
	}
	return res.ID, nil
}

func (s *BotSender) SendText(ctx context.Context, to mirror.Target, text string) (int, error) {
	res, err := s.b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          to.ChatID,
		MessageThreadID: to.TopicID,
		Text:            truncate(text, maxTextLength),
		ReplyParameters: replyParams(to),
	})
	if err != nil {
		return 0, classify(err)
	}
	return res.ID, nil
}

func (s *BotSender) SendPhoto(ctx context.Context, to mirror.Target, filename string, data []byte) (int, error) {
	res, err := s.b.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:          to.ChatID,
		MessageThreadID: to.TopicID,
		Photo:           &models.InputFileUpload{Filename: filename, Data: bytes.NewReader(data)},
		ReplyParameters: replyParams(to),
	})
	if err != nil {
		return 0, classify(err)
	}
	return res.ID, nil
}

func (s *BotSender) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	_, err := s.b.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      truncate(text, maxTextLength),
	})
	return classify(err)
}

func (s *BotSender) EditCaption(ctx context.Context, chatID int64, messageID int, caption string) error {
	_, err := s.b.EditMessageCaption(ctx, &bot.EditMessageCaptionParams{
		ChatID:    chatID,
		MessageID: messageID,
		Caption:   truncate(caption, maxCaptionLength),
	})
	return classify(err)
}

func (s *BotSender) EditPhoto(ctx context.Context, chatID int64, messageID int, filename string, data []byte) error {
	_, err := s.b.EditMessageMedia(ctx, &bot.EditMessageMediaParams{
		ChatID:    chatID,
		MessageID: messageID,
		Media: &models.InputMediaPhoto{
			Media:           "attach://" + filename,
			MediaAttachment: bytes.NewReader(data),
		},
	})
	return classify(err)
}

func (s *BotSender) DeleteMessages(ctx context.Context, chatID int64, messageIDs []int) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := s.b.DeleteMessages(ctx, &bot.DeleteMessagesParams{ChatID: chatID, MessageIDs: messageIDs})
	return classify(err)
}

// ResolveChat fails when the bot is not a member of the chat.
func (s *BotSender) ResolveChat(ctx context.Context, chatID int64) (*mirror.Chat, error) {
	info, err := s.b.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
	if err != nil {
		return nil, classify(err)
	}
	title := info.Title
	if title == "" {
		title = joinName(info.FirstName, info.LastName)
	}
	return &mirror.Chat{ID: info.ID, Title: title, Username: info.Username, Type: string(info.Type)}, nil
}

// classify maps Bot API errors onto mirror sentinels.
func classify(err error) error {
	var tooMany *bot.TooManyRequestsError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &tooMany):
		return &mirror.RetryAfterError{After: time.Duration(tooMany.RetryAfter) * time.Second, Err: err}
	case strings.Contains(err.Error(), "message is not modified"):
		return mirror.ErrNotModified
	case errors.Is(err, bot.ErrorForbidden), strings.Contains(err.Error(), "chat not found"):
		return fmt.Errorf("%w: %w", mirror.ErrChatUnavailable, err)
	default:
		return err
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
