package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

var errUsage = errors.New("invalid arguments")

// sendReply sends text to chatID, logging instead of returning failures.
func sendReply(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             chatID,
		Text:               text,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send reply", "error", err, "chat_id", chatID)
	}
}

// editReply replaces the text of a message the bot sent earlier.
func editReply(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID int64, messageID int, text string) {
	_, err := b.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:             chatID,
		MessageID:          messageID,
		Text:               text,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to edit reply", "error", err, "chat_id", chatID, "message_id", messageID)
	}
}

// commandArgs returns the words after the command itself.
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %q is not a chat id", errUsage, s)
	}
	return id, nil
}

func parsePositive(s, what string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q is not a valid %s", errUsage, s, what)
	}
	return n, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// addMirrorArgs is the parsed form of
// /add_mirror <source_id> <target_id> [topic_id] [no_render] [no_media] [no_replies].
type addMirrorArgs struct {
	Source, Target int64
	Topic          int
	RenderAsImage  bool
	IncludeMedia   bool
	IncludeReplies bool
}

func parseAddMirror(args []string) (addMirrorArgs, error) {
	out := addMirrorArgs{RenderAsImage: true, IncludeMedia: true, IncludeReplies: true}
	if len(args) < 2 {
		return out, errUsage
	}
	var err error
	if out.Source, err = parseChatID(args[0]); err != nil {
		return out, err
	}
	if out.Target, err = parseChatID(args[1]); err != nil {
		return out, err
	}

	for i, arg := range args[2:] {
		switch strings.ToLower(arg) {
		case "no_render", "--no-render":
			out.RenderAsImage = false
		case "no_media", "--no-media":
			out.IncludeMedia = false
		case "no_replies", "--no-replies":
			out.IncludeReplies = false
		default:
			if i != 0 {
				return out, fmt.Errorf("%w: unknown option %q", errUsage, arg)
			}
			if out.Topic, err = parsePositive(arg, "topic id"); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

// parseMirrorID parses the single argument of /remove_mirror and /toggle_mirror.
func parseMirrorID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, errUsage
	}
	id, err := parsePositive(args[0], "mirror id")
	return int64(id), err
}

// copyArgs is the parsed form of
// /copy_message <source_id> <message_id> [message_id ...] <target_id>.
type copyArgs struct {
	Source, Target int64
	MessageIDs     []int
}

// maxCopyMessages bounds a single /copy_message request.
const maxCopyMessages = 100

func parseCopyMessage(args []string) (copyArgs, error) {
	var out copyArgs
	if len(args) < 3 {
		return out, errUsage
	}
	var err error
	if out.Source, err = parseChatID(args[0]); err != nil {
		return out, err
	}
	if out.Target, err = parseChatID(args[len(args)-1]); err != nil {
		return out, err
	}

	seen := map[int]bool{}
	for _, arg := range args[1 : len(args)-1] {
		ids, err := parseIDRange(arg)
		if err != nil {
			return out, err
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out.MessageIDs = append(out.MessageIDs, id)
			}
		}
	}
	if len(out.MessageIDs) > maxCopyMessages {
		return out, fmt.Errorf("%w: at most %d messages per request", errUsage, maxCopyMessages)
	}
	return out, nil
}

// parseIDRange accepts "12" or "12-15".
func parseIDRange(s string) ([]int, error) {
	lo, hi, isRange := strings.Cut(s, "-")
	first, err := parsePositive(lo, "message id")
	if err != nil {
		return nil, err
	}
	if !isRange {
		return []int{first}, nil
	}
	last, err := parsePositive(hi, "message id")
	if err != nil {
		return nil, err
	}
	if last < first || last-first >= maxCopyMessages {
		return nil, fmt.Errorf("%w: bad message range %q", errUsage, s)
	}
	ids := make([]int, 0, last-first+1)
	for id := first; id <= last; id++ {
		ids = append(ids, id)
	}
	return ids, nil
}

// parseSwitch reads on/off style arguments. ok is false when no argument was given.
func parseSwitch(args []string) (value, ok bool, err error) {
	if len(args) == 0 {
		return false, false, nil
	}
	if len(args) > 1 {
		return false, false, errUsage
	}
	switch strings.ToLower(args[0]) {
	case "on", "true", "yes", "1", "enable":
		return true, true, nil
	case "off", "false", "no", "0", "disable":
		return false, true, nil
	default:
		return false, false, fmt.Errorf("%w: expected on or off", errUsage)
	}
}
