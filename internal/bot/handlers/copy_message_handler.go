package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/tgmirror/internal/mirror"
)

// NewCopyMessageHandler returns a handler for the /copy_message command.
func NewCopyMessageHandler(deps HandlerDeps) bot.HandlerFunc {
	return copyMessageHandler{deps}.Handle
}

// copyMessageHandler copies existing messages once, outside any mirror.
type copyMessageHandler struct {
	deps HandlerDeps
}

func (h copyMessageHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "copy_message")
	chatID := update.Message.Chat.ID

	args, err := parseCopyMessage(commandArgs(update.Message.Text))
	if err != nil {
		sendReply(ctx, b, log, chatID, usageText(err, h.deps.Config.Messages.CopyMessageUsage))
		return
	}

	log.InfoContext(ctx, "Copying messages", "source_chat_id", args.Source, "target_chat_id", args.Target, "count", len(args.MessageIDs))

	// The status message is edited as the copy advances and finally holds the result.
	total := len(args.MessageIDs)
	var progress func(done, total int)
	status, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: copyProgressText(0, total)})
	if err != nil {
		log.WarnContext(ctx, "Failed to send copy progress message", "error", err)
		status = nil
	} else {
		progress = newCopyProgress(copyProgressStep, func(text string) {
			editReply(ctx, b, log, chatID, status.ID, text)
		}).report
	}

	res, err := h.deps.Mirrors.CopyMessages(ctx, args.Source, args.MessageIDs, mirror.Target{ChatID: args.Target}, progress)
	var text string
	if err != nil && res == nil {
		text = mirrorErrorText(err, h.deps.Config)
	} else {
		text = formatCopyResult(res, total)
	}
	if status != nil {
		editReply(ctx, b, log, chatID, status.ID, text)
		return
	}
	sendReply(ctx, b, log, chatID, text)
}

// copyProgressStep is how many copied messages pass between progress edits.
const copyProgressStep = 10

func copyProgressText(done, total int) string {
	return fmt.Sprintf("Copying %d/%d...", done, total)
}

// copyProgress turns per-message callbacks into throttled status edits. The
// last message is left to the final result.
type copyProgress struct {
	mu   sync.Mutex
	step int
	last int
	edit func(text string)
}

func newCopyProgress(step int, edit func(text string)) *copyProgress {
	return &copyProgress{step: max(step, 1), edit: edit}
}

func (p *copyProgress) report(done, total int) {
	if done >= total || done%p.step != 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if done <= p.last {
		return
	}
	p.last = done
	p.edit(copyProgressText(done, total))
}

func formatCopyResult(res *mirror.CopyResult, requested int) string {
	text := fmt.Sprintf("Copied %d of %d messages.", res.Copied, requested)
	if len(res.Failed) == 0 {
		return text
	}
	ids := make([]int, 0, len(res.Failed))
	for id := range res.Failed {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	failed := make([]string, len(ids))
	for i, id := range ids {
		failed[i] = fmt.Sprint(id)
	}
	return text + "\nFailed: " + strings.Join(failed, ", ")
}
