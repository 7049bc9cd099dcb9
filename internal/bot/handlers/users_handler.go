package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/tgmirror/internal/database"
)

// NewUsersHandler returns a handler for the /users command.
func NewUsersHandler(deps HandlerDeps) bot.HandlerFunc {
	return usersHandler{deps}.Handle
}

// usersHandler lists the configured admins and allowed users, named from the
// users seen so far.
type usersHandler struct {
	deps HandlerDeps
}

func (h usersHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "users")

	lookup := func(id int64) *database.User { return h.deps.Mirrors.LookupUser(ctx, id) }
	text := formatUsers(h.deps.Config.Mirror.AdminUserIDs, h.deps.Config.Mirror.AllowedUserIDs, lookup)
	sendReply(ctx, b, log, update.Message.Chat.ID, text)
}

func formatUsers(admins, allowed []int64, lookup func(int64) *database.User) string {
	line := func(id int64) string {
		u := lookup(id)
		if u == nil {
			return fmt.Sprintf("%d (not seen yet)", id)
		}
		label := u.DisplayName()
		if u.Username != "" && label != "@"+u.Username {
			label += " @" + u.Username
		}
		return fmt.Sprintf("%s (%d)", label, id)
	}

	lines := []string{fmt.Sprintf("Admins (%d):", len(admins))}
	for _, id := range admins {
		lines = append(lines, line(id))
	}
	if len(allowed) == 0 {
		lines = append(lines, "", "Allowed users: everyone")
		return strings.Join(lines, "\n")
	}
	lines = append(lines, "", fmt.Sprintf("Allowed users (%d):", len(allowed)))
	for _, id := range allowed {
		lines = append(lines, line(id))
	}
	return strings.Join(lines, "\n")
}
