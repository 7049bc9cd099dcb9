package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/edgard/tgmirror/internal/database"
	"github.com/edgard/tgmirror/internal/mirror"
)

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatStatus(st *mirror.Status, transport string) string {
	var sb strings.Builder
	sb.WriteString("Mirror bot status\n\n")
	fmt.Fprintf(&sb, "Transport: %s\n", transport)
	fmt.Fprintf(&sb, "Uptime: %s\n", st.Uptime.Truncate(time.Second))
	fmt.Fprintf(&sb, "Image rendering: %s\n", onOff(st.RenderImages))
	if db := st.Database; db != nil {
		fmt.Fprintf(&sb, "Mirrors: %s (%s active)\n", humanize.Comma(db.Mirrors), humanize.Comma(db.ActiveMirrors))
		fmt.Fprintf(&sb, "Chats: %s\n", humanize.Comma(db.Chats))
		fmt.Fprintf(&sb, "Users: %s\n", humanize.Comma(db.Users))
		fmt.Fprintf(&sb, "Messages seen: %s\n", humanize.Comma(db.Messages))
		fmt.Fprintf(&sb, "Delivered copies: %s\n", humanize.Comma(db.Mappings))
	}
	fmt.Fprintf(&sb, "Rendered files: %d (%s)", st.Renders.Files, humanize.Bytes(uint64(st.Renders.Bytes)))
	return sb.String()
}

// formatMirror renders one line per mirror; name resolves chat ids to labels.
func formatMirror(m database.Mirror, name func(int64) string) string {
	state := "active"
	if !m.IsActive {
		state = "paused"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "#%d [%s] %s (%d) -> %s (%d)", m.ID, state,
		name(m.SourceChatID), m.SourceChatID, name(m.TargetChatID), m.TargetChatID)
	if topic := m.TopicID(); topic != 0 {
		fmt.Fprintf(&sb, " topic %d", topic)
	}

	var opts []string
	if m.RenderAsImage {
		opts = append(opts, "render")
	}
	if m.IncludeMedia {
		opts = append(opts, "media")
	}
	if m.IncludeReplies {
		opts = append(opts, "replies")
	}
	if len(opts) > 0 {
		fmt.Fprintf(&sb, " {%s}", strings.Join(opts, ", "))
	}
	fmt.Fprintf(&sb, ", added %s", humanize.Time(m.CreatedAt))
	return sb.String()
}

func formatMirrors(mirrors []database.Mirror, name func(int64) string) string {
	lines := make([]string, 0, len(mirrors)+1)
	lines = append(lines, fmt.Sprintf("Mirrors (%d):", len(mirrors)))
	for _, m := range mirrors {
		lines = append(lines, formatMirror(m, name))
	}
	return strings.Join(lines, "\n")
}

func formatChats(chats []database.Chat) string {
	lines := make([]string, 0, len(chats)+1)
	lines = append(lines, fmt.Sprintf("Known chats (%d):", len(chats)))
	for _, c := range chats {
		var roles []string
		if c.IsSource {
			roles = append(roles, "source")
		}
		if c.IsTarget {
			roles = append(roles, "target")
		}
		line := fmt.Sprintf("%s (%d)", c.DisplayName(), c.ID)
		if c.Type != "" {
			line += " " + c.Type
		}
		if len(roles) > 0 {
			line += " [" + strings.Join(roles, ", ") + "]"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// chunkLines splits text at line boundaries so every chunk fits in one message.
func chunkLines(text string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if cur.Len() > 0 && cur.Len()+1+len(line) > limit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
