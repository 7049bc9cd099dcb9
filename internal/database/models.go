package database

import (
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// Chat is a Telegram chat the bot has seen or been pointed at.
type Chat struct {
	ID        int64     `db:"id"` // Bot API chat id
	Title     string    `db:"title"`
	Username  string    `db:"username"`
	Type      string    `db:"type"`
	IsSource  bool      `db:"is_source"`
	IsTarget  bool      `db:"is_target"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DisplayName returns the title, @username or numeric id, whichever is known first.
func (c Chat) DisplayName() string {
	switch {
	case c.Title != "":
		return c.Title
	case c.Username != "":
		return "@" + c.Username
	default:
		return strconv.FormatInt(c.ID, 10)
	}
}

// User is a message sender.
type User struct {
	ID        int64     `db:"id"`
	Username  string    `db:"username"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
	IsAdmin   bool      `db:"is_admin"`
	IsAllowed bool      `db:"is_allowed"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DisplayName returns the full name, @username or numeric id.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	switch {
	case name != "":
		return name
	case u.Username != "":
		return "@" + u.Username
	default:
		return strconv.FormatInt(u.ID, 10)
	}
}

// Message is a log entry for an inbound source message.
type Message struct {
	ID                int64     `db:"id"`
	ChatID            int64     `db:"chat_id"`
	TelegramID        int       `db:"telegram_id"`
	UserID            int64     `db:"user_id"`
	Text              string    `db:"text"`
	MediaType         string    `db:"media_type"`
	MediaFileID       string    `db:"media_file_id"`
	ReplyToMessageID  int       `db:"reply_to_message_id"`
	MessageThreadID   int       `db:"message_thread_id"`
	IsForwarded       bool      `db:"is_forwarded"`
	ForwardFromUserID int64     `db:"forward_from_user_id"`
	ForwardFromChatID int64     `db:"forward_from_chat_id"`
	MirrorCount       int       `db:"mirror_count"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// Mirror routes messages from one source chat to one target chat,
// optionally into a forum topic.
type Mirror struct {
	ID             int64         `db:"id"`
	SourceChatID   int64         `db:"source_chat_id"`
	TargetChatID   int64         `db:"target_chat_id"`
	TargetTopicID  sql.NullInt64 `db:"target_topic_id"`
	IsActive       bool          `db:"is_active"`
	RenderAsImage  bool          `db:"render_as_image"`
	IncludeMedia   bool          `db:"include_media"`
	IncludeReplies bool          `db:"include_replies"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

// TopicID returns the target forum topic, or 0 for the general thread.
func (m Mirror) TopicID() int {
	if !m.TargetTopicID.Valid {
		return 0
	}
	return int(m.TargetTopicID.Int64)
}

// MappingKind records how a target message was produced, which decides how
// edits are propagated to it.
type MappingKind string

const (
	MappingKindCopy   MappingKind = "copy"   // copy of the source message (text or media with caption)
	MappingKindText   MappingKind = "text"   // plain text sent in place of a media message
	MappingKindRender MappingKind = "render" // rendered card photo
)

// MessageMapping links a source message to the message a mirror delivered.
type MessageMapping struct {
	ID              int64       `db:"id"`
	MirrorID        int64       `db:"mirror_id"`
	SourceChatID    int64       `db:"source_chat_id"`
	SourceMessageID int         `db:"source_message_id"`
	TargetChatID    int64       `db:"target_chat_id"`
	TargetTopicID   int         `db:"target_topic_id"`
	TargetMessageID int         `db:"target_message_id"`
	Kind            MappingKind `db:"kind"`
	CreatedAt       time.Time   `db:"created_at"`
}

// Stats aggregates table counts for /status.
type Stats struct {
	Chats         int64 `db:"chats"`
	Users         int64 `db:"users"`
	Messages      int64 `db:"messages"`
	Mirrors       int64 `db:"mirrors"`
	ActiveMirrors int64 `db:"active_mirrors"`
	Mappings      int64 `db:"mappings"`
}
