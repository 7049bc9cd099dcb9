// Package mirror routes messages from source chats to the targets of every
// configured mirror, optionally rendering them as image cards, and keeps the
// source-to-target message mapping used to propagate edits and deletions and
// to avoid delivering the same message twice.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edgard/tgmirror/internal/database"
	"github.com/edgard/tgmirror/internal/render"
)

var (
	// ErrInvalidMirror reports a mirror definition that can never be valid.
	ErrInvalidMirror = errors.New("invalid mirror")
	// ErrMirrorExists reports a duplicate (source, target, topic) route.
	ErrMirrorExists = database.ErrMirrorExists
	// ErrMirrorCycle reports a mirror that would route messages back to its own source.
	ErrMirrorCycle = errors.New("mirror would create a cycle")
	// ErrMirrorNotFound reports an unknown mirror id.
	ErrMirrorNotFound = errors.New("mirror not found")
	// ErrChatUnavailable reports a chat the transport cannot access.
	ErrChatUnavailable = errors.New("chat is not accessible")
	// ErrNotModified is returned by a Sender when an edit leaves the message unchanged.
	ErrNotModified = errors.New("message is not modified")
	// ErrRateLimited reports a call rejected by Telegram flood control.
	ErrRateLimited = errors.New("rate limited by telegram")
	// ErrTargetPaused reports a target chat skipped after repeated failures.
	ErrTargetPaused = errors.New("target chat paused after repeated failures")
)

// RetryAfterError is a flood-control rejection carrying the delay Telegram asked for.
// It matches ErrRateLimited.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRateLimited) hold.
func (e *RetryAfterError) Is(target error) bool { return target == ErrRateLimited }

// Chat identifies a Telegram chat by its Bot API id.
type Chat struct {
	ID       int64
	Title    string
	Username string
	Type     string // private, group, supergroup, channel
}

// DisplayName returns the chat title, @username or a generic label.
func (c Chat) DisplayName() string {
	switch {
	case c.Title != "":
		return c.Title
	case c.Username != "":
		return "@" + c.Username
	default:
		return "Unknown Chat"
	}
}

// User is the sender of a message.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// DisplayName prefers the full name, then @username.
func (u *User) DisplayName() string {
	if u == nil {
		return "Unknown User"
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "Unknown User"
}

// Forward describes where a forwarded message came from.
type Forward struct {
	FromUserID int64
	FromChatID int64
	Name       string
}

// Message is a transport-independent view of a source message.
type Message struct {
	Chat        Chat
	ID          int
	ThreadID    int
	From        *User // nil for channel posts
	Date        time.Time
	Text        string // text, or caption when the message carries media
	MediaType   string // empty, photo, video, animation, document, audio, voice, video_note, sticker
	MediaFileID string
	ReplyToID   int
	Forward     *Forward
}

// HasMedia reports whether the message carries an attachment.
func (m *Message) HasMedia() bool {
	return m.MediaType != ""
}

// DeleteEvent lists deleted source messages. ChatID is zero when the
// transport does not say which user or basic group chat they belonged to.
type DeleteEvent struct {
	ChatID     int64
	MessageIDs []int
}

// Target is where a delivery goes.
type Target struct {
	ChatID    int64
	TopicID   int // forum topic, 0 for none
	ReplyToID int // target message to reply to, 0 for none
}

// Sender delivers and edits messages through a Telegram transport.
// Message ids returned and accepted are ids in the target chat.
type Sender interface {
	CopyMessage(ctx context.Context, fromChatID int64, messageID int, to Target) (int, error)
	SendText(ctx context.Context, to Target, text string) (int, error)
	SendPhoto(ctx context.Context, to Target, filename string, data []byte) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	EditCaption(ctx context.Context, chatID int64, messageID int, caption string) error
	EditPhoto(ctx context.Context, chatID int64, messageID int, filename string, data []byte) error
	DeleteMessages(ctx context.Context, chatID int64, messageIDs []int) error
	ResolveChat(ctx context.Context, chatID int64) (*Chat, error)
}

// Renderer turns a card into PNG bytes.
type Renderer interface {
	Render(card render.Card) ([]byte, error)
}

// renderStore is implemented by renderers that keep a copy of each card on disk.
type renderStore interface {
	Save(name string, data []byte) (string, error)
	Stats() (render.FileStats, error)
}

// Access decides which chats and users take part in mirroring.
// *config.Config satisfies it.
type Access interface {
	IsSourceChat(chatID int64) bool
	// ListsSourceChat reports whether chatID is named in the source list itself.
	ListsSourceChat(chatID int64) bool
	IsTargetChat(chatID int64) bool
	IsAllowedUser(userID int64) bool
	IsAdmin(userID int64) bool
}
