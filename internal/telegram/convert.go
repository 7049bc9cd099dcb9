package telegram

import (
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/tgmirror/internal/mirror"
)

// ConvertMessage maps a Bot API message to the transport-independent form.
// It returns nil for a nil message.
func ConvertMessage(m *models.Message) *mirror.Message {
	if m == nil {
		return nil
	}

	msg := &mirror.Message{
		Chat:     convertChat(m.Chat),
		ID:       m.ID,
		ThreadID: m.MessageThreadID,
		Date:     time.Unix(int64(m.Date), 0).UTC(),
		Text:     m.Text,
	}
	if m.From != nil {
		msg.From = convertUser(m.From)
	}
	if m.ReplyToMessage != nil && m.ReplyToMessage.ID != m.MessageThreadID {
		// In forums every message replies to the topic root; that is not a real reply.
		msg.ReplyToID = m.ReplyToMessage.ID
	}

	msg.MediaType, msg.MediaFileID = mediaOf(m)
	if msg.MediaType != "" {
		msg.Text = m.Caption
	}
	msg.Forward = forwardOf(m.ForwardOrigin)
	return msg
}

func convertChat(c models.Chat) mirror.Chat {
	title := c.Title
	if title == "" && (c.FirstName != "" || c.LastName != "") {
		title = joinName(c.FirstName, c.LastName)
	}
	return mirror.Chat{ID: c.ID, Title: title, Username: c.Username, Type: string(c.Type)}
}

func convertUser(u *models.User) *mirror.User {
	return &mirror.User{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}

// mediaOf returns the attachment kind and file id, preferring the largest photo size.
func mediaOf(m *models.Message) (string, string) {
	switch {
	case len(m.Photo) > 0:
		return "photo", m.Photo[len(m.Photo)-1].FileID
	case m.Animation != nil:
		return "animation", m.Animation.FileID
	case m.Video != nil:
		return "video", m.Video.FileID
	case m.VideoNote != nil:
		return "video_note", m.VideoNote.FileID
	case m.Voice != nil:
		return "voice", m.Voice.FileID
	case m.Audio != nil:
		return "audio", m.Audio.FileID
	case m.Sticker != nil:
		return "sticker", m.Sticker.FileID
	case m.Document != nil:
		return "document", m.Document.FileID
	default:
		return "", ""
	}
}

func forwardOf(origin *models.MessageOrigin) *mirror.Forward {
	if origin == nil {
		return nil
	}
	switch {
	case origin.MessageOriginUser != nil:
		u := origin.MessageOriginUser.SenderUser
		name := joinName(u.FirstName, u.LastName)
		if name == "" && u.Username != "" {
			name = "@" + u.Username
		}
		return &mirror.Forward{FromUserID: u.ID, Name: name}
	case origin.MessageOriginHiddenUser != nil:
		return &mirror.Forward{Name: origin.MessageOriginHiddenUser.SenderUserName}
	case origin.MessageOriginChat != nil:
		c := convertChat(origin.MessageOriginChat.SenderChat)
		return &mirror.Forward{FromChatID: c.ID, Name: c.DisplayName()}
	case origin.MessageOriginChannel != nil:
		c := convertChat(origin.MessageOriginChannel.Chat)
		return &mirror.Forward{FromChatID: c.ID, Name: c.DisplayName()}
	default:
		return &mirror.Forward{Name: "Unknown"}
	}
}
