package userbot

import (
	"time"

	"github.com/gotd/td/tg"

	"github.com/edgard/tgmirror/internal/mirror"
)

// convertMessage maps an MTProto message to the transport-independent form.
// Peers are resolved through the cache, which must already hold e.
func convertMessage(cache *peerCache, e tg.Entities, m *tg.Message) *mirror.Message {
	chatID := botAPIID(m.PeerID)
	chat := mirror.Chat{ID: chatID}
	if p, ok := cache.get(chatID); ok {
		chat = p.chat
	}

	msg := &mirror.Message{
		Chat: chat,
		ID:   m.ID,
		Date: time.Unix(int64(m.Date), 0).UTC(),
		Text: m.Message,
	}

	if from, ok := m.GetFromID(); ok {
		if pu, ok := from.(*tg.PeerUser); ok {
			msg.From = &mirror.User{ID: pu.UserID}
			if u, ok := e.Users[pu.UserID]; ok {
				msg.From.Username = u.Username
				msg.From.FirstName = u.FirstName
				msg.From.LastName = u.LastName
			}
		}
	} else if pu, ok := m.PeerID.(*tg.PeerUser); ok && !m.Out {
		// Private chats carry no from_id; the sender is the peer.
		msg.From = &mirror.User{ID: pu.UserID}
		if u, ok := e.Users[pu.UserID]; ok {
			msg.From.Username = u.Username
			msg.From.FirstName = u.FirstName
			msg.From.LastName = u.LastName
		}
	}

	if header, ok := m.GetReplyTo(); ok {
		if r, ok := header.(*tg.MessageReplyHeader); ok {
			replyTo, _ := r.GetReplyToMsgID()
			top, hasTop := r.GetReplyToTopID()
			switch {
			case r.ForumTopic && hasTop:
				msg.ThreadID, msg.ReplyToID = top, replyTo
			case r.ForumTopic:
				msg.ThreadID = replyTo
			default:
				msg.ReplyToID = replyTo
			}
		}
	}

	if media, ok := m.GetMedia(); ok {
		msg.MediaType = mediaType(media)
	}

	if fwd, ok := m.GetFwdFrom(); ok {
		msg.Forward = convertForward(cache, e, fwd)
	}
	return msg
}

func convertForward(cache *peerCache, e tg.Entities, fwd tg.MessageFwdHeader) *mirror.Forward {
	out := &mirror.Forward{Name: fwd.FromName}
	from, ok := fwd.GetFromID()
	if !ok {
		if out.Name == "" {
			out.Name = "Unknown"
		}
		return out
	}

	id := botAPIID(from)
	switch p := from.(type) {
	case *tg.PeerUser:
		out.FromUserID = id
		if u, ok := e.Users[p.UserID]; ok {
			out.Name = userName(u)
			if out.Name == "" && u.Username != "" {
				out.Name = "@" + u.Username
			}
		}
	default:
		out.FromChatID = id
		if c, ok := e.Channels[channelIDOf(p)]; ok && c.Title != "" {
			out.Name = c.Title
		} else if cached, ok := cache.get(id); ok {
			out.Name = cached.chat.DisplayName()
		}
	}
	if out.Name == "" {
		out.Name = "Unknown"
	}
	return out
}

func channelIDOf(p tg.PeerClass) int64 {
	if c, ok := p.(*tg.PeerChannel); ok {
		return c.ChannelID
	}
	return 0
}

// mediaType names an attachment the way the Bot API does. Link previews are
// not attachments.
func mediaType(media tg.MessageMediaClass) string {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		return "photo"
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return "document"
		}
		return documentType(doc)
	case *tg.MessageMediaWebPage, *tg.MessageMediaEmpty:
		return ""
	case *tg.MessageMediaGeo, *tg.MessageMediaGeoLive, *tg.MessageMediaVenue:
		return "location"
	case *tg.MessageMediaContact:
		return "contact"
	case *tg.MessageMediaPoll:
		return "poll"
	default:
		return "document"
	}
}

func documentType(doc *tg.Document) string {
	var video, animated, round bool
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeSticker:
			return "sticker"
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				return "voice"
			}
			return "audio"
		case *tg.DocumentAttributeVideo:
			video = true
			round = a.RoundMessage
		case *tg.DocumentAttributeAnimated:
			animated = true
		}
	}
	switch {
	case animated:
		return "animation"
	case round:
		return "video_note"
	case video:
		return "video"
	default:
		return "document"
	}
}
