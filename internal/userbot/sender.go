package userbot

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/edgard/tgmirror/internal/mirror"
)

var _ mirror.Sender = (*Client)(nil)

func randomID() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// inputPeer returns the addressable form of a Bot API chat id.
func (c *Client) inputPeer(chatID int64) (tg.InputPeerClass, error) {
	if p, ok := c.peers.get(chatID); ok {
		return p.input, nil
	}
	if kind, id := splitID(chatID); kind == kindChat {
		return &tg.InputPeerChat{ChatID: id}, nil
	}
	return nil, fmt.Errorf("%w: %d is not among the account's dialogs", mirror.ErrChatUnavailable, chatID)
}

func replyTo(to mirror.Target) tg.InputReplyToClass {
	if to.ReplyToID == 0 && to.TopicID == 0 {
		return nil
	}
	r := &tg.InputReplyToMessage{ReplyToMsgID: to.ReplyToID, TopMsgID: to.TopicID}
	if r.ReplyToMsgID == 0 {
		// A message in a topic replies to the topic root.
		r.ReplyToMsgID = to.TopicID
	}
	return r
}

// CopyMessage forwards without the author header, which is the MTProto
// equivalent of the Bot API's copyMessage. messages.forwardMessages cannot
// reply, so a copy that must thread under another message is re-sent from the
// fetched original when its content can be reused by reference.
func (c *Client) CopyMessage(ctx context.Context, fromChatID int64, messageID int, to mirror.Target) (int, error) {
	api, err := c.waitAPI(ctx)
	if err != nil {
		return 0, err
	}
	from, err := c.inputPeer(fromChatID)
	if err != nil {
		return 0, err
	}
	peer, err := c.inputPeer(to.ChatID)
	if err != nil {
		return 0, err
	}

	if to.ReplyToID != 0 {
		msg, err := fetchMessage(ctx, api, from, messageID)
		if err != nil {
			return 0, classify(err)
		}
		if media, ok := reusableMedia(msg.Media); ok {
			return resend(ctx, api, msg, media, peer, to)
		}
		c.logger.DebugContext(ctx, "Media cannot be re-sent, forwarding without reply",
			"chat_id", fromChatID, "message_id", messageID, "media", fmt.Sprintf("%T", msg.Media))
	}

	req := &tg.MessagesForwardMessagesRequest{
		FromPeer:   from,
		ID:         []int{messageID},
		RandomID:   []int64{randomID()},
		ToPeer:     peer,
		DropAuthor: true,
	}
	if to.TopicID != 0 {
		req.SetTopMsgID(to.TopicID)
	}
	res, err := api.MessagesForwardMessages(ctx, req)
	if err != nil {
		return 0, classify(err)
	}
	return sentMessageID(res)
}

func fetchMessage(ctx context.Context, api *tg.Client, from tg.InputPeerClass, messageID int) (*tg.Message, error) {
	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: messageID}}
	var (
		res tg.MessagesMessagesClass
		err error
	)
	if ch, ok := from.(*tg.InputPeerChannel); ok {
		res, err = api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      ids,
		})
	} else {
		res, err = api.MessagesGetMessages(ctx, ids)
	}
	if err != nil {
		return nil, err
	}
	list, ok := res.AsModified()
	if !ok {
		return nil, fmt.Errorf("unexpected messages response %T", res)
	}
	for _, m := range list.GetMessages() {
		if msg, ok := m.(*tg.Message); ok && msg.ID == messageID {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("message %d not found in source chat", messageID)
}

// reusableMedia maps a message's media to what messages.sendMedia accepts.
// It returns nil, true for text messages, link previews included, and false
// for media that cannot be re-sent by reference.
func reusableMedia(media tg.MessageMediaClass) (tg.InputMediaClass, bool) {
	switch m := media.(type) {
	case nil, *tg.MessageMediaEmpty, *tg.MessageMediaWebPage:
		return nil, true
	case *tg.MessageMediaPhoto:
		if m.Photo == nil {
			return nil, false
		}
		p, ok := m.Photo.AsNotEmpty()
		if !ok {
			return nil, false
		}
		return &tg.InputMediaPhoto{ID: p.AsInput(), Spoiler: m.Spoiler}, true
	case *tg.MessageMediaDocument:
		if m.Document == nil {
			return nil, false
		}
		d, ok := m.Document.AsNotEmpty()
		if !ok {
			return nil, false
		}
		return &tg.InputMediaDocument{ID: d.AsInput(), Spoiler: m.Spoiler}, true
	default:
		return nil, false
	}
}

// resend posts a new message with the original's text, entities and media,
// replying as to asks.
func resend(ctx context.Context, api *tg.Client, msg *tg.Message, media tg.InputMediaClass, peer tg.InputPeerClass, to mirror.Target) (int, error) {
	var (
		res tg.UpdatesClass
		err error
	)
	if media == nil {
		req := &tg.MessagesSendMessageRequest{Peer: peer, Message: msg.Message, RandomID: randomID()}
		req.SetReplyTo(replyTo(to))
		if len(msg.Entities) > 0 {
			req.SetEntities(msg.Entities)
		}
		res, err = api.MessagesSendMessage(ctx, req)
	} else {
		req := &tg.MessagesSendMediaRequest{Peer: peer, Media: media, Message: msg.Message, RandomID: randomID()}
		req.SetReplyTo(replyTo(to))
		if len(msg.Entities) > 0 {
			req.SetEntities(msg.Entities)
		}
		res, err = api.MessagesSendMedia(ctx, req)
	}
	if err != nil {
		return 0, classify(err)
	}
	return sentMessageID(res)
}

func (c *Client) SendText(ctx context.Context, to mirror.Target, text string) (int, error) {
	api, err := c.waitAPI(ctx)
	if err != nil {
		return 0, err
	}
	peer, err := c.inputPeer(to.ChatID)
	if err != nil {
		return 0, err
	}
	req := &tg.MessagesSendMessageRequest{Peer: peer, Message: text, RandomID: randomID()}
	if r := replyTo(to); r != nil {
		req.SetReplyTo(r)
	}
	res, err := api.MessagesSendMessage(ctx, req)
	if err != nil {
		return 0, classify(err)
	}
	return sentMessageID(res)
}

func (c *Client) SendPhoto(ctx context.Context, to mirror.Target, filename string, data []byte) (int, error) {
	api, err := c.waitAPI(ctx)
	if err != nil {
		return 0, err
	}
	peer, err := c.inputPeer(to.ChatID)
	if err != nil {
		return 0, err
	}
	file, err := uploader.NewUploader(api).FromBytes(ctx, filename, data)
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s: %w", filename, err)
	}
	req := &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    &tg.InputMediaUploadedPhoto{File: file},
		RandomID: randomID(),
	}
	if r := replyTo(to); r != nil {
		req.SetReplyTo(r)
	}
	res, err := api.MessagesSendMedia(ctx, req)
	if err != nil {
		return 0, classify(err)
	}
	return sentMessageID(res)
}

func (c *Client) editMessage(ctx context.Context, chatID int64, messageID int, build func(*tg.MessagesEditMessageRequest)) error {
	api, err := c.waitAPI(ctx)
	if err != nil {
		return err
	}
	peer, err := c.inputPeer(chatID)
	if err != nil {
		return err
	}
	req := &tg.MessagesEditMessageRequest{Peer: peer, ID: messageID}
	build(req)
	_, err = api.MessagesEditMessage(ctx, req)
	return classify(err)
}

func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	return c.editMessage(ctx, chatID, messageID, func(r *tg.MessagesEditMessageRequest) {
		r.SetMessage(text)
	})
}

// EditCaption is EditText: MTProto stores captions as the message text.
func (c *Client) EditCaption(ctx context.Context, chatID int64, messageID int, caption string) error {
	return c.EditText(ctx, chatID, messageID, caption)
}

func (c *Client) EditPhoto(ctx context.Context, chatID int64, messageID int, filename string, data []byte) error {
	api, err := c.waitAPI(ctx)
	if err != nil {
		return err
	}
	file, err := uploader.NewUploader(api).FromBytes(ctx, filename, data)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", filename, err)
	}
	return c.editMessage(ctx, chatID, messageID, func(r *tg.MessagesEditMessageRequest) {
		r.SetMedia(&tg.InputMediaUploadedPhoto{File: file})
	})
}

func (c *Client) DeleteMessages(ctx context.Context, chatID int64, messageIDs []int) error {
	if len(messageIDs) == 0 {
		return nil
	}
	api, err := c.waitAPI(ctx)
	if err != nil {
		return err
	}
	peer, err := c.inputPeer(chatID)
	if err != nil {
		return err
	}
	if ch, ok := peer.(*tg.InputPeerChannel); ok {
		_, err = api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      messageIDs,
		})
		return classify(err)
	}
	_, err = api.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{Revoke: true, ID: messageIDs})
	return classify(err)
}

// ResolveChat reports chats the account has seen. The cache is filled from
// dialogs at startup and from every update.
func (c *Client) ResolveChat(ctx context.Context, chatID int64) (*mirror.Chat, error) {
	if _, err := c.waitAPI(ctx); err != nil {
		return nil, err
	}
	p, ok := c.peers.get(chatID)
	if !ok {
		return nil, fmt.Errorf("%w: %d is not among the account's dialogs", mirror.ErrChatUnavailable, chatID)
	}
	chat := p.chat
	return &chat, nil
}

// sentMessageID digs the new message id out of a send response.
func sentMessageID(res tg.UpdatesClass) (int, error) {
	switch u := res.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID, nil
	case *tg.Updates:
		return idFromUpdates(u.Updates)
	case *tg.UpdatesCombined:
		return idFromUpdates(u.Updates)
	default:
		return 0, fmt.Errorf("unexpected send response %T", res)
	}
}

func idFromUpdates(updates []tg.UpdateClass) (int, error) {
	for _, upd := range updates {
		switch u := upd.(type) {
		case *tg.UpdateMessageID:
			return u.ID, nil
		case *tg.UpdateNewMessage:
			if m, ok := u.Message.(*tg.Message); ok {
				return m.ID, nil
			}
		case *tg.UpdateNewChannelMessage:
			if m, ok := u.Message.(*tg.Message); ok {
				return m.ID, nil
			}
		}
	}
	return 0, errors.New("send response carries no message id")
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case isFloodWait(err):
		d, _ := tgerr.AsFloodWait(err)
		return &mirror.RetryAfterError{After: d, Err: err}
	case tgerr.Is(err, "MESSAGE_NOT_MODIFIED"):
		return mirror.ErrNotModified
	case tgerr.Is(err, "CHANNEL_PRIVATE", "CHAT_WRITE_FORBIDDEN", "CHAT_ADMIN_REQUIRED", "PEER_ID_INVALID", "USER_BANNED_IN_CHANNEL"):
		return fmt.Errorf("%w: %w", mirror.ErrChatUnavailable, err)
	default:
		return err
	}
}

func isFloodWait(err error) bool {
	_, ok := tgerr.AsFloodWait(err)
	return ok
}
