// Package userbot runs an MTProto user session that reads source chats the
// bot cannot join and delivers mirrored messages as the account. It is the
// only transport that observes deletions.
package userbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"

	"github.com/edgard/tgmirror/internal/config"
	"github.com/edgard/tgmirror/internal/mirror"
)

// Handler consumes source events. *mirror.Service satisfies it.
type Handler interface {
	HandleMessage(ctx context.Context, msg *mirror.Message) (*mirror.Result, error)
	HandleEdit(ctx context.Context, msg *mirror.Message) (int, error)
	HandleDelete(ctx context.Context, ev mirror.DeleteEvent) (int, error)
}

// Client owns the MTProto connection.
type Client struct {
	cfg    config.TelegramConfig
	logger *slog.Logger
	code   io.Reader

	client     *telegram.Client
	gaps       *updates.Manager
	dispatcher tg.UpdateDispatcher
	peers      *peerCache

	handler atomic.Pointer[Handler]
	api     atomic.Pointer[tg.Client]
	ready   chan struct{}
}

// New prepares the client. Nothing touches the network until Run.
func New(cfg config.TelegramConfig, logger *slog.Logger) (*Client, error) {
	if !cfg.UserbotEnabled() {
		return nil, errors.New("userbot requires api_id and api_hash")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.SessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	c := &Client{
		cfg:        cfg,
		logger:     logger.With("component", "userbot"),
		code:       os.Stdin,
		dispatcher: tg.NewUpdateDispatcher(),
		peers:      newPeerCache(),
		ready:      make(chan struct{}),
	}
	c.gaps = updates.New(updates.Config{Handler: c.dispatcher})
	c.client = telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: filepath.Join(cfg.SessionDir, cfg.SessionName+".json")},
		UpdateHandler:  c.gaps,
		Middlewares: []telegram.Middleware{
			floodwait.NewSimpleWaiter(),
			ratelimit.New(rate.Every(100*time.Millisecond), 5),
		},
	})
	c.registerHandlers()
	return c, nil
}

// Attach sets the pipeline. Events received before Attach are dropped.
func (c *Client) Attach(h Handler) {
	c.handler.Store(&h)
}

// Ready is closed once the session is authorised and dialogs are cached.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

func (c *Client) waitAPI(ctx context.Context) (*tg.Client, error) {
	select {
	case <-c.ready:
		return c.api.Load(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run connects, signs in when the session is new and blocks receiving
// updates until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		flow := auth.NewFlow(
			auth.Constant(c.cfg.PhoneNumber, c.cfg.Password, auth.CodeAuthenticatorFunc(c.askCode)),
			auth.SendCodeOptions{},
		)
		if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("userbot authorization failed: %w", err)
		}

		self, err := c.client.Self(ctx)
		if err != nil {
			return fmt.Errorf("failed to get account info: %w", err)
		}
		c.logger.InfoContext(ctx, "Userbot signed in", "user_id", self.ID, "username", self.Username)

		api := c.client.API()
		c.api.Store(api)
		if err := c.warmPeers(ctx, api); err != nil {
			c.logger.WarnContext(ctx, "Failed to load dialogs", "error", err)
		}
		close(c.ready)

		return c.gaps.Run(ctx, api, self.ID, updates.AuthOptions{
			OnStart: func(ctx context.Context) {
				c.logger.InfoContext(ctx, "Userbot update loop started", "peers", c.peers.len())
			},
		})
	})
}

// askCode reads the login code from the terminal on first sign-in.
func (c *Client) askCode(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
	c.logger.InfoContext(ctx, "Enter the login code Telegram sent to the account")
	fmt.Print("Login code: ")
	line, err := bufio.NewReader(c.code).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// dialogPageSize is the largest page messages.getDialogs accepts.
const dialogPageSize = 100

// warmPeers caches the access hashes of every dialog the account is in.
func (c *Client) warmPeers(ctx context.Context, api *tg.Client) error {
	req := &tg.MessagesGetDialogsRequest{OffsetPeer: &tg.InputPeerEmpty{}, Limit: dialogPageSize}
	for {
		res, err := api.MessagesGetDialogs(ctx, req)
		if err != nil {
			return err
		}

		var (
			chats    []tg.ChatClass
			users    []tg.UserClass
			messages []tg.MessageClass
			dialogs  []tg.DialogClass
			more     bool
		)
		switch d := res.(type) {
		case *tg.MessagesDialogs:
			chats, users = d.Chats, d.Users
		case *tg.MessagesDialogsSlice:
			chats, users, messages, dialogs = d.Chats, d.Users, d.Messages, d.Dialogs
			more = len(d.Dialogs) == dialogPageSize
		default:
			return nil
		}
		c.peers.addLists(chats, users)
		if !more {
			return nil
		}

		// Page from the oldest message of this batch.
		last := dialogs[len(dialogs)-1]
		req.OffsetPeer, err = c.inputPeer(botAPIID(last.GetPeer()))
		if err != nil {
			return nil
		}
		req.OffsetID = last.GetTopMessage()
		for _, m := range messages {
			if msg, ok := m.(*tg.Message); ok && msg.ID == req.OffsetID {
				req.OffsetDate = msg.Date
			}
		}
	}
}

func (c *Client) registerHandlers() {
	c.dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		c.onMessage(ctx, e, u.Message, false)
		return nil
	})
	c.dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		c.onMessage(ctx, e, u.Message, false)
		return nil
	})
	c.dispatcher.OnEditMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditMessage) error {
		c.onMessage(ctx, e, u.Message, true)
		return nil
	})
	c.dispatcher.OnEditChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditChannelMessage) error {
		c.onMessage(ctx, e, u.Message, true)
		return nil
	})
	c.dispatcher.OnDeleteMessages(func(ctx context.Context, _ tg.Entities, u *tg.UpdateDeleteMessages) error {
		c.onDelete(ctx, mirror.DeleteEvent{MessageIDs: u.Messages})
		return nil
	})
	c.dispatcher.OnDeleteChannelMessages(func(ctx context.Context, _ tg.Entities, u *tg.UpdateDeleteChannelMessages) error {
		c.onDelete(ctx, mirror.DeleteEvent{ChatID: channelBotAPIID(u.ChannelID), MessageIDs: u.Messages})
		return nil
	})
}

func (c *Client) onMessage(ctx context.Context, e tg.Entities, mc tg.MessageClass, edited bool) {
	c.peers.addEntities(e)
	hp := c.handler.Load()
	if hp == nil {
		return
	}
	m, ok := mc.(*tg.Message)
	if !ok {
		return // service messages are not mirrored
	}
	msg := convertMessage(c.peers, e, m)
	h := *hp

	if edited {
		if _, err := h.HandleEdit(ctx, msg); err != nil {
			c.logger.ErrorContext(ctx, "Failed to propagate edit", "chat_id", msg.Chat.ID, "message_id", msg.ID, "error", err)
		}
		return
	}
	res, err := h.HandleMessage(ctx, msg)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to mirror message", "chat_id", msg.Chat.ID, "message_id", msg.ID, "error", err)
		return
	}
	if err := res.Err(); err != nil {
		c.logger.WarnContext(ctx, "Some mirrors failed", "chat_id", msg.Chat.ID, "message_id", msg.ID, "error", err)
	}
}

func (c *Client) onDelete(ctx context.Context, ev mirror.DeleteEvent) {
	hp := c.handler.Load()
	if hp == nil {
		return
	}
	if _, err := (*hp).HandleDelete(ctx, ev); err != nil {
		c.logger.ErrorContext(ctx, "Failed to propagate delete", "chat_id", ev.ChatID, "count", len(ev.MessageIDs), "error", err)
	}
}
