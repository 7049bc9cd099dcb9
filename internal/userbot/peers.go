package userbot

import (
	"sync"

	"github.com/gotd/td/tg"

	"github.com/edgard/tgmirror/internal/mirror"
)

type peer struct {
	input tg.InputPeerClass
	chat  mirror.Chat
}

// peerCache remembers access hashes and titles by Bot API id. MTProto
// requires the access hash of a user or channel for every call addressing it.
type peerCache struct {
	mu    sync.RWMutex
	peers map[int64]peer
}

func newPeerCache() *peerCache {
	return &peerCache{peers: make(map[int64]peer)}
}

func (c *peerCache) get(id int64) (peer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.peers[id]
	return p, ok
}

func (c *peerCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.peers)
}

func (c *peerCache) addUser(u *tg.User) {
	if u == nil || u.Min {
		return
	}
	c.put(u.ID, peer{
		input: &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash},
		chat:  mirror.Chat{ID: u.ID, Title: userName(u), Username: u.Username, Type: "private"},
	})
}

func (c *peerCache) addChat(ch *tg.Chat) {
	if ch == nil {
		return
	}
	id := -ch.ID
	c.put(id, peer{
		input: &tg.InputPeerChat{ChatID: ch.ID},
		chat:  mirror.Chat{ID: id, Title: ch.Title, Type: "group"},
	})
}

func (c *peerCache) addChannel(ch *tg.Channel) {
	if ch == nil || ch.Min {
		return
	}
	typ := "channel"
	if ch.Megagroup {
		typ = "supergroup"
	}
	id := channelBotAPIID(ch.ID)
	c.put(id, peer{
		input: &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
		chat:  mirror.Chat{ID: id, Title: ch.Title, Username: ch.Username, Type: typ},
	})
}

func (c *peerCache) put(id int64, p peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[id] = p
}

// addEntities caches every peer carried by an update.
func (c *peerCache) addEntities(e tg.Entities) {
	for _, u := range e.Users {
		c.addUser(u)
	}
	for _, ch := range e.Chats {
		c.addChat(ch)
	}
	for _, ch := range e.Channels {
		c.addChannel(ch)
	}
}

// addLists caches peers returned by list calls such as messages.getDialogs.
func (c *peerCache) addLists(chats []tg.ChatClass, users []tg.UserClass) {
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			c.addUser(user)
		}
	}
	for _, ch := range chats {
		switch v := ch.(type) {
		case *tg.Chat:
			c.addChat(v)
		case *tg.Channel:
			c.addChannel(v)
		}
	}
}

func userName(u *tg.User) string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}
