package userbot

import (
	"github.com/gotd/td/tg"
)

// channelIDOffset shifts MTProto channel ids into the Bot API's -100… range.
const channelIDOffset = 1000000000000

// peerKind is the MTProto peer type behind a Bot API chat id.
type peerKind int

const (
	kindUser peerKind = iota
	kindChat
	kindChannel
)

// botAPIID converts an MTProto peer to the id the Bot API uses for it.
func botAPIID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return -p.ChatID
	case *tg.PeerChannel:
		return -channelIDOffset - p.ChannelID
	default:
		return 0
	}
}

// channelBotAPIID converts a bare channel id.
func channelBotAPIID(channelID int64) int64 {
	return -channelIDOffset - channelID
}

// splitID is the inverse of botAPIID.
func splitID(id int64) (peerKind, int64) {
	switch {
	case id > 0:
		return kindUser, id
	case id < -channelIDOffset:
		return kindChannel, -id - channelIDOffset
	default:
		return kindChat, -id
	}
}
