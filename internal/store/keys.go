package store

import "strings"

const (
	poolKeyPrefix    = "REDIS_MATCH_SET:"
	roomKeyPrefix    = "ROOM:"
	botRoomKeyPrefix = "BOT:"
	relayPrefix      = "chess:relay:"

	ActiveGamesKey = "ACTIVE_GAMES"
	SocketsKey     = "player_sockets"
)

// PoolKey is the skill-ordered waiting pool of one mode.
func PoolKey(mode string) string { return poolKeyPrefix + strings.TrimSpace(mode) }

func RoomKey(id string) string    { return roomKeyPrefix + strings.TrimSpace(id) }
func BotRoomKey(id string) string { return botRoomKeyPrefix + strings.TrimSpace(id) }

// RelayChannel carries events for connections owned by another instance.
func RelayChannel(instanceID string) string { return relayPrefix + strings.TrimSpace(instanceID) }
