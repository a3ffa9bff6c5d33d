package room

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"

	"github.com/park285/chess-arena/internal/rules"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrNotParticipant = errors.New("user is not a player in this room")
	ErrInvalidMove    = errors.New("invalid move")
	ErrGameOver       = errors.New("game is over")
)

type Status string

const (
	StatusOngoing     Status = "ongoing"
	StatusCheckmate   Status = "checkmate"
	StatusStalemate   Status = "stalemate"
	StatusDraw        Status = "draw"
	StatusTimeout     Status = "timeout"
	StatusResignation Status = "resignation"
	// StatusAbandoned ends a game whose opponent has no live connection.
	StatusAbandoned Status = "abandoned"
)

// Decisive reports whether the status names a winner.
func (s Status) Decisive() bool {
	switch s {
	case StatusCheckmate, StatusTimeout, StatusResignation, StatusAbandoned:
		return true
	}
	return false
}

const (
	White = "w"
	Black = "b"
)

// Player is one seat of a room. TimeRemaining is in milliseconds and is
// zero in untimed games.
type Player struct {
	UserID        string `json:"userId"`
	Username      string `json:"username"`
	Elo           int    `json:"elo"`
	Nationality   string `json:"nationality"`
	ProfilePic    string `json:"profilePic"`
	Gender        string `json:"gender"`
	Color         string `json:"color"`
	TimeRemaining int64  `json:"timeRemaining,omitempty"`
}

// TimeControl is in milliseconds.
type TimeControl struct {
	Initial   int64 `json:"initial"`
	Increment int64 `json:"increment"`
}

// Room is the stored document of a rated game. Player1 plays white.
type Room struct {
	RoomID            string         `json:"roomId"`
	Mode              string         `json:"mode"`
	Player1           Player         `json:"player1"`
	Player2           Player         `json:"player2"`
	FEN               string         `json:"fen"`
	Moves             []string       `json:"moves"`
	Status            Status         `json:"status"`
	TimeControl       TimeControl    `json:"timeControl"`
	LastMoveTimestamp int64          `json:"lastMoveTimestamp"`
	MaterialInfo      rules.Material `json:"materialInfo"`
	Winner            string         `json:"winner,omitempty"`
	Message           string         `json:"message,omitempty"`
	CreatedAt         int64          `json:"createdAt"`
}

// sides returns the acting player and the opponent, or nils when userID
// holds neither seat.
func (r *Room) sides(userID string) (*Player, *Player) {
	switch userID {
	case r.Player1.UserID:
		return &r.Player1, &r.Player2
	case r.Player2.UserID:
		return &r.Player2, &r.Player1
	}
	return nil, nil
}

func (r *Room) byColor(color string) (*Player, *Player) {
	if r.Player1.Color == color {
		return &r.Player1, &r.Player2
	}
	return &r.Player2, &r.Player1
}

// Remaining is the clock of the given color at now (unix ms). Only the side
// to move has a running clock.
func (r *Room) Remaining(color string, now int64) int64 {
	p, _ := r.byColor(color)
	if rules.TurnOf(r.FEN) != color {
		return p.TimeRemaining
	}
	elapsed := now - r.LastMoveTimestamp
	if elapsed < 0 {
		elapsed = 0
	}
	return p.TimeRemaining - elapsed
}

// PlayerTimes keys stored clocks by user id.
func (r *Room) PlayerTimes() map[string]int64 {
	return map[string]int64{
		r.Player1.UserID: r.Player1.TimeRemaining,
		r.Player2.UserID: r.Player2.TimeRemaining,
	}
}

// NewID returns prefix followed by a random sha256 hex digest.
func NewID(prefix string) string {
	sum := sha256.Sum256([]byte(uuid.NewString()))
	return prefix + hex.EncodeToString(sum[:])
}
