package chessdto

// Client to server event names.
const (
	EventJoinRoom         = "joinRoom"
	EventCancelSearch     = "cancelSearch"
	EventHandleMove       = "handleMove"
	EventResign           = "resign"
	EventOfferDraw        = "offerDraw"
	EventDrawResolution   = "drawResolution"
	EventPlayBot          = "playBot"
	EventHandlePlayerMove = "handlePlayerMove"
	EventBotGameResign    = "botGameResign"
)

// TimeControls are in milliseconds.
type TimeControls struct {
	Initial   int64 `json:"initial"`
	Increment int64 `json:"increment"`
}

type JoinRoomRequest struct {
	UserID       string       `json:"userId"`
	Mode         string       `json:"mode"`
	TimeControls TimeControls `json:"timeControls"`
}

type CancelSearchRequest struct {
	UserID string `json:"userId"`
}

type HandleMoveRequest struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	FEN    string `json:"fen"`
	Move   string `json:"move"`
}

// RoomRequest carries resign, offerDraw and botGameResign.
type RoomRequest struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type DrawResolutionRequest struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Accepted bool   `json:"accepted"`
}

type PlayBotRequest struct {
	UserID string `json:"userId"`
	BotID  string `json:"botId,omitempty"`
}

type HandlePlayerMoveRequest struct {
	RoomID string   `json:"roomId"`
	UserID string   `json:"userId"`
	FEN    string   `json:"fen"`
	Moves  []string `json:"moves"`
}
