package chessdto

// Server to client event names.
const (
	EventMatchFound      = "matchFound"
	EventNoMatchFound    = "noMatchFound"
	EventMaterialInfo    = "materialInfo"
	EventGameEval        = "gameEval"
	EventGameEnd         = "gameEnd"
	EventDrawOffered     = "drawOffered"
	EventStartGame       = "startGame"
	EventHandleBotMove   = "handleBotMove"
	EventBotMaterialInfo = "botMaterialInfo"
	EventBotGameEval     = "botGameEval"
	EventBotGameEnd      = "botGameEnd"
)

// MoveBroadcast is the handleMove and handleBotMove payload. Bot games
// carry no clocks.
type MoveBroadcast struct {
	OpponentFEN       string           `json:"opponentFen"`
	Moves             []string         `json:"moves"`
	IsCheck           bool             `json:"isCheck"`
	PlayerTimes       map[string]int64 `json:"playerTimes,omitempty"`
	LastMoveTimestamp int64            `json:"lastMoveTimestamp,omitempty"`
}

// GameEnd is the gameEnd and botGameEnd payload. Winner is the winning user
// or bot id, null for draws.
type GameEnd struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Winner  *string `json:"winner"`
}
