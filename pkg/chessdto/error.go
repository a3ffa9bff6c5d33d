package chessdto

// Signal names the client understands for rejected actions.
const (
	SignalRoomNotFound    = "roomNotFound"
	SignalBotRoomNotFound = "botRoomNotFound"
	SignalNotYourTurn     = "notYourTurn"
	SignalInvalidMove     = "InvalidMove"
	SignalBotNotFound     = "botNotFound"
	SignalError           = "error"
)

// DomainError is a rejected action as the client sees it: Code is the
// signal event name and Message its payload.
type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "chess service error"
}
