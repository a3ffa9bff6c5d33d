package domain

const DefaultElo = 200

type GameStats struct {
	Played    int `json:"played"`
	Won       int `json:"won"`
	Lost      int `json:"lost"`
	Draw      int `json:"draw"`
	Stalemate int `json:"stalemate"`
}

// Account is the persistent player record read by matchmaking and updated
// when a rated game settles.
type Account struct {
	ID          string    `json:"userId"`
	Username    string    `json:"username"`
	Elo         int       `json:"elo"`
	Nationality string    `json:"nationality"`
	ProfilePic  string    `json:"profilePic"`
	Gender      string    `json:"gender"`
	GameStats   GameStats `json:"gameStats"`
}
