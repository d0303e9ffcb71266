package types

// RoomDetail is a room together with its resolved members and the derived scores.
type RoomDetail struct {
	Room    Room           `json:"room"`
	Members []User         `json:"members"`
	Scores  map[string]int `json:"scores"`
}

// TransactionDetail carries the sender and receiver names for display. Users that can no longer be resolved
// are named UnknownUserName.
type TransactionDetail struct {
	Transaction  Transaction `json:"transaction"`
	FromUserName string      `json:"fromUserName"`
	ToUserName   string      `json:"toUserName"`
}

const UnknownUserName = "Unknown"
