package types

import "time"

// Transaction is an immutable point transfer between two members of a room.
type Transaction struct {
	Id         string    `json:"id"`
	RoomId     string    `json:"roomId"`
	FromUserId string    `json:"fromUserId"`
	ToUserId   string    `json:"toUserId"`
	Amount     int       `json:"amount"` // always > 0
	Timestamp  time.Time `json:"timestamp"`
}
