package types

import "time"

type User struct {
	Id            string    `json:"id"`                      // uuid
	Name          string    `json:"name"`                    // display name, used to dedup at creation
	CreatedAt     time.Time `json:"createdAt"`               // creation time
	CurrentRoomId *string   `json:"currentRoomId,omitempty"` // last joined room, may be stale
}

// Clone returns a copy of the user that does not share the CurrentRoomId pointer.
func (u User) Clone() User {
	if u.CurrentRoomId != nil {
		roomId := *u.CurrentRoomId
		u.CurrentRoomId = &roomId
	}
	return u
}

// InRoom reports whether the user's current room is roomId.
func (u User) InRoom(roomId string) bool {
	return u.CurrentRoomId != nil && *u.CurrentRoomId == roomId
}
