package filter

import "github.com/tcriess/cardscore/types"

/*
Env is what room filter expressions are evaluated against. Filters are typed in by operators, so renaming a
property breaks stored scripts; only add to it.
*/
type Env struct {
	Id           string
	Name         string
	CreatedAt    int64
	MemberIds    []string
	Members      int
	Transactions int
	Volume       int
	Scores       map[string]int
}

// NewEnv flattens room into a filter environment.
func NewEnv(room types.Room) Env {
	memberIds := make([]string, len(room.MemberIds))
	copy(memberIds, room.MemberIds)
	return Env{
		Id:           room.Id,
		Name:         room.Name,
		CreatedAt:    room.CreatedAt.Unix(),
		MemberIds:    memberIds,
		Members:      len(room.MemberIds),
		Transactions: len(room.Transactions),
		Volume:       room.Volume(),
		Scores:       room.CalculateScores(),
	}
}
