package types

import "time"

// Room is a named group of users sharing one score ledger. The transaction history is owned by the room and is
// append-only, its order is significant for CalculateScores.
type Room struct {
	Id           string        `json:"id"`
	Name         string        `json:"name"`
	CreatedAt    time.Time     `json:"createdAt"`
	MemberIds    []string      `json:"memberIds"`
	Transactions []Transaction `json:"transactions"`
}

func NewRoom(id, name, creatorId string, createdAt time.Time) Room {
	return Room{
		Id:           id,
		Name:         name,
		CreatedAt:    createdAt,
		MemberIds:    []string{creatorId},
		Transactions: make([]Transaction, 0),
	}
}

func (r *Room) HasMember(userId string) bool {
	for _, id := range r.MemberIds {
		if id == userId {
			return true
		}
	}
	return false
}

// AddMember appends userId to the member list unless it is already present. It returns false if nothing changed.
func (r *Room) AddMember(userId string) bool {
	if r.HasMember(userId) {
		return false
	}
	r.MemberIds = append(r.MemberIds, userId)
	return true
}

// RemoveMember removes userId from the member list. It returns false if userId was not a member.
func (r *Room) RemoveMember(userId string) bool {
	for i, id := range r.MemberIds {
		if id == userId {
			r.MemberIds = append(r.MemberIds[:i:i], r.MemberIds[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) AddTransaction(tx Transaction) {
	r.Transactions = append(r.Transactions, tx)
}

// CalculateScores derives the per-user balance from the transaction history. Every current member starts at 0,
// former members only show up if they took part in a transaction.
func (r Room) CalculateScores() map[string]int {
	scores := make(map[string]int, len(r.MemberIds))
	for _, id := range r.MemberIds {
		scores[id] = 0
	}
	for _, tx := range r.Transactions {
		scores[tx.FromUserId] -= tx.Amount
		scores[tx.ToUserId] += tx.Amount
	}
	return scores
}

// Volume is the sum of all transferred amounts.
func (r Room) Volume() int {
	volume := 0
	for _, tx := range r.Transactions {
		volume += tx.Amount
	}
	return volume
}

// Clone returns a deep copy, the slices of the copy can be modified without affecting r.
func (r Room) Clone() Room {
	memberIds := make([]string, len(r.MemberIds))
	copy(memberIds, r.MemberIds)
	r.MemberIds = memberIds
	transactions := make([]Transaction, len(r.Transactions))
	copy(transactions, r.Transactions)
	r.Transactions = transactions
	return r
}
