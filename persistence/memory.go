package persistence

import (
	"sync"

	"github.com/tcriess/cardscore/types"
)

// MemoryPersist keeps the last snapshot of each kind in memory. It is used for ephemeral runs and in tests.
type MemoryPersist struct {
	users []types.User
	rooms []types.Room
	sync.RWMutex
}

func NewMemoryPersister() *MemoryPersist {
	return &MemoryPersist{}
}

func (p *MemoryPersist) LoadUsers() ([]types.User, error) {
	p.RLock()
	defer p.RUnlock()
	users := make([]types.User, len(p.users))
	for i, u := range p.users {
		users[i] = u.Clone()
	}
	return users, nil
}

func (p *MemoryPersist) LoadRooms() ([]types.Room, error) {
	p.RLock()
	defer p.RUnlock()
	rooms := make([]types.Room, len(p.rooms))
	for i, r := range p.rooms {
		rooms[i] = r.Clone()
	}
	return rooms, nil
}

func (p *MemoryPersist) StoreUsers(users []types.User) error {
	snapshot := make([]types.User, len(users))
	for i, u := range users {
		snapshot[i] = u.Clone()
	}
	p.Lock()
	p.users = snapshot
	p.Unlock()
	return nil
}

func (p *MemoryPersist) StoreRooms(rooms []types.Room) error {
	snapshot := make([]types.Room, len(rooms))
	for i, r := range rooms {
		snapshot[i] = r.Clone()
	}
	p.Lock()
	p.rooms = snapshot
	p.Unlock()
	return nil
}

func (p *MemoryPersist) Close() error {
	return nil
}
