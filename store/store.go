package store

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/cardscore/globals"
	"github.com/tcriess/cardscore/persistence"
	"github.com/tcriess/cardscore/types"
)

var ErrNotFound = errors.New("not found")

// Store holds the user and room collections in memory. The maps are the source of truth, every mutation writes a
// full snapshot of the affected collection through the persister before returning. Persister failures are logged
// and never returned: a mutation that was applied in memory stays applied.
//
// All values going in or out of the store are copies, callers cannot modify the stored entities.
type Store struct {
	users   map[string]types.User
	usersMu sync.RWMutex
	rooms   map[string]types.Room
	roomsMu sync.RWMutex

	// flush locks, held while taking and writing a snapshot
	usersFlushMu sync.Mutex
	roomsFlushMu sync.Mutex

	// user name -> user id, verified on every hit
	names *lru.ARCCache

	persister persistence.Persister
	logger    hclog.Logger
}

// New creates a store and loads both collections from the persister. A collection that cannot be loaded starts
// empty. nameCacheSize <= 0 disables the name cache.
func New(persister persistence.Persister, nameCacheSize int) *Store {
	s := &Store{
		users:     make(map[string]types.User),
		rooms:     make(map[string]types.Room),
		persister: persister,
		logger:    globals.AppLogger.Named("store"),
	}
	if nameCacheSize > 0 {
		if c, err := lru.NewARC(nameCacheSize); err == nil {
			s.names = c
		} else {
			s.logger.Error("could not create name cache", "error", err)
		}
	}

	users, err := persister.LoadUsers()
	if err != nil {
		s.logger.Error("could not load users, starting empty", "error", err)
	}
	for _, u := range users {
		s.users[u.Id] = u
		s.cacheName(u)
	}
	rooms, err := persister.LoadRooms()
	if err != nil {
		s.logger.Error("could not load rooms, starting empty", "error", err)
	}
	for _, r := range rooms {
		s.rooms[r.Id] = r
	}
	s.logger.Info("loaded", "users", len(s.users), "rooms", len(s.rooms))
	return s
}

func (s *Store) GetUser(id string) (types.User, bool) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return types.User{}, false
	}
	return u.Clone(), true
}

// GetUsers returns a copy of all users, ordered by creation time.
func (s *Store) GetUsers() []types.User {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	return s.snapshotUsers()
}

// FindUserByName returns a user with exactly the given name. If several users share the name, any of them may be
// returned.
func (s *Store) FindUserByName(name string) (types.User, bool) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	if s.names != nil {
		if id, ok := s.names.Get(name); ok {
			if u, ok := s.users[id.(string)]; ok && u.Name == name {
				return u.Clone(), true
			}
			s.names.Remove(name)
		}
	}
	for _, u := range s.users {
		if u.Name == name {
			s.cacheName(u)
			return u.Clone(), true
		}
	}
	return types.User{}, false
}

// PutUser inserts or replaces the user with the same id.
func (s *Store) PutUser(user types.User) {
	s.usersMu.Lock()
	if old, ok := s.users[user.Id]; ok && old.Name != user.Name {
		s.uncacheName(old)
	}
	s.users[user.Id] = user.Clone()
	s.cacheName(user)
	s.usersMu.Unlock()
	s.flushUsers()
}

// UpdateUser applies fn to the stored user while holding the collection lock. If fn returns an error nothing is
// changed and the error is returned.
func (s *Store) UpdateUser(id string, fn func(*types.User) error) (types.User, error) {
	s.usersMu.Lock()
	u, ok := s.users[id]
	if !ok {
		s.usersMu.Unlock()
		return types.User{}, ErrNotFound
	}
	u = u.Clone()
	oldName := u.Name
	if err := fn(&u); err != nil {
		s.usersMu.Unlock()
		return types.User{}, err
	}
	u.Id = id
	if u.Name != oldName {
		s.uncacheName(types.User{Id: id, Name: oldName})
	}
	s.users[id] = u
	s.cacheName(u)
	s.usersMu.Unlock()
	s.flushUsers()
	return u.Clone(), nil
}

func (s *Store) DeleteUser(id string) error {
	s.usersMu.Lock()
	u, ok := s.users[id]
	if !ok {
		s.usersMu.Unlock()
		return ErrNotFound
	}
	delete(s.users, id)
	s.uncacheName(u)
	s.usersMu.Unlock()
	s.flushUsers()
	return nil
}

func (s *Store) GetRoom(id string) (types.Room, bool) {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return types.Room{}, false
	}
	return r.Clone(), true
}

// GetRooms returns a copy of all rooms, ordered by creation time.
func (s *Store) GetRooms() []types.Room {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()
	return s.snapshotRooms()
}

// SearchRooms returns the rooms whose name contains keyword, ignoring case. A blank keyword matches every room.
func (s *Store) SearchRooms(keyword string) []types.Room {
	if strings.TrimSpace(keyword) == "" {
		return s.GetRooms()
	}
	keyword = strings.ToLower(keyword)
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()
	rooms := make([]types.Room, 0)
	for _, r := range s.rooms {
		if strings.Contains(strings.ToLower(r.Name), keyword) {
			rooms = append(rooms, r.Clone())
		}
	}
	sortRooms(rooms)
	return rooms
}

// PutRoom inserts or replaces the room with the same id.
func (s *Store) PutRoom(room types.Room) {
	s.roomsMu.Lock()
	s.rooms[room.Id] = room.Clone()
	s.roomsMu.Unlock()
	s.flushRooms()
}

// UpdateRoom applies fn to the stored room while holding the collection lock, so concurrent updates of the same
// room are never lost. If fn returns an error nothing is changed and the error is returned.
func (s *Store) UpdateRoom(id string, fn func(*types.Room) error) (types.Room, error) {
	s.roomsMu.Lock()
	r, ok := s.rooms[id]
	if !ok {
		s.roomsMu.Unlock()
		return types.Room{}, ErrNotFound
	}
	r = r.Clone()
	if err := fn(&r); err != nil {
		s.roomsMu.Unlock()
		return types.Room{}, err
	}
	r.Id = id
	s.rooms[id] = r
	s.roomsMu.Unlock()
	s.flushRooms()
	return r.Clone(), nil
}

func (s *Store) DeleteRoom(id string) error {
	s.roomsMu.Lock()
	if _, ok := s.rooms[id]; !ok {
		s.roomsMu.Unlock()
		return ErrNotFound
	}
	delete(s.rooms, id)
	s.roomsMu.Unlock()
	s.flushRooms()
	return nil
}

// Checkpoint writes both collections.
func (s *Store) Checkpoint() {
	s.flushUsers()
	s.flushRooms()
}

func (s *Store) Close() error {
	return s.persister.Close()
}

// flushUsers writes the current user collection. The snapshot is taken after acquiring the flush lock, so the
// last flush to complete always carries the newest state.
func (s *Store) flushUsers() {
	s.usersFlushMu.Lock()
	defer s.usersFlushMu.Unlock()
	s.usersMu.RLock()
	users := s.snapshotUsers()
	s.usersMu.RUnlock()
	if err := s.persister.StoreUsers(users); err != nil {
		s.logger.Warn("could not persist users", "error", err)
	}
}

func (s *Store) flushRooms() {
	s.roomsFlushMu.Lock()
	defer s.roomsFlushMu.Unlock()
	s.roomsMu.RLock()
	rooms := s.snapshotRooms()
	s.roomsMu.RUnlock()
	if err := s.persister.StoreRooms(rooms); err != nil {
		s.logger.Warn("could not persist rooms", "error", err)
	}
}

// snapshotUsers requires usersMu to be held.
func (s *Store) snapshotUsers() []types.User {
	users := make([]types.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u.Clone())
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].Id < users[j].Id
	})
	return users
}

// snapshotRooms requires roomsMu to be held.
func (s *Store) snapshotRooms() []types.Room {
	rooms := make([]types.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r.Clone())
	}
	sortRooms(rooms)
	return rooms
}

func sortRooms(rooms []types.Room) {
	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
		}
		return rooms[i].Id < rooms[j].Id
	})
}

func (s *Store) cacheName(u types.User) {
	if s.names != nil {
		s.names.Add(u.Name, u.Id)
	}
}

func (s *Store) uncacheName(u types.User) {
	if s.names == nil {
		return
	}
	if id, ok := s.names.Get(u.Name); ok && id.(string) == u.Id {
		s.names.Remove(u.Name)
	}
}
