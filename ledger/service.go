package ledger

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/cardscore/globals"
	"github.com/tcriess/cardscore/store"
	"github.com/tcriess/cardscore/types"
)

// RoomWatcher is told about every successful change of a room. RoomChanged must not block.
type RoomWatcher interface {
	RoomChanged(roomId string)
}

// Service implements the ledger rules on top of the store. Room and user updates of one operation (join, leave)
// are separate store writes; a user's CurrentRoomId may therefore lag behind the room's member list.
type Service struct {
	store  *store.Store
	logger hclog.Logger

	// serializes find-or-create by name
	createUserMu sync.Mutex

	watcherMu sync.RWMutex
	watcher   RoomWatcher

	now   func() time.Time
	newId func() string
}

func NewService(s *store.Store) *Service {
	return &Service{
		store:  s,
		logger: globals.AppLogger.Named("ledger"),
		now:    time.Now,
		newId:  func() string { return uuid.New().String() },
	}
}

func (s *Service) SetWatcher(w RoomWatcher) {
	s.watcherMu.Lock()
	s.watcher = w
	s.watcherMu.Unlock()
}

func (s *Service) roomChanged(roomId string) {
	s.watcherMu.RLock()
	w := s.watcher
	s.watcherMu.RUnlock()
	if w != nil {
		w.RoomChanged(roomId)
	}
}

// CreateUser returns the existing user with exactly this name, or creates a new one.
func (s *Service) CreateUser(name string) (types.User, error) {
	if strings.TrimSpace(name) == "" {
		return types.User{}, fmt.Errorf("%w: user name must not be empty", ErrValidation)
	}
	s.createUserMu.Lock()
	defer s.createUserMu.Unlock()
	if existing, ok := s.store.FindUserByName(name); ok {
		return existing, nil
	}
	user := types.User{
		Id:        s.newId(),
		Name:      name,
		CreatedAt: s.now(),
	}
	s.store.PutUser(user)
	s.logger.Debug("user created", "user", user.Id, "name", name)
	return user, nil
}

func (s *Service) GetAllUsers() []types.User {
	return s.store.GetUsers()
}

func (s *Service) GetUser(userId string) (types.User, error) {
	user, ok := s.store.GetUser(userId)
	if !ok {
		return types.User{}, userNotFound(userId)
	}
	return user, nil
}

// CreateRoom creates a room with the creator as its only member.
func (s *Service) CreateRoom(name, creatorId string) (types.Room, error) {
	if strings.TrimSpace(name) == "" {
		return types.Room{}, fmt.Errorf("%w: room name must not be empty", ErrValidation)
	}
	if _, ok := s.store.GetUser(creatorId); !ok {
		return types.Room{}, userNotFound(creatorId)
	}
	room := types.NewRoom(s.newId(), name, creatorId, s.now())
	s.store.PutRoom(room)
	s.logger.Debug("room created", "room", room.Id, "creator", creatorId)
	s.roomChanged(room.Id)
	return room, nil
}

func (s *Service) GetAllRooms() []types.Room {
	return s.store.GetRooms()
}

func (s *Service) SearchRooms(keyword string) []types.Room {
	return s.store.SearchRooms(keyword)
}

func (s *Service) GetRoom(roomId string) (types.Room, error) {
	room, ok := s.store.GetRoom(roomId)
	if !ok {
		return types.Room{}, roomNotFound(roomId)
	}
	return room, nil
}

// JoinRoom adds the user to the room (a no-op for members) and makes it the user's current room.
func (s *Service) JoinRoom(roomId, userId string) (types.Room, error) {
	if _, ok := s.store.GetRoom(roomId); !ok {
		return types.Room{}, roomNotFound(roomId)
	}
	if _, ok := s.store.GetUser(userId); !ok {
		return types.Room{}, userNotFound(userId)
	}
	room, err := s.store.UpdateRoom(roomId, func(r *types.Room) error {
		r.AddMember(userId)
		return nil
	})
	if err != nil {
		return types.Room{}, mapStoreError(err, roomNotFound(roomId))
	}
	s.roomChanged(roomId)
	_, err = s.store.UpdateUser(userId, func(u *types.User) error {
		u.CurrentRoomId = &roomId
		return nil
	})
	if err != nil {
		// the user vanished between the two writes, the room keeps an orphaned member until the next detail fetch
		s.logger.Warn("could not set current room", "user", userId, "room", roomId, "error", err)
	}
	return room, nil
}

// LeaveRoom removes the user from the room. The user's transactions stay in the room's history.
func (s *Service) LeaveRoom(roomId, userId string) error {
	if _, ok := s.store.GetRoom(roomId); !ok {
		return roomNotFound(roomId)
	}
	user, ok := s.store.GetUser(userId)
	if !ok {
		return userNotFound(userId)
	}
	_, err := s.store.UpdateRoom(roomId, func(r *types.Room) error {
		r.RemoveMember(userId)
		return nil
	})
	if err != nil {
		return mapStoreError(err, roomNotFound(roomId))
	}
	s.roomChanged(roomId)
	if !user.InRoom(roomId) {
		return nil
	}
	_, err = s.store.UpdateUser(userId, func(u *types.User) error {
		if u.InRoom(roomId) {
			u.CurrentRoomId = nil
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("could not clear current room", "user", userId, "room", roomId, "error", err)
	}
	return nil
}

// GetRoomDetail resolves the room's members and derives the scores. Member ids that no longer resolve to a user are
// dropped from the room.
func (s *Service) GetRoomDetail(roomId string) (types.RoomDetail, error) {
	room, ok := s.store.GetRoom(roomId)
	if !ok {
		return types.RoomDetail{}, roomNotFound(roomId)
	}
	members, orphans := s.resolveMembers(room)
	if len(orphans) > 0 {
		s.logger.Info("removing orphaned members", "room", roomId, "members", orphans)
		healed, err := s.store.UpdateRoom(roomId, func(r *types.Room) error {
			for _, id := range orphans {
				r.RemoveMember(id)
			}
			return nil
		})
		if err != nil {
			return types.RoomDetail{}, mapStoreError(err, roomNotFound(roomId))
		}
		room = healed
		// members may have joined or left since the first pass
		members, _ = s.resolveMembers(room)
		s.roomChanged(roomId)
	}
	return types.RoomDetail{
		Room:    room,
		Members: members,
		Scores:  room.CalculateScores(),
	}, nil
}

// resolveMembers returns the users of room in member order, and the member ids without a user.
func (s *Service) resolveMembers(room types.Room) ([]types.User, []string) {
	members := make([]types.User, 0, len(room.MemberIds))
	orphans := make([]string, 0)
	for _, memberId := range room.MemberIds {
		if user, ok := s.store.GetUser(memberId); ok {
			members = append(members, user)
		} else {
			orphans = append(orphans, memberId)
		}
	}
	return members, orphans
}

// CreateTransaction records a transfer of amount points from one member of the room to another.
func (s *Service) CreateTransaction(roomId, fromUserId, toUserId string, amount int) (types.Transaction, error) {
	tx := types.Transaction{
		Id:         s.newId(),
		RoomId:     roomId,
		FromUserId: fromUserId,
		ToUserId:   toUserId,
		Amount:     amount,
		Timestamp:  s.now(),
	}
	_, err := s.store.UpdateRoom(roomId, func(r *types.Room) error {
		if !r.HasMember(fromUserId) {
			return fmt.Errorf("%w: sender %s is not a member of room %s", ErrValidation, fromUserId, roomId)
		}
		if !r.HasMember(toUserId) {
			return fmt.Errorf("%w: receiver %s is not a member of room %s", ErrValidation, toUserId, roomId)
		}
		if amount <= 0 {
			return fmt.Errorf("%w: amount must be greater than 0", ErrValidation)
		}
		r.AddTransaction(tx)
		return nil
	})
	if err != nil {
		return types.Transaction{}, mapStoreError(err, roomNotFound(roomId))
	}
	s.logger.Debug("transaction created", "room", roomId, "from", fromUserId, "to", toUserId, "amount", amount)
	s.roomChanged(roomId)
	return tx, nil
}

func (s *Service) GetRoomTransactions(roomId string) ([]types.Transaction, error) {
	room, ok := s.store.GetRoom(roomId)
	if !ok {
		return nil, roomNotFound(roomId)
	}
	return room.Transactions, nil
}

// GetTransactionDetails resolves sender and receiver names of the room's transactions.
func (s *Service) GetTransactionDetails(roomId string) ([]types.TransactionDetail, error) {
	room, ok := s.store.GetRoom(roomId)
	if !ok {
		return nil, roomNotFound(roomId)
	}
	details := make([]types.TransactionDetail, 0, len(room.Transactions))
	for _, tx := range room.Transactions {
		details = append(details, types.TransactionDetail{
			Transaction:  tx,
			FromUserName: s.userName(tx.FromUserId),
			ToUserName:   s.userName(tx.ToUserId),
		})
	}
	return details, nil
}

// DeleteUser removes the user. Rooms keep the id in their member list until the next detail fetch.
func (s *Service) DeleteUser(userId string) error {
	err := s.store.DeleteUser(userId)
	if err != nil {
		return mapStoreError(err, userNotFound(userId))
	}
	return nil
}

// DeleteRoom removes the room with its history. Users pointing to it keep a stale CurrentRoomId.
func (s *Service) DeleteRoom(roomId string) error {
	err := s.store.DeleteRoom(roomId)
	if err != nil {
		return mapStoreError(err, roomNotFound(roomId))
	}
	s.roomChanged(roomId)
	return nil
}

func (s *Service) userName(userId string) string {
	if user, ok := s.store.GetUser(userId); ok {
		return user.Name
	}
	return types.UnknownUserName
}

func mapStoreError(err, notFound error) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound
	}
	return err
}

func userNotFound(userId string) error {
	return fmt.Errorf("user %s: %w", userId, ErrNotFound)
}

func roomNotFound(roomId string) error {
	return fmt.Errorf("room %s: %w", roomId, ErrNotFound)
}
