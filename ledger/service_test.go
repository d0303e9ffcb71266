package ledger

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/cardscore/config"
	"github.com/tcriess/cardscore/persistence"
	"github.com/tcriess/cardscore/store"
	"github.com/tcriess/cardscore/types"
)

type recordingWatcher struct {
	mu      sync.Mutex
	changes []string
}

func (w *recordingWatcher) RoomChanged(roomId string) {
	w.mu.Lock()
	w.changes = append(w.changes, roomId)
	w.mu.Unlock()
}

func (w *recordingWatcher) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.changes)
}

func newTestService(t *testing.T) (*Service, *store.Store, persistence.Persister) {
	t.Helper()
	p := persistence.NewMemoryPersister()
	s := store.New(p, 16)
	return NewService(s), s, p
}

func mustUser(t *testing.T, svc *Service, name string) types.User {
	t.Helper()
	u, err := svc.CreateUser(name)
	require.NoError(t, err)
	return u
}

func TestCreateUser(t *testing.T) {
	svc, _, _ := newTestService(t)

	alice := mustUser(t, svc, "Alice")
	again := mustUser(t, svc, "Alice")
	bob := mustUser(t, svc, "Bob")
	assert.Equal(t, alice.Id, again.Id)
	assert.NotEqual(t, alice.Id, bob.Id)
	assert.False(t, alice.CreatedAt.IsZero())
	assert.Len(t, svc.GetAllUsers(), 2)

	for _, name := range []string{"", "   ", "\t"} {
		_, err := svc.CreateUser(name)
		assert.True(t, errors.Is(err, ErrValidation), "name %q", name)
	}
}

func TestCreateUserConcurrentSameName(t *testing.T) {
	svc, _, _ := newTestService(t)
	ids := make(chan string, 20)
	wg := sync.WaitGroup{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := svc.CreateUser("Alice")
			assert.NoError(t, err)
			ids <- u.Id
		}()
	}
	wg.Wait()
	close(ids)
	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1)
}

func TestGetUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	alice := mustUser(t, svc, "Alice")
	u, err := svc.GetUser(alice.Id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Name)

	_, err = svc.GetUser("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCreateRoom(t *testing.T) {
	svc, _, _ := newTestService(t)
	alice := mustUser(t, svc, "Alice")

	room, err := svc.CreateRoom("Friday Game", alice.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{alice.Id}, room.MemberIds)
	assert.Empty(t, room.Transactions)

	got, err := svc.GetRoom(room.Id)
	require.NoError(t, err)
	assert.Equal(t, room.Name, got.Name)

	_, err = svc.CreateRoom(" ", alice.Id)
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = svc.CreateRoom("Sunday", "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = svc.GetRoom("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = svc.CreateRoom("friday rematch", alice.Id)
	require.NoError(t, err)
	assert.Len(t, svc.GetAllRooms(), 2)
	assert.Len(t, svc.SearchRooms("FRIDAY"), 2)
	assert.Len(t, svc.SearchRooms("rematch"), 1)
	assert.Len(t, svc.SearchRooms(""), 2)
}

func TestJoinRoom(t *testing.T) {
	svc, _, _ := newTestService(t)
	alice := mustUser(t, svc, "Alice")
	bob := mustUser(t, svc, "Bob")
	room, err := svc.CreateRoom("Friday Game", alice.Id)
	require.NoError(t, err)

	_, err = svc.JoinRoom(room.Id, bob.Id)
	require.NoError(t, err)
	joined, err := svc.JoinRoom(room.Id, bob.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{alice.Id, bob.Id}, joined.MemberIds)

	got, err := svc.GetRoom(room.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{alice.Id, bob.Id}, got.MemberIds)

	u, err := svc.GetUser(bob.Id)
	require.NoError(t, err)
	assert.True(t, u.InRoom(room.Id))

	_, err = svc.JoinRoom("missing", bob.Id)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = svc.JoinRoom(room.Id, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLeaveRoom(t *testing.T) {
	svc, _, _ := newTestService(t)
	alice := mustUser(t, svc, "Alice")
	bob := mustUser(t, svc, "Bob")
	room, _ := svc.CreateRoom("Friday Game", alice.Id)
	other, _ := svc.CreateRoom("Other", alice.Id)
	_, err := svc.JoinRoom(room.Id, bob.Id)
	require.NoError(t, err)
	_, err = svc.JoinRoom(other.Id, bob.Id)
	require.NoError(t, err)

	// bob's current room is "other", leaving the first room keeps it
	require.NoError(t, svc.LeaveRoom(room.Id, bob.Id))
	u, _ := svc.GetUser(bob.Id)
	assert.True(t, u.InRoom(other.Id))
	got, _ := svc.GetRoom(room.Id)
	assert.Equal(t, []string{alice.Id}, got.MemberIds)

	// leaving twice is a no-op
	require.NoError(t, svc.LeaveRoom(room.Id, bob.Id))

	require.NoError(t, svc.LeaveRoom(other.Id, bob.Id))
	u, _ = svc.GetUser(bob.Id)
	assert.Nil(t, u.CurrentRoomId)

	assert.True(t, errors.Is(svc.LeaveRoom("missing", bob.Id), ErrNotFound))
	assert.True(t, errors.Is(svc.LeaveRoom(room.Id, "missing"), ErrNotFound))
}

func TestCreateTransactionValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	alice := mustUser(t, svc, "Alice")
	bob := mustUser(t, svc, "Bob")
	carol := mustUser(t, svc, "Carol")
	room, _ := svc.CreateRoom("Friday Game", alice.Id)
	_, err := svc.JoinRoom(room.Id, bob.Id)
	require.NoError(t, err)

	for _, amount := range []int{0, -5} {
		_, err = svc.CreateTransaction(room.Id, alice.Id, bob.Id, amount)
		assert.True(t, errors.Is(err, ErrValidation), "amount %d", amount)
	}
	// carol exists globally but is not a member
	_, err = svc.CreateTransaction(room.Id, carol.Id, bob.Id, 10)
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = svc.CreateTransaction(room.Id, alice.Id, carol.Id, 10)
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = svc.CreateTransaction(room.Id, "ghost", bob.Id, 10)
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = svc.CreateTransaction("missing", alice.Id, bob.Id, 10)
	assert.True(t, errors.Is(err, ErrNotFound))

	txs, err := svc.GetRoomTransactions(room.Id)
	require.NoError(t, err)
	assert.Empty(t, txs)
	_, err = svc.GetRoomTransactions("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = svc.GetTransactionDetails("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestScoresSumToZero(t *testing.T) {
	svc, _, _ := newTestService(t)
	players := make([]types.User, 4)
	for i := range players {
		players[i] = mustUser(t, svc, fmt.Sprintf("player %d", i))
	}
	room, _ := svc.CreateRoom("tournament", players[0].Id)
	for _, p := range players[1:] {
		_, err := svc.JoinRoom(room.Id, p.Id)
		require.NoError(t, err)
	}
	wg := sync.WaitGroup{}
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := players[i%4]
			to := players[(i+1)%4]
			_, err := svc.CreateTransaction(room.Id, from.Id, to.Id, i+1)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.NoError(t, svc.LeaveRoom(room.Id, players[2].Id))

	detail, err := svc.GetRoomDetail(room.Id)
	require.NoError(t, err)
	assert.Len(t, detail.Room.Transactions, 40)
	sum := 0
	for _, score := range detail.Scores {
		sum += score
	}
	assert.Equal(t, 0, sum)
	assert.Contains(t, detail.Scores, players[2].Id)
}

func TestFridayGame(t *testing.T) {
	svc, _, p := newTestService(t)
	alice := mustUser(t, svc, "Alice")
	bob := mustUser(t, svc, "Bob")
	room, err := svc.CreateRoom("Friday Game", alice.Id)
	require.NoError(t, err)
	_, err = svc.JoinRoom(room.Id, bob.Id)
	require.NoError(t, err)

	tx, err := svc.CreateTransaction(room.Id, alice.Id, bob.Id, 50)
	require.NoError(t, err)
	assert.Equal(t, room.Id, tx.RoomId)
	assert.Equal(t, 50, tx.Amount)

	detail, err := svc.GetRoomDetail(room.Id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{alice.Id: -50, bob.Id: 50}, detail.Scores)
	assert.Len(t, detail.Members, 2)

	require.NoError(t, svc.LeaveRoom(room.Id, bob.Id))
	detail, err = svc.GetRoomDetail(room.Id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{alice.Id: -50, bob.Id: 50}, detail.Scores)
	require.Len(t, detail.Members, 1)
	assert.Equal(t, alice.Id, detail.Members[0].Id)

	details, err := svc.GetTransactionDetails(room.Id)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "Alice", details[0].FromUserName)
	assert.Equal(t, "Bob", details[0].ToUserName)

	// simulated restart
	restarted := NewService(store.New(p, 16))
	assert.Equal(t, svc.GetAllUsers(), restarted.GetAllUsers())
	assert.Equal(t, svc.GetAllRooms(), restarted.GetAllRooms())
	detail, err = restarted.GetRoomDetail(room.Id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{alice.Id: -50, bob.Id: 50}, detail.Scores)
}

func TestRestartFromFileSnapshots(t *testing.T) {
	cfg := &config.Config{PersistenceConfig: config.PersistenceConfig{
		Type:      persistence.TypeFile,
		DataDir:   filepath.Join(t.TempDir(), "data"),
		UsersFile: "users.json",
		RoomsFile: "rooms.json",
	}}
	open := func() *Service {
		p, err := persistence.NewFilePersister(cfg)
		require.NoError(t, err)
		return NewService(store.New(p, 16))
	}

	svc := open()
	alice := mustUser(t, svc, "Alice")
	bob := mustUser(t, svc, "Bob")
	room, err := svc.CreateRoom("Friday Game", alice.Id)
	require.NoError(t, err)
	_, err = svc.JoinRoom(room.Id, bob.Id)
	require.NoError(t, err)
	tx, err := svc.CreateTransaction(room.Id, alice.Id, bob.Id, 50)
	require.NoError(t, err)

	restarted := open()
	detail, err := restarted.GetRoomDetail(room.Id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{alice.Id: -50, bob.Id: 50}, detail.Scores)
	assert.Equal(t, []string{alice.Id, bob.Id}, detail.Room.MemberIds)
	assert.True(t, room.CreatedAt.Equal(detail.Room.CreatedAt))
	require.Len(t, detail.Room.Transactions, 1)
	loadedTx := detail.Room.Transactions[0]
	assert.Equal(t, tx.Id, loadedTx.Id)
	assert.True(t, tx.Timestamp.Equal(loadedTx.Timestamp))

	loadedBob, err := restarted.GetUser(bob.Id)
	require.NoError(t, err)
	assert.Equal(t, "Bob", loadedBob.Name)
	assert.True(t, bob.CreatedAt.Equal(loadedBob.CreatedAt))
	require.NotNil(t, loadedBob.CurrentRoomId)
	assert.Equal(t, room.Id, *loadedBob.CurrentRoomId)

	// names are indexed again after the restart
	again, err := restarted.CreateUser("Alice")
	require.NoError(t, err)
	assert.Equal(t, alice.Id, again.Id)
}

func TestRoomDetailRemovesOrphanedMembers(t *testing.T) {
	svc, s, _ := newTestService(t)
	alice := mustUser(t, svc, "Alice")
	bob := mustUser(t, svc, "Bob")
	room, _ := svc.CreateRoom("Friday Game", alice.Id)
	_, err := svc.JoinRoom(room.Id, bob.Id)
	require.NoError(t, err)
	_, err = svc.CreateTransaction(room.Id, bob.Id, alice.Id, 5)
	require.NoError(t, err)
	require.NoError(t, s.DeleteUser(bob.Id))

	detail, err := svc.GetRoomDetail(room.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{alice.Id}, detail.Room.MemberIds)
	require.Len(t, detail.Members, 1)
	assert.Equal(t, map[string]int{alice.Id: 5, bob.Id: -5}, detail.Scores)

	stored, _ := svc.GetRoom(room.Id)
	assert.Equal(t, []string{alice.Id}, stored.MemberIds)

	details, err := svc.GetTransactionDetails(room.Id)
	require.NoError(t, err)
	assert.Equal(t, types.UnknownUserName, details[0].FromUserName)
	assert.Equal(t, "Alice", details[0].ToUserName)
	// resolving names does not change the room
	again, _ := svc.GetRoom(room.Id)
	assert.Equal(t, stored, again)
}

func TestRoomDetailMembersMatchRoomUnderChurn(t *testing.T) {
	svc, s, _ := newTestService(t)
	alice := mustUser(t, svc, "Alice")
	room, err := svc.CreateRoom("Friday Game", alice.Id)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			u, err := svc.CreateUser(fmt.Sprintf("player-%d", i))
			if err != nil {
				continue
			}
			_, _ = svc.JoinRoom(room.Id, u.Id)
			if i%2 == 0 {
				_ = s.DeleteUser(u.Id)
			} else {
				_ = svc.LeaveRoom(room.Id, u.Id)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, _ = svc.JoinRoom(room.Id, alice.Id)
			_ = svc.LeaveRoom(room.Id, alice.Id)
		}
	}()

	for i := 0; i < 200; i++ {
		detail, err := svc.GetRoomDetail(room.Id)
		require.NoError(t, err)
		for _, m := range detail.Members {
			assert.Contains(t, detail.Room.MemberIds, m.Id)
		}
	}
	wg.Wait()
}

func TestDelete(t *testing.T) {
	svc, _, _ := newTestService(t)
	alice := mustUser(t, svc, "Alice")
	room, _ := svc.CreateRoom("Friday Game", alice.Id)

	require.NoError(t, svc.DeleteRoom(room.Id))
	assert.True(t, errors.Is(svc.DeleteRoom(room.Id), ErrNotFound))
	require.NoError(t, svc.DeleteUser(alice.Id))
	assert.True(t, errors.Is(svc.DeleteUser(alice.Id), ErrNotFound))
	assert.Empty(t, svc.GetAllUsers())
}

func TestWatcherNotified(t *testing.T) {
	svc, _, _ := newTestService(t)
	w := &recordingWatcher{}
	svc.SetWatcher(w)
	alice := mustUser(t, svc, "Alice")
	bob := mustUser(t, svc, "Bob")
	assert.Equal(t, 0, w.count())

	room, _ := svc.CreateRoom("Friday Game", alice.Id)
	_, _ = svc.JoinRoom(room.Id, bob.Id)
	_, _ = svc.CreateTransaction(room.Id, alice.Id, bob.Id, 1)
	_, _ = svc.CreateTransaction(room.Id, alice.Id, bob.Id, 0)
	_ = svc.LeaveRoom(room.Id, bob.Id)
	_, _ = svc.GetRoomDetail(room.Id)
	assert.Equal(t, 4, w.count())
}
