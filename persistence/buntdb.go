package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/tcriess/cardscore/config"
	"github.com/tcriess/cardscore/types"
	"github.com/tidwall/buntdb"
)

const (
	buntUsersKey = "snapshot:users"
	buntRoomsKey = "snapshot:rooms"
)

// BuntDBPersist keeps both snapshots in a single BuntDB file, one key per kind.
type BuntDBPersist struct {
	db *buntdb.DB
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	db, err := setupBuntDB(cfg)
	if err != nil {
		return nil, err
	}
	return &BuntDBPersist{db}, nil
}

func setupBuntDB(cfg *config.Config) (*buntdb.DB, error) {
	fileName := cfg.PersistenceConfig.DSN
	if fileName == "" {
		return nil, fmt.Errorf("no buntdb file configured")
	}
	return buntdb.Open(fileName)
}

func (p *BuntDBPersist) LoadUsers() ([]types.User, error) {
	users := make([]types.User, 0)
	if err := p.get(buntUsersKey, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (p *BuntDBPersist) LoadRooms() ([]types.Room, error) {
	rooms := make([]types.Room, 0)
	if err := p.get(buntRoomsKey, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (p *BuntDBPersist) StoreUsers(users []types.User) error {
	return p.set(buntUsersKey, users)
}

func (p *BuntDBPersist) StoreRooms(rooms []types.Room) error {
	return p.set(buntRoomsKey, rooms)
}

func (p *BuntDBPersist) get(key string, v interface{}) error {
	return p.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(val), v)
	})
}

func (p *BuntDBPersist) set(key string, v interface{}) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(val), nil)
		return err
	})
}

func (p *BuntDBPersist) Close() error {
	return p.db.Close()
}
