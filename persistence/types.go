package persistence

import (
	"fmt"

	"github.com/tcriess/cardscore/config"
	"github.com/tcriess/cardscore/types"
)

const (
	TypeFile     = "file"
	TypeBuntDB   = "buntdb"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMemory   = "memory"
)

// Persister writes and reads full snapshots of the user and room collections. Every Store* call replaces the
// previous snapshot of that kind. Load* on a backend without a snapshot returns an empty slice and no error.
type Persister interface {
	LoadUsers() ([]types.User, error)
	LoadRooms() ([]types.Room, error)
	StoreUsers([]types.User) error
	StoreRooms([]types.Room) error
	Close() error
}

// NewPersister creates the persister selected by cfg.PersistenceConfig.Type.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case TypeFile, "":
		return NewFilePersister(cfg)
	case TypeBuntDB:
		return NewBuntPersister(cfg)
	case TypeSQLite, TypePostgres:
		return NewGormPersister(cfg)
	case TypeMemory:
		return NewMemoryPersister(), nil
	}
	return nil, fmt.Errorf("unknown persistence type %q", cfg.PersistenceConfig.Type)
}
