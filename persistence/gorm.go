package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tcriess/cardscore/config"
	"github.com/tcriess/cardscore/types"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	snapshotKindUsers = "users"
	snapshotKindRooms = "rooms"
)

// Snapshot is one row per collection kind, holding the whole collection as JSON.
type Snapshot struct {
	Kind      string         `gorm:"primaryKey"`
	Data      datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time
}

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	p := GormPersist{db: db}
	return &p, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no dsn configured")
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case TypePostgres:
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case TypeSQLite:
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Snapshot{}); err != nil {
		return nil, err
	}
	return db, nil
}

func (p *GormPersist) LoadUsers() ([]types.User, error) {
	users := make([]types.User, 0)
	if err := p.load(snapshotKindUsers, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (p *GormPersist) LoadRooms() ([]types.Room, error) {
	rooms := make([]types.Room, 0)
	if err := p.load(snapshotKindRooms, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (p *GormPersist) StoreUsers(users []types.User) error {
	return p.store(snapshotKindUsers, users)
}

func (p *GormPersist) StoreRooms(rooms []types.Room) error {
	return p.store(snapshotKindRooms, rooms)
}

func (p *GormPersist) load(kind string, v interface{}) error {
	snapshot := Snapshot{}
	err := p.db.Where("kind = ?", kind).First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(snapshot.Data, v)
}

func (p *GormPersist) store(kind string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	snapshot := Snapshot{Kind: kind, Data: datatypes.JSON(data)}
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&snapshot).Error
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
