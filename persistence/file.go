package persistence

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/tcriess/cardscore/config"
	"github.com/tcriess/cardscore/globals"
	"github.com/tcriess/cardscore/types"
)

// snapshotFile is one JSON snapshot on disk. The mutex serializes writers within the process, the shared flock
// serializes writers across processes (server and admin tool).
type snapshotFile struct {
	path     string
	lastHash uint64
	written  bool
	sync.Mutex
}

// FilePersist stores the users and the rooms as two pretty-printed JSON arrays.
type FilePersist struct {
	users  *snapshotFile
	rooms  *snapshotFile
	lock   *flock.Flock
	logger hclog.Logger
}

func NewFilePersister(cfg *config.Config) (Persister, error) {
	pc := cfg.PersistenceConfig
	if pc.DataDir == "" {
		return nil, fmt.Errorf("no data directory configured")
	}
	if err := os.MkdirAll(pc.DataDir, 0755); err != nil {
		return nil, err
	}
	return &FilePersist{
		users:  &snapshotFile{path: pc.UsersPath()},
		rooms:  &snapshotFile{path: pc.RoomsPath()},
		lock:   flock.New(pc.LockPath()),
		logger: globals.AppLogger.Named("file"),
	}, nil
}

func (p *FilePersist) LoadUsers() ([]types.User, error) {
	users := make([]types.User, 0)
	if err := p.load(p.users, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (p *FilePersist) LoadRooms() ([]types.Room, error) {
	rooms := make([]types.Room, 0)
	if err := p.load(p.rooms, &rooms); err != nil {
		return nil, err
	}
	for i := range rooms {
		if rooms[i].MemberIds == nil {
			rooms[i].MemberIds = make([]string, 0)
		}
		if rooms[i].Transactions == nil {
			rooms[i].Transactions = make([]types.Transaction, 0)
		}
	}
	return rooms, nil
}

func (p *FilePersist) StoreUsers(users []types.User) error {
	return p.store(p.users, users)
}

func (p *FilePersist) StoreRooms(rooms []types.Room) error {
	return p.store(p.rooms, rooms)
}

func (p *FilePersist) Close() error {
	return nil
}

func (p *FilePersist) load(f *snapshotFile, v interface{}) error {
	f.Lock()
	defer f.Unlock()
	contents, err := ioutil.ReadFile(f.path)
	if os.IsNotExist(err) {
		p.logger.Debug("no snapshot", "path", f.path)
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(contents, v); err != nil {
		return fmt.Errorf("could not decode %s: %w", f.path, err)
	}
	return nil
}

// store writes the snapshot to a temporary file next to the target and renames it, so readers never see a
// partially written snapshot. A snapshot equal to the last one written is skipped as long as the file is still there.
func (p *FilePersist) store(f *snapshotFile, v interface{}) error {
	f.Lock()
	defer f.Unlock()
	hash, hashErr := hashstructure.Hash(v, hashstructure.FormatV2, nil)
	if hashErr != nil {
		p.logger.Warn("could not hash snapshot", "path", f.path, "error", hashErr)
	} else if f.written && hash == f.lastHash {
		if _, err := os.Stat(f.path); err == nil {
			p.logger.Trace("snapshot unchanged, skipping write", "path", f.path)
			return nil
		}
		p.logger.Warn("snapshot missing on disk, rewriting", "path", f.path)
	}

	contents, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if err := p.lock.Lock(); err != nil {
		return fmt.Errorf("could not lock %s: %w", p.lock.Path(), err)
	}
	defer func() {
		if err := p.lock.Unlock(); err != nil {
			p.logger.Error("could not unlock", "path", p.lock.Path(), "error", err)
		}
	}()

	tmp, err := ioutil.TempFile(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	_, err = tmp.Write(contents)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), f.path)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	f.lastHash = hash
	f.written = hashErr == nil
	return nil
}
