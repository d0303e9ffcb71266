package store

import (
	"time"

	"github.com/robfig/cron/v3"
)

// StartCheckpoints runs Checkpoint according to the cron spec (f.e. "@every 5m"), so a snapshot that could not be
// written, or was removed from disk, is eventually rewritten. It returns nil if spec is empty. The caller stops the
// returned runner.
func (s *Store) StartCheckpoints(spec string) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}
	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := cronRunner.AddFunc(spec, func() {
		s.logger.Debug("checkpoint")
		s.Checkpoint()
	})
	if err != nil {
		return nil, err
	}
	cronRunner.Start()
	return cronRunner, nil
}
