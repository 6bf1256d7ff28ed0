package execution

import (
	"context"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/logging"
)

const DefaultSweepSpec = "@every 1m"

// Sweeper runs Store.Sweep on a cron schedule. Request handling never
// depends on it; idle executions also expire on their next access.
type Sweeper struct {
	cron  *cron.Cron
	store *Store
	log   logrus.FieldLogger
}

func NewSweeper(store *Store, spec string, log logrus.FieldLogger) (*Sweeper, error) {
	if log == nil {
		log = logging.Discard()
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultSweepSpec
	}
	s := &Sweeper{
		cron:  cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		store: store,
		log:   log,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce() }); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "invalid sweep schedule "+spec, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and returns a context done when a running sweep ends.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Sweeper) RunOnce() SweepResult {
	res := s.store.Sweep()
	if res.Expired > 0 || res.Purged > 0 {
		s.log.WithFields(logrus.Fields{"expired": res.Expired, "purged": res.Purged}).Info("execution sweep")
	}
	return res
}
