package sweep

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/oobits/snare/internal/db"
	"github.com/oobits/snare/internal/logging"
)

// Sweeper removes expired subdomains and scripts on a fixed interval.
// Each job is single-flight: a tick that fires while the previous run
// is still executing is skipped.
type Sweeper struct {
	DB       *sql.DB
	Logger   *zap.Logger
	Interval time.Duration
	Now      func() time.Time

	subdomainBusy atomic.Bool
	scriptBusy    atomic.Bool
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Start runs both sweep jobs until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go s.RunSubdomainSweep()
			go s.RunScriptSweep()
		}
	}
}

// RunSubdomainSweep deletes expired auto-delete subdomains along with
// their interactions and scripts. Children are removed before the
// parent so an interrupted run never strands orphaned rows behind a
// missing subdomain; the next run picks up where this one stopped.
func (s *Sweeper) RunSubdomainSweep() {
	if !s.subdomainBusy.CompareAndSwap(false, true) {
		return
	}
	defer s.subdomainBusy.Store(false)

	expired, err := db.ListExpiredSubdomains(s.DB, s.now().UnixMilli())
	if err != nil {
		s.Logger.Error("expired subdomain scan failed", zap.Error(err))
		return
	}

	removed := 0
	for _, sub := range expired {
		if err := db.DeleteInteractionsBySubdomain(s.DB, sub.ID); err != nil {
			s.Logger.Error("sweep interaction delete failed",
				logging.SubdomainID(sub.ID), zap.Error(err))
			continue
		}
		if err := db.DeleteScriptsBySubdomain(s.DB, sub.ID); err != nil {
			s.Logger.Error("sweep script delete failed",
				logging.SubdomainID(sub.ID), zap.Error(err))
			continue
		}
		if err := db.DeleteSubdomain(s.DB, sub.ID); err != nil {
			s.Logger.Error("sweep subdomain delete failed",
				logging.SubdomainID(sub.ID), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.Logger.Info("expired subdomains removed", zap.Int("count", removed))
	}
}

// RunScriptSweep deletes scripts past their expiry.
func (s *Sweeper) RunScriptSweep() {
	if !s.scriptBusy.CompareAndSwap(false, true) {
		return
	}
	defer s.scriptBusy.Store(false)

	n, err := db.DeleteExpiredScripts(s.DB, s.now().UnixMilli())
	if err != nil {
		s.Logger.Error("expired script sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.Logger.Info("expired scripts removed", zap.Int64("count", n))
	}
}
