package dispatch

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"formbridge/internal/model"
)

// Sweeper periodically requeues submissions stuck in pending, the
// leftovers of a crashed worker or a restart with a non-empty queue.
type Sweeper struct {
	cron    *cron.Cron
	entryID cron.EntryID
	db      *gorm.DB
	worker  *Worker
	spec    string
	maxAge  time.Duration

	mu        sync.Mutex
	isRunning bool
}

// NewSweeper creates a sweeper that requeues pending submissions
// older than maxAge on the given cron spec
func NewSweeper(db *gorm.DB, worker *Worker, spec string, maxAge time.Duration) *Sweeper {
	return &Sweeper{
		cron:   cron.New(),
		db:     db,
		worker: worker,
		spec:   spec,
		maxAge: maxAge,
	}
}

// Start schedules the sweep
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return fmt.Errorf("sweeper is already running")
	}

	entryID, err := s.cron.AddFunc(s.spec, s.sweep)
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.WithFields(logrus.Fields{"spec": s.spec, "max_age": s.maxAge}).
		Info("Pending submission sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.isRunning = false
	logrus.Info("Pending submission sweeper stopped")
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().UTC().Add(-s.maxAge)

	var subs []model.Submission
	err := s.db.Where("status = ? AND submitted_at < ?", model.SubmissionPending, cutoff).
		Limit(500).Find(&subs).Error
	if err != nil {
		logrus.WithError(err).Error("Sweep query failed")
		return
	}
	if len(subs) == 0 {
		return
	}

	logrus.WithField("count", len(subs)).Info("Requeuing stuck submissions")
	for i := range subs {
		keys := make([]string, 0, len(subs[i].Data))
		for k := range subs[i].Data {
			if !model.KeysExcludedFromEmail[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		s.worker.Enqueue(subs[i].ID, keys)
	}
}
