package hits

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultQueueSize = 256

var errMissingDatabase = errors.New("hits: database handle is required")

// Sample describes one access to record.
type Sample struct {
	Steam64ID  string
	Name       string
	Purpose    string
	Address    string
	RecordedAt time.Time
}

// TrackerConfig describes the dependencies required by a Tracker.
type TrackerConfig struct {
	Database  *gorm.DB
	Logger    *zap.Logger
	QueueSize int
	Clock     func() time.Time
}

// Tracker records usage events. Record hands samples to a background worker,
// so callers never wait on the database; completion order relative to
// subsequent count reads is unspecified.
type Tracker struct {
	db        *gorm.DB
	logger    *zap.Logger
	clock     func() time.Time
	queue     chan Sample
	done      chan struct{}
	closeOnce sync.Once
}

// NewTracker constructs a Tracker and starts its worker goroutine.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	tracker := &Tracker{
		db:     cfg.Database,
		logger: logger,
		clock:  clock,
		queue:  make(chan Sample, queueSize),
		done:   make(chan struct{}),
	}
	go tracker.run()
	return tracker, nil
}

// Record enqueues a sample without blocking. When the queue is full the
// sample is dropped; hit recording must never delay a widget response.
func (t *Tracker) Record(sample Sample) {
	if sample.Steam64ID == "" {
		return
	}
	if sample.Purpose == "" {
		sample.Purpose = DefaultPurpose
	}
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = t.clock()
	}

	select {
	case t.queue <- sample:
	default:
		t.logger.Warn("hit queue full, sample dropped", zap.String("steam64id", sample.Steam64ID))
	}
}

// Close drains the queue and stops the worker.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		close(t.queue)
	})
	<-t.done
}

func (t *Tracker) run() {
	defer close(t.done)
	for sample := range t.queue {
		if err := t.persist(sample); err != nil {
			t.logger.Warn("failed to persist hit",
				zap.String("steam64id", sample.Steam64ID),
				zap.Error(err))
		}
	}
}

// persist performs an atomic upsert-or-increment on the profile counter, then
// appends the hit row. Two first-time hits racing on the same identity both
// funnel through the ON CONFLICT clause, so exactly one row survives with an
// accurate count.
func (t *Tracker) persist(sample Sample) error {
	profile := Profile{Steam64ID: sample.Steam64ID, Name: sample.Name, Hits: 1}
	err := t.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "steam64id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"hits": gorm.Expr("hits + 1"),
			"name": sample.Name,
		}),
	}).Create(&profile).Error
	if err != nil {
		return err
	}

	hit := Hit{
		Steam64ID:  sample.Steam64ID,
		RecordedAt: sample.RecordedAt,
		Purpose:    sample.Purpose,
		Address:    sample.Address,
	}
	return t.db.Create(&hit).Error
}

// CountHits returns the number of recorded hits for the identity, filtered to
// the given purpose when it is non-empty.
func (t *Tracker) CountHits(id, purpose string) (int64, error) {
	query := t.db.Model(&Hit{}).Where("steam64id = ?", id)
	if purpose != "" {
		query = query.Where("purpose = ?", purpose)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// GetProfile returns the stored profile for the identity, or a zero-value
// Profile when none exists.
func (t *Tracker) GetProfile(id string) (Profile, error) {
	var profile Profile
	err := t.db.Where("steam64id = ?", id).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, nil
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}
