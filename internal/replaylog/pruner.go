package replaylog

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gridline-data/apex.replay/internal/db"
	"github.com/gridline-data/apex.replay/internal/monitoring"
)

// Pruner removes cached archives older than a TTL on an hourly cron
// schedule.
type Pruner struct {
	store *Store
	db    *db.DB
	ttl   time.Duration
	cron  *cron.Cron
}

// NewPruner returns a pruner for store with the given TTL. A zero or
// negative TTL disables pruning; Start then does nothing.
func NewPruner(store *Store, database *db.DB, ttl time.Duration) *Pruner {
	return &Pruner{store: store, db: database, ttl: ttl, cron: cron.New()}
}

// Start schedules the hourly prune job.
func (p *Pruner) Start() error {
	if p.ttl <= 0 {
		return nil
	}
	if _, err := p.cron.AddFunc("@hourly", p.prune); err != nil {
		return err
	}
	p.cron.Start()
	monitoring.Tagf("CACHE", "pruner started, ttl %s", p.ttl)
	return nil
}

// Stop halts the schedule; a running prune finishes.
func (p *Pruner) Stop() {
	if p.cron != nil {
		p.cron.Stop()
	}
}

func (p *Pruner) prune() {
	ids, err := p.db.StaleCacheEntries(p.ttl)
	if err != nil {
		monitoring.Tagf("CACHE", "prune query failed: %v", err)
		return
	}
	for _, id := range ids {
		if err := p.store.DeleteID(id); err != nil {
			monitoring.Tagf("CACHE", "prune %s: %v", id, err)
			continue
		}
		if err := p.db.DeleteCacheEntry(id); err != nil {
			monitoring.Tagf("CACHE", "prune index %s: %v", id, err)
		}
	}
	if len(ids) > 0 {
		monitoring.Tagf("CACHE", "pruned %d expired archives", len(ids))
	}
}
