package cache

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Purger is anything that can drop its expired entries.
type Purger interface {
	PurgeExpired() int
}

// Janitor periodically purges expired entries from the caches it watches.
// Expired entries are already invisible to readers; the janitor only bounds
// how long their memory is retained between touches.
type Janitor struct {
	cron   *cron.Cron
	log    zerolog.Logger
	caches []Purger
}

// NewJanitor creates a Janitor over the given caches. The logger may be
// zerolog.Nop().
func NewJanitor(log zerolog.Logger, caches ...Purger) *Janitor {
	return &Janitor{
		cron:   cron.New(),
		log:    log,
		caches: caches,
	}
}

// Start schedules a purge every interval and begins running the schedule.
func (j *Janitor) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("janitor interval must be positive, got %s", interval)
	}
	if _, err := j.cron.AddFunc(fmt.Sprintf("@every %s", interval), j.purge); err != nil {
		return fmt.Errorf("schedule cache purge: %w", err)
	}
	j.cron.Start()
	return nil
}

// Stop halts the schedule. A purge already in flight runs to completion.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) purge() {
	var total int
	for _, c := range j.caches {
		total += c.PurgeExpired()
	}
	if total > 0 {
		j.log.Debug().Int("purged", total).Msg("cache janitor removed expired entries")
	}
}
