// Package schedule is the scheduler and business-day calendar (C9). It
// holds the calendar (loaded at startup, refreshed daily from the holidays
// table) and a cron-style runner for the daily reconciliation and weekly
// archive-purge jobs, both guarded by the C14 leader lock so only one
// loader instance in a deployment runs them on any given tick.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/ledgerbase/posloader/pkg/log"
	"github.com/ledgerbase/posloader/pkg/positionstore"
)

// Calendar answers "is this a business day" from an in-memory cache of the
// holidays table, refreshed on a timer so a running process picks up
// holiday-calendar edits without a restart.
type Calendar struct {
	store positionstore.Store

	mu       sync.RWMutex
	holidays map[string]bool
	loadedAt time.Time

	stopCh chan struct{}
}

// NewCalendar builds a Calendar and performs its first load synchronously,
// so a caller never sees an empty-before-first-tick calendar.
func NewCalendar(ctx context.Context, store positionstore.Store) (*Calendar, error) {
	c := &Calendar{store: store, holidays: make(map[string]bool), stopCh: make(chan struct{})}
	if err := c.reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Calendar) reload(ctx context.Context) error {
	from := time.Now().AddDate(-1, 0, 0)
	to := time.Now().AddDate(2, 0, 0)
	dates, err := c.store.ListHolidays(ctx, from, to)
	if err != nil {
		return err
	}

	holidays := make(map[string]bool, len(dates))
	for _, d := range dates {
		holidays[d.Format("2006-01-02")] = true
	}

	c.mu.Lock()
	c.holidays = holidays
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// IsBusinessDay reports whether date is a weekday and not a listed holiday.
func (c *Calendar) IsBusinessDay(date time.Time) bool {
	if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.holidays[date.Format("2006-01-02")]
}

// StartDailyRefresh reloads the calendar once every interval until Stop is
// called.
func (c *Calendar) StartDailyRefresh(interval time.Duration) {
	go func() {
		logger := log.WithComponent("calendar")
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.reload(context.Background()); err != nil {
					logger.Error().Err(err).Msg("failed to refresh business-day calendar")
				}
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *Calendar) Stop() { close(c.stopCh) }
