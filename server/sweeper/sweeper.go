// Package sweeper periodically deletes messages older than the retention window of
// their bus.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/janrain/backplane/server/bpconfig"
	"github.com/janrain/backplane/server/concurrency"
	"github.com/janrain/backplane/server/logs"
	"github.com/janrain/backplane/server/store/types"
)

// Store is the part of the attribute store used by the sweeper.
type Store interface {
	Query(ctx context.Context, table string, filter *types.Filter, consistent bool) ([]types.Item, error)
	DeleteWhere(ctx context.Context, table string, filter *types.Filter) (int, error)
}

// IntervalSource provides the sweep period.
type IntervalSource interface {
	CleanupInterval(ctx context.Context) (time.Duration, error)
}

// Sweeper runs retention sweeps on a fixed-rate timer. Sweeps never overlap.
type Sweeper struct {
	store    Store
	tables   bpconfig.Tables
	interval time.Duration

	// Now is the clock. Replaced in tests.
	Now func() time.Time
	// OnDeleted, if set, is called after each successful delete pass with the
	// number of deleted messages.
	OnDeleted func(bus string, sticky bool, n int)

	lock concurrency.SimpleMutex
	stop chan struct{}
	done chan struct{}
}

// New creates a sweeper. The period is read once here and not re-read later.
func New(ctx context.Context, st Store, tables bpconfig.Tables, cfg IntervalSource) (*Sweeper, error) {
	interval, err := cfg.CleanupInterval(ctx)
	if err != nil {
		return nil, errors.New("sweeper: failed to get cleanup interval: " + err.Error())
	}
	if interval <= 0 {
		return nil, errors.New("sweeper: cleanup interval must be positive")
	}
	return &Sweeper{
		store:    st,
		tables:   tables,
		interval: interval,
		Now:      time.Now,
		lock:     concurrency.NewSimpleMutex(),
	}, nil
}

// Interval is the sweep period.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Start runs sweeps in the background, the first one after one period.
func (s *Sweeper) Start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run()
	logs.Info.Printf("sweeper: started, interval %v", s.interval)
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Stop prevents further sweeps and waits for the running one to finish.
func (s *Sweeper) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	logs.Info.Println("sweeper: stopped")
}

// Sweep deletes expired messages of every bus once. Errors are logged, and a failure
// on one bus does not stop the others. Returns false if a sweep is already running.
func (s *Sweeper) Sweep(ctx context.Context) bool {
	if !s.lock.TryLock() {
		logs.Warn.Println("sweeper: previous sweep still running, skipping")
		return false
	}
	defer s.lock.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logs.Err.Println("sweeper: panic during sweep:", r)
		}
	}()

	logs.Info.Println("sweeper: message cleanup started")
	defer logs.Info.Println("sweeper: message cleanup finished")

	items, err := s.store.Query(ctx, s.tables.Buses(), nil, true)
	if err != nil {
		logs.Err.Println("sweeper: failed to load bus configurations:", err)
		return true
	}
	now := s.Now()
	for _, item := range items {
		bus, err := types.BusFromAttrs(item.Attrs)
		if err != nil {
			logs.Err.Printf("sweeper: invalid bus configuration %s: %v", item.Key, err)
			continue
		}
		s.sweepBus(ctx, bus, now)
	}
	return true
}

func (s *Sweeper) sweepBus(ctx context.Context, bus *types.Bus, now time.Time) {
	stickySeconds, hasSticky := bus.StickyRetentionSeconds()
	if !hasSticky {
		s.deleteExpired(ctx, bus.Name(), "", bus.RetentionSeconds(), now)
		return
	}
	s.deleteExpired(ctx, bus.Name(), types.FormatBool(false), bus.RetentionSeconds(), now)
	s.deleteExpired(ctx, bus.Name(), types.FormatBool(true), stickySeconds, now)
}

// ExpiredFilter selects messages of the bus older than the retention window.
// Sticky "true" narrows it to sticky messages, any other non-empty value to the
// non-sticky ones.
func ExpiredFilter(bus, sticky string, retentionSeconds int, now time.Time) *types.Filter {
	threshold := types.IDTimePrefix(now.Add(-time.Duration(retentionSeconds) * time.Second))
	f := types.Where(types.MsgBus, types.OpEq, bus).And(types.MsgID, types.OpLt, threshold)
	switch sticky {
	case "":
	case types.FormatBool(true):
		f.And(types.MsgSticky, types.OpEq, sticky)
	default:
		f.And(types.MsgSticky, types.OpNe, types.FormatBool(true))
	}
	return f
}

func (s *Sweeper) deleteExpired(ctx context.Context, bus, sticky string, retentionSeconds int, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			logs.Err.Printf("sweeper: panic cleaning up bus %s: %v", bus, r)
		}
	}()

	n, err := s.store.DeleteWhere(ctx, s.tables.Messages(), ExpiredFilter(bus, sticky, retentionSeconds, now))
	if err != nil {
		logs.Err.Printf("sweeper: error cleaning up expired messages on bus %s: %v", bus, err)
		return
	}
	if n > 0 {
		logs.Info.Printf("sweeper: bus %s: deleted %d expired messages", bus, n)
	}
	if s.OnDeleted != nil {
		s.OnDeleted(bus, sticky == types.FormatBool(true), n)
	}
}
