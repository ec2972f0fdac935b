package sweeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/janrain/backplane/server/bpconfig"
	"github.com/janrain/backplane/server/db/mem"
	"github.com/janrain/backplane/server/store"
	"github.com/janrain/backplane/server/store/types"
)

type fixedInterval time.Duration

func (f fixedInterval) CleanupInterval(context.Context) (time.Duration, error) {
	return time.Duration(f), nil
}

var tables = bpconfig.NewTables("test")

func memStore(t *testing.T) *store.Store {
	t.Helper()
	adp := mem.New()
	if err := adp.Open(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	s := store.New(adp)
	for _, tbl := range tables.All() {
		if err := s.CreateTable(context.Background(), tbl); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func putBus(t *testing.T, s *store.Store, name string, attrs types.Attrs) {
	t.Helper()
	attrs[types.BusName] = name
	if err := s.Put(context.Background(), tables.Buses(), name, attrs); err != nil {
		t.Fatal(err)
	}
}

func putMessage(t *testing.T, s *store.Store, bus string, sticky bool, at time.Time) string {
	t.Helper()
	msg, err := types.NewMessage(types.NewMessageID(at), bus, "c1", map[string]any{
		"sticky":  sticky,
		"payload": map[string]any{"n": 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(context.Background(), tables.Messages(), msg.ID, msg.Attrs()); err != nil {
		t.Fatal(err)
	}
	return msg.ID
}

func exists(t *testing.T, s *store.Store, id string) bool {
	t.Helper()
	attrs, err := s.Get(context.Background(), tables.Messages(), id)
	if err != nil {
		t.Fatal(err)
	}
	return attrs != nil
}

func newSweeper(t *testing.T, st Store, now time.Time) *Sweeper {
	t.Helper()
	sw, err := New(context.Background(), st, tables, fixedInterval(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	sw.Now = func() time.Time { return now }
	return sw
}

func TestSweepRemovesExpired(t *testing.T) {
	s := memStore(t)
	now := time.Now()
	putBus(t, s, "b1", types.Attrs{types.BusRetentionSeconds: "60"})
	putBus(t, s, "b2", types.Attrs{types.BusRetentionSeconds: "3600"})

	old := putMessage(t, s, "b1", false, now.Add(-61*time.Second))
	oldSticky := putMessage(t, s, "b1", true, now.Add(-90*time.Second))
	fresh := putMessage(t, s, "b1", false, now)
	otherBus := putMessage(t, s, "b2", false, now.Add(-61*time.Second))

	sw := newSweeper(t, s, now)
	var deleted atomic.Int32
	sw.OnDeleted = func(bus string, sticky bool, n int) { deleted.Add(int32(n)) }
	if !sw.Sweep(context.Background()) {
		t.Fatal("sweep skipped")
	}

	if exists(t, s, old) || exists(t, s, oldSticky) {
		t.Error("expired message survived the sweep")
	}
	if !exists(t, s, fresh) {
		t.Error("fresh message deleted")
	}
	if !exists(t, s, otherBus) {
		t.Error("message of another bus with longer retention deleted")
	}
	if deleted.Load() != 2 {
		t.Errorf("reported %d deletions, want 2", deleted.Load())
	}
}

func TestSweepStickyWindow(t *testing.T) {
	s := memStore(t)
	now := time.Now()
	putBus(t, s, "b1", types.Attrs{
		types.BusRetentionSeconds:       "60",
		types.BusStickyRetentionSeconds: "600",
	})
	regular := putMessage(t, s, "b1", false, now.Add(-2*time.Minute))
	sticky := putMessage(t, s, "b1", true, now.Add(-2*time.Minute))
	oldSticky := putMessage(t, s, "b1", true, now.Add(-11*time.Minute))

	newSweeper(t, s, now).Sweep(context.Background())

	if exists(t, s, regular) {
		t.Error("expired regular message survived")
	}
	if !exists(t, s, sticky) {
		t.Error("sticky message deleted within its window")
	}
	if exists(t, s, oldSticky) {
		t.Error("expired sticky message survived")
	}
}

// failingStore fails or panics on deletes for one bus.
type failingStore struct {
	*store.Store
	failBus  string
	panicBus string

	mu    sync.Mutex
	buses []string
}

func (f *failingStore) DeleteWhere(ctx context.Context, table string, filter *types.Filter) (int, error) {
	bus := filter.Terms[0].Value
	f.mu.Lock()
	f.buses = append(f.buses, bus)
	f.mu.Unlock()
	if bus == f.panicBus {
		panic("nil map in backend")
	}
	if bus == f.failBus {
		return 0, &types.StoreError{Op: "select", Table: table, Err: errors.New("throttled")}
	}
	return f.Store.DeleteWhere(ctx, table, filter)
}

func TestSweepIsolatesBusErrors(t *testing.T) {
	s := memStore(t)
	now := time.Now()
	putBus(t, s, "a", types.Attrs{types.BusRetentionSeconds: "60"})
	putBus(t, s, "b", types.Attrs{types.BusRetentionSeconds: "60"})
	// Invalid configurations are skipped.
	if err := s.Put(context.Background(), tables.Buses(), "broken", types.Attrs{types.BusName: "broken"}); err != nil {
		t.Fatal(err)
	}
	expired := putMessage(t, s, "b", false, now.Add(-time.Hour))

	fs := &failingStore{Store: s, failBus: "a"}
	newSweeper(t, fs, now).Sweep(context.Background())

	if exists(t, s, expired) {
		t.Error("failure on bus a stopped the sweep of bus b")
	}
	if len(fs.buses) != 2 {
		t.Errorf("delete attempted on %v", fs.buses)
	}
}

func TestSweepIsolatesBusPanics(t *testing.T) {
	s := memStore(t)
	now := time.Now()
	putBus(t, s, "a", types.Attrs{
		types.BusRetentionSeconds:       "60",
		types.BusStickyRetentionSeconds: "60",
	})
	putBus(t, s, "b", types.Attrs{types.BusRetentionSeconds: "60"})
	expired := putMessage(t, s, "b", false, now.Add(-time.Hour))

	fs := &failingStore{Store: s, panicBus: "a"}
	sw := newSweeper(t, fs, now)
	if !sw.Sweep(context.Background()) {
		t.Fatal("sweep skipped")
	}

	if exists(t, s, expired) {
		t.Error("panic on bus a stopped the sweep of bus b")
	}
	// Both passes of bus a are attempted, then bus b.
	if len(fs.buses) != 3 {
		t.Errorf("delete attempted on %v", fs.buses)
	}
	// The lock is released after the sweep.
	if !sw.Sweep(context.Background()) {
		t.Error("second sweep skipped")
	}
}

func TestSweepNotOverlapping(t *testing.T) {
	sw := newSweeper(t, memStore(t), time.Now())
	sw.lock.Lock()
	if sw.Sweep(context.Background()) {
		t.Error("sweep ran while another one was in progress")
	}
	sw.lock.Unlock()
	if !sw.Sweep(context.Background()) {
		t.Error("sweep skipped with no other sweep running")
	}
}

type countingStore struct {
	*store.Store
	queries atomic.Int32
}

func (c *countingStore) Query(ctx context.Context, table string, filter *types.Filter, consistent bool) ([]types.Item, error) {
	c.queries.Add(1)
	return c.Store.Query(ctx, table, filter, consistent)
}

func TestStartStop(t *testing.T) {
	cs := &countingStore{Store: memStore(t)}
	sw, err := New(context.Background(), cs, tables, fixedInterval(5*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	sw.Start()
	deadline := time.Now().Add(2 * time.Second)
	for cs.queries.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sw.Stop()
	if cs.queries.Load() < 2 {
		t.Fatalf("only %d sweeps ran", cs.queries.Load())
	}
	after := cs.queries.Load()
	time.Sleep(30 * time.Millisecond)
	if cs.queries.Load() != after {
		t.Error("sweeps continued after Stop")
	}
	// Stopping twice is harmless.
	sw.Stop()
}

func TestNewInvalidInterval(t *testing.T) {
	if _, err := New(context.Background(), memStore(t), tables, fixedInterval(0)); err == nil {
		t.Error("zero interval accepted")
	}
}

func TestExpiredFilter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := ExpiredFilter("b1", "", 60, now)
	want := "bus = 'b1' and id < '2024-05-01T11:59:00.000Z'"
	if f.String() != want {
		t.Errorf("filter %q, want %q", f.String(), want)
	}
	if got := ExpiredFilter("b1", "false", 60, now).String(); got != want+" and sticky != 'true'" {
		t.Errorf("non-sticky filter %q", got)
	}
	if got := ExpiredFilter("b1", "true", 60, now).String(); got != want+" and sticky = 'true'" {
		t.Errorf("sticky filter %q", got)
	}
}
