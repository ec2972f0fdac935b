package bpconfig

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/janrain/backplane/server/store/types"
)

type fakeGetter struct {
	mu    sync.Mutex
	attrs types.Attrs
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeGetter) Get(_ context.Context, table, key string) (types.Attrs, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if table != "inst_bpserverconfig" || key != types.ServerConfigKey {
		return nil, nil
	}
	return f.attrs.Clone(), f.err
}

func (f *fakeGetter) set(attrs types.Attrs) {
	f.mu.Lock()
	f.attrs = attrs
	f.mu.Unlock()
}

func serverAttrs(debug string, age string) types.Attrs {
	return types.Attrs{
		types.CfgDebugMode:        debug,
		types.CfgCacheAgeSeconds:  age,
		types.CfgCleanupIntervalM: "2",
	}
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestCache(src Getter) (*Cache, *clock) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCache(src, NewTables("inst").ServerConfig())
	c.Now = clk.Now
	return c, clk
}

func TestTables(t *testing.T) {
	want := []string{"inst_messages", "inst_BusConfig", "inst_User", "inst_Admin", "inst_bpserverconfig"}
	if diff := cmp.Diff(want, NewTables("inst").All()); diff != "" {
		t.Errorf("table names mismatch (-want +got):\n%s", diff)
	}
}

func TestCacheTTL(t *testing.T) {
	src := &fakeGetter{attrs: serverAttrs("false", "10")}
	c, clk := newTestCache(src)
	ctx := context.Background()

	cfg, err := c.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CleanupInterval != 2*time.Minute {
		t.Errorf("cleanup interval %v", cfg.CleanupInterval)
	}

	// Within the age the store is not consulted, even if the record changed.
	src.set(serverAttrs("true", "60"))
	clk.now = clk.now.Add(10 * time.Second)
	if c.DebugMode(ctx) {
		t.Error("stale read expected within cache age")
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("%d fetches, want 1", n)
	}

	// Past the age the record is refetched and its own age applies from now on.
	clk.now = clk.now.Add(time.Second)
	if !c.DebugMode(ctx) {
		t.Error("expected refreshed debug mode")
	}
	clk.now = clk.now.Add(30 * time.Second)
	if v, err := c.Property(ctx, types.CfgCacheAgeSeconds); err != nil || v != "60" {
		t.Errorf("Property = %q, %v", v, err)
	}
	if n := src.calls.Load(); n != 2 {
		t.Errorf("%d fetches, want 2", n)
	}
}

func TestCacheConcurrentRefresh(t *testing.T) {
	src := &fakeGetter{attrs: serverAttrs("false", "300"), delay: 20 * time.Millisecond}
	c, _ := newTestCache(src)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if n := src.calls.Load(); n != 1 {
		t.Errorf("%d fetches for concurrent refresh, want 1", n)
	}
}

func TestCacheNotFound(t *testing.T) {
	c := NewCache(&fakeGetter{}, "other_bpserverconfig")
	_, err := c.Get(context.Background())
	var nf *types.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if c.DebugMode(context.Background()) {
		t.Error("debug mode reported without a config")
	}
	if _, err := c.CleanupInterval(context.Background()); err == nil {
		t.Error("cleanup interval reported without a config")
	}
}

func TestCacheInvalid(t *testing.T) {
	src := &fakeGetter{attrs: serverAttrs("maybe", "10")}
	c, _ := newTestCache(src)
	_, err := c.Get(context.Background())
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCacheStoreError(t *testing.T) {
	boom := &types.StoreError{Op: "get", Err: errors.New("timeout")}
	src := &fakeGetter{attrs: serverAttrs("false", "10"), err: boom}
	c, _ := newTestCache(src)
	if _, err := c.Get(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected store error, got %v", err)
	}
	if src.calls.Load() != 1 {
		t.Error("store not consulted")
	}
}
