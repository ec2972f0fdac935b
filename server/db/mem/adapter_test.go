package mem

import (
	"context"
	"errors"
	"testing"

	"github.com/janrain/backplane/server/db/common/testsuite"
	t "github.com/janrain/backplane/server/store/types"
)

func openAdapter(tt *testing.T) *adapter {
	tt.Helper()
	a := &adapter{}
	if err := a.Open(context.Background(), []byte(`{"max_results": 10}`)); err != nil {
		tt.Fatal(err)
	}
	tt.Cleanup(func() { a.Close() })
	return a
}

func TestConformance(tt *testing.T) {
	testsuite.RunAll(tt, openAdapter(tt), "test")
}

func TestOpenTwice(tt *testing.T) {
	a := openAdapter(tt)
	if err := a.Open(context.Background(), nil); err == nil {
		tt.Error("second Open succeeded")
	}
	if !a.IsOpen() {
		tt.Error("adapter reported closed")
	}
	a.Close()
	if a.IsOpen() {
		tt.Error("adapter reported open after Close")
	}
}

func TestMissingTable(tt *testing.T) {
	a := openAdapter(tt)
	ctx := context.Background()
	if err := a.PutAttributes(ctx, "nope", "k", t.Attrs{"a": "b"}, nil); err == nil {
		tt.Error("put into missing table succeeded")
	}
	if _, _, err := a.Select(ctx, "nope", nil, true, ""); err == nil {
		tt.Error("select from missing table succeeded")
	}
}

func TestBatchLimit(tt *testing.T) {
	a := openAdapter(tt)
	ctx := context.Background()
	a.CreateTable(ctx, "tbl")
	keys := make([]string, batchDeleteLimit+1)
	for i := range keys {
		keys[i] = string(rune('a' + i))
	}
	if err := a.BatchDelete(ctx, "tbl", keys); err == nil {
		tt.Error("oversized batch accepted")
	}
}

func TestGetReturnsCopy(tt *testing.T) {
	a := openAdapter(tt)
	ctx := context.Background()
	a.CreateTable(ctx, "tbl")
	a.PutAttributes(ctx, "tbl", "k", t.Attrs{"a": "1"}, nil)
	got, _ := a.GetAttributes(ctx, "tbl", "k", true)
	got["a"] = "2"
	again, _ := a.GetAttributes(ctx, "tbl", "k", true)
	if again["a"] != "1" {
		tt.Errorf("stored attributes modified through returned copy: %v", again)
	}
	err := a.PutAttributes(ctx, "tbl", "k", t.Attrs{"a": "3"}, &t.Condition{Name: "a", Value: "2", Exists: true})
	if !errors.Is(err, t.ErrConditionFailed) {
		tt.Errorf("expected ErrConditionFailed, got %v", err)
	}
}
