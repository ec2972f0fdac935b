// Package testsuite holds adapter conformance tests shared by all backends.
package testsuite

import (
	"context"
	"errors"
	"strconv"
	"testing"

	adapter "github.com/janrain/backplane/server/db"
	types "github.com/janrain/backplane/server/store/types"
)

// RunAll runs every shared test against the adapter. Tables are created with the
// given prefix and dropped at the end.
func RunAll(t *testing.T, adp adapter.Adapter, prefix string) {
	t.Run("Tables", func(t *testing.T) { RunTables(t, adp, prefix+"_tables") })
	t.Run("PutGet", func(t *testing.T) { RunPutGet(t, adp, prefix+"_putget") })
	t.Run("Conditional", func(t *testing.T) { RunConditional(t, adp, prefix+"_cond") })
	t.Run("Select", func(t *testing.T) { RunSelect(t, adp, prefix+"_select") })
	t.Run("BatchDelete", func(t *testing.T) { RunBatchDelete(t, adp, prefix+"_batch") })
}

func createTable(t *testing.T, adp adapter.Adapter, table string) {
	t.Helper()
	ctx := context.Background()
	if err := adp.CreateTable(ctx, table); err != nil {
		t.Fatalf("CreateTable(%s): %v", table, err)
	}
	t.Cleanup(func() {
		if err := adp.DeleteTable(context.Background(), table); err != nil {
			t.Errorf("DeleteTable(%s): %v", table, err)
		}
	})
}

func listAllTables(t *testing.T, adp adapter.Adapter) map[string]bool {
	t.Helper()
	names := make(map[string]bool)
	token := ""
	for i := 0; i < 1000; i++ {
		page, next, err := adp.ListTables(context.Background(), token)
		if err != nil {
			t.Fatalf("ListTables: %v", err)
		}
		for _, n := range page {
			names[n] = true
		}
		if next == "" || next == token {
			return names
		}
		token = next
	}
	t.Fatal("ListTables: token loop")
	return nil
}

// RunTables checks table creation, listing and dropping.
func RunTables(t *testing.T, adp adapter.Adapter, table string) {
	ctx := context.Background()
	createTable(t, adp, table)
	// Creating an existing table must be safe.
	if err := adp.CreateTable(ctx, table); err != nil {
		t.Fatalf("CreateTable twice: %v", err)
	}
	if !listAllTables(t, adp)[table] {
		t.Errorf("table %s not listed", table)
	}

	other := table + "_drop"
	if err := adp.CreateTable(ctx, other); err != nil {
		t.Fatal(err)
	}
	if err := adp.PutAttributes(ctx, other, "k", types.Attrs{"a": "1"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := adp.DeleteTable(ctx, other); err != nil {
		t.Fatal(err)
	}
	if listAllTables(t, adp)[other] {
		t.Errorf("dropped table %s still listed", other)
	}
}

// RunPutGet checks unconditional writes, reads and deletes.
func RunPutGet(t *testing.T, adp adapter.Adapter, table string) {
	ctx := context.Background()
	createTable(t, adp, table)

	// Values that need quoting or escaping in backend query languages.
	odd := types.Attrs{"1": "<", "2": ">", "3": "&", "4": "'", "5": "\"", "'": "6", "a.b": "7", "$c": "8", "%": "9"}
	if err := adp.PutAttributes(ctx, table, "odd", odd, nil); err != nil {
		t.Fatal(err)
	}
	got, err := adp.GetAttributes(ctx, table, "odd", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(odd) {
		t.Fatalf("expected %d attributes, got %d: %v", len(odd), len(got), got)
	}
	for k, v := range odd {
		if got[k] != v {
			t.Errorf("attribute %q: expected %q, got %q", k, v, got[k])
		}
	}

	// Upsert replaces listed attributes and keeps the others.
	if err := adp.PutAttributes(ctx, table, "odd", types.Attrs{"1": "one", "new": "x"}, nil); err != nil {
		t.Fatal(err)
	}
	got, err = adp.GetAttributes(ctx, table, "odd", true)
	if err != nil {
		t.Fatal(err)
	}
	if got["1"] != "one" || got["new"] != "x" || got["2"] != ">" {
		t.Errorf("upsert result: %v", got)
	}

	if err := adp.DeleteAttributes(ctx, table, "odd", nil); err != nil {
		t.Fatal(err)
	}
	got, err = adp.GetAttributes(ctx, table, "odd", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("deleted item still has attributes: %v", got)
	}

	// Deleting a missing item is not an error.
	if err := adp.DeleteAttributes(ctx, table, "missing", nil); err != nil {
		t.Errorf("delete missing item: %v", err)
	}
}

// RunConditional checks the conditional write semantics the claim protocol relies on.
func RunConditional(t *testing.T, adp adapter.Adapter, table string) {
	ctx := context.Background()
	createTable(t, adp, table)

	absent := &types.Condition{Name: "tok", Exists: false}
	if err := adp.PutAttributes(ctx, table, "k", types.Attrs{"data": "d"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := adp.PutAttributes(ctx, table, "k", types.Attrs{"tok": "t1"}, absent); err != nil {
		t.Fatalf("first conditional put: %v", err)
	}
	err := adp.PutAttributes(ctx, table, "k", types.Attrs{"tok": "t2"}, absent)
	if !errors.Is(err, types.ErrConditionFailed) {
		t.Fatalf("second conditional put: expected ErrConditionFailed, got %v", err)
	}

	// Exists=false holds on a missing item.
	if err := adp.PutAttributes(ctx, table, "fresh", types.Attrs{"tok": "t1"}, absent); err != nil {
		t.Fatalf("conditional put on missing item: %v", err)
	}

	err = adp.DeleteAttributes(ctx, table, "k", &types.Condition{Name: "tok", Value: "t2", Exists: true})
	if !errors.Is(err, types.ErrConditionFailed) {
		t.Fatalf("delete with wrong token: expected ErrConditionFailed, got %v", err)
	}
	if err := adp.DeleteAttributes(ctx, table, "k", &types.Condition{Name: "tok", Value: "t1", Exists: true}); err != nil {
		t.Fatalf("delete with right token: %v", err)
	}
	got, err := adp.GetAttributes(ctx, table, "k", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("conditionally deleted item still present: %v", got)
	}

	err = adp.DeleteAttributes(ctx, table, "never", &types.Condition{Name: "tok", Value: "t1", Exists: true})
	if !errors.Is(err, types.ErrConditionFailed) {
		t.Errorf("delete of missing item with value condition: expected ErrConditionFailed, got %v", err)
	}
}

// RunSelect checks filtered paging and counting.
func RunSelect(t *testing.T, adp adapter.Adapter, table string) {
	ctx := context.Background()
	createTable(t, adp, table)
	if err := adp.SetMaxResults(3); err != nil {
		t.Fatal(err)
	}
	defer adp.SetMaxResults(0)

	for i := 0; i < 10; i++ {
		bus := "b1"
		if i%2 == 1 {
			bus = "b2"
		}
		attrs := types.Attrs{
			"id":     "id" + strconv.Itoa(i),
			"bus":    bus,
			"sticky": types.FormatBool(i%3 == 0),
		}
		if err := adp.PutAttributes(ctx, table, attrs["id"], attrs, nil); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		filter *types.Filter
		want   int
	}{
		{nil, 10},
		{types.Where("bus", types.OpEq, "b1"), 5},
		{types.Where("bus", types.OpEq, "b1").And("id", types.OpGt, "id4"), 2},
		{types.Where("id", types.OpLt, "id3"), 3},
		{types.Where("sticky", types.OpNe, "true"), 6},
		{types.Where("id", types.OpPrefix, "id"), 10},
		{types.Where("bus", types.OpPrefix, "b1'"), 0},
		{types.Where("missing", types.OpNe, "x"), 0},
	}
	for _, tc := range cases {
		items := selectAll(t, adp, table, tc.filter)
		if len(items) != tc.want {
			t.Errorf("select %s: expected %d items, got %d", tc.filter, tc.want, len(items))
		}
		for _, it := range items {
			if !tc.filter.Match(it.Attrs) {
				t.Errorf("select %s returned non-matching item %v", tc.filter, it.Attrs)
			}
			if it.Key != it.Attrs["id"] {
				t.Errorf("item key %q does not match its id %q", it.Key, it.Attrs["id"])
			}
		}
		if n := countAll(t, adp, table, tc.filter); n != tc.want {
			t.Errorf("count %s: expected %d, got %d", tc.filter, tc.want, n)
		}
	}
}

func selectAll(t *testing.T, adp adapter.Adapter, table string, f *types.Filter) []types.Item {
	t.Helper()
	var all []types.Item
	token := ""
	for i := 0; i < 1000; i++ {
		items, next, err := adp.Select(context.Background(), table, f, true, token)
		if err != nil {
			t.Fatalf("Select(%s): %v", f, err)
		}
		all = append(all, items...)
		if next == "" {
			return all
		}
		token = next
	}
	t.Fatal("Select: token loop")
	return nil
}

func countAll(t *testing.T, adp adapter.Adapter, table string, f *types.Filter) int {
	t.Helper()
	total := 0
	token := ""
	for i := 0; i < 1000; i++ {
		n, next, err := adp.Count(context.Background(), table, f, token)
		if err != nil {
			t.Fatalf("Count(%s): %v", f, err)
		}
		total += n
		if next == "" {
			return total
		}
		token = next
	}
	t.Fatal("Count: token loop")
	return 0
}

// RunBatchDelete checks bulk deletion up to the advertised limit.
func RunBatchDelete(t *testing.T, adp adapter.Adapter, table string) {
	ctx := context.Background()
	createTable(t, adp, table)

	limit := adp.BatchDeleteLimit()
	if limit <= 0 {
		t.Fatalf("invalid batch delete limit %d", limit)
	}
	n := min(limit, 30)
	var keys []string
	for i := 0; i < n+1; i++ {
		key := "k" + strconv.Itoa(i)
		if err := adp.PutAttributes(ctx, table, key, types.Attrs{"v": key}, nil); err != nil {
			t.Fatal(err)
		}
		keys = append(keys, key)
	}
	if err := adp.BatchDelete(ctx, table, keys[:n]); err != nil {
		t.Fatal(err)
	}
	left := selectAll(t, adp, table, nil)
	if len(left) != 1 || left[0].Key != keys[n] {
		t.Errorf("expected only %s to survive, got %v", keys[n], left)
	}
}
