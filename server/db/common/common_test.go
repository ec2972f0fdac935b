package common

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPageKeys(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}

	var pages [][]string
	token := ""
	for {
		page, next := PageKeys(keys, token, 2)
		pages = append(pages, page)
		if next == "" {
			break
		}
		token = next
	}
	want := [][]string{{"a", "b"}, {"c", "d"}, {"e"}}
	if diff := cmp.Diff(want, pages); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}

	// Token of a key deleted between calls.
	page, next := PageKeys([]string{"a", "c", "d"}, "b", 2)
	if diff := cmp.Diff([]string{"c", "d"}, page); diff != "" || next != "" {
		t.Errorf("page after removed key: %v, next %q", page, next)
	}

	if page, next := PageKeys(nil, "", 10); len(page) != 0 || next != "" {
		t.Errorf("empty key set: %v, next %q", page, next)
	}
}

func TestSplitBatches(t *testing.T) {
	keys := make([]string, 51)
	for i := range keys {
		keys[i] = string(rune('A' + i%26))
	}
	batches := SplitBatches(keys, 25)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[0]) != 25 || len(batches[1]) != 25 || len(batches[2]) != 1 {
		t.Errorf("unexpected batch sizes %d, %d, %d", len(batches[0]), len(batches[1]), len(batches[2]))
	}
	if SplitBatches(nil, 25) != nil {
		t.Error("expected no batches for no keys")
	}
}

func TestEscapeLike(t *testing.T) {
	if got := EscapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Errorf("unexpected escape %q", got)
	}
}
