package bus

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/janrain/backplane/server/bpconfig"
	"github.com/janrain/backplane/server/db/mem"
	"github.com/janrain/backplane/server/store"
	"github.com/janrain/backplane/server/store/types"
)

var errDenied = errors.New("Access denied.")

// fakeAuth grants permissions by header value.
type fakeAuth map[string]types.Permission

func (f fakeAuth) CheckAuth(_ context.Context, header, bus string, perm types.Permission) (string, error) {
	if bus != "b1" || !f[header].Has(perm) {
		return "", errDenied
	}
	return header, nil
}

type recorder struct {
	posts []int
	reads int
}

func (r *recorder) Posted(existing, posted int) { r.posts = append(r.posts, existing) }
func (r *recorder) Read(channel, sticky bool, elapsed time.Duration, frames int) {
	r.reads++
}

func newService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	adp := mem.New()
	if err := adp.Open(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	st := store.New(adp)
	tables := bpconfig.NewTables("test")
	if err := st.CreateTable(context.Background(), tables.Messages()); err != nil {
		t.Fatal(err)
	}
	auth := fakeAuth{"poster": types.PermPost, "reader": types.PermGetAll, "all": types.PermPost | types.PermGetAll}
	return New(st, tables, auth), st
}

func msg(payload any) map[string]any {
	return map[string]any{"type": "test", "payload": payload}
}

func TestMintChannel(t *testing.T) {
	alnum := regexp.MustCompile(`^[0-9A-Za-z]{32}$`)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		ch := MintChannel()
		if !alnum.MatchString(ch) {
			t.Fatalf("bad channel name %q", ch)
		}
		if seen[ch] {
			t.Fatalf("channel name %q minted twice", ch)
		}
		seen[ch] = true
	}
}

func TestPostQuota(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()
	s.MaxChannelMessages = 2
	rec := &recorder{}
	s.Observer = rec

	if _, err := s.Post(ctx, "poster", "b1", "c1", []map[string]any{msg(1)}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Post(ctx, "poster", "b1", "c1", []map[string]any{msg(2)}); err != nil {
		t.Fatal(err)
	}
	_, err := s.Post(ctx, "poster", "b1", "c1", []map[string]any{msg(3)})
	var ce *CapacityError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if ce.Limit != 2 || ce.Channel != "c1" {
		t.Errorf("unexpected error %+v", ce)
	}

	n, err := st.Count(ctx, "test_messages", nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("%d messages persisted, want 2", n)
	}
	if diff := cmp.Diff([]int{0, 1}, rec.posts); diff != "" {
		t.Errorf("observed channel sizes (-want +got):\n%s", diff)
	}

	// Other channels are not affected.
	if _, err := s.Post(ctx, "poster", "b1", "c2", []map[string]any{msg(4)}); err != nil {
		t.Errorf("post to another channel: %v", err)
	}
}

func TestPostRequiresPermission(t *testing.T) {
	s, _ := newService(t)
	if _, err := s.Post(context.Background(), "reader", "b1", "c1", []map[string]any{msg(1)}); !errors.Is(err, errDenied) {
		t.Errorf("expected auth failure, got %v", err)
	}
}

func TestPostInvalidBatch(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()
	batch := []map[string]any{msg(1), {"payload": 2, "color": "red"}}
	_, err := s.Post(ctx, "poster", "b1", "c1", batch)
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if n, _ := st.Count(ctx, "test_messages", nil); n != 0 {
		t.Errorf("%d messages stored from a rejected batch", n)
	}
}

func TestOrderingAndSince(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	// Frozen clock: IDs must still increase.
	now := time.Now()
	s.Now = func() time.Time { return now }

	var batch []map[string]any
	for i := 0; i < 10; i++ {
		batch = append(batch, msg(i))
	}
	ids, err := s.Post(ctx, "poster", "b1", "c1", batch)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not increasing: %s <= %s", ids[i], ids[i-1])
		}
	}

	frames, err := s.ChannelMessages(ctx, "b1", "c1", Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 10 {
		t.Fatalf("%d frames, want 10", len(frames))
	}
	for i, f := range frames {
		if f.ID != ids[i] {
			t.Errorf("frame %d id %s, want %s", i, f.ID, ids[i])
		}
	}

	later, err := s.ChannelMessages(ctx, "b1", "c1", Query{Since: ids[6]})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, f := range later {
		got = append(got, f.ID)
	}
	if diff := cmp.Diff(ids[7:], got); diff != "" {
		t.Errorf("since mismatch (-want +got):\n%s", diff)
	}
}

func TestFramePayloadRoundTrip(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	payload := map[string]any{"a": float64(1), "b": []any{float64(2), float64(3)}}
	_, err := s.Post(ctx, "poster", "b1", "c1", []map[string]any{{
		"payload": payload,
		"source":  "https://example.com/app",
		"sticky":  "TRUE",
	}})
	if err != nil {
		t.Fatal(err)
	}
	frames, err := s.ChannelMessages(ctx, "b1", "c1", Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Fatalf("%d frames", len(frames))
	}

	raw, err := json.Marshal(frames[0])
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		ID      string         `json:"id"`
		Channel string         `json:"channel"`
		Bus     *string        `json:"bus"`
		Message map[string]any `json:"message"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Bus != nil {
		t.Error("bus leaked into the frame")
	}
	if decoded.Channel != "c1" {
		t.Errorf("channel %q", decoded.Channel)
	}
	want := map[string]any{"payload": payload, "source": "https://example.com/app", "sticky": true}
	if diff := cmp.Diff(want, decoded.Message); diff != "" {
		t.Errorf("frame message mismatch (-want +got):\n%s", diff)
	}
}

func TestBusMessages(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	s.Post(ctx, "poster", "b1", "c1", []map[string]any{msg(1)})
	s.Post(ctx, "poster", "b1", "c2", []map[string]any{{"payload": 2, "sticky": true}})

	if _, err := s.BusMessages(ctx, "poster", "b1", Query{}); !errors.Is(err, errDenied) {
		t.Errorf("bus read without GETALL: %v", err)
	}
	frames, err := s.BusMessages(ctx, "reader", "b1", Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Errorf("%d frames, want 2", len(frames))
	}

	sticky, err := s.BusMessages(ctx, "reader", "b1", Query{Sticky: "true"})
	if err != nil {
		t.Fatal(err)
	}
	if len(sticky) != 1 || sticky[0].Channel != "c2" {
		t.Errorf("sticky filter returned %+v", sticky)
	}
	nonSticky, err := s.ChannelMessages(ctx, "b1", "c2", Query{Sticky: "false"})
	if err != nil {
		t.Fatal(err)
	}
	if len(nonSticky) != 0 {
		t.Errorf("non-sticky filter returned %+v", nonSticky)
	}

	if _, err := s.BusMessages(ctx, "reader", "b1", Query{Sticky: "yes"}); err == nil {
		t.Error("bad sticky value accepted")
	}
}

func TestPadded(t *testing.T) {
	out, err := Padded("cb.fn", []string{"x"})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `cb.fn(["x"])` {
		t.Errorf("padded %s", out)
	}
	for _, cb := range []string{"", "alert(1)", "a b", "1abc"} {
		if _, err := Padded(cb, 1); err == nil {
			t.Errorf("callback %q accepted", cb)
		}
	}
}
