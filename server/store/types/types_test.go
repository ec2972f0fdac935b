package types

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestMessageIDOrdering(t *testing.T) {
	start := time.Date(2011, 9, 1, 23, 59, 58, 0, time.UTC)
	var ids []string
	for i := 0; i < 50; i++ {
		ids = append(ids, NewMessageID(start.Add(time.Duration(i)*7*time.Millisecond)))
	}
	if !sort.StringsAreSorted(ids) {
		t.Errorf("message IDs are not in chronological order: %v", ids)
	}
	if len(ids[0]) != len(idTimeLayout)+1+idSuffixLength {
		t.Errorf("unexpected ID length %d: %s", len(ids[0]), ids[0])
	}

	// Every ID generated before the threshold sorts before it, every later ID after.
	threshold := IDTimePrefix(start.Add(100 * time.Millisecond))
	for i, id := range ids {
		before := start.Add(time.Duration(i) * 7 * time.Millisecond).Before(start.Add(100 * time.Millisecond))
		if before != (id < threshold) {
			t.Errorf("ID %s vs threshold %s: expected before=%v", id, threshold, before)
		}
	}
}

func TestChannelToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok := NewChannelToken(32)
		if len(tok) != 32 {
			t.Fatalf("token length: expected 32, got %d", len(tok))
		}
		for _, c := range tok {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
				t.Fatalf("token %q contains non-alphanumeric %q", tok, c)
			}
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestMessagePayloadRoundTrip(t *testing.T) {
	var payload any
	if err := json.Unmarshal([]byte(`{"a":1,"b":[2,3]}`), &payload); err != nil {
		t.Fatal(err)
	}
	msg, err := NewMessage("2011-09-01T00:00:00.000Z-0123456789", "b1", "c1", map[string]any{
		"payload": payload,
		"type":    "identity/login",
		"source":  "http://example.com/page",
		"sticky":  "TRUE",
	})
	if err != nil {
		t.Fatal(err)
	}

	stored := msg.Attrs()
	if stored[MsgSticky] != "true" {
		t.Errorf("sticky stored as %q", stored[MsgSticky])
	}
	loaded, err := MessageFromAttrs(stored)
	if err != nil {
		t.Fatal(err)
	}

	raw, err := json.Marshal(loaded.Frame())
	if err != nil {
		t.Fatal(err)
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"id":      "2011-09-01T00:00:00.000Z-0123456789",
		"channel": "c1",
		"message": map[string]any{
			"sticky":  true,
			"source":  "http://example.com/page",
			"type":    "identity/login",
			"payload": payload,
		},
	}
	if diff := cmp.Diff(want, frame); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestNewMessageRejects(t *testing.T) {
	cases := []struct {
		name  string
		data  map[string]any
		field string
	}{
		{"bad sticky", map[string]any{"sticky": "yes"}, MsgSticky},
		{"sticky number", map[string]any{"sticky": 1.0}, MsgSticky},
		{"bad source", map[string]any{"source": "not a url"}, MsgSource},
		{"source not string", map[string]any{"source": 5.0}, MsgSource},
		{"unknown field", map[string]any{"color": "red"}, "color"},
	}
	for _, tc := range cases {
		_, err := NewMessage("id", "bus", "chan", tc.data)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected ValidationError, got %v", tc.name, err)
			continue
		}
		if verr.Field != tc.field {
			t.Errorf("%s: expected field %q, got %q", tc.name, tc.field, verr.Field)
		}
	}
}

func TestNewMessageOverridesIdentity(t *testing.T) {
	msg, err := NewMessage("real-id", "b1", "c1", map[string]any{"id": "fake", "bus": "other", "channel": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "real-id" || msg.Bus != "b1" || msg.Channel != "c1" {
		t.Errorf("identity fields overridden by client: %+v", msg)
	}
	if string(msg.Payload) != "null" {
		t.Errorf("absent payload stored as %q", msg.Payload)
	}
}

func TestMessageFromAttrsRequiresAllFields(t *testing.T) {
	// Loading validates every declared field, not only the supplied ones.
	_, err := MessageFromAttrs(Attrs{MsgID: "x", MsgBus: "b", MsgPayload: "{}"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != MsgChannel {
		t.Errorf("expected missing channel error, got %v", err)
	}
}

func TestBusPermissions(t *testing.T) {
	bus, err := BusFromAttrs(Attrs{
		BusName:             "b1",
		BusRetentionSeconds: "60",
		"alice":             "POST,GETALL",
		"bob":               "POST",
	})
	if err != nil {
		t.Fatal(err)
	}
	p, err := bus.Permissions("alice")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Has(PermPost) || !p.Has(PermGetAll) || p.Has(PermIdentity) {
		t.Errorf("alice permissions: %s", p)
	}
	if p, _ := bus.Permissions("bob"); p.Has(PermGetAll) {
		t.Errorf("bob must not have GETALL: %s", p)
	}
	if p, err := bus.Permissions("carol"); err != nil || p != PermNone {
		t.Errorf("carol: expected no permissions, got %s, %v", p, err)
	}
	if _, err := bus.Permissions(BusRetentionSeconds); err == nil {
		t.Error("reserved field name accepted as user name")
	}
	if _, ok := bus.StickyRetentionSeconds(); ok {
		t.Error("sticky retention reported for bus without one")
	}
	if diff := cmp.Diff(map[string]string{"alice": "POST,GETALL", "bob": "POST"}, bus.Grants()); diff != "" {
		t.Errorf("grants mismatch (-want +got):\n%s", diff)
	}
}

func TestBusValidation(t *testing.T) {
	if _, err := BusFromAttrs(Attrs{BusName: "b1", BusRetentionSeconds: "soon"}); err == nil {
		t.Error("non-integer retention accepted")
	}
	if _, err := BusFromAttrs(Attrs{BusName: "b1"}); err == nil {
		t.Error("missing retention accepted")
	}
	bus, err := BusFromAttrs(Attrs{BusName: "b1", BusRetentionSeconds: "1", "u": "POST,FLY"})
	if err != nil {
		t.Fatal(err)
	}
	if err := bus.ValidateGrants(); err == nil {
		t.Error("unknown permission accepted")
	}
}

func TestPermissionString(t *testing.T) {
	p, err := ParsePermissions("IDENTITY, GETALL")
	if err != nil {
		t.Fatal(err)
	}
	if p.String() != "GETALL,IDENTITY" {
		t.Errorf("unexpected string %q", p.String())
	}
}

func TestServerConfig(t *testing.T) {
	cfg, err := ServerConfigFromAttrs(Attrs{
		CfgDebugMode:        "False",
		CfgCacheAgeSeconds:  "10",
		CfgCleanupIntervalM: "2",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := &ServerConfig{DebugMode: false, CacheAge: 10 * time.Second, CleanupInterval: 2 * time.Minute}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if _, err := ServerConfigFromAttrs(Attrs{CfgDebugMode: "on", CfgCacheAgeSeconds: "1", CfgCleanupIntervalM: "1"}); err == nil {
		t.Error("bad boolean accepted")
	}
}

func TestFilterMatch(t *testing.T) {
	a := Attrs{"bus": "b1", "id": "2011-b", "sticky": "false"}
	cases := []struct {
		f    *Filter
		want bool
	}{
		{nil, true},
		{Where("bus", OpEq, "b1"), true},
		{Where("bus", OpEq, "b1").And("id", OpGt, "2011-a"), true},
		{Where("bus", OpEq, "b1").And("id", OpGt, "2011-b"), false},
		{Where("id", OpLt, "2011-c"), true},
		{Where("sticky", OpNe, "true"), true},
		{Where("bus", OpPrefix, "b"), true},
		{Where("channel", OpNe, "x"), false},
	}
	for i, tc := range cases {
		if got := tc.f.Match(a); got != tc.want {
			t.Errorf("case %d (%s): expected %v, got %v", i, tc.f, tc.want, got)
		}
	}
}

func TestConditionHolds(t *testing.T) {
	absent := &Condition{Name: "tok", Exists: false}
	equals := &Condition{Name: "tok", Value: "v1", Exists: true}
	if !absent.Holds(nil) || !absent.Holds(Attrs{"x": "1"}) || absent.Holds(Attrs{"tok": ""}) {
		t.Error("absent condition misbehaves")
	}
	if equals.Holds(nil) || equals.Holds(Attrs{"tok": "v2"}) || !equals.Holds(Attrs{"tok": "v1"}) {
		t.Error("equality condition misbehaves")
	}
}
