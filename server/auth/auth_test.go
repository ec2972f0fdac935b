package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/janrain/backplane/server/auth/basic"
	"github.com/janrain/backplane/server/bpconfig"
	"github.com/janrain/backplane/server/db/mem"
	"github.com/janrain/backplane/server/logs"
	"github.com/janrain/backplane/server/store"
	"github.com/janrain/backplane/server/store/types"
)

type debugFlag bool

func (d debugFlag) DebugMode(context.Context) bool { return bool(d) }

func basicHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func setup(t *testing.T, debug bool) *Authenticator {
	t.Helper()
	ctx := context.Background()
	adp := mem.New()
	if err := adp.Open(ctx, nil); err != nil {
		t.Fatal(err)
	}
	s := store.New(adp)
	tables := bpconfig.NewTables("test")

	hash, err := basic.Hash("p")
	if err != nil {
		t.Fatal(err)
	}
	user := &types.User{Name: "alice", PwdHash: hash}
	if err := s.Put(ctx, tables.Users(), user.Name, user.Attrs()); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, tables.Admins(), "root", (&types.User{Name: "root", PwdHash: hash}).Attrs()); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, tables.Buses(), "b1", types.Attrs{
		types.BusName:             "b1",
		types.BusRetentionSeconds: "60",
		"alice":                   "POST",
	}); err != nil {
		t.Fatal(err)
	}
	return New(s, tables, debugFlag(debug))
}

func TestCheckAuth(t *testing.T) {
	a := setup(t, false)
	ctx := context.Background()

	uname, err := a.CheckAuth(ctx, basicHeader("alice", "p"), "b1", types.PermPost)
	if err != nil {
		t.Fatalf("valid credentials rejected: %v", err)
	}
	if uname != "alice" {
		t.Errorf("user %q", uname)
	}

	cases := []struct {
		name   string
		header string
		bus    string
		perm   types.Permission
	}{
		{"wrong password", basicHeader("alice", "wrong"), "b1", types.PermPost},
		{"not granted", basicHeader("alice", "p"), "b1", types.PermGetAll},
		{"unknown user", basicHeader("bob", "p"), "b1", types.PermPost},
		{"unknown bus", basicHeader("alice", "p"), "b2", types.PermPost},
		{"no header", "", "b1", types.PermPost},
		{"reserved user name", basicHeader(types.BusName, "p"), "b1", types.PermPost},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.CheckAuth(ctx, tc.header, tc.bus, tc.perm)
			var ae *AuthError
			if !errors.As(err, &ae) {
				t.Fatalf("expected AuthError, got %v", err)
			}
			if err.Error() != "Access denied." {
				t.Errorf("reason leaked without debug mode: %q", err.Error())
			}
		})
	}
}

func TestCheckAuthDebugReason(t *testing.T) {
	a := setup(t, true)
	_, err := a.CheckAuth(context.Background(), basicHeader("alice", "wrong"), "b1", types.PermPost)
	if err == nil {
		t.Fatal("wrong password accepted")
	}
	if msg := err.Error(); !strings.HasPrefix(msg, "Access denied. ") || !strings.Contains(msg, "Incorrect password") {
		t.Errorf("unexpected debug message %q", msg)
	}
}

func TestCheckAdminAuth(t *testing.T) {
	a := setup(t, false)
	ctx := context.Background()
	if err := a.CheckAdminAuth(ctx, "root", "p"); err != nil {
		t.Errorf("admin rejected: %v", err)
	}
	// Bus users are not admins.
	if err := a.CheckAdminAuth(ctx, "alice", "p"); err == nil {
		t.Error("bus user accepted as admin")
	}
	if err := a.CheckAdminAuth(ctx, "root", "x"); err == nil {
		t.Error("wrong admin password accepted")
	}
	if err := a.CheckAdminAuth(ctx, "", ""); err == nil {
		t.Error("empty admin accepted")
	}
}

func TestMalformedHeaderNotLogged(t *testing.T) {
	a := setup(t, true)

	var buf bytes.Buffer
	out := logs.Warn.Writer()
	logs.Warn.SetOutput(&buf)
	defer logs.Warn.SetOutput(out)

	payload := base64.StdEncoding.EncodeToString([]byte("alice:sec:ret"))
	_, err := a.CheckAuth(context.Background(), "Basic "+payload, "b1", types.PermPost)
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if strings.Contains(buf.String(), payload) || strings.Contains(buf.String(), "sec:ret") {
		t.Errorf("credentials written to log: %q", buf.String())
	}
	if strings.Contains(err.Error(), payload) {
		t.Errorf("credentials returned to client: %q", err.Error())
	}
	if !strings.Contains(buf.String(), "Invalid Authorization header") {
		t.Errorf("reason missing from log: %q", buf.String())
	}
}

// brokenStore fails every lookup, or only lookups of one table.
type brokenStore struct {
	Getter
	table string
}

func (b brokenStore) Get(ctx context.Context, table, key string) (types.Attrs, error) {
	if b.table == "" || b.table == table {
		return nil, &types.StoreError{Op: "get", Table: table, Err: errors.New("connection refused")}
	}
	return b.Getter.Get(ctx, table, key)
}

func TestStoreFailureIsNotAuthError(t *testing.T) {
	good := setup(t, false)
	tables := bpconfig.NewTables("test")
	ctx := context.Background()

	for _, table := range []string{tables.Users(), tables.Buses()} {
		a := New(brokenStore{Getter: good.src, table: table}, tables, debugFlag(false))
		_, err := a.CheckAuth(ctx, basicHeader("alice", "p"), "b1", types.PermPost)
		var ae *AuthError
		if errors.As(err, &ae) {
			t.Errorf("%s: store failure reported as auth failure: %v", table, err)
		}
		var se *types.StoreError
		if !errors.As(err, &se) {
			t.Errorf("%s: expected StoreError, got %v", table, err)
		}
	}

	a := New(brokenStore{Getter: good.src}, tables, debugFlag(false))
	var se *types.StoreError
	if err := a.CheckAdminAuth(ctx, "root", "p"); !errors.As(err, &se) {
		t.Errorf("admin lookup: expected StoreError, got %v", err)
	}
}
