package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"

	ms "github.com/go-sql-driver/mysql"
	"github.com/google/go-cmp/cmp"
	"github.com/janrain/backplane/server/db/common/testsuite"
	t "github.com/janrain/backplane/server/store/types"
)

func TestJSONPath(tt *testing.T) {
	cases := map[string]string{
		"bus":  `$."bus"`,
		"a.b":  `$."a.b"`,
		`q"x`:  `$."q\"x"`,
		`b\sl`: `$."b\\sl"`,
	}
	for in, want := range cases {
		if got := jsonPath(in); got != want {
			tt.Errorf("jsonPath(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestWhereClause(tt *testing.T) {
	const attr = "JSON_UNQUOTE(JSON_EXTRACT(attrs,?)) COLLATE utf8mb4_bin"
	cases := []struct {
		filter *t.Filter
		where  string
		args   []any
	}{
		{nil, "", []any{"tbl"}},
		{
			t.Where("bus", t.OpEq, "b1").And("sticky", t.OpNe, "true"),
			" AND " + attr + "=? AND " + attr + "<>?",
			[]any{"tbl", `$."bus"`, "b1", `$."sticky"`, "true"},
		},
		{
			t.Where("id", t.OpGt, "a").And("id", t.OpLt, "b"),
			" AND " + attr + ">? AND " + attr + "<?",
			[]any{"tbl", `$."id"`, "a", `$."id"`, "b"},
		},
		{
			t.Where("id", t.OpPrefix, "x_%"),
			" AND " + attr + " LIKE ?",
			[]any{"tbl", `$."id"`, `x\_\%%`},
		},
	}
	for _, tc := range cases {
		where, args := whereClause(tc.filter, []any{"tbl"})
		if where != tc.where {
			tt.Errorf("%s: expected %q, got %q", tc.filter, tc.where, where)
		}
		if diff := cmp.Diff(tc.args, args); diff != "" {
			tt.Errorf("%s: args mismatch (-want +got):\n%s", tc.filter, diff)
		}
	}
}

func TestIsMyErr(tt *testing.T) {
	err := fmt.Errorf("wrapped: %w", &ms.MySQLError{Number: errDupEntry, Message: "Duplicate entry"})
	if !isMyErr(err, errDupEntry) {
		tt.Error("expected wrapped duplicate entry to match")
	}
	if isMyErr(err, errDeadlock) {
		tt.Error("unexpected match of a different error number")
	}
	if isMyErr(errors.New("other"), errDupEntry) {
		tt.Error("unexpected match of a non-MySQL error")
	}
}

func TestToJSON(tt *testing.T) {
	if got := string(toJSON(nil)); got != "{}" {
		tt.Errorf("nil attrs: expected {}, got %s", got)
	}
	attrs, err := decodeAttrs(toJSON(t.Attrs{"a.b": "'"}))
	if err != nil {
		tt.Fatal(err)
	}
	if attrs["a.b"] != "'" {
		tt.Errorf("round trip lost value: %v", attrs)
	}
}

// Runs the shared adapter tests against a live server, e.g.
// BP_MYSQL_DSN=root@tcp(localhost:3306)/backplane_test
func TestConformance(tt *testing.T) {
	dsn := os.Getenv("BP_MYSQL_DSN")
	if dsn == "" {
		tt.Skip("BP_MYSQL_DSN not set")
	}
	config, _ := json.Marshal(map[string]string{"dsn": dsn})
	adp := &adapter{}
	if err := adp.Open(context.Background(), config); err != nil {
		tt.Fatal(err)
	}
	defer adp.Close()

	testsuite.RunAll(tt, adp, "bptest")
}
