// Package mysql is an attribute store adapter for MySQL 5.7+. All tables share
// one items table; attributes of an item are kept in a JSON column.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	ms "github.com/go-sql-driver/mysql"
	"github.com/janrain/backplane/server/db/common"
	"github.com/janrain/backplane/server/logs"
	"github.com/janrain/backplane/server/store"
	t "github.com/janrain/backplane/server/store/types"
	"github.com/jmoiron/sqlx"
)

// adapter holds MySQL connection data.
type adapter struct {
	db         *sqlx.DB
	dbName     string
	maxResults int
	sqlTimeout time.Duration
}

const (
	defaultDSN      = "root:@tcp(localhost:3306)/backplane?parseTime=true"
	defaultDatabase = "backplane"

	adapterName = "mysql"

	batchDeleteLimit = 1000

	// Conditional writes are retried this many times when InnoDB picks them as a
	// deadlock victim.
	maxTxRetries = 3
)

// MySQL error numbers.
const (
	errDupEntry     = 1062
	errBadDb        = 1049
	errNoReferenced = 1452
	errDeadlock     = 1213
)

type configType struct {
	DSN    string `json:"dsn,omitempty"`
	DBName string `json:"database,omitempty"`

	// Maximum number of open connections to the database.
	MaxOpenConns int `json:"max_open_conns,omitempty"`
	// Maximum number of connections in the idle connection pool.
	MaxIdleConns int `json:"max_idle_conns,omitempty"`
	// Maximum amount of time a connection may be reused (in seconds).
	ConnMaxLifetime int `json:"conn_max_lifetime,omitempty"`
	// DB request timeout (in seconds).
	SqlTimeout int `json:"sql_timeout,omitempty"`
}

var schema = []string{
	"CREATE TABLE IF NOT EXISTS bp_tables(" +
		"name VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL," +
		"PRIMARY KEY(name)" +
		") ENGINE=InnoDB",
	"CREATE TABLE IF NOT EXISTS bp_items(" +
		"tbl VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL," +
		"ikey VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL," +
		"attrs JSON NOT NULL," +
		"PRIMARY KEY(tbl, ikey)," +
		"FOREIGN KEY(tbl) REFERENCES bp_tables(name) ON DELETE CASCADE" +
		") ENGINE=InnoDB",
}

type itemRow struct {
	Key   string `db:"ikey"`
	Attrs []byte `db:"attrs"`
}

func (a *adapter) getContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.sqlTimeout > 0 {
		return context.WithTimeout(ctx, a.sqlTimeout)
	}
	return ctx, func() {}
}

// Open initializes the connection pool, creating the database and the schema if missing.
func (a *adapter) Open(ctx context.Context, jsonconfig json.RawMessage) error {
	if a.db != nil {
		return errors.New("adapter mysql is already connected")
	}

	var err error
	var config configType
	if len(jsonconfig) > 0 {
		if err = json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("adapter mysql failed to parse config: " + err.Error())
		}
	}

	dsn := config.DSN
	if dsn == "" {
		dsn = defaultDSN
	}
	cfg, err := ms.ParseDSN(dsn)
	if err != nil {
		return errors.New("adapter mysql failed to parse DSN: " + err.Error())
	}
	a.dbName = config.DBName
	if a.dbName == "" {
		a.dbName = cfg.DBName
	}
	if a.dbName == "" {
		a.dbName = defaultDatabase
	}
	cfg.DBName = a.dbName

	if a.maxResults <= 0 {
		a.maxResults = common.DefaultMaxResults
	}
	if config.SqlTimeout > 0 {
		a.sqlTimeout = time.Duration(config.SqlTimeout) * time.Second
	}

	if err = a.connect(ctx, cfg); isMyErr(err, errBadDb) {
		if err = createDatabase(ctx, cfg); err == nil {
			err = a.connect(ctx, cfg)
		}
	}
	if err != nil {
		return err
	}

	if config.MaxOpenConns > 0 {
		a.db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		a.db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		a.db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)
	}

	for _, stmt := range schema {
		if _, err = a.db.ExecContext(ctx, stmt); err != nil {
			a.db.Close()
			a.db = nil
			return err
		}
	}
	return nil
}

func (a *adapter) connect(ctx context.Context, cfg *ms.Config) error {
	db, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return err
	}
	// sql.Open does not open the network connection.
	// Force network connection here.
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return err
	}
	a.db = db
	return nil
}

func createDatabase(ctx context.Context, cfg *ms.Config) error {
	noDb := cfg.Clone()
	noDb.DBName = ""
	db, err := sqlx.Open("mysql", noDb.FormatDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	logs.Info.Println("adapter mysql: creating database", cfg.DBName)
	_, err = db.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS `"+strings.ReplaceAll(cfg.DBName, "`", "``")+
		"` CHARACTER SET utf8mb4 COLLATE utf8mb4_bin")
	return err
}

// Close closes the underlying database connection
func (a *adapter) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
		a.db = nil
	}
	return err
}

// IsOpen returns true if connection to database has been established. It does not check if
// connection is actually live.
func (a *adapter) IsOpen() bool {
	return a.db != nil
}

// GetName returns string that adapter uses to register itself with store.
func (a *adapter) GetName() string {
	return adapterName
}

// SetMaxResults configures how many results can be returned in a single DB call.
func (a *adapter) SetMaxResults(val int) error {
	if val <= 0 {
		a.maxResults = common.DefaultMaxResults
	} else {
		a.maxResults = val
	}
	return nil
}

// CreateTable registers a table.
func (a *adapter) CreateTable(ctx context.Context, name string) error {
	ctx, cancel := a.getContext(ctx)
	defer cancel()
	_, err := a.db.ExecContext(ctx, "INSERT IGNORE INTO bp_tables(name) VALUES(?)", name)
	return err
}

// ListTables lists one page of table names.
func (a *adapter) ListTables(ctx context.Context, token string) ([]string, string, error) {
	ctx, cancel := a.getContext(ctx)
	defer cancel()
	var names []string
	err := a.db.SelectContext(ctx, &names, "SELECT name FROM bp_tables WHERE name>? ORDER BY name LIMIT ?",
		token, a.maxResults)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(names) == a.maxResults {
		next = names[len(names)-1]
	}
	return names, next, nil
}

// DeleteTable drops a table. Items are removed by the foreign key cascade.
func (a *adapter) DeleteTable(ctx context.Context, name string) error {
	ctx, cancel := a.getContext(ctx)
	defer cancel()
	_, err := a.db.ExecContext(ctx, "DELETE FROM bp_tables WHERE name=?", name)
	return err
}

// inTx runs fn in a transaction, retrying when it is chosen as a deadlock victim.
func (a *adapter) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var err error
	for i := 0; i < maxTxRetries; i++ {
		var tx *sqlx.Tx
		if tx, err = a.db.BeginTxx(ctx, nil); err != nil {
			return err
		}
		if err = fn(tx); err == nil {
			err = tx.Commit()
		} else {
			tx.Rollback()
		}
		if !isMyErr(err, errDeadlock) {
			return err
		}
	}
	return err
}

// lockItem reads the current attributes of an item and locks the row. A missing
// item returns nil attributes.
func lockItem(ctx context.Context, tx *sqlx.Tx, table, key string) (t.Attrs, error) {
	var raw []byte
	err := tx.GetContext(ctx, &raw, "SELECT attrs FROM bp_items WHERE tbl=? AND ikey=? FOR UPDATE", table, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeAttrs(raw)
}

// PutAttributes upserts item attributes.
func (a *adapter) PutAttributes(ctx context.Context, table, key string, attrs t.Attrs, cond *t.Condition) error {
	ctx, cancel := a.getContext(ctx)
	defer cancel()

	var err error
	if cond == nil {
		_, err = a.db.ExecContext(ctx,
			"INSERT INTO bp_items(tbl,ikey,attrs) VALUES(?,?,?) "+
				"ON DUPLICATE KEY UPDATE attrs=JSON_MERGE_PATCH(attrs,VALUES(attrs))",
			table, key, toJSON(attrs))
	} else {
		err = a.inTx(ctx, func(tx *sqlx.Tx) error {
			current, err := lockItem(ctx, tx, table, key)
			if err != nil {
				return err
			}
			if !cond.Holds(current) {
				return t.ErrConditionFailed
			}
			if current == nil {
				_, err = tx.ExecContext(ctx, "INSERT INTO bp_items(tbl,ikey,attrs) VALUES(?,?,?)",
					table, key, toJSON(attrs))
				if isMyErr(err, errDupEntry) {
					// Inserted concurrently by another writer.
					return t.ErrConditionFailed
				}
				return err
			}
			for k, v := range attrs {
				current[k] = v
			}
			_, err = tx.ExecContext(ctx, "UPDATE bp_items SET attrs=? WHERE tbl=? AND ikey=?",
				toJSON(current), table, key)
			return err
		})
	}
	if isMyErr(err, errNoReferenced) {
		return fmt.Errorf("adapter mysql: table %s does not exist", table)
	}
	return err
}

// GetAttributes reads item attributes.
func (a *adapter) GetAttributes(ctx context.Context, table, key string, _ bool) (t.Attrs, error) {
	ctx, cancel := a.getContext(ctx)
	defer cancel()

	var raw []byte
	err := a.db.GetContext(ctx, &raw, "SELECT attrs FROM bp_items WHERE tbl=? AND ikey=?", table, key)
	if errors.Is(err, sql.ErrNoRows) {
		return t.Attrs{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeAttrs(raw)
}

// DeleteAttributes deletes an item.
func (a *adapter) DeleteAttributes(ctx context.Context, table, key string, cond *t.Condition) error {
	ctx, cancel := a.getContext(ctx)
	defer cancel()

	if cond == nil {
		_, err := a.db.ExecContext(ctx, "DELETE FROM bp_items WHERE tbl=? AND ikey=?", table, key)
		return err
	}
	return a.inTx(ctx, func(tx *sqlx.Tx) error {
		current, err := lockItem(ctx, tx, table, key)
		if err != nil {
			return err
		}
		if !cond.Holds(current) {
			return t.ErrConditionFailed
		}
		if current == nil {
			return nil
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM bp_items WHERE tbl=? AND ikey=?", table, key)
		return err
	})
}

// jsonPath returns the JSON path of a top level attribute.
func jsonPath(name string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `$."` + r.Replace(name) + `"`
}

// whereClause translates a filter into SQL conditions appended to args.
func whereClause(filter *t.Filter, args []any) (string, []any) {
	if filter.IsEmpty() {
		return "", args
	}
	var parts []string
	for _, term := range filter.Terms {
		attr := "JSON_UNQUOTE(JSON_EXTRACT(attrs,?)) COLLATE utf8mb4_bin"
		args = append(args, jsonPath(term.Attr))
		switch term.Op {
		case t.OpEq, t.OpGt, t.OpLt:
			parts = append(parts, attr+string(term.Op)+"?")
			args = append(args, term.Value)
		case t.OpNe:
			parts = append(parts, attr+"<>?")
			args = append(args, term.Value)
		case t.OpPrefix:
			parts = append(parts, attr+" LIKE ?")
			args = append(args, common.EscapeLike(term.Value)+"%")
		default:
			parts = append(parts, "FALSE")
			args = args[:len(args)-1]
		}
	}
	return " AND " + strings.Join(parts, " AND "), args
}

// Select returns a page of matching items ordered by key.
func (a *adapter) Select(ctx context.Context, table string, filter *t.Filter, _ bool, token string) ([]t.Item, string, error) {
	ctx, cancel := a.getContext(ctx)
	defer cancel()

	where, args := whereClause(filter, []any{table, token})
	var rows []itemRow
	err := a.db.SelectContext(ctx, &rows,
		"SELECT ikey,attrs FROM bp_items WHERE tbl=? AND ikey>?"+where+" ORDER BY ikey LIMIT ?",
		append(args, a.maxResults)...)
	if err != nil {
		return nil, "", err
	}

	items := make([]t.Item, 0, len(rows))
	for _, row := range rows {
		attrs, err := decodeAttrs(row.Attrs)
		if err != nil {
			return nil, "", err
		}
		items = append(items, t.Item{Key: row.Key, Attrs: attrs})
	}
	next := ""
	if len(items) == a.maxResults {
		next = items[len(items)-1].Key
	}
	return items, next, nil
}

// Count counts matching items in one call.
func (a *adapter) Count(ctx context.Context, table string, filter *t.Filter, _ string) (int, string, error) {
	ctx, cancel := a.getContext(ctx)
	defer cancel()

	where, args := whereClause(filter, []any{table})
	var n int
	if err := a.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM bp_items WHERE tbl=?"+where, args...); err != nil {
		return 0, "", err
	}
	return n, "", nil
}

// BatchDelete deletes the listed items.
func (a *adapter) BatchDelete(ctx context.Context, table string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if len(keys) > batchDeleteLimit {
		return fmt.Errorf("adapter mysql: batch of %d exceeds limit %d", len(keys), batchDeleteLimit)
	}
	query, args, err := sqlx.In("DELETE FROM bp_items WHERE tbl=? AND ikey IN (?)", table, keys)
	if err != nil {
		return err
	}
	ctx, cancel := a.getContext(ctx)
	defer cancel()
	_, err = a.db.ExecContext(ctx, query, args...)
	return err
}

// BatchDeleteLimit returns the maximum batch size.
func (a *adapter) BatchDeleteLimit() int {
	return batchDeleteLimit
}

func isMyErr(err error, number uint16) bool {
	var myerr *ms.MySQLError
	return errors.As(err, &myerr) && myerr.Number == number
}

// Convert to JSON before storing to JSON field.
func toJSON(src t.Attrs) []byte {
	if src == nil {
		src = t.Attrs{}
	}
	jval, _ := json.Marshal(src)
	return jval
}

func decodeAttrs(raw []byte) (t.Attrs, error) {
	attrs := t.Attrs{}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, errors.New("adapter mysql: invalid attributes: " + err.Error())
	}
	return attrs, nil
}

func init() {
	store.RegisterAdapter(&adapter{})
}
