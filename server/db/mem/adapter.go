// Package mem is an in-process attribute store backend. It keeps everything in
// memory and is meant for development and tests.
package mem

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	db "github.com/janrain/backplane/server/db"
	"github.com/janrain/backplane/server/db/common"
	"github.com/janrain/backplane/server/store"
	t "github.com/janrain/backplane/server/store/types"
)

const (
	adapterName = "mem"

	// Same limit as SimpleDB so batching behaves alike in tests.
	batchDeleteLimit = 25
)

type configType struct {
	MaxResults int `json:"max_results,omitempty"`
}

// adapter holds the tables.
type adapter struct {
	mu         sync.RWMutex
	open       bool
	maxResults int
	tables     map[string]map[string]t.Attrs
}

// New returns an unopened in-memory adapter.
func New() db.Adapter {
	return &adapter{}
}

// Open initializes the in-memory tables.
func (a *adapter) Open(_ context.Context, jsonconfig json.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.open {
		return errors.New("adapter mem is already connected")
	}
	var config configType
	if len(jsonconfig) > 0 {
		if err := json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("adapter mem failed to parse config: " + err.Error())
		}
	}
	if config.MaxResults > 0 {
		a.maxResults = config.MaxResults
	}
	a.tables = make(map[string]map[string]t.Attrs)
	a.open = true
	return nil
}

// Close discards all data.
func (a *adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = false
	a.tables = nil
	return nil
}

// IsOpen returns true if the adapter is ready for use.
func (a *adapter) IsOpen() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.open
}

// GetName returns string that adapter uses to register itself with store.
func (a *adapter) GetName() string {
	return adapterName
}

// SetMaxResults configures the page size. Zero restores the default.
func (a *adapter) SetMaxResults(val int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if val <= 0 {
		val = common.DefaultMaxResults
	}
	a.maxResults = val
	return nil
}

func (a *adapter) pageSize() int {
	if a.maxResults <= 0 {
		return common.DefaultMaxResults
	}
	return a.maxResults
}

// CreateTable creates an empty table unless it already exists.
func (a *adapter) CreateTable(_ context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tables[name]; !ok {
		a.tables[name] = make(map[string]t.Attrs)
	}
	return nil
}

// ListTables returns a page of table names in sorted order.
func (a *adapter) ListTables(_ context.Context, token string) ([]string, string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.tables))
	for name := range a.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	page, next := common.PageKeys(names, token, a.pageSize())
	return append([]string(nil), page...), next, nil
}

// DeleteTable drops the table.
func (a *adapter) DeleteTable(_ context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tables, name)
	return nil
}

func (a *adapter) table(name string) (map[string]t.Attrs, error) {
	tbl, ok := a.tables[name]
	if !ok {
		return nil, errors.New("no such table " + name)
	}
	return tbl, nil
}

// PutAttributes upserts item attributes.
func (a *adapter) PutAttributes(_ context.Context, table, key string, attrs t.Attrs, cond *t.Condition) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	tbl, err := a.table(table)
	if err != nil {
		return err
	}
	current := tbl[key]
	if !cond.Holds(current) {
		return t.ErrConditionFailed
	}
	if current == nil {
		current = make(t.Attrs, len(attrs))
		tbl[key] = current
	}
	for k, v := range attrs {
		current[k] = v
	}
	return nil
}

// GetAttributes returns a copy of item attributes.
func (a *adapter) GetAttributes(_ context.Context, table, key string, _ bool) (t.Attrs, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	tbl, err := a.table(table)
	if err != nil {
		return nil, err
	}
	if attrs, ok := tbl[key]; ok {
		return attrs.Clone(), nil
	}
	return t.Attrs{}, nil
}

// DeleteAttributes deletes an item.
func (a *adapter) DeleteAttributes(_ context.Context, table, key string, cond *t.Condition) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	tbl, err := a.table(table)
	if err != nil {
		return err
	}
	if !cond.Holds(tbl[key]) {
		return t.ErrConditionFailed
	}
	delete(tbl, key)
	return nil
}

// matching returns sorted keys of items matching the filter. Must be called under lock.
func matching(tbl map[string]t.Attrs, filter *t.Filter) []string {
	keys := make([]string, 0, len(tbl))
	for k, attrs := range tbl {
		if filter.Match(attrs) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Select returns a page of matching items ordered by key.
func (a *adapter) Select(_ context.Context, table string, filter *t.Filter, _ bool, token string) ([]t.Item, string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	tbl, err := a.table(table)
	if err != nil {
		return nil, "", err
	}
	page, next := common.PageKeys(matching(tbl, filter), token, a.pageSize())
	items := make([]t.Item, len(page))
	for i, k := range page {
		items[i] = t.Item{Key: k, Attrs: tbl[k].Clone()}
	}
	return items, next, nil
}

// Count counts matching items. The whole table fits one page.
func (a *adapter) Count(_ context.Context, table string, filter *t.Filter, _ string) (int, string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	tbl, err := a.table(table)
	if err != nil {
		return 0, "", err
	}
	return len(matching(tbl, filter)), "", nil
}

// BatchDelete deletes the given keys.
func (a *adapter) BatchDelete(_ context.Context, table string, keys []string) error {
	if len(keys) > batchDeleteLimit {
		return errors.New("too many keys in batch delete")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	tbl, err := a.table(table)
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(tbl, k)
	}
	return nil
}

// BatchDeleteLimit returns the maximum batch size.
func (a *adapter) BatchDeleteLimit() int {
	return batchDeleteLimit
}

func init() {
	store.RegisterAdapter(&adapter{})
}
