// Package store provides methods for registering attribute store backends and the
// AttributeStore built on top of them.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	adapter "github.com/janrain/backplane/server/db"
	"github.com/janrain/backplane/server/db/common"
	"github.com/janrain/backplane/server/logs"
	"github.com/janrain/backplane/server/store/types"
)

// ClaimAttr is the attribute written by RetrieveAndDelete to claim an item.
const ClaimAttr = "ssdb_unique_retrieve"

var availableAdapters = make(map[string]adapter.Adapter)

type configType struct {
	// Maximum number of results to return from adapter in one page.
	MaxResults int `json:"max_results"`
	// DB adapter name to use. Should be one of those specified in `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

// RegisterAdapter makes a persistence adapter available.
// If Register is called twice or if the adapter is nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: Register adapter is nil")
	}

	adapterName := a.GetName()
	if _, dup := availableAdapters[adapterName]; dup {
		panic("store: adapter '" + adapterName + "' is already registered")
	}
	availableAdapters[adapterName] = a
}

// GetAdapterNames returns names of all registered adapters, sorted.
func GetAdapterNames() []string {
	names := make([]string, 0, len(availableAdapters))
	for name := range availableAdapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func selectAdapter(config *configType) (adapter.Adapter, error) {
	if len(config.UseAdapter) > 0 {
		// Adapter name specified explicitly.
		if ad, ok := availableAdapters[config.UseAdapter]; ok {
			return ad, nil
		}
		return nil, errors.New("store: " + config.UseAdapter + " adapter is not available in this binary")
	}
	if len(availableAdapters) == 1 {
		// Default to the only entry in availableAdapters.
		for _, v := range availableAdapters {
			return v, nil
		}
	}
	return nil, errors.New("store: db adapter is not specified. Please set `store_config.use_adapter` in `backplane.conf`")
}

// Open selects, configures and opens the adapter named in the store config and
// returns the AttributeStore using it.
func Open(ctx context.Context, jsonconf json.RawMessage) (*Store, error) {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return nil, errors.New("store: failed to parse config: " + err.Error() + "(" + string(jsonconf) + ")")
	}

	adp, err := selectAdapter(&config)
	if err != nil {
		return nil, err
	}
	if adp.IsOpen() {
		return nil, errors.New("store: connection is already opened")
	}
	if err := adp.SetMaxResults(config.MaxResults); err != nil {
		return nil, err
	}

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}
	if err := adp.Open(ctx, adapterConfig); err != nil {
		return nil, err
	}
	return New(adp), nil
}

// Store is the AttributeStore: table lifecycle, point reads and writes, paged
// queries, batched deletes and the claim-and-delete protocol over an open adapter.
// It is safe for concurrent use.
type Store struct {
	adp adapter.Adapter

	tablesLock sync.RWMutex
	// Tables known to exist.
	knownTables map[string]bool
}

// New wraps an open adapter.
func New(adp adapter.Adapter) *Store {
	return &Store{adp: adp, knownTables: make(map[string]bool)}
}

// Close terminates connection to persistent storage.
func (s *Store) Close() error {
	if s.adp.IsOpen() {
		return s.adp.Close()
	}
	return nil
}

// IsOpen checks if persistent storage connection has been initialized.
func (s *Store) IsOpen() bool {
	return s.adp != nil && s.adp.IsOpen()
}

// GetAdapterName returns the name of the current adapter.
func (s *Store) GetAdapterName() string {
	return s.adp.GetName()
}

func storeErr(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var se *types.StoreError
	if errors.As(err, &se) {
		return err
	}
	return &types.StoreError{Op: op, Table: table, Err: err}
}

// tokenGuard detects continuation token loops.
type tokenGuard map[string]bool

// more reports if paging should continue with the next token.
func (g tokenGuard) more(op, table, next string) bool {
	if next == "" {
		return false
	}
	if g[next] {
		logs.Warn.Printf("store: %s %s: repeated continuation token, stopping", op, table)
		return false
	}
	g[next] = true
	return true
}

// CreateTable creates a table. Creating an existing table is not an error.
func (s *Store) CreateTable(ctx context.Context, name string) error {
	if err := s.adp.CreateTable(ctx, name); err != nil {
		return storeErr("create", name, err)
	}
	s.tablesLock.Lock()
	s.knownTables[name] = true
	s.tablesLock.Unlock()
	return nil
}

// EnsureTable makes sure the table exists. Tables once seen are cached, otherwise
// existing tables are listed and the table is created if still missing. Concurrent
// callers may both create the table, which backends tolerate.
func (s *Store) EnsureTable(ctx context.Context, name string) error {
	s.tablesLock.RLock()
	known := s.knownTables[name]
	s.tablesLock.RUnlock()
	if known {
		return nil
	}

	found := false
	guard := tokenGuard{}
	token := ""
	for {
		names, next, err := s.adp.ListTables(ctx, token)
		if err != nil {
			return storeErr("list tables", "", err)
		}
		for _, n := range names {
			if n == name {
				found = true
				break
			}
		}
		if found || !guard.more("list tables", "", next) {
			break
		}
		token = next
	}

	if !found {
		return s.CreateTable(ctx, name)
	}
	s.tablesLock.Lock()
	s.knownTables[name] = true
	s.tablesLock.Unlock()
	return nil
}

// Put upserts all given attributes of the item, creating the table if needed.
func (s *Store) Put(ctx context.Context, table, key string, attrs types.Attrs) error {
	if err := s.EnsureTable(ctx, table); err != nil {
		return err
	}
	return storeErr("put", table, s.adp.PutAttributes(ctx, table, key, attrs, nil))
}

// Get returns all attributes of the item using a consistent read, or nil if the
// item does not exist.
func (s *Store) Get(ctx context.Context, table, key string) (types.Attrs, error) {
	attrs, err := s.adp.GetAttributes(ctx, table, key, true)
	if err != nil {
		return nil, storeErr("get", table, err)
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs, nil
}

// Query returns all items matching the filter sorted by key, paging through the
// backend results. A nil filter returns every item of the table.
func (s *Store) Query(ctx context.Context, table string, filter *types.Filter, consistent bool) ([]types.Item, error) {
	var all []types.Item
	guard := tokenGuard{}
	token := ""
	for {
		items, next, err := s.adp.Select(ctx, table, filter, consistent, token)
		if err != nil {
			return nil, storeErr("select", table, err)
		}
		all = append(all, items...)
		if !guard.more("select", table, next) {
			break
		}
		token = next
	}
	types.SortItems(all)
	return all, nil
}

// Count returns the number of items matching the filter.
func (s *Store) Count(ctx context.Context, table string, filter *types.Filter) (int, error) {
	total := 0
	guard := tokenGuard{}
	token := ""
	for {
		n, next, err := s.adp.Count(ctx, table, filter, token)
		if err != nil {
			return 0, storeErr("count", table, err)
		}
		total += n
		if !guard.more("count", table, next) {
			break
		}
		token = next
	}
	return total, nil
}

// DeleteKey deletes the item unconditionally.
func (s *Store) DeleteKey(ctx context.Context, table, key string) error {
	return storeErr("delete", table, s.adp.DeleteAttributes(ctx, table, key, nil))
}

// DeleteWhere deletes all items matching the filter in batches no larger than the
// backend allows. Returns the number of deleted items.
func (s *Store) DeleteWhere(ctx context.Context, table string, filter *types.Filter) (int, error) {
	items, err := s.Query(ctx, table, filter, true)
	if err != nil {
		return 0, err
	}
	keys := make([]string, len(items))
	for i := range items {
		keys[i] = items[i].Key
	}
	deleted := 0
	for _, batch := range common.SplitBatches(keys, s.adp.BatchDeleteLimit()) {
		if err := s.adp.BatchDelete(ctx, table, batch); err != nil {
			return deleted, storeErr("batch delete", table, err)
		}
		deleted += len(batch)
	}
	if deleted > 0 {
		logs.Info.Printf("store: deleted from %s for query `%s`: %d entries", table, filter, deleted)
	}
	return deleted, nil
}

// RetrieveAndDelete atomically claims, reads and deletes an item. Among concurrent
// callers for the same key at most one receives the attributes; the others, and all
// callers for a missing key, get nil.
func (s *Store) RetrieveAndDelete(ctx context.Context, table, key string) (types.Attrs, error) {
	token := uuid.NewString()
	claimed := &types.Condition{Name: ClaimAttr, Value: token, Exists: true}

	err := s.adp.PutAttributes(ctx, table, key, types.Attrs{ClaimAttr: token},
		&types.Condition{Name: ClaimAttr, Exists: false})
	if errors.Is(err, types.ErrConditionFailed) {
		// Another consumer got it first.
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("claim", table, err)
	}

	attrs, err := s.adp.GetAttributes(ctx, table, key, true)
	if err != nil {
		return nil, storeErr("claim", table, err)
	}
	if attrs[ClaimAttr] != token {
		logs.Warn.Printf("store: unique retrieve failed for %s/%s", table, key)
		return nil, nil
	}
	delete(attrs, ClaimAttr)

	err = s.adp.DeleteAttributes(ctx, table, key, claimed)
	if errors.Is(err, types.ErrConditionFailed) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("claim", table, err)
	}
	if len(attrs) == 0 {
		// Nothing but our own claim: the item did not exist.
		return nil, nil
	}
	return attrs, nil
}

// DropTable deletes the table with all its items.
func (s *Store) DropTable(ctx context.Context, name string) error {
	s.tablesLock.Lock()
	delete(s.knownTables, name)
	s.tablesLock.Unlock()
	return storeErr("drop", name, s.adp.DeleteTable(ctx, name))
}
