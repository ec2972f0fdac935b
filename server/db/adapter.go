// Package adapter contains the interfaces to be implemented by the attribute store backends.
package adapter

//go:generate mockgen -destination=mock_adapter/mock_adapter.go -package=mock_adapter . Adapter

import (
	"context"
	"encoding/json"

	t "github.com/janrain/backplane/server/store/types"
)

// Adapter is the interface that must be implemented by an attribute store backend.
// The store layer builds table caching, paging, batching and the claim protocol on
// top of these primitives; a backend only has to be faithful to each single call.
type Adapter interface {
	// General

	// Open and configure the adapter
	Open(ctx context.Context, config json.RawMessage) error
	// Close the adapter
	Close() error
	// IsOpen checks if the adapter is ready for use
	IsOpen() bool
	// GetName returns the name of the adapter
	GetName() string
	// SetMaxResults configures how many results can be returned in a single page.
	SetMaxResults(val int) error

	// Tables

	// CreateTable creates a table. Creating an existing table is not an error.
	CreateTable(ctx context.Context, name string) error
	// ListTables returns one page of table names and the token of the next page.
	// An empty token means there are no more pages.
	ListTables(ctx context.Context, token string) ([]string, string, error)
	// DeleteTable drops the table with all its items.
	DeleteTable(ctx context.Context, name string) error

	// Items

	// PutAttributes upserts the given attributes of an item, replacing existing values.
	// If cond is not nil and does not hold, returns types.ErrConditionFailed.
	PutAttributes(ctx context.Context, table, key string, attrs t.Attrs, cond *t.Condition) error
	// GetAttributes returns all attributes of an item, or an empty set if the item does not exist.
	GetAttributes(ctx context.Context, table, key string, consistent bool) (t.Attrs, error)
	// DeleteAttributes deletes an item. If cond is not nil and does not hold, returns
	// types.ErrConditionFailed.
	DeleteAttributes(ctx context.Context, table, key string, cond *t.Condition) error
	// Select returns one page of items matching the filter and the token of the next page.
	Select(ctx context.Context, table string, filter *t.Filter, consistent bool, token string) ([]t.Item, string, error)
	// Count returns the number of matching items in one page and the token of the next page.
	Count(ctx context.Context, table string, filter *t.Filter, token string) (int, string, error)
	// BatchDelete deletes up to BatchDeleteLimit items in one call.
	BatchDelete(ctx context.Context, table string, keys []string) error
	// BatchDeleteLimit is the maximum number of keys accepted by BatchDelete.
	BatchDeleteLimit() int
}
