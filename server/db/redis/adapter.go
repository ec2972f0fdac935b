// Package redis is an attribute store adapter for Redis. A table is a hash of item
// key to JSON-encoded attributes, with a sorted set of keys for ordered paging.
// Writes are Lua scripts, so conditional writes are atomic.
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/janrain/backplane/server/db/common"
	"github.com/janrain/backplane/server/store"
	t "github.com/janrain/backplane/server/store/types"
	"github.com/redis/go-redis/v9"
)

type adapter struct {
	client     *redis.Client
	prefix     string
	maxResults int
}

const (
	adapterName = "redis"

	defaultAddr   = "localhost:6379"
	defaultPrefix = "bp:"

	batchDeleteLimit = 500
)

type configType struct {
	Addr     string `json:"addr,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	// Prefix of all Redis keys used by the adapter.
	Prefix string `json:"prefix,omitempty"`
	TLS    bool   `json:"tls,omitempty"`
	// Connection timeout in seconds.
	Timeout int `json:"timeout,omitempty"`
}

// Condition modes passed to the scripts.
const (
	modeNone   = ""
	modeAbsent = "absent"
	modeEqual  = "equal"
)

// KEYS: tables set, items hash, keys zset.
// ARGV: table, item key, attrs JSON, mode, attr name, attr value.
// Returns 1 on success, 0 if the condition failed, -1 if the table is missing.
var putScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then return -1 end
local cur = redis.call('HGET', KEYS[2], ARGV[2])
local attrs = {}
if cur then attrs = cjson.decode(cur) end
if ARGV[4] == 'absent' and attrs[ARGV[5]] ~= nil then return 0 end
if ARGV[4] == 'equal' and attrs[ARGV[5]] ~= ARGV[6] then return 0 end
for k, v in pairs(cjson.decode(ARGV[3])) do attrs[k] = v end
redis.call('HSET', KEYS[2], ARGV[2], cjson.encode(attrs))
redis.call('ZADD', KEYS[3], 0, ARGV[2])
return 1
`)

// KEYS: items hash, keys zset.
// ARGV: item key, mode, attr name, attr value.
var deleteScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur then
	if ARGV[2] == 'equal' then return 0 end
	return 1
end
if ARGV[2] ~= '' then
	local attrs = cjson.decode(cur)
	if ARGV[2] == 'absent' and attrs[ARGV[3]] ~= nil then return 0 end
	if ARGV[2] == 'equal' and attrs[ARGV[3]] ~= ARGV[4] then return 0 end
end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

func (a *adapter) tablesKey() string {
	return a.prefix + "tables"
}

func (a *adapter) itemsKey(table string) string {
	return a.prefix + "items:" + table
}

func (a *adapter) keysKey(table string) string {
	return a.prefix + "keys:" + table
}

// Open connects to the Redis server.
func (a *adapter) Open(ctx context.Context, jsonconfig json.RawMessage) error {
	if a.client != nil {
		return errors.New("adapter redis is already connected")
	}

	var config configType
	if len(jsonconfig) > 0 {
		if err := json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("adapter redis failed to parse config: " + err.Error())
		}
	}
	if config.Addr == "" {
		config.Addr = defaultAddr
	}
	a.prefix = config.Prefix
	if a.prefix == "" {
		a.prefix = defaultPrefix
	}
	if a.maxResults <= 0 {
		a.maxResults = common.DefaultMaxResults
	}

	opts := &redis.Options{
		Addr:       config.Addr,
		Username:   config.Username,
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: 3,
	}
	if config.Timeout > 0 {
		opts.DialTimeout = time.Duration(config.Timeout) * time.Second
	}
	if config.TLS {
		host, _, _ := strings.Cut(config.Addr, ":")
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	}

	client := redis.NewClient(opts)
	res, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return err
	}
	if strings.ToUpper(res) != "PONG" {
		client.Close()
		return fmt.Errorf("adapter redis: unexpected ping result %q", res)
	}
	a.client = client
	return nil
}

// Close closes the client.
func (a *adapter) Close() error {
	var err error
	if a.client != nil {
		err = a.client.Close()
		a.client = nil
	}
	return err
}

// IsOpen checks if the adapter is ready for use.
func (a *adapter) IsOpen() bool {
	return a.client != nil
}

// GetName returns the name of the adapter.
func (a *adapter) GetName() string {
	return adapterName
}

// SetMaxResults sets the page size.
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
	return a.client.SAdd(ctx, a.tablesKey(), name).Err()
}

// ListTables returns one SSCAN page of table names. The token is the scan cursor.
func (a *adapter) ListTables(ctx context.Context, token string) ([]string, string, error) {
	var cursor uint64
	if token != "" {
		var err error
		if cursor, err = strconv.ParseUint(token, 10, 64); err != nil {
			return nil, "", errors.New("adapter redis: invalid table token " + strconv.Quote(token))
		}
	}
	names, next, err := a.client.SScan(ctx, a.tablesKey(), cursor, "", int64(a.maxResults)).Result()
	if err != nil {
		return nil, "", err
	}
	if next == 0 {
		return names, "", nil
	}
	return names, strconv.FormatUint(next, 10), nil
}

// DeleteTable removes the table and all its items.
func (a *adapter) DeleteTable(ctx context.Context, name string) error {
	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, a.itemsKey(name), a.keysKey(name))
		pipe.SRem(ctx, a.tablesKey(), name)
		return nil
	})
	return err
}

func condArgs(cond *t.Condition) []any {
	switch {
	case cond == nil:
		return []any{modeNone, "", ""}
	case cond.Exists:
		return []any{modeEqual, cond.Name, cond.Value}
	default:
		return []any{modeAbsent, cond.Name, ""}
	}
}

// PutAttributes merges attributes into an item.
func (a *adapter) PutAttributes(ctx context.Context, table, key string, attrs t.Attrs, cond *t.Condition) error {
	data, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	args := append([]any{table, key, string(data)}, condArgs(cond)...)
	res, err := putScript.Run(ctx, a.client,
		[]string{a.tablesKey(), a.itemsKey(table), a.keysKey(table)}, args...).Int()
	if err != nil {
		return err
	}
	switch res {
	case 0:
		return t.ErrConditionFailed
	case -1:
		return fmt.Errorf("adapter redis: table %s does not exist", table)
	}
	return nil
}

// GetAttributes reads all attributes of an item.
func (a *adapter) GetAttributes(ctx context.Context, table, key string, _ bool) (t.Attrs, error) {
	raw, err := a.client.HGet(ctx, a.itemsKey(table), key).Result()
	if errors.Is(err, redis.Nil) {
		return t.Attrs{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeAttrs(raw)
}

// DeleteAttributes deletes an item.
func (a *adapter) DeleteAttributes(ctx context.Context, table, key string, cond *t.Condition) error {
	args := append([]any{key}, condArgs(cond)...)
	res, err := deleteScript.Run(ctx, a.client,
		[]string{a.itemsKey(table), a.keysKey(table)}, args...).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return t.ErrConditionFailed
	}
	return nil
}

// page reads one page of items in key order. Filtering happens after the page is
// read, so a page may hold fewer matches than keys scanned.
func (a *adapter) page(ctx context.Context, table string, filter *t.Filter, token string) ([]t.Item, string, error) {
	lo := "-"
	if token != "" {
		lo = "(" + token
	}
	keys, err := a.client.ZRangeByLex(ctx, a.keysKey(table), &redis.ZRangeBy{
		Min:   lo,
		Max:   "+",
		Count: int64(a.maxResults),
	}).Result()
	if err != nil {
		return nil, "", err
	}
	if len(keys) == 0 {
		return nil, "", nil
	}
	raws, err := a.client.HMGet(ctx, a.itemsKey(table), keys...).Result()
	if err != nil {
		return nil, "", err
	}
	items, err := matchItems(keys, raws, filter)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(keys) == a.maxResults {
		next = keys[len(keys)-1]
	}
	return items, next, nil
}

// matchItems decodes the hash values of keys and keeps the ones matching the filter.
// Keys deleted between the range and the read are skipped.
func matchItems(keys []string, raws []any, filter *t.Filter) ([]t.Item, error) {
	var items []t.Item
	for i, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		attrs, err := decodeAttrs(s)
		if err != nil {
			return nil, err
		}
		if filter.Match(attrs) {
			items = append(items, t.Item{Key: keys[i], Attrs: attrs})
		}
	}
	return items, nil
}

// Select returns one page of matching items.
func (a *adapter) Select(ctx context.Context, table string, filter *t.Filter, _ bool, token string) ([]t.Item, string, error) {
	return a.page(ctx, table, filter, token)
}

// Count counts matching items of one page.
func (a *adapter) Count(ctx context.Context, table string, filter *t.Filter, token string) (int, string, error) {
	if filter.IsEmpty() && token == "" {
		n, err := a.client.ZCard(ctx, a.keysKey(table)).Result()
		return int(n), "", err
	}
	items, next, err := a.page(ctx, table, filter, token)
	return len(items), next, err
}

// BatchDelete deletes the listed items.
func (a *adapter) BatchDelete(ctx context.Context, table string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if len(keys) > batchDeleteLimit {
		return fmt.Errorf("adapter redis: batch of %d exceeds limit %d", len(keys), batchDeleteLimit)
	}
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, a.itemsKey(table), keys...)
		pipe.ZRem(ctx, a.keysKey(table), members...)
		return nil
	})
	return err
}

// BatchDeleteLimit returns the maximum batch size.
func (a *adapter) BatchDeleteLimit() int {
	return batchDeleteLimit
}

func decodeAttrs(raw string) (t.Attrs, error) {
	attrs := t.Attrs{}
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return nil, errors.New("adapter redis: invalid attributes: " + err.Error())
	}
	return attrs, nil
}

func init() {
	store.RegisterAdapter(&adapter{})
}
