// Package mongodb is an attribute store adapter for MongoDB. Each table is a
// collection; each item is a document {_id: key, attrs: {name: value}}.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/janrain/backplane/server/db/common"
	"github.com/janrain/backplane/server/logs"
	"github.com/janrain/backplane/server/store"
	t "github.com/janrain/backplane/server/store/types"
	b "go.mongodb.org/mongo-driver/bson"
	mdb "go.mongodb.org/mongo-driver/mongo"
	mdbopts "go.mongodb.org/mongo-driver/mongo/options"
)

// adapter holds MongoDB connection data.
type adapter struct {
	conn       *mdb.Client
	db         *mdb.Database
	dbName     string
	maxResults int
}

const (
	defaultHost     = "localhost:27017"
	defaultDatabase = "backplane"

	adapterName = "mongodb"

	batchDeleteLimit = 1000

	// Server error code returned when creating an existing collection.
	codeNamespaceExists = 48
)

// See https://godoc.org/go.mongodb.org/mongo-driver/mongo/options#ClientOptions for explanations.
type configType struct {
	Addresses      interface{} `json:"addresses,omitempty"`
	ConnectTimeout int         `json:"timeout,omitempty"`

	// Options separately from ClientOptions (custom options):
	Database   string `json:"database,omitempty"`
	ReplicaSet string `json:"replica_set,omitempty"`

	AuthSource string `json:"auth_source,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
}

// Open initializes mongodb session
func (a *adapter) Open(ctx context.Context, jsonconfig json.RawMessage) error {
	if a.conn != nil {
		return errors.New("adapter mongodb is already connected")
	}

	var err error
	var config configType
	if len(jsonconfig) > 0 {
		if err = json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("adapter mongodb failed to parse config: " + err.Error())
		}
	}

	var opts mdbopts.ClientOptions

	if config.Addresses == nil {
		opts.SetHosts([]string{defaultHost})
	} else if host, ok := config.Addresses.(string); ok {
		opts.SetHosts([]string{host})
	} else if hosts, ok := config.Addresses.([]interface{}); ok {
		var list []string
		for _, h := range hosts {
			s, ok := h.(string)
			if !ok {
				return errors.New("adapter mongodb failed to parse config.Addresses")
			}
			list = append(list, s)
		}
		opts.SetHosts(list)
	} else {
		return errors.New("adapter mongodb failed to parse config.Addresses")
	}

	if config.Database == "" {
		a.dbName = defaultDatabase
	} else {
		a.dbName = config.Database
	}

	if config.ReplicaSet != "" {
		opts.SetReplicaSet(config.ReplicaSet)
	}
	if config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(time.Duration(config.ConnectTimeout) * time.Second)
	}

	if config.Username != "" {
		var passwordSet bool
		if config.AuthSource == "" {
			config.AuthSource = "admin"
		}
		if config.Password != "" {
			passwordSet = true
		}
		opts.SetAuth(
			mdbopts.Credential{
				AuthMechanism: "SCRAM-SHA-256",
				AuthSource:    config.AuthSource,
				Username:      config.Username,
				Password:      config.Password,
				PasswordSet:   passwordSet,
			})
	}

	a.conn, err = mdb.Connect(ctx, &opts)
	if err != nil {
		a.conn = nil
		return err
	}
	a.db = a.conn.Database(a.dbName)
	return nil
}

// Close the adapter
func (a *adapter) Close() error {
	var err error
	if a.conn != nil {
		err = a.conn.Disconnect(context.Background())
		a.conn = nil
	}
	return err
}

// IsOpen checks if the adapter is ready for use
func (a *adapter) IsOpen() bool {
	return a.conn != nil
}

// GetName returns the name of the adapter
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

func (a *adapter) limit() int64 {
	if a.maxResults <= 0 {
		return common.DefaultMaxResults
	}
	return int64(a.maxResults)
}

// Attribute names are arbitrary strings, but MongoDB field names cannot contain
// '.' or start with '$'. Those are percent-escaped.
var (
	nameEscaper   = strings.NewReplacer("%", "%25", ".", "%2E", "$", "%24")
	nameUnescaper = strings.NewReplacer("%25", "%", "%2E", ".", "%24", "$")
)

func field(name string) string {
	return "attrs." + nameEscaper.Replace(name)
}

type itemDoc struct {
	Key   string            `bson:"_id"`
	Attrs map[string]string `bson:"attrs"`
}

func (d *itemDoc) item() t.Item {
	attrs := make(t.Attrs, len(d.Attrs))
	for k, v := range d.Attrs {
		attrs[nameUnescaper.Replace(k)] = v
	}
	return t.Item{Key: d.Key, Attrs: attrs}
}

// condFilter adds the condition to a document filter.
func condFilter(filter b.M, cond *t.Condition) b.M {
	if cond == nil {
		return filter
	}
	if cond.Exists {
		filter[field(cond.Name)] = cond.Value
	} else {
		filter[field(cond.Name)] = b.M{"$exists": false}
	}
	return filter
}

// queryFilter translates a filter into a query document.
func queryFilter(filter *t.Filter) b.M {
	q := b.M{}
	if filter.IsEmpty() {
		return q
	}
	var and []b.M
	for _, term := range filter.Terms {
		f := field(term.Attr)
		var expr b.M
		switch term.Op {
		case t.OpEq:
			expr = b.M{"$eq": term.Value}
		case t.OpNe:
			expr = b.M{"$exists": true, "$ne": term.Value}
		case t.OpGt:
			expr = b.M{"$gt": term.Value}
		case t.OpLt:
			expr = b.M{"$lt": term.Value}
		case t.OpPrefix:
			expr = b.M{"$regex": "^" + regexp.QuoteMeta(term.Value)}
		}
		and = append(and, b.M{f: expr})
	}
	q["$and"] = and
	return q
}

// CreateTable creates a collection.
func (a *adapter) CreateTable(ctx context.Context, name string) error {
	err := a.db.CreateCollection(ctx, name)
	var cmdErr mdb.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == codeNamespaceExists {
		return nil
	}
	return err
}

// ListTables lists collections. Names are sorted and paged by name.
func (a *adapter) ListTables(ctx context.Context, token string) ([]string, string, error) {
	names, err := a.db.ListCollectionNames(ctx, b.M{})
	if err != nil {
		return nil, "", err
	}
	sort.Strings(names)
	page, next := common.PageKeys(names, token, int(a.limit()))
	return page, next, nil
}

// DeleteTable drops a collection.
func (a *adapter) DeleteTable(ctx context.Context, name string) error {
	return a.db.Collection(name).Drop(ctx)
}

// PutAttributes upserts item attributes.
func (a *adapter) PutAttributes(ctx context.Context, table, key string, attrs t.Attrs, cond *t.Condition) error {
	set := b.M{}
	for k, v := range attrs {
		set[field(k)] = v
	}
	filter := condFilter(b.M{"_id": key}, cond)
	// A value condition cannot hold on a missing document, so no upsert then.
	upsert := cond == nil || !cond.Exists
	res, err := a.db.Collection(table).UpdateOne(ctx, filter, b.M{"$set": set},
		mdbopts.Update().SetUpsert(upsert))
	if err != nil {
		if cond != nil && mdb.IsDuplicateKeyError(err) {
			// The document exists but does not satisfy the condition.
			return t.ErrConditionFailed
		}
		return err
	}
	if cond != nil && res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return t.ErrConditionFailed
	}
	return nil
}

// GetAttributes reads item attributes.
func (a *adapter) GetAttributes(ctx context.Context, table, key string, _ bool) (t.Attrs, error) {
	var doc itemDoc
	err := a.db.Collection(table).FindOne(ctx, b.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mdb.ErrNoDocuments) {
		return t.Attrs{}, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.item().Attrs, nil
}

// DeleteAttributes deletes an item.
func (a *adapter) DeleteAttributes(ctx context.Context, table, key string, cond *t.Condition) error {
	filter := condFilter(b.M{"_id": key}, cond)
	res, err := a.db.Collection(table).DeleteOne(ctx, filter)
	if err != nil {
		return err
	}
	if cond != nil && res.DeletedCount == 0 {
		if !cond.Exists {
			// Exists=false holds on a missing document.
			n, err := a.db.Collection(table).CountDocuments(ctx, b.M{"_id": key})
			if err != nil {
				return err
			}
			if n == 0 {
				return nil
			}
		}
		return t.ErrConditionFailed
	}
	return nil
}

// Select returns a page of matching items ordered by key.
func (a *adapter) Select(ctx context.Context, table string, filter *t.Filter, _ bool, token string) ([]t.Item, string, error) {
	q := queryFilter(filter)
	if token != "" {
		q["_id"] = b.M{"$gt": token}
	}
	limit := a.limit()
	cur, err := a.db.Collection(table).Find(ctx, q,
		mdbopts.Find().SetSort(b.D{{Key: "_id", Value: 1}}).SetLimit(limit))
	if err != nil {
		return nil, "", err
	}
	defer cur.Close(ctx)

	var items []t.Item
	for cur.Next(ctx) {
		var doc itemDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, "", err
		}
		items = append(items, doc.item())
	}
	if err := cur.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if int64(len(items)) == limit {
		next = items[len(items)-1].Key
	}
	return items, next, nil
}

// Count counts matching documents in one call.
func (a *adapter) Count(ctx context.Context, table string, filter *t.Filter, _ string) (int, string, error) {
	n, err := a.db.Collection(table).CountDocuments(ctx, queryFilter(filter))
	if err != nil {
		return 0, "", err
	}
	return int(n), "", nil
}

// BatchDelete deletes the listed items.
func (a *adapter) BatchDelete(ctx context.Context, table string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	res, err := a.db.Collection(table).DeleteMany(ctx, b.M{"_id": b.M{"$in": keys}})
	if err != nil {
		return err
	}
	if int(res.DeletedCount) != len(keys) {
		logs.Warn.Printf("adapter mongodb: %s: deleted %d of %d items", table, res.DeletedCount, len(keys))
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
