// Package provision implements admin listing, updating and deleting of bus and
// user configurations.
package provision

import (
	"context"

	"github.com/janrain/backplane/server/auth/basic"
	"github.com/janrain/backplane/server/bpconfig"
	"github.com/janrain/backplane/server/logs"
	"github.com/janrain/backplane/server/store/types"
)

// Per-entity result values.
const (
	UpdateSuccess  = "BACKPLANE_UPDATE_SUCCESS"
	DeleteSuccess  = "BACKPLANE_DELETE_SUCCESS"
	ConfigNotFound = "CONFIG_NOT_FOUND"
	// ErrMsgField is the attribute carrying an error message.
	ErrMsgField = "ERR_MSG"
)

// Kind describes a provisionable entity type.
type Kind struct {
	// Name as used in routes, e.g. "bus".
	Name string
	// IDField is the attribute holding the entity identity.
	IDField string
	table   func(bpconfig.Tables) string
	// validate checks a config as supplied by the admin.
	validate func(types.Attrs) error
	// prepare converts a validated config into its stored form.
	prepare func(types.Attrs) (types.Attrs, error)
}

// Bus configurations.
var Bus = Kind{
	Name:    "bus",
	IDField: types.BusName,
	table:   bpconfig.Tables.Buses,
	validate: func(a types.Attrs) error {
		b, err := types.BusFromAttrs(a)
		if err != nil {
			return err
		}
		return b.ValidateGrants()
	},
	prepare: func(a types.Attrs) (types.Attrs, error) { return a, nil },
}

// User credentials. The password arrives in plain text in PWDHASH and is hashed
// before storing.
var User = Kind{
	Name:    "user",
	IDField: types.UserName,
	table:   bpconfig.Tables.Users,
	validate: func(a types.Attrs) error {
		_, err := types.UserFromAttrs(a)
		return err
	},
	prepare: func(a types.Attrs) (types.Attrs, error) {
		hash, err := basic.Hash(a[types.UserPwdHash])
		if err != nil {
			return nil, err
		}
		a = a.Clone()
		a[types.UserPwdHash] = hash
		return a, nil
	},
}

// Kinds lists the provisionable entity types.
var Kinds = []Kind{Bus, User}

// ListRequest names entities to list or delete. An empty list means all when listing.
type ListRequest struct {
	Admin    string   `json:"admin"`
	Secret   string   `json:"secret"`
	Entities []string `json:"entities"`
}

// UpdateRequest carries entity configurations to store.
type UpdateRequest struct {
	Admin   string        `json:"admin"`
	Secret  string        `json:"secret"`
	Configs []types.Attrs `json:"configs"`
}

// Store is the part of the attribute store used by provisioning.
type Store interface {
	Get(ctx context.Context, table, key string) (types.Attrs, error)
	Put(ctx context.Context, table, key string, attrs types.Attrs) error
	Query(ctx context.Context, table string, filter *types.Filter, consistent bool) ([]types.Item, error)
	DeleteKey(ctx context.Context, table, key string) error
}

// AdminChecker verifies admin credentials.
type AdminChecker interface {
	CheckAdminAuth(ctx context.Context, user, secret string) error
}

// Service handles provisioning requests of one instance.
type Service struct {
	store  Store
	tables bpconfig.Tables
	auth   AdminChecker
}

// New creates the service.
func New(st Store, tables bpconfig.Tables, auth AdminChecker) *Service {
	return &Service{store: st, tables: tables, auth: auth}
}

func errAttrs(msg string) types.Attrs {
	return types.Attrs{ErrMsgField: msg}
}

// List returns the named entities, or all of them if none are named. Entities that
// cannot be loaded are reported in place with an error message.
func (s *Service) List(ctx context.Context, kind Kind, req *ListRequest) (map[string]types.Attrs, error) {
	if err := s.auth.CheckAdminAuth(ctx, req.Admin, req.Secret); err != nil {
		return nil, err
	}
	table := kind.table(s.tables)
	result := make(map[string]types.Attrs)

	if len(req.Entities) == 0 {
		items, err := s.store.Query(ctx, table, nil, true)
		if err != nil {
			result[ErrMsgField] = errAttrs(err.Error())
			return result, nil
		}
		for _, it := range items {
			result[it.Key] = it.Attrs
		}
		return result, nil
	}

	for _, name := range req.Entities {
		attrs, err := s.store.Get(ctx, table, name)
		switch {
		case err != nil:
			result[name] = errAttrs(err.Error())
		case attrs == nil:
			result[name] = errAttrs(ConfigNotFound)
		default:
			result[name] = attrs
		}
	}
	return result, nil
}

// Delete removes the named entities.
func (s *Service) Delete(ctx context.Context, kind Kind, req *ListRequest) (map[string]string, error) {
	if err := s.auth.CheckAdminAuth(ctx, req.Admin, req.Secret); err != nil {
		return nil, err
	}
	table := kind.table(s.tables)
	result := make(map[string]string, len(req.Entities))
	for _, name := range req.Entities {
		status := DeleteSuccess
		if err := s.store.DeleteKey(ctx, table, name); err != nil {
			status = err.Error()
		}
		result[name] = status
	}
	logs.Info.Printf("provision: %s delete by %s: %d entities", kind.Name, req.Admin, len(req.Entities))
	return result, nil
}

// Update stores entity configurations. Every configuration is validated before
// any is stored; one invalid configuration rejects the whole request.
func (s *Service) Update(ctx context.Context, kind Kind, req *UpdateRequest) (map[string]string, error) {
	if err := s.auth.CheckAdminAuth(ctx, req.Admin, req.Secret); err != nil {
		return nil, err
	}
	for _, config := range req.Configs {
		if err := kind.validate(config); err != nil {
			return nil, err
		}
	}

	table := kind.table(s.tables)
	result := make(map[string]string, len(req.Configs))
	for _, config := range req.Configs {
		name := config[kind.IDField]
		status := UpdateSuccess
		stored, err := kind.prepare(config)
		if err == nil {
			err = s.store.Put(ctx, table, name, stored)
		}
		if err != nil {
			status = err.Error()
		}
		result[name] = status
	}
	logs.Info.Printf("provision: %s update by %s: %d entities", kind.Name, req.Admin, len(req.Configs))
	return result, nil
}
