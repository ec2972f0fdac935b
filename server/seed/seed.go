// Package seed loads the server configuration, admins, users and buses of an
// instance from a JSON data file.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/janrain/backplane/server/auth/basic"
	"github.com/janrain/backplane/server/bpconfig"
	"github.com/janrain/backplane/server/logs"
	"github.com/janrain/backplane/server/store/types"
)

/*
ServerConfig object in data.json

	"server_config": {
	  "debug_mode": false,
	  "cache_age_seconds": 10,
	  "cleanup_interval_minutes": 2
	}
*/
type ServerConfig struct {
	DebugMode              bool `json:"debug_mode"`
	CacheAgeSeconds        int  `json:"cache_age_seconds"`
	CleanupIntervalMinutes int  `json:"cleanup_interval_minutes"`
}

// Account is a user or admin in data.json: {"name": "alice", "password": "alice123"}
type Account struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

/*
Bus object in data.json

	{
	  "name": "customer1.example.com",
	  "retention_seconds": 600,
	  "sticky_retention_seconds": 28800,
	  "grants": {"alice": ["POST", "GETALL"]}
	}
*/
type Bus struct {
	Name                   string              `json:"name"`
	RetentionSeconds       int                 `json:"retention_seconds"`
	StickyRetentionSeconds int                 `json:"sticky_retention_seconds"`
	Grants                 map[string][]string `json:"grants"`
}

// Data is the content of data.json.
type Data struct {
	ServerConfig *ServerConfig `json:"server_config"`
	Admins       []Account     `json:"admins"`
	Users        []Account     `json:"users"`
	Buses        []Bus         `json:"buses"`
}

// Putter stores one item.
type Putter interface {
	Put(ctx context.Context, table, key string, attrs types.Attrs) error
}

// ReadFile parses a data file.
func ReadFile(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: failed to read data file: %w", err)
	}
	var data Data
	if err = json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("seed: failed to parse data file %s: %w", path, err)
	}
	return &data, nil
}

func (b *Bus) attrs() (types.Attrs, error) {
	a := types.Attrs{
		types.BusName:             b.Name,
		types.BusRetentionSeconds: strconv.Itoa(b.RetentionSeconds),
	}
	if b.StickyRetentionSeconds > 0 {
		a[types.BusStickyRetentionSeconds] = strconv.Itoa(b.StickyRetentionSeconds)
	}
	for user, perms := range b.Grants {
		a[user] = strings.Join(perms, ",")
	}

	bus, err := types.BusFromAttrs(a)
	if err != nil {
		return nil, err
	}
	if err = bus.ValidateGrants(); err != nil {
		return nil, err
	}
	for user := range b.Grants {
		if _, err = bus.Permissions(user); err != nil {
			return nil, err
		}
	}
	return bus.Attrs(), nil
}

func putAccounts(ctx context.Context, st Putter, table string, accounts []Account) error {
	for _, acc := range accounts {
		if acc.Name == "" || acc.Password == "" {
			return fmt.Errorf("account %q: name and password required", acc.Name)
		}
		hash, err := basic.Hash(acc.Password)
		if err != nil {
			return err
		}
		user := types.User{Name: acc.Name, PwdHash: hash}
		if err = st.Put(ctx, table, acc.Name, user.Attrs()); err != nil {
			return err
		}
	}
	return nil
}

// Load writes the data into the instance tables. Passwords are hashed. A data file
// without server_config leaves the stored server configuration untouched.
func Load(ctx context.Context, st Putter, tables bpconfig.Tables, data *Data) error {
	if data.ServerConfig != nil {
		cfg := types.Attrs{
			types.CfgDebugMode:        types.FormatBool(data.ServerConfig.DebugMode),
			types.CfgCacheAgeSeconds:  strconv.Itoa(data.ServerConfig.CacheAgeSeconds),
			types.CfgCleanupIntervalM: strconv.Itoa(data.ServerConfig.CleanupIntervalMinutes),
		}
		if _, err := types.ServerConfigFromAttrs(cfg); err != nil {
			return err
		}
		if err := st.Put(ctx, tables.ServerConfig(), types.ServerConfigKey, cfg); err != nil {
			return err
		}
		logs.Info.Println("seed: server configuration loaded")
	}

	if err := putAccounts(ctx, st, tables.Admins(), data.Admins); err != nil {
		return fmt.Errorf("admins: %w", err)
	}
	if err := putAccounts(ctx, st, tables.Users(), data.Users); err != nil {
		return fmt.Errorf("users: %w", err)
	}

	for i := range data.Buses {
		attrs, err := data.Buses[i].attrs()
		if err != nil {
			return fmt.Errorf("bus %q: %w", data.Buses[i].Name, err)
		}
		if err = st.Put(ctx, tables.Buses(), data.Buses[i].Name, attrs); err != nil {
			return err
		}
	}
	logs.Info.Printf("seed: loaded %d admins, %d users, %d buses", len(data.Admins), len(data.Users), len(data.Buses))
	return nil
}
