package types

import (
	"strconv"
	"time"
)

// ServerConfigKey is the fixed identity of the single server configuration record.
const ServerConfigKey = "bpserverconfig"

// Server configuration attribute names.
const (
	CfgDebugMode        = "DEBUG_MODE"
	CfgCacheAgeSeconds  = "CONFIG_CACHE_AGE_SECONDS"
	CfgCleanupIntervalM = "CLEANUP_INTERVAL_MINUTES"
)

// ServerConfigSchema is the field table of the server configuration.
var ServerConfigSchema = Schema{
	{Name: CfgDebugMode, Required: true, Check: checkBool},
	{Name: CfgCacheAgeSeconds, Required: true, Check: checkInt},
	{Name: CfgCleanupIntervalM, Required: true, Check: checkInt},
}

// ServerConfig holds server-wide tunables.
type ServerConfig struct {
	DebugMode       bool
	CacheAge        time.Duration
	CleanupInterval time.Duration
}

// ServerConfigFromAttrs loads and validates the server configuration.
func ServerConfigFromAttrs(a Attrs) (*ServerConfig, error) {
	if err := ServerConfigSchema.Validate(a); err != nil {
		return nil, err
	}
	debug, _ := ParseBool(a[CfgDebugMode])
	age, _ := strconv.Atoi(a[CfgCacheAgeSeconds])
	interval, _ := strconv.Atoi(a[CfgCleanupIntervalM])
	return &ServerConfig{
		DebugMode:       debug,
		CacheAge:        time.Duration(age) * time.Second,
		CleanupInterval: time.Duration(interval) * time.Minute,
	}, nil
}

// Attrs flattens the configuration into its stored form.
func (c *ServerConfig) Attrs() Attrs {
	return Attrs{
		CfgDebugMode:        FormatBool(c.DebugMode),
		CfgCacheAgeSeconds:  strconv.Itoa(int(c.CacheAge / time.Second)),
		CfgCleanupIntervalM: strconv.Itoa(int(c.CleanupInterval / time.Minute)),
	}
}
