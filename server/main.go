/******************************************************************************
 *
 *  Description :
 *
 *  Setup & initialization.
 *
 *****************************************************************************/

package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/janrain/backplane/server/auth"
	"github.com/janrain/backplane/server/bpconfig"
	"github.com/janrain/backplane/server/bus"
	"github.com/janrain/backplane/server/logs"
	"github.com/janrain/backplane/server/provision"
	"github.com/janrain/backplane/server/seed"
	"github.com/janrain/backplane/server/store"
	"github.com/janrain/backplane/server/sweeper"

	// Attribute store backends.
	_ "github.com/janrain/backplane/server/db/mem"
	_ "github.com/janrain/backplane/server/db/mongodb"
	_ "github.com/janrain/backplane/server/db/mysql"
	_ "github.com/janrain/backplane/server/db/postgres"
	_ "github.com/janrain/backplane/server/db/redis"
	_ "github.com/janrain/backplane/server/db/simpledb"
)

const (
	// Environment variable overriding the instance_id config value.
	instanceIDEnv = "BP_INSTANCE_ID"

	defaultMetricsPath = "/metrics"

	// Time allowed for in-flight requests to complete on shutdown.
	shutdownTimeout = 5 * time.Second
)

// Build version number defined by the compiler:
//
//	-ldflags "-X main.buildstamp=value_to_assign_to_buildstamp"
var buildstamp = "undef"

var globals struct {
	store     *store.Store
	tables    bpconfig.Tables
	config    *bpconfig.Cache
	bus       *bus.Service
	provision *provision.Service
	sweeper   *sweeper.Sweeper
	stats     *stats

	// Add Strict-Transport-Security to headers, the value signifies age.
	// Empty string "" turns it off
	tlsStrictMaxAge string
}

type logConfig struct {
	// One of "stdout", "stderr" or "json".
	Output string `json:"output"`
	// Comma-separated list of log flags, see logs.Init.
	Flags string `json:"flags"`
}

type configType struct {
	// HTTP(S) address:port to listen on for client requests.
	Listen string `json:"listen"`
	// Instance identifier. Prefix of all table names.
	InstanceID string `json:"instance_id"`
	// Maximum number of messages kept in one channel.
	MaxChannelMessages int `json:"max_channel_messages"`
	// URL path for Prometheus metrics. "-" disables the endpoint.
	MetricsPath string `json:"metrics_path"`
	// URL path for exposing runtime profiling. Disabled when empty.
	PprofPath string `json:"pprof_path"`
	// TLS config, see TlsConfig.
	TLS json.RawMessage `json:"tls"`
	// Logging.
	Logging logConfig `json:"logging"`
	// Attribute store configuration.
	StoreConfig json.RawMessage `json:"store_config"`
	// Data file loaded into the store at startup. Needed by the in-process store,
	// which starts empty on every run.
	SeedData string `json:"seed_data"`
}

func main() {
	var configfile = flag.String("config", "./backplane.conf", "Path to config file.")
	var listenOn = flag.String("listen", "", "Override address and port to listen on for HTTP(S) clients.")
	var logFlags = flag.String("log_flags", "",
		"Comma-separated list of log flags (as defined in https://golang.org/pkg/log/#pkg-constants without the L prefix)")
	flag.Parse()

	var config configType
	if err := parseConfig(*configfile, &config); err != nil {
		logs.Err.Fatal(err)
	}

	if *logFlags == "" {
		*logFlags = config.Logging.Flags
	}
	if *logFlags == "" {
		*logFlags = "stdFlags"
	}
	output := config.Logging.Output
	if output == "" {
		output = "stderr"
	}
	logs.Init(output, *logFlags)

	logs.Info.Printf("Server v%s:%s pid=%d; %d process(es)",
		buildstamp, *configfile, os.Getpid(), runtime.GOMAXPROCS(0))

	if *listenOn != "" {
		config.Listen = *listenOn
	}
	if id := os.Getenv(instanceIDEnv); id != "" {
		config.InstanceID = id
	}
	if config.InstanceID == "" {
		logs.Err.Fatal("Missing instance_id in config (or ", instanceIDEnv, " environment variable)")
	}
	if config.MaxChannelMessages <= 0 {
		config.MaxChannelMessages = bus.DefaultMaxChannelMessages
	}
	if config.MetricsPath == "" {
		config.MetricsPath = defaultMetricsPath
	}

	ctx := context.Background()

	st, err := store.Open(ctx, config.StoreConfig)
	if err != nil {
		logs.Err.Fatal("Failed to open attribute store: ", err)
	}
	defer func() {
		st.Close()
		logs.Info.Println("Closed attribute store connection")
	}()
	logs.Info.Printf("Attribute store: '%s'", st.GetAdapterName())

	globals.store = st
	globals.tables = bpconfig.NewTables(config.InstanceID)
	for _, table := range globals.tables.All() {
		if err = st.EnsureTable(ctx, table); err != nil {
			logs.Err.Fatal("Failed to create table: ", err)
		}
	}
	if config.SeedData != "" {
		if err = loadSeedData(ctx, st, globals.tables, config.SeedData); err != nil {
			logs.Err.Fatal("Failed to load seed data: ", err)
		}
	}

	globals.config = bpconfig.NewCache(st, globals.tables.ServerConfig())
	authn := auth.New(st, globals.tables, globals.config)

	globals.stats = newStats()

	globals.bus = bus.New(st, globals.tables, authn)
	globals.bus.MaxChannelMessages = config.MaxChannelMessages
	globals.bus.Observer = globals.stats

	globals.provision = provision.New(st, globals.tables, authn)

	globals.sweeper, err = sweeper.New(ctx, st, globals.tables, globals.config)
	if err != nil {
		logs.Err.Fatal("Failed to start retention sweeper (is the server config provisioned?): ", err)
	}
	globals.sweeper.OnDeleted = globals.stats.swept
	globals.sweeper.Start()
	logs.Info.Printf("Retention sweeper running every %s", globals.sweeper.Interval())

	mux := http.NewServeMux()
	registerRoutes(mux)
	globals.stats.serve(mux, config.MetricsPath)
	servePprof(mux, config.PprofPath)

	if err = listenAndServe(config.Listen, mux, config.TLS, signalHandler()); err != nil {
		logs.Err.Fatal(err)
	}

	globals.sweeper.Stop()
	logs.Info.Println("All done, good bye")
}

// loadSeedData writes the data file into the instance tables.
func loadSeedData(ctx context.Context, st seed.Putter, tables bpconfig.Tables, path string) error {
	data, err := seed.ReadFile(path)
	if err != nil {
		return err
	}
	logs.Info.Printf("Loading seed data from '%s'", path)
	return seed.Load(ctx, st, tables, data)
}
