// Command backplane-db creates the tables of a backplane instance and loads the
// server configuration, admins, users and buses from a JSON data file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/janrain/backplane/server/bpconfig"
	_ "github.com/janrain/backplane/server/db/mem"
	_ "github.com/janrain/backplane/server/db/mongodb"
	_ "github.com/janrain/backplane/server/db/mysql"
	_ "github.com/janrain/backplane/server/db/postgres"
	_ "github.com/janrain/backplane/server/db/redis"
	_ "github.com/janrain/backplane/server/db/simpledb"
	"github.com/janrain/backplane/server/seed"
	"github.com/janrain/backplane/server/store"
	jcr "github.com/tinode/jsonco"
)

type configType struct {
	InstanceID  string          `json:"instance_id"`
	StoreConfig json.RawMessage `json:"store_config"`
}

func main() {
	var reset = flag.Bool("reset", false, "drop all tables of the instance before loading")
	var datafile = flag.String("data", "", "name of file with configuration data to load")
	var conffile = flag.String("config", "./backplane.conf", "config of the store connection")
	var instance = flag.String("instance", "", "override instance_id of the config file")
	flag.Parse()

	data := &seed.Data{}
	if *datafile != "" && *datafile != "-" {
		var err error
		if data, err = seed.ReadFile(*datafile); err != nil {
			log.Fatalln(err)
		}
	}

	var config configType
	if file, err := os.Open(*conffile); err != nil {
		log.Fatalln("Failed to read config file:", err)
	} else {
		jr := jcr.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			switch jerr := err.(type) {
			case *json.UnmarshalTypeError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				log.Fatalf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
					jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
			case *json.SyntaxError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				log.Fatalf("Syntax error in config file at %d:%d (offset %d bytes): %s",
					lnum, cnum, jerr.Offset, jerr.Error())
			default:
				log.Fatal("Failed to parse config file: ", err)
			}
		}
		file.Close()
	}
	if *instance != "" {
		config.InstanceID = *instance
	}
	if config.InstanceID == "" {
		log.Fatalln("Instance ID is not set")
	}

	ctx := context.Background()
	st, err := store.Open(ctx, config.StoreConfig)
	if err != nil {
		log.Fatalln("Failed to open store:", err)
	}
	defer st.Close()
	log.Println("Store", st.GetAdapterName(), "instance", config.InstanceID)

	tables := bpconfig.NewTables(config.InstanceID)
	if *reset {
		log.Println("Reset requested, dropping tables")
		resetTables(ctx, st, tables)
	}
	for _, table := range tables.All() {
		if err = st.EnsureTable(ctx, table); err != nil {
			log.Fatalln("Failed to create table:", err)
		}
	}

	if err = seed.Load(ctx, st, tables, data); err != nil {
		log.Fatalln("Failed to load data:", err)
	}
	log.Println("All done.")
}

// resetTables drops the instance tables. Tables missing already are reported and skipped.
func resetTables(ctx context.Context, st *store.Store, tables bpconfig.Tables) {
	for _, table := range tables.All() {
		if err := st.DropTable(ctx, table); err != nil {
			log.Println("Drop table:", err)
		}
	}
}
