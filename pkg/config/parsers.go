package config

import (
	"flag"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Flags holds parsed command-line flag values and which were set
// explicitly. Explicit flags win over config file and env.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// ParseFlags parses the server's command-line flags.
func ParseFlags() Flags {
	addrPtr := flag.String("addr", "", "HTTP listen address (host:port)")
	dbPtr := flag.String("db", "", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: set}
}

// MaxBodyBytes parses the configured request body cap ("24MB"). Zero or
// unparseable values fall back to 24 MiB.
func (c *Config) MaxBodyBytes() int64 {
	if c.Limits.MaxBodySize == "" {
		return 24 << 20
	}
	n, err := humanize.ParseBytes(c.Limits.MaxBodySize)
	if err != nil || n == 0 {
		return 24 << 20
	}
	return int64(n)
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path required")
	}
	return nil
}
