package main

import (
	"context"
	"net"
	"strconv"

	"flock/internal/app"
	"flock/pkg/config"
	"flock/pkg/logger"
	"flock/pkg/shutdown"
)

// set via ldflags during release builds
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	flags := config.ParseFlags()

	cfg, err := config.Load(flags.Config)
	if err != nil {
		logger.Init()
		shutdown.Abort("config load failed", err, "", 0)
	}
	// explicit flags win over config file and env
	if flags.Set["addr"] {
		if host, port, err := net.SplitHostPort(flags.Addr); err == nil {
			if p, perr := strconv.Atoi(port); perr == nil {
				cfg.Server.Address = host
				cfg.Server.Port = p
			}
		}
	}
	if flags.Set["db"] {
		cfg.Storage.DBPath = flags.DB
	}

	logger.InitWithLevel(cfg.Logging.Level)

	verStr := version
	if commit != "none" {
		verStr += " (" + commit + ")"
	}
	if buildDate != "unknown" {
		verStr += " @ " + buildDate
	}

	a, err := app.New(cfg, verStr)
	if err != nil {
		shutdown.Abort("startup failed", err, cfg.Storage.DBPath, 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server failed", err, cfg.Storage.DBPath, 0)
	}
}
