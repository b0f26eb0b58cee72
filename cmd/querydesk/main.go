package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"querydesk/internal/app"
	"querydesk/pkg/config"
	"querydesk/pkg/logger"
)

func main() {
	// build metadata - set via ldflags during build/release
	var (
		version   = "dev"
		commit    = "none"
		buildDate = "unknown"
	)

	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	// Resolve config path (file flag wins over env)
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])

	eff, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Flags explicitly set win over env/config for addr and dbPath.
	if setFlags["addr"] {
		eff.Addr = addrVal
	} else if eff.Addr == "" {
		eff.Addr = eff.Config.Addr()
	}
	if setFlags["db"] {
		eff.DBPath = dbVal
	} else if eff.DBPath == "" {
		if p := eff.Config.Server.DBPath; p != "" {
			eff.DBPath = p
		} else {
			eff.DBPath = dbVal
		}
	}

	logger.InitWithLevel(eff.Config.Logging.Level)
	defer logger.Sync()

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("server_exit", "error", err)
		os.Exit(1)
	}
	logger.Info("server_stopped")
}
