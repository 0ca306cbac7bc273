package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rawkakani/denokv-postgres/internal/config"
	"github.com/rawkakani/denokv-postgres/internal/kvdb"
	"github.com/rawkakani/denokv-postgres/internal/logging"
)

const serviceName = "kvd"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, env vars override)")
	flag.Parse()

	log := logging.New(os.Stdout)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config_load_failed").Err(err).Msg("")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ConnectionTimeoutSeconds)*time.Second)
	db, err := kvdb.Open(ctx, cfg)
	cancel()
	if err != nil {
		log.Error("database_open_failed").Err(err).Msg("")
		os.Exit(1)
	}
	defer db.Close()

	log.Info("service_start").
		Str("service", serviceName).
		Int("max_connections", cfg.MaxConnections).
		Msg("")

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown_signal").Str("signal", sig.String()).Msg("")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := db.Ping(shutdownCtx); err != nil {
		log.Warn("shutdown_ping_failed").Err(err).Msg("")
	}

	log.Info("shutdown_complete").Str("service", serviceName).Msg("")
}
