// Package main provides trustgated, the trust-tier authorization
// daemon: it answers EventAdmit RPCs for a relay and keeps the
// follow-graph trust tiers it reasons about current.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thesimplekid/contact-group-auth/internal/authz"
	"github.com/thesimplekid/contact-group-auth/internal/config"
	"github.com/thesimplekid/contact-group-auth/internal/engine"
	"github.com/thesimplekid/contact-group-auth/internal/graph"
	"github.com/thesimplekid/contact-group-auth/internal/identity"
	"github.com/thesimplekid/contact-group-auth/internal/relay"
	"github.com/thesimplekid/contact-group-auth/internal/rpc"
	"github.com/thesimplekid/contact-group-auth/internal/store"
	"github.com/thesimplekid/contact-group-auth/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.trustgated", "Data directory for the trust graph database")
		configFile  = flag.String("config", "config.toml", "Config file path")
		listenAddr  = flag.String("listen", "[::1]:8090", "JSON-RPC listen address")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("trustgated %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg := config.Load(*configFile)
	log.Info("Config loaded", "path", *configFile)

	primary, err := identity.NewSet(cfg.Info.PrimaryKeys)
	if err != nil {
		log.Fatal("Invalid primary key set in config", "error", err)
	}
	log.Info("Primary set loaded", "count", len(primary))

	operatorKey, err := identity.LoadOrGenerateOperatorKey(cfg.Info.NostrKey)
	if err != nil {
		log.Fatal("Failed to resolve operator key", "error", err)
	}
	if cfg.Info.NostrKey == "" {
		log.Warn("Generated a fresh operator key; persist info.nostr_key to keep this identity across restarts", "npub", operatorKey.Npub)
	} else {
		log.Info("Operator key loaded", "npub", operatorKey.Npub)
	}

	s, err := store.New(&store.Config{DataDir: *dataDir})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer s.Close()
	log.Info("Storage initialized", "path", s.Path())

	index := graph.New(s)
	eng := engine.New(index, primary)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Info.RelayURL != "" && len(primary) > 0 {
		relayClient, err := relay.Connect(ctx, cfg.Info.RelayURL)
		if err != nil {
			log.Warn("Failed to connect to upstream relay for initialization sweep, starting with an empty graph beyond any persisted state", "relay", cfg.Info.RelayURL, "error", err)
		} else {
			if err := eng.Seed(ctx, relayClient.ContactsOf); err != nil {
				log.Warn("Initialization sweep failed, continuing with whatever tiers are already persisted", "error", err)
			} else {
				log.Info("Initialization sweep complete")
			}
			relayClient.Close()
		}
	} else {
		log.Info("Skipping initialization sweep: no relay_url or empty primary set configured")
	}

	facade := authz.New(index, eng, cfg)

	rpcServer := rpc.NewServer(facade, index)
	if err := rpcServer.Start(*listenAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	printBanner(log, *listenAddr, len(primary))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	cancel()

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}

	log.Info("Goodbye!")
}

func printBanner(log *logging.Logger, listenAddr string, primaryCount int) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  trustgated %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  RPC:  http://%s", listenAddr)
	log.Infof("  WS:   ws://%s/ws", listenAddr)
	log.Infof("  Primary set: %d identities", primaryCount)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
