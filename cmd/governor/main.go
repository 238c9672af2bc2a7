// Package main provides the entry point for the ratio governance daemon.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ratio-governance/internal/chain"
	"ratio-governance/internal/config"
	"ratio-governance/internal/engine"
	"ratio-governance/internal/governance"
	"ratio-governance/internal/identity"
	"ratio-governance/internal/ingest"
	"ratio-governance/internal/logger"
	"ratio-governance/internal/notify"
	"ratio-governance/internal/tui"

	dbpkg "ratio-governance/internal/db"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	"github.com/joho/godotenv"
)

func main() {
	// Try to load .env from CWD if present; otherwise use environment as-is
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	cfg := config.Load()

	// If debug logs are enabled, write them to file to avoid interfering with TUI
	var logWriter io.Writer = os.Stderr
	if cfg.Debug {
		logFile, err := os.OpenFile("governor.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			logWriter = logFile
			fmt.Fprintf(os.Stderr, "Debug logs written to governor.log\n")
		} else {
			fmt.Fprintf(os.Stderr, "Warning: failed to open log file, logs will go to stderr (may interfere with TUI): %v\n", err)
		}
	}

	log := logger.NewWithWriter(cfg.Debug, logWriter)

	fmt.Printf("Ratio governance daemon starting...\n")
	fmt.Printf("Config loaded: %s\n", cfg.DebugString())
	fmt.Printf("Loading...\n")

	gormDB, err := dbpkg.Open(cfg)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	if gormDB != nil {
		log.Printf("DB connected")

		if err := dbpkg.AutoMigrate(gormDB); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		log.Printf("Migrations applied")
	} else {
		log.Printf("DATABASE_URL not provided – audit persistence disabled")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Create channel for TUI updates (TUI is always enabled)
	tuiUpdateCh := make(chan interface{}, engine.TUIChannelBufferSize)
	// Start TUI in a goroutine
	go func() {
		if err := tui.Run(tuiUpdateCh); err != nil {
			log.Printf("TUI error: %v", err)
		}
		// TUI exited, cancel context to trigger shutdown
		cancel()
	}()

	// Outbound log client for contract updates and snapshot publishes.
	// Broadcasts go over plain HTTP, so the websocket is not started.
	txClient, err := rpchttp.New(cfg.RPCURL, cfg.WSURL())
	if err != nil {
		log.Fatalf("failed to create rpc client: %v", err)
	}

	settler, err := governance.NewSettler(governance.SettlerConfig{
		Contract:         chain.NewContractTxClient(txClient, cfg.ContractID, log),
		Snapshots:        chain.NewLogSnapshotPublisher(txClient, log),
		Notifier:         notify.NewWebhookNotifier(cfg.DashboardWebhookURL, cfg.AgentWebhookURL),
		DashboardChannel: notify.ChannelDashboard,
		AgentChannel:     notify.ChannelAgent,
		Session:          cfg.Session,
		Operator:         cfg.Operator,
		Tokens:           cfg.Tokens,
		Baseline:         cfg.Baseline,
	})
	if err != nil {
		log.Fatalf("failed to init settler: %v", err)
	}

	eng := engine.New(engine.Options{
		Round:   governance.NewRoundState(cfg.QuorumThreshold),
		Settler: settler,
		DB:      gormDB,
		TUI:     tuiUpdateCh,
		Log:     log,
		Names:   identity.NewResolver(cfg.RegistryAPIURL),
		Session: cfg.Session,
	})

	go func() {
		if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("engine stopped: %v", err)
			cancel()
		}
	}()

	ing := ingest.New(cfg, eng, nil, log)
	go func() {
		if err := ing.Run(ctx); err != nil {
			log.Printf("ingester stopped: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	if err := ing.Close(); err != nil {
		log.Printf("close error: %v", err)
	}

	// Close TUI update channel to stop sending updates
	close(tuiUpdateCh)
	// Give TUI a moment to process the close and quit
	time.Sleep(engine.TUICloseDelay)

	// Ensure logs flushed in some environments
	_ = os.Stderr.Sync()
	_ = os.Stdout.Sync()
}
