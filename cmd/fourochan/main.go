package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fourochan/fourochan/internal/config"
	"github.com/fourochan/fourochan/internal/live"
	"github.com/fourochan/fourochan/internal/ops"
	"github.com/fourochan/fourochan/internal/relay"
	"github.com/fourochan/fourochan/internal/store"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "manual"
)

func main() {
	// Define subcommands
	if len(os.Args) > 1 && os.Args[1] == "init" {
		handleInit()
		return
	}

	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("fourochan %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		fmt.Printf("  by:     %s\n", builtBy)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("fourochan - Nostr imageboard client core")
		fmt.Println()
		fmt.Println("No configuration file specified. Use --config <path> to specify config.")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  fourochan init              Generate example configuration")
		fmt.Println("  fourochan --version         Show version information")
		fmt.Println("  fourochan --config <path>   Start with configuration file")
		os.Exit(1)
	}

	// Load and validate configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Starting fourochan %s\n", version)
	fmt.Printf("  Site: %s\n", cfg.Site.Title)
	fmt.Printf("  Relays: %d seed(s)\n", len(cfg.Relays.Seeds))
	fmt.Printf("  Boards: %d\n", len(cfg.Boards))
	fmt.Println()

	// Run the application
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startTime := time.Now()
	logger := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(logger)
	logger.LogStartup(version, commit)

	// Initialize the event store
	fmt.Println("Initializing event store...")
	st := store.New()
	fmt.Println("  Event store ready")

	// Initialize the relay pool and connect the seeds
	fmt.Println("Connecting to relays...")
	pool := relay.NewPool(ctx, &cfg.Relays, st, logger)
	defer pool.Close()

	connected := 0
	for _, url := range cfg.Relays.Seeds {
		if err := pool.Connect(ctx, url); err != nil {
			fmt.Printf("  ⚠ %s: %v\n", url, err)
			continue
		}
		connected++
		fmt.Printf("  ✓ %s\n", url)
	}
	if connected == 0 {
		fmt.Println("  No relays reachable yet; reconnection continues in the background")
	}

	// Initialize the live controller and open the configured boards
	controller := live.NewController(cfg, pool, st, logger)

	var handles []*live.Handle
	for _, board := range cfg.Boards {
		fmt.Printf("Opening board /%s/ (%s)...\n", board.ID, board.Title)
		h, err := controller.OpenBoard(ctx, board.ID, func(snap *live.BoardSnapshot) {
			logger.Debug("board updated",
				"board_id", snap.BoardID,
				"threads", len(snap.Threads))
		})
		if err != nil {
			fmt.Printf("  ⚠ /%s/: %v\n", board.ID, err)
			continue
		}
		handles = append(handles, h)
		fmt.Printf("  ✓ /%s/ live\n", board.ID)
	}

	if len(handles) == 0 {
		return fmt.Errorf("no boards could be opened")
	}

	fmt.Println()
	fmt.Println("✓ All boards live!")
	fmt.Println()
	fmt.Println("Press Ctrl+C to shutdown gracefully...")

	// Periodic diagnostics until interrupted
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	diagTicker := time.NewTicker(time.Minute)
	defer diagTicker.Stop()

	for {
		select {
		case <-diagTicker.C:
			sys := ops.CollectSystemStats(version, commit, startTime)
			storeStats := &ops.StoreStats{
				TotalEvents:  st.Len(),
				EventsByKind: st.CountByKind(),
			}
			logger.LogDiagnostics(sys, storeStats, pool.Stats())
		case <-sigChan:
			fmt.Println()
			fmt.Println("Shutting down gracefully...")

			for _, h := range handles {
				controller.CloseBoard(h)
			}
			logger.LogShutdown("signal received")

			fmt.Println("✓ Shutdown complete")
			return nil
		}
	}
}

func handleInit() {
	exampleConfig, err := config.GetExampleConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading example config: %v\n", err)
		os.Exit(1)
	}

	// Write to stdout
	fmt.Print(string(exampleConfig))
}
