package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/wrenfeed/relaycore/internal/config"
	"github.com/wrenfeed/relaycore/internal/core"
	"github.com/wrenfeed/relaycore/internal/ops"
	"github.com/wrenfeed/relaycore/internal/publish"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "manual"
)

func main() {
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
		fmt.Printf("relaycore %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		fmt.Printf("  by:     %s\n", builtBy)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("relaycore - a Nostr client-side relay/cache core")
		fmt.Println()
		fmt.Println("No configuration file specified. Use --config <path> to specify config.")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  relaycore init              Generate example configuration")
		fmt.Println("  relaycore --version         Show version information")
		fmt.Println("  relaycore --config <path>   Start with configuration file")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Starting relaycore %s\n", version)
	fmt.Printf("  Identity: %s\n", cfg.Identity.Pubkey)
	fmt.Printf("  Seed relays: %d\n", len(cfg.Relays.Seeds))
	fmt.Println()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := ops.NewLogger(&cfg.Logging)

	signer, err := loadSigner()
	if err != nil {
		return fmt.Errorf("failed to load signer: %w", err)
	}

	fmt.Println("Initializing relaycore...")
	c, err := core.New(cfg, signer, &http.Client{}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize core: %w", err)
	}
	fmt.Printf("  Storage: %s initialized\n", cfg.Storage.Driver)
	fmt.Println("  Relay pool, subscription router, and components ready")

	c.Start(ctx)
	fmt.Println("  Feed subscription opened")
	fmt.Println("  Notifications aggregator started")
	fmt.Println("  Discovery catalog refreshed")

	fmt.Println()
	fmt.Println("relaycore is running. Press Ctrl+C to shut down gracefully...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println()
	fmt.Println("Shutting down gracefully...")
	c.Shutdown()
	fmt.Println("Shutdown complete")
	return nil
}

// loadSigner builds the Signer from RELAYCORE_NSEC (bech32 nsec1... or raw
// hex), the current user's private key. relaycore never stores this in its
// own config file.
func loadSigner() (publish.Signer, error) {
	raw := os.Getenv("RELAYCORE_NSEC")
	if raw == "" {
		return nil, fmt.Errorf("RELAYCORE_NSEC is not set")
	}
	if len(raw) > 4 && raw[:4] == "nsec" {
		prefix, decoded, err := nip19.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return nil, fmt.Errorf("RELAYCORE_NSEC is not an nsec key")
		}
		return publish.NewLocalSigner(decoded.(string)), nil
	}
	return publish.NewLocalSigner(raw), nil
}

func handleInit() {
	exampleConfig, err := config.ExampleYAML()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading example config: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(exampleConfig))
}
