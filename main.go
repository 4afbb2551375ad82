// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/petervdpas/bubbles/internal/app"
	"github.com/petervdpas/bubbles/internal/config"
	"github.com/petervdpas/bubbles/internal/relay"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Bubbles v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "create":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "Error: create requires a profile directory and a room name")
			fmt.Fprintln(os.Stderr, "Usage: bubbles create <profile-directory> <room-name> [display-name]")
			os.Exit(1)
		}
		runSession(args[1], app.Options{
			Mode:        app.ModeCreate,
			RoomName:    args[2],
			DisplayName: optArg(args, 3),
		})

	case "join":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "Error: join requires a profile directory and a room code")
			fmt.Fprintln(os.Stderr, "Usage: bubbles join <profile-directory> <room-code> [display-name]")
			os.Exit(1)
		}
		runSession(args[1], app.Options{
			Mode:        app.ModeJoin,
			RoomCode:    args[2],
			DisplayName: optArg(args, 3),
		})

	case "relay":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: relay requires a profile directory")
			fmt.Fprintln(os.Stderr, "Usage: bubbles relay <profile-directory>")
			os.Exit(1)
		}
		runRelay(args[1])

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n\n", args[0])
		showUsage()
		os.Exit(1)
	}
}

func optArg(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return ""
}

// loadProfile resolves the profile directory and ensures its config exists.
func loadProfile(dirArg string) (string, string, config.Config) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid profile directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		log.Fatalf("Create profile directory: %v", err)
	}

	cfgPath := filepath.Join(absDir, "bubbles.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("Created default config at %s", cfgPath)
	}
	return absDir, cfgPath, cfg
}

func runSession(dirArg string, opt app.Options) {
	absDir, cfgPath, cfg := loadProfile(dirArg)
	opt.ProfileDir = absDir
	opt.CfgPath = cfgPath
	opt.Cfg = cfg
	if opt.DisplayName == "" {
		opt.DisplayName = cfg.Profile.DisplayName
	}

	printBanner(absDir, cfgPath, cfg)

	ctx, cancel := signalContext()
	defer cancel()

	if err := app.Run(ctx, opt); err != nil {
		log.Fatalf("Session failed: %v", err)
	}
}

func runRelay(dirArg string) {
	absDir, cfgPath, cfg := loadProfile(dirArg)
	printBanner(absDir, cfgPath, cfg)

	ctx, cancel := signalContext()
	defer cancel()

	bind := cfg.Relay.Bind
	if bind == "" {
		bind = "127.0.0.1"
	}
	srv := relay.New(fmt.Sprintf("%s:%d", bind, cfg.Relay.Port))
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Relay failed: %v", err)
	}
	log.Println("────────────────────────────────────────────────────────")
	log.Printf("🌐 Store relay: %s", srv.URL())
	log.Println("────────────────────────────────────────────────────────")

	<-ctx.Done()
	srv.Close()
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()
	return ctx, cancel
}

func showUsage() {
	fmt.Println("Bubbles - Voice Rooms")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  bubbles create <directory> <room-name> [display-name]   Create and host a room")
	fmt.Println("  bubbles join <directory> <room-code> [display-name]     Join an existing room")
	fmt.Println("  bubbles relay <directory>                               Run a store relay server")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  create <directory> <room-name>")
	fmt.Println("        Create a room and wait for participants")
	fmt.Println("        The directory holds bubbles.json and local data; it is created if missing")
	fmt.Println()
	fmt.Println("  join <directory> <room-code>")
	fmt.Println("        Join a room by its 6-character code (case-insensitive)")
	fmt.Println()
	fmt.Println("  relay <directory>")
	fmt.Println("        Run the document store relay other participants connect to")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Host the relay and a room on one machine")
	fmt.Println("  bubbles relay ./profiles/server")
	fmt.Println("  bubbles create ./profiles/alice standup Alice")
	fmt.Println()
	fmt.Println("  # Join from another machine")
	fmt.Println("  bubbles join ./profiles/bob K7KPQ2 Bob")
}

func printBanner(profileDir, cfgPath string, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                    Bubbles  ·  voice                   ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Profile Directory: %s\n", profileDir)
	fmt.Printf("Config File:       %s\n", cfgPath)
	if cfg.Profile.DisplayName != "" {
		fmt.Printf("Display Name:      %s\n", cfg.Profile.DisplayName)
	}
	if u := strings.TrimSpace(cfg.Store.URL); u != "" {
		fmt.Printf("Store Relay:       %s\n", u)
	} else {
		fmt.Println("Store Relay:       (in-process)")
	}
	fmt.Println()
	fmt.Println("Starting... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}
