package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/faiface/mainthread"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/hostbridge/internal/api"
	"github.com/mattjoyce/hostbridge/internal/config"
	"github.com/mattjoyce/hostbridge/internal/events"
	"github.com/mattjoyce/hostbridge/internal/host"
	"github.com/mattjoyce/hostbridge/internal/journal"
	"github.com/mattjoyce/hostbridge/internal/lock"
	"github.com/mattjoyce/hostbridge/internal/log"
	"github.com/mattjoyce/hostbridge/internal/paths"
	"github.com/mattjoyce/hostbridge/internal/service"
	"github.com/mattjoyce/hostbridge/internal/storage"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		if hasHelpFlag(args) {
			printStartHelp()
			return 0
		}
		return runStart(args)
	case "config":
		return runConfigNoun(args)
	case "commands":
		return runCommandsNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("hostbridge %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`hostbridge - load command modules into a single-threaded host and serve them over HTTP

Usage:
  hostbridge <command> [flags]

Commands:
  start             Run the host main loop, load commands and serve the API
  config check      Validate the command registry and module files
  config init       Write a starter commandRegistry.json
  config hash       Print the BLAKE3 hash of the command registry
  config show       Print the effective configuration as JSON
  commands list     Show configured commands and their resolved modules
  version           Show version information
  help              Show this help message

Home directory: $HOSTBRIDGE_HOME, ~/.config/hostbridge, or the current directory.
`)
}

func printStartHelp() {
	fmt.Print(`Usage: hostbridge start [flags]

Flags:
  --home <dir>            Home directory (default: discovered)
  --config <file>         Command registry file (default: <home>/Commands/commandRegistry.json)
  --host-version <ver>    Host version identifier (overrides settings.hostVersion)
  --document <name>       Open a document before commands run
  --watch <duration>      Reload when the registry changes (overrides settings.watchInterval)
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if isHelpToken(a) {
			return true
		}
	}
	return false
}

// resolveHome returns the resolver for dir, or the discovered home when dir is empty.
func resolveHome(dir string) (*paths.Resolver, error) {
	if dir != "" {
		return paths.New(dir), nil
	}
	return paths.Discover()
}

// loadSettings reads the registry for its settings. A missing file yields defaults.
func loadSettings(path string) (*config.FrameworkConfig, bool, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, config.ErrConfigurationMissing) {
		return config.Defaults(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	homeDir := fs.String("home", "", "Home directory")
	configPath := fs.String("config", "", "Command registry file")
	hostVersion := fs.String("host-version", "", "Host version identifier")
	document := fs.String("document", "", "Document to open at startup")
	watch := fs.Duration("watch", 0, "Registry poll interval")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	resolver, err := resolveHome(*homeDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve home: %v\n", err)
		return 1
	}
	if *configPath == "" {
		*configPath = resolver.CommandRegistryFile()
	}

	cfg, found, err := loadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Settings.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("hostbridge starting", "version", version, "home", resolver.Home(), "config", *configPath)
	if !found {
		logger.Warn("command registry not found, starting with no commands", "path", *configPath)
	}

	if *hostVersion == "" {
		*hostVersion = cfg.Settings.HostVersion
	}
	if *hostVersion == "" {
		logger.Error("host version is unknown; set settings.hostVersion or --host-version")
		return 1
	}
	interval := cfg.Settings.WatchInterval
	if *watch > 0 {
		interval = *watch
	}

	inst, err := lock.Acquire(resolver.LockFile())
	if err != nil {
		logger.Error("failed to acquire instance lock", "path", resolver.LockFile(), "error", err)
		return 1
	}
	defer func() { _ = inst.Release() }()

	statePath := cfg.Settings.StatePath
	if statePath == "" {
		statePath = resolver.StateFile()
	}
	db, err := storage.OpenSQLite(context.Background(), statePath)
	if err != nil {
		logger.Error("failed to open database", "path", statePath, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", statePath)

	loopOpts := []host.Option{host.WithLogger(log.WithComponent("host"))}
	if *document != "" {
		loopOpts = append(loopOpts, host.WithDocument(*document))
	}
	loop := host.NewLoop(host.Info{Name: cfg.Settings.HostName, Version: *hostVersion}, loopOpts...)

	hub := events.NewHub(256)
	svc := service.New(loop, resolver,
		service.WithConfigPath(*configPath),
		service.WithJournal(journal.New(db)),
		service.WithEvents(hub),
		service.WithLogger(log.WithComponent("service")),
	)
	apiServer := api.New(api.Config{
		Listen: cfg.Settings.Addr(),
		APIKey: cfg.Settings.APIKey,
		Events: hub,
	}, svc, log.WithComponent("api"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := 0
	mainthread.Run(func() {
		if err := serve(ctx, loop, svc, apiServer, interval); err != nil {
			logger.Error("component failed", "error", err)
			code = 1
		}
	})

	logger.Info("hostbridge stopped")
	return code
}

// serve runs the host loop on the OS main thread and everything else beside it
// until ctx is cancelled or a component fails.
func serve(ctx context.Context, loop *host.Loop, svc *service.Service, apiServer *api.Server, interval time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	logger := log.WithComponent("main")

	g.Go(func() error {
		return ignoreCanceled(mainthread.CallErr(func() error {
			return loop.Run(gctx)
		}))
	})

	if err := waitRunning(gctx, loop); err != nil {
		return errors.Join(err, g.Wait())
	}

	summary, err := svc.Start(gctx)
	if err != nil && !errors.Is(err, config.ErrConfigurationMissing) {
		logger.Error("initial load failed", "error", err)
	}
	logger.Info("commands loaded", "registered", len(summary.Registered()), "descriptors", len(summary.Outcomes))

	g.Go(func() error {
		return ignoreCanceled(apiServer.Start(gctx))
	})
	if interval > 0 {
		g.Go(func() error {
			return ignoreCanceled(svc.Watch(gctx, interval))
		})
	}

	logger.Info("hostbridge running (press Ctrl+C to stop)")
	return g.Wait()
}

func waitRunning(ctx context.Context, loop *host.Loop) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for !loop.Running() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-loop.Done():
			return host.ErrNotRunning
		case <-ticker.C:
		}
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
