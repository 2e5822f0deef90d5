package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/mattjoyce/hostbridge/internal/config"
	"github.com/mattjoyce/hostbridge/internal/version"
)

func runCommandsNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		printCommandsHelp()
		if len(args) < 1 {
			return 1
		}
		return 0
	}

	switch args[0] {
	case "list":
		return runCommandsList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown commands action: %s\n\n", args[0])
		printCommandsHelp()
		return 1
	}
}

func printCommandsHelp() {
	fmt.Print(`Usage: hostbridge commands <action> [flags]

Actions:
  list     Show configured commands and the module each resolves to

Flags:
  --home <dir>            Home directory
  --config <file>         Registry file
  --host-version <ver>    Host version used to expand {VERSION}
  --json                  Output as JSON
`)
}

type commandEntry struct {
	Name      string   `json:"name"`
	Enabled   bool     `json:"enabled"`
	Supported bool     `json:"supported"`
	Module    string   `json:"module"`
	Versions  []string `json:"supportedVersions,omitempty"`
	Developer string   `json:"developer,omitempty"`
}

func runCommandsList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	homeDir, configPath := configFlags(fs)
	hostVersion := fs.String("host-version", "", "Host version")
	jsonOut := fs.Bool("json", false, "Output as JSON")
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

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	current := *hostVersion
	if current == "" {
		current = cfg.Settings.HostVersion
	}
	adapter := version.NewAdapter(staticVersion(current))

	entries := make([]commandEntry, 0, len(cfg.Commands))
	for _, c := range cfg.Commands {
		module := c.AssemblyPath
		if current != "" {
			module = version.Expand(module, current)
		}
		if !filepath.IsAbs(module) {
			module = filepath.Join(resolver.ResolveCommandsDirectory(), module)
		}
		entries = append(entries, commandEntry{
			Name:      c.CommandName,
			Enabled:   c.Enabled,
			Supported: current == "" || len(c.SupportedVersions) == 0 || adapter.IsSupported(c.SupportedVersions),
			Module:    module,
			Versions:  c.SupportedVersions,
			Developer: c.Developer.Name,
		})
	}

	if *jsonOut {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No commands configured.")
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENABLED\tSUPPORTED\tVERSIONS\tMODULE")
	for _, e := range entries {
		versions := "any"
		if len(e.Versions) > 0 {
			versions = strings.Join(e.Versions, ",")
		}
		fmt.Fprintf(w, "%s\t%t\t%t\t%s\t%s\n", e.Name, e.Enabled, e.Supported, versions, e.Module)
	}
	if err := w.Flush(); err != nil {
		return 1
	}
	return 0
}

type staticVersion string

func (v staticVersion) Version() string { return string(v) }
