package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/hostbridge/internal/config"
	"github.com/mattjoyce/hostbridge/internal/doctor"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		printConfigHelp()
		if len(args) < 1 {
			return 1
		}
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "init":
		return runConfigInit(actionArgs)
	case "hash":
		return runConfigHash(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n\n", action)
		printConfigHelp()
		return 1
	}
}

func printConfigHelp() {
	fmt.Print(`Usage: hostbridge config <action> [flags]

Actions:
  check    Validate the registry and the modules it names
  init     Write a starter commandRegistry.json
  hash     Print the BLAKE3 hash of the registry
  show     Print the effective configuration as JSON (apiKey redacted)

Common flags:
  --home <dir>      Home directory
  --config <file>   Registry file
`)
}

// configFlags registers the flags every config action shares.
func configFlags(fs *flag.FlagSet) (home, path *string) {
	home = fs.String("home", "", "Home directory")
	path = fs.String("config", "", "Command registry file")
	return home, path
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	homeDir, configPath := configFlags(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	hostVersion := fs.String("host-version", "", "Host version to check modules for (default: settings.hostVersion)")
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
		if *jsonOut {
			printJSON(doctor.Result{
				Valid:  false,
				Errors: []doctor.Issue{{Category: "config", Message: err.Error()}},
			})
		} else {
			fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		}
		return 1
	}

	current := *hostVersion
	if current == "" {
		current = cfg.Settings.HostVersion
	}
	result := doctor.New(cfg, resolver, current).Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to format JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if *strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	homeDir, configPath := configFlags(fs)
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

	if err := config.WriteDefault(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote %s\n", *configPath)
	return 0
}

func runConfigHash(args []string) int {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	homeDir, configPath := configFlags(fs)
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

	sum, err := config.ComputeBlake3Hash(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash config: %v\n", err)
		return 1
	}
	fmt.Printf("%s  %s\n", sum, *configPath)
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	homeDir, configPath := configFlags(fs)
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

	cfg, _, err := loadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cfg.Settings.APIKey != "" {
		cfg.Settings.APIKey = "[redacted]"
	}
	return printJSON(cfg)
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}
