package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfigurationMissing means no descriptor file exists at the resolved path.
// It is fatal to a load pass but not to the process.
var ErrConfigurationMissing = errors.New("configuration file not found")

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, parses and validates the command registry file.
// The file is JSON; it is parsed as YAML, of which JSON is a subset.
func Load(path string) (*FrameworkConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigurationMissing, absPath)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return cfg, nil
}

// Parse decodes and validates config bytes.
func Parse(data []byte) (*FrameworkConfig, error) {
	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	normalize(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// WriteDefault writes a starter config to path. Existing files are not overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	cfg := Defaults()
	cfg.Commands = []CommandConfig{{
		CommandName:  "echo",
		AssemblyPath: "echo/echo_{VERSION}.so",
		Enabled:      true,
		Description:  "Echoes parameters back and reports the active document.",
	}}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func normalize(cfg *FrameworkConfig) {
	cfg.Settings.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Settings.LogLevel))
	if cfg.Settings.LogLevel == "warning" {
		cfg.Settings.LogLevel = "warn"
	}
	for i := range cfg.Commands {
		cfg.Commands[i].CommandName = strings.TrimSpace(cfg.Commands[i].CommandName)
		cfg.Commands[i].AssemblyPath = strings.TrimSpace(cfg.Commands[i].AssemblyPath)
	}
}

func validate(cfg *FrameworkConfig) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Settings.LogLevel] {
		return fmt.Errorf("settings.logLevel must be one of: debug, info, warn, error (got %q)", cfg.Settings.LogLevel)
	}
	if cfg.Settings.Port < 1 || cfg.Settings.Port > 65535 {
		return fmt.Errorf("settings.port must be between 1 and 65535 (got %d)", cfg.Settings.Port)
	}
	if cfg.Settings.WatchInterval < 0 {
		return fmt.Errorf("settings.watchInterval must not be negative")
	}
	if envVarPattern.MatchString(cfg.Settings.APIKey) {
		matches := envVarPattern.FindStringSubmatch(cfg.Settings.APIKey)
		return fmt.Errorf("settings.apiKey references undefined environment variable: %s", matches[1])
	}

	seen := make(map[string]int, len(cfg.Commands))
	for i, cmd := range cfg.Commands {
		if cmd.CommandName == "" {
			return fmt.Errorf("commands[%d].commandName is required", i)
		}
		if cmd.AssemblyPath == "" {
			return fmt.Errorf("commands[%d] (%s): assemblyPath is required", i, cmd.CommandName)
		}
		if prev, dup := seen[cmd.CommandName]; dup {
			return fmt.Errorf("commands[%d]: duplicate commandName %q (first at commands[%d])", i, cmd.CommandName, prev)
		}
		seen[cmd.CommandName] = i
	}
	return nil
}
