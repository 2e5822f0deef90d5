// Package doctor validates a command registry file without loading any module.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/hostbridge/internal/config"
	"github.com/mattjoyce/hostbridge/internal/loader"
	"github.com/mattjoyce/hostbridge/internal/version"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a descriptor set against the commands directory.
type Doctor struct {
	cfg     *config.FrameworkConfig
	paths   loader.PathResolver
	current string
}

// New creates a Doctor. current is the host version modules are checked for;
// it may be empty when no host is known.
func New(cfg *config.FrameworkConfig, paths loader.PathResolver, current string) *Doctor {
	return &Doctor{cfg: cfg, paths: paths, current: current}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateSettings(r)
	d.validateDescriptors(r)
	d.validateModules(r)
	d.warnNothingEnabled(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateSettings(r *Result) {
	s := d.cfg.Settings
	if s.Listen == "" {
		d.addError(r, "settings", "settings.listen", "listen address is required")
		return
	}
	if s.APIKey == "" && !isLoopback(s.Listen) {
		d.addWarning(r, "settings", "settings.apiKey",
			fmt.Sprintf("API listens on %s without an apiKey", s.Listen))
	}
}

func (d *Doctor) validateDescriptors(r *Result) {
	seen := make(map[string]bool, len(d.cfg.Commands))
	for i, c := range d.cfg.Commands {
		field := fmt.Sprintf("commands[%d]", i)
		if strings.TrimSpace(c.CommandName) == "" {
			d.addError(r, "descriptor", field+".commandName", "commandName is required")
			continue
		}
		if seen[c.CommandName] {
			d.addError(r, "descriptor", field+".commandName",
				fmt.Sprintf("duplicate commandName %q", c.CommandName))
		}
		seen[c.CommandName] = true
		if strings.TrimSpace(c.AssemblyPath) == "" {
			d.addError(r, "descriptor", field+".assemblyPath",
				fmt.Sprintf("command %q has no assemblyPath", c.CommandName))
		}
	}
}

// validateModules checks that every module the loader would open exists.
func (d *Doctor) validateModules(r *Result) {
	for i, c := range d.cfg.Commands {
		if !c.Enabled || c.AssemblyPath == "" {
			continue
		}
		field := fmt.Sprintf("commands[%d].assemblyPath", i)

		if d.current != "" && len(c.SupportedVersions) > 0 && !contains(c.SupportedVersions, d.current) {
			d.addWarning(r, "version", fmt.Sprintf("commands[%d].supportedVersions", i),
				fmt.Sprintf("command %q does not support host version %s and will be skipped", c.CommandName, d.current))
			continue
		}

		if strings.Contains(c.AssemblyPath, version.Placeholder) && d.current == "" {
			d.addWarning(r, "placeholder", field,
				fmt.Sprintf("command %q uses %s but no host version is known; module not checked", c.CommandName, version.Placeholder))
			continue
		}

		path := version.Expand(c.AssemblyPath, d.current)
		if !filepath.IsAbs(path) {
			path = filepath.Join(d.paths.ResolveCommandsDirectory(), path)
		}
		info, err := os.Stat(path)
		if err != nil {
			d.addError(r, "module", field,
				fmt.Sprintf("command %q: module %s not found", c.CommandName, path))
			continue
		}
		if info.IsDir() {
			d.addError(r, "module", field,
				fmt.Sprintf("command %q: module %s is a directory", c.CommandName, path))
			continue
		}
		if filepath.Ext(path) != ".so" {
			d.addWarning(r, "module", field,
				fmt.Sprintf("command %q: module %s does not have a .so extension", c.CommandName, path))
		}
	}
}

func (d *Doctor) warnNothingEnabled(r *Result) {
	if len(d.cfg.Commands) == 0 {
		d.addWarning(r, "descriptor", "commands", "no commands configured")
		return
	}
	if len(d.cfg.Enabled()) == 0 {
		d.addWarning(r, "descriptor", "commands", "every command is disabled")
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func isLoopback(listen string) bool {
	if listen == "localhost" {
		return true
	}
	ip := net.ParseIP(listen)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
