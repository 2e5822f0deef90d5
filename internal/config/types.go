package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// FrameworkConfig is the parsed command registry file.
type FrameworkConfig struct {
	Commands []CommandConfig `yaml:"commands" json:"commands"`
	Settings ServiceSettings `yaml:"settings" json:"settings"`
}

// CommandConfig is one command descriptor. It is read-only once loaded.
type CommandConfig struct {
	CommandName       string        `yaml:"commandName" json:"commandName"`
	AssemblyPath      string        `yaml:"assemblyPath" json:"assemblyPath"`
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	SupportedVersions []string      `yaml:"supportedVersions,omitempty" json:"supportedVersions,omitempty"`
	Developer         DeveloperInfo `yaml:"developer" json:"developer"`
	Description       string        `yaml:"description" json:"description"`
}

// UnmarshalYAML defaults enabled to true and accepts the legacy
// supportedRevitVersions key as an alias of supportedVersions.
func (c *CommandConfig) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("command entry must be a mapping")
	}
	type plain CommandConfig
	tmp := struct {
		plain         `yaml:",inline"`
		LegacyVersions []string `yaml:"supportedRevitVersions"`
	}{plain: plain{Enabled: true}}
	if err := n.Decode(&tmp); err != nil {
		return fmt.Errorf("invalid command entry: %w", err)
	}
	*c = CommandConfig(tmp.plain)
	if len(c.SupportedVersions) == 0 && len(tmp.LegacyVersions) > 0 {
		c.SupportedVersions = tmp.LegacyVersions
	}
	return nil
}

// DeveloperInfo is free-form metadata about a command's author.
type DeveloperInfo struct {
	Name         string `yaml:"name" json:"name"`
	Email        string `yaml:"email" json:"email"`
	Website      string `yaml:"website" json:"website"`
	Organization string `yaml:"organization" json:"organization"`
}

// ServiceSettings holds global settings.
type ServiceSettings struct {
	LogLevel string `yaml:"logLevel" json:"logLevel"`
	Port     int    `yaml:"port" json:"port"`
	Listen   string `yaml:"listen" json:"listen"`
	// APIKey, when set, is required as a bearer token on the HTTP API.
	APIKey        string        `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	StatePath     string        `yaml:"statePath,omitempty" json:"statePath,omitempty"`
	HostName      string        `yaml:"hostName,omitempty" json:"hostName,omitempty"`
	HostVersion   string        `yaml:"hostVersion,omitempty" json:"hostVersion,omitempty"`
	WatchInterval time.Duration `yaml:"watchInterval,omitempty" json:"watchInterval,omitempty"`
}

// Addr returns the HTTP listen address.
func (s ServiceSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Listen, s.Port)
}

// Defaults returns a FrameworkConfig with default settings and no commands.
func Defaults() *FrameworkConfig {
	return &FrameworkConfig{
		Settings: ServiceSettings{
			LogLevel: "info",
			Port:     8080,
			Listen:   "127.0.0.1",
			HostName: "hostbridge",
		},
	}
}

// Enabled returns the descriptors with enabled set, preserving order.
func (c *FrameworkConfig) Enabled() []CommandConfig {
	var out []CommandConfig
	for _, cmd := range c.Commands {
		if cmd.Enabled {
			out = append(out, cmd)
		}
	}
	return out
}
