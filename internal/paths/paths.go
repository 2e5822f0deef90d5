// Package paths resolves the hostbridge home directory and the files under it.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvHome overrides the home directory.
	EnvHome = "HOSTBRIDGE_HOME"

	commandsDirName  = "Commands"
	registryFileName = "commandRegistry.json"
	stateFileName    = "state.db"
	lockFileName     = "hostbridge.lock"
)

// Resolver locates the commands directory and config files under a home root.
type Resolver struct {
	home string
}

// New returns a Resolver rooted at home.
func New(home string) *Resolver {
	return &Resolver{home: home}
}

// Discover finds the home directory.
// Priority order: $HOSTBRIDGE_HOME, ~/.config/hostbridge, ./
func Discover() (*Resolver, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s %q: %w", EnvHome, dir, err)
		}
		return New(abs), nil
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userDir := filepath.Join(homeDir, ".config", "hostbridge")
		if _, err := os.Stat(userDir); err == nil {
			return New(userDir), nil
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("no hostbridge home found: %w", err)
	}
	return New(cwd), nil
}

// Home returns the root directory.
func (r *Resolver) Home() string {
	return r.home
}

// ResolveCommandsDirectory returns the directory relative module locations resolve against.
func (r *Resolver) ResolveCommandsDirectory() string {
	return filepath.Join(r.home, commandsDirName)
}

// CommandRegistryFile returns the descriptor file path.
func (r *Resolver) CommandRegistryFile() string {
	return filepath.Join(r.ResolveCommandsDirectory(), registryFileName)
}

// StateFile returns the default history database path.
func (r *Resolver) StateFile() string {
	return filepath.Join(r.home, stateFileName)
}

// LockFile returns the single-instance lock path.
func (r *Resolver) LockFile() string {
	return filepath.Join(r.home, lockFileName)
}
