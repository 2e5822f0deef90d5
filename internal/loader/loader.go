// Package loader turns command descriptors into live, registered command instances.
package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattjoyce/hostbridge/internal/command"
	"github.com/mattjoyce/hostbridge/internal/config"
	"github.com/mattjoyce/hostbridge/internal/host"
	"github.com/mattjoyce/hostbridge/internal/log"
	"github.com/mattjoyce/hostbridge/internal/version"
)

var (
	ErrVersionUnsupported  = errors.New("command does not support the current host version")
	ErrModuleNotFound      = errors.New("command module not found")
	ErrModuleLoadFailed    = errors.New("failed to load command module")
	ErrInstantiationFailed = errors.New("failed to create command instance")
	ErrNoMatchingCommand   = errors.New("no command in module matches the configured name")
)

// Status is the per-descriptor result of a load pass.
type Status string

const (
	StatusRegistered  Status = "registered"
	StatusDisabled    Status = "disabled"
	StatusUnsupported Status = "unsupported"
	StatusNotFound    Status = "not_found"
	StatusLoadFailed  Status = "load_failed"
	StatusUnmatched   Status = "unmatched"
	StatusRejected    Status = "rejected"
)

// Registrar receives matched commands.
type Registrar interface {
	Register(cmd command.Command) error
}

// PathResolver supplies the directory relative module locations resolve against.
type PathResolver interface {
	ResolveCommandsDirectory() string
}

// Outcome records what happened to one descriptor.
type Outcome struct {
	Command string
	Path    string
	Status  Status
	// Type is the candidate type that was registered, if any.
	Type string
	Err  error
}

// Summary is the result of a load pass, in descriptor order.
type Summary struct {
	HostVersion string
	Outcomes    []Outcome
}

// Count returns how many outcomes have status s.
func (s Summary) Count(status Status) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Registered returns the names of registered commands in load order.
func (s Summary) Registered() []string {
	var out []string
	for _, o := range s.Outcomes {
		if o.Status == StatusRegistered {
			out = append(out, o.Command)
		}
	}
	return out
}

// Option configures a Loader.
type Option func(*Loader)

// WithOpener replaces the module opener.
func WithOpener(o Opener) Option {
	return func(l *Loader) { l.opener = o }
}

// WithLogger replaces the loader logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Loader loads command modules and registers the matching command from each.
type Loader struct {
	app      host.Application
	registry Registrar
	paths    PathResolver
	opener   Opener
	logger   *slog.Logger
}

// New creates a Loader that registers into registry.
func New(app host.Application, registry Registrar, paths PathResolver, opts ...Option) *Loader {
	l := &Loader{
		app:      app,
		registry: registry,
		paths:    paths,
		opener:   PluginOpener{},
		logger:   log.WithComponent("loader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadAll processes descriptors in order. A failing descriptor never stops the
// rest, and LoadAll itself never fails; the Summary says what happened.
func (l *Loader) LoadAll(descriptors []config.CommandConfig) Summary {
	versions := version.NewAdapter(l.app)
	current := versions.CurrentVersion()
	l.logger.Info("loading commands", "host_version", current, "descriptors", len(descriptors))

	summary := Summary{HostVersion: current, Outcomes: make([]Outcome, 0, len(descriptors))}
	for _, desc := range descriptors {
		summary.Outcomes = append(summary.Outcomes, l.loadOne(desc, versions))
	}

	l.logger.Info("command loading complete",
		"registered", summary.Count(StatusRegistered),
		"skipped", summary.Count(StatusDisabled)+summary.Count(StatusUnsupported),
		"failed", len(summary.Outcomes)-summary.Count(StatusRegistered)-summary.Count(StatusDisabled)-summary.Count(StatusUnsupported),
	)
	return summary
}

func (l *Loader) loadOne(desc config.CommandConfig, versions *version.Adapter) (out Outcome) {
	logger := l.logger.With("command", desc.CommandName)
	out = Outcome{Command: desc.CommandName}

	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusLoadFailed
			out.Err = fmt.Errorf("%w: panic: %v", ErrModuleLoadFailed, r)
			logger.Error("failed to load command", "path", out.Path, "error", out.Err)
		}
	}()

	if !desc.Enabled {
		logger.Info("skipping disabled command")
		out.Status = StatusDisabled
		return out
	}

	if len(desc.SupportedVersions) > 0 && !versions.IsSupported(desc.SupportedVersions) {
		out.Status = StatusUnsupported
		out.Err = fmt.Errorf("%w: %s not in %v", ErrVersionUnsupported, versions.CurrentVersion(), desc.SupportedVersions)
		logger.Warn("command does not support current host version, skipped",
			"host_version", versions.CurrentVersion(), "supported", desc.SupportedVersions)
		return out
	}

	out.Path = l.resolve(desc.AssemblyPath, versions.CurrentVersion())
	logger = logger.With("path", out.Path)

	if _, err := os.Stat(out.Path); err != nil {
		out.Status = StatusNotFound
		out.Err = fmt.Errorf("%w: %s", ErrModuleNotFound, out.Path)
		logger.Error("command module does not exist")
		return out
	}

	candidates, err := l.open(out.Path)
	if err != nil {
		out.Status = StatusLoadFailed
		out.Err = err
		logger.Error("failed to load command module", "error", err)
		return out
	}

	for _, c := range candidates {
		if !c.Instantiable() {
			logger.Debug("skipping abstract candidate", "type", c.Type)
			continue
		}
		cmd, err := l.instantiate(c)
		if err != nil {
			logger.Error("failed to create command instance", "type", c.Type, "error", err)
			continue
		}
		if cmd.Name() != desc.CommandName {
			continue
		}

		out.Type = c.Type
		if err := l.registry.Register(cmd); err != nil {
			out.Status = StatusRejected
			out.Err = err
			logger.Error("registry rejected command", "type", c.Type, "error", err)
			return out
		}
		out.Status = StatusRegistered
		logger.Info("registered command", "type", c.Type, "strategy", c.Strategy().String(), "module", filepath.Base(out.Path))
		return out
	}

	out.Status = StatusUnmatched
	out.Err = fmt.Errorf("%w: %q in %s", ErrNoMatchingCommand, desc.CommandName, filepath.Base(out.Path))
	logger.Warn("no command in module matches configured name", "candidates", len(candidates))
	return out
}

// resolve expands the version placeholder and anchors relative locations at
// the commands directory.
func (l *Loader) resolve(location, current string) string {
	p := version.Expand(location, current)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.paths.ResolveCommandsDirectory(), p)
}

func (l *Loader) open(path string) ([]command.Candidate, error) {
	mod, err := l.opener.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModuleLoadFailed, err)
	}
	sym, err := mod.Lookup(command.CandidatesSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModuleLoadFailed, err)
	}
	switch fn := sym.(type) {
	case command.CandidatesFunc:
		return fn(), nil
	case *[]command.Candidate:
		if fn == nil {
			return nil, fmt.Errorf("%w: symbol %s is nil", ErrModuleLoadFailed, command.CandidatesSymbol)
		}
		return *fn, nil
	default:
		return nil, fmt.Errorf("%w: symbol %s has type %T", ErrModuleLoadFailed, command.CandidatesSymbol, sym)
	}
}

// instantiate builds a command from c with the constructor its Strategy selects.
// No other constructor is called.
func (l *Loader) instantiate(c command.Candidate) (cmd command.Command, err error) {
	defer func() {
		if r := recover(); r != nil {
			cmd = nil
			err = fmt.Errorf("%w: %s panicked: %v", ErrInstantiationFailed, c.Type, r)
		}
	}()

	switch c.Strategy() {
	case command.StrategyInitializable:
		ic, err := c.NewInitializable()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInstantiationFailed, c.Type, err)
		}
		if ic == nil {
			return nil, fmt.Errorf("%w: %s: constructor returned nil", ErrInstantiationFailed, c.Type)
		}
		if err := ic.Initialize(l.app); err != nil {
			return nil, fmt.Errorf("%w: %s: initialize: %v", ErrInstantiationFailed, c.Type, err)
		}
		return ic, nil
	case command.StrategyHost:
		cmd, err = c.NewWithHost(l.app)
	case command.StrategyPlain:
		cmd, err = c.New()
	default:
		return nil, fmt.Errorf("%w: %s has no constructor", ErrInstantiationFailed, c.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInstantiationFailed, c.Type, err)
	}
	if cmd == nil {
		return nil, fmt.Errorf("%w: %s: constructor returned nil", ErrInstantiationFailed, c.Type)
	}
	return cmd, nil
}
