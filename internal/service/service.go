// Package service owns the bridge, registry and loader for one host process and
// runs load, reload and execute on their behalf.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/hostbridge/internal/bridge"
	"github.com/mattjoyce/hostbridge/internal/command"
	"github.com/mattjoyce/hostbridge/internal/config"
	"github.com/mattjoyce/hostbridge/internal/events"
	"github.com/mattjoyce/hostbridge/internal/host"
	"github.com/mattjoyce/hostbridge/internal/journal"
	"github.com/mattjoyce/hostbridge/internal/loader"
	"github.com/mattjoyce/hostbridge/internal/log"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrCommandPanic   = errors.New("command panicked")
	ErrNotStarted     = errors.New("service not started")
)

// Paths is what the service needs from path resolution.
type Paths interface {
	loader.PathResolver
	CommandRegistryFile() string
}

// CommandInfo describes a registered command.
type CommandInfo struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Developer   config.DeveloperInfo `json:"developer"`
	Versions    []string             `json:"supported_versions,omitempty"`
}

// Status is a point-in-time view for health checks.
type Status struct {
	Host        string    `json:"host"`
	HostVersion string    `json:"host_version"`
	Started     bool      `json:"started"`
	Commands    int       `json:"commands"`
	Handles     int       `json:"handles"`
	LastPass    string    `json:"last_pass,omitempty"`
	LastLoad    time.Time `json:"last_load,omitzero"`
}

// Option configures a Service.
type Option func(*Service)

// WithJournal records load passes and invocations.
func WithJournal(j *journal.Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithEvents publishes load passes and invocations to hub.
func WithEvents(hub *events.Hub) Option {
	return func(s *Service) { s.events = hub }
}

// WithLogger overrides the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConfigPath overrides the descriptor file location.
func WithConfigPath(path string) Option {
	return func(s *Service) { s.configPath = path }
}

// WithLoaderOptions passes options through to the loader.
func WithLoaderOptions(opts ...loader.Option) Option {
	return func(s *Service) { s.loaderOpts = append(s.loaderOpts, opts...) }
}

// Service is the bootstrap owner of the dispatch bridge.
type Service struct {
	app        host.Application
	paths      Paths
	configPath string
	bridge     *bridge.Bridge
	loaderOpts []loader.Option
	journal    *journal.Journal
	events     *events.Hub
	logger     *slog.Logger

	// passMu serializes load passes.
	passMu  sync.Mutex
	watcher *config.Watcher

	mu          sync.RWMutex
	started     bool
	registry    *command.Registry
	descriptors map[string]config.CommandConfig
	last        loader.Summary
	lastPass    string
	lastLoad    time.Time
}

// New builds a service for app. Nothing is loaded until Start.
func New(app host.Application, paths Paths, opts ...Option) *Service {
	s := &Service{
		app:        app,
		paths:      paths,
		configPath: paths.CommandRegistryFile(),
		bridge:     bridge.New(),
		registry:   command.NewRegistry(),
		logger:     log.WithComponent("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loaderOpts = append([]loader.Option{loader.WithLogger(s.logger.With("component", "loader"))}, s.loaderOpts...)
	return s
}

// Bridge returns the dispatch bridge commands receive.
func (s *Service) Bridge() *bridge.Bridge { return s.bridge }

// Registry returns the live command registry. A reload swaps in a new one.
func (s *Service) Registry() *command.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry
}

// ConfigPath returns the descriptor file path.
func (s *Service) ConfigPath() string { return s.configPath }

// Start initializes the bridge and runs the first load pass. A missing or
// invalid descriptor file is returned but leaves the service running with no
// commands.
func (s *Service) Start(ctx context.Context) (loader.Summary, error) {
	w, err := config.NewWatcher(s.configPath)
	if err != nil {
		return loader.Summary{}, fmt.Errorf("watch config: %w", err)
	}
	if err := s.bridge.Initialize(s.app, s.logger.With("component", "bridge")); err != nil {
		return loader.Summary{}, fmt.Errorf("start service: %w", err)
	}

	s.passMu.Lock()
	s.watcher = w
	s.passMu.Unlock()

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	return s.Reload(ctx)
}

// Reload re-reads the descriptor file and, when it parses, replaces the command
// set: a full load pass fills a fresh registry, which then replaces the live one,
// and cached handles are dropped. Commands stay resolvable during the pass. When
// the file is missing or invalid the current set is kept.
func (s *Service) Reload(ctx context.Context) (loader.Summary, error) {
	if !s.Started() {
		return loader.Summary{}, ErrNotStarted
	}

	s.passMu.Lock()
	defer s.passMu.Unlock()

	cfg, err := config.Load(s.configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigurationMissing) {
			s.logger.Error("command registry file not found, keeping current commands", "path", s.configPath, "error", err)
		} else {
			s.logger.Error("failed to load command registry, keeping current commands", "path", s.configPath, "error", err)
		}
		s.publish(events.TypeLoadFailed, map[string]string{"path": s.configPath, "error": err.Error()})
		return loader.Summary{}, err
	}
	if s.watcher != nil {
		if err := s.watcher.Mark(); err != nil {
			s.logger.Warn("failed to record config hash", "error", err)
		}
	}

	next := command.NewRegistry()
	summary := loader.New(s.app, next, s.paths, s.loaderOpts...).LoadAll(cfg.Commands)

	var passID string
	if s.journal != nil {
		passID, err = s.journal.RecordLoad(ctx, summary)
		if err != nil {
			s.logger.Warn("failed to journal load pass", "error", err)
		}
	}

	descriptors := make(map[string]config.CommandConfig, len(cfg.Commands))
	for _, d := range cfg.Commands {
		descriptors[d.CommandName] = d
	}

	s.mu.Lock()
	s.registry = next
	s.descriptors = descriptors
	s.last = summary
	s.lastPass = passID
	s.lastLoad = time.Now()
	s.mu.Unlock()
	s.bridge.ClearAll()

	s.logger.Info("load pass complete", "pass_id", passID, "registered", len(summary.Registered()))
	s.publish(events.TypeLoadCompleted, loadEvent{
		PassID:      passID,
		HostVersion: summary.HostVersion,
		Registered:  summary.Registered(),
		Descriptors: len(summary.Outcomes),
	})
	return summary, nil
}

// Started reports whether Start ran.
func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// LastSummary returns the most recent load pass.
func (s *Service) LastSummary() loader.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Commands lists registered commands in name order.
func (s *Service) Commands() []CommandInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := s.registry.Names()
	out := make([]CommandInfo, 0, len(names))
	for _, name := range names {
		d := s.descriptors[name]
		out = append(out, CommandInfo{
			Name:        name,
			Description: d.Description,
			Developer:   d.Developer,
			Versions:    d.SupportedVersions,
		})
	}
	return out
}

// Status reports the current state.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Host:        s.app.Name(),
		HostVersion: s.app.Version(),
		Started:     s.started,
		Commands:    s.registry.Len(),
		Handles:     s.bridge.Len(),
		LastPass:    s.lastPass,
		LastLoad:    s.lastLoad,
	}
}

// Execute runs the named command and journals the invocation.
func (s *Service) Execute(ctx context.Context, name string, params json.RawMessage) (any, error) {
	if !s.Started() {
		return nil, ErrNotStarted
	}
	cmd, ok := s.Registry().Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	logger := s.logger.With("command", name)
	env := command.Env{App: s.app, Handles: s.bridge, Logger: logger}

	started := time.Now()
	result, err := run(ctx, cmd, env, params)
	elapsed := time.Since(started)

	status := journal.StatusSucceeded
	eventType := events.TypeCommandExecuted
	var errText string
	if err != nil {
		status = journal.StatusFailed
		eventType = events.TypeCommandFailed
		errText = err.Error()
		logger.Error("command failed", "duration", elapsed, "error", err)
	} else {
		logger.Info("command succeeded", "duration", elapsed)
	}
	s.publish(eventType, invocationEvent{Command: name, DurationMS: elapsed.Milliseconds(), Error: errText})

	if s.journal != nil {
		_, jerr := s.journal.RecordInvocation(ctx, journal.Invocation{
			Command:   name,
			Status:    status,
			Params:    params,
			Error:     errText,
			StartedAt: started,
			Duration:  elapsed,
		})
		if jerr != nil {
			logger.Warn("failed to journal invocation", "error", jerr)
		}
	}
	return result, err
}

// History returns recent invocations, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]journal.Invocation, error) {
	if s.journal == nil {
		return []journal.Invocation{}, nil
	}
	return s.journal.Recent(ctx, limit)
}

// Watch polls the descriptor file every interval and reloads when its content
// changes. It blocks until ctx is cancelled.
func (s *Service) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("watch interval must be positive (got %s)", interval)
	}
	if !s.Started() {
		return ErrNotStarted
	}

	s.logger.Info("watching command registry", "path", s.configPath, "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			changed, err := s.watcher.Changed()
			if err != nil {
				s.logger.Warn("failed to hash command registry", "error", err)
				continue
			}
			if !changed {
				continue
			}
			s.logger.Info("command registry changed, reloading")
			if _, err := s.Reload(ctx); err != nil {
				// Mark anyway so a broken file is reported once, not every tick.
				_ = s.watcher.Mark()
			}
		}
	}
}

type loadEvent struct {
	PassID      string   `json:"pass_id,omitempty"`
	HostVersion string   `json:"host_version"`
	Registered  []string `json:"registered"`
	Descriptors int      `json:"descriptors"`
}

type invocationEvent struct {
	Command    string `json:"command"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func (s *Service) publish(eventType string, data any) {
	if s.events != nil {
		s.events.Publish(eventType, data)
	}
}

func run(ctx context.Context, cmd command.Command, env command.Env, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %s: %v", ErrCommandPanic, cmd.Name(), r)
		}
	}()
	return cmd.Execute(ctx, env, params)
}
