package loader_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hostbridge/internal/command"
	"github.com/mattjoyce/hostbridge/internal/config"
	"github.com/mattjoyce/hostbridge/internal/host"
	"github.com/mattjoyce/hostbridge/internal/loader"
	"github.com/mattjoyce/hostbridge/internal/loader/mocks"
)

type fakeApp struct {
	version string
}

func (a fakeApp) Name() string    { return "fake" }
func (a fakeApp) Version() string { return a.version }
func (a fakeApp) Invoke(context.Context, func(*host.Main) error) error {
	return host.ErrNotRunning
}

type dirResolver string

func (d dirResolver) ResolveCommandsDirectory() string { return string(d) }

type stubCommand struct {
	name string
	app  host.Application
	via  string
}

func (c *stubCommand) Name() string { return c.name }
func (c *stubCommand) Execute(context.Context, command.Env, json.RawMessage) (any, error) {
	return c.via, nil
}

type initCommand struct {
	stubCommand
	initErr error
}

func (c *initCommand) Initialize(app host.Application) error {
	if c.initErr != nil {
		return c.initErr
	}
	c.app = app
	c.via = "initialize"
	return nil
}

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

type fixture struct {
	dir      string
	app      fakeApp
	registry *command.Registry
	opener   *mocks.MockOpener
	logs     *bytes.Buffer
	loader   *loader.Loader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	logger, buf := newTestLogger()
	f := &fixture{
		dir:      t.TempDir(),
		app:      fakeApp{version: "2024"},
		registry: command.NewRegistry(),
		opener:   mocks.NewMockOpener(ctrl),
		logs:     buf,
	}
	f.loader = loader.New(f.app, f.registry, dirResolver(f.dir),
		loader.WithOpener(f.opener), loader.WithLogger(logger))
	return f
}

// touch creates an empty module file under the commands directory.
func (f *fixture) touch(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	return p
}

// expectModule makes Open(path) return a module exporting candidates.
func (f *fixture) expectModule(t *testing.T, path string, candidates ...command.Candidate) {
	t.Helper()
	mod := mocks.NewMockModule(gomock.NewController(t))
	mod.EXPECT().Lookup(command.CandidatesSymbol).Return(func() []command.Candidate { return candidates }, nil)
	f.opener.EXPECT().Open(path).Return(mod, nil)
}

func descriptor(name, path string) config.CommandConfig {
	return config.CommandConfig{CommandName: name, AssemblyPath: path, Enabled: true}
}

func plainCandidate(typ, name string) command.Candidate {
	return command.Candidate{
		Type: typ,
		New: func() (command.Command, error) {
			return &stubCommand{name: name, via: "new"}, nil
		},
	}
}

func TestLoadAllRegistersMatchingCommand(t *testing.T) {
	f := newFixture(t)
	path := f.touch(t, "echo.so")
	f.expectModule(t, path, plainCandidate("Echo", "echo"))

	summary := f.loader.LoadAll([]config.CommandConfig{descriptor("echo", "echo.so")})

	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, "2024", summary.HostVersion)
	assert.Equal(t, loader.StatusRegistered, summary.Outcomes[0].Status)
	assert.Equal(t, "Echo", summary.Outcomes[0].Type)
	assert.Equal(t, path, summary.Outcomes[0].Path)
	assert.Equal(t, []string{"echo"}, summary.Registered())

	cmd, ok := f.registry.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", cmd.Name())
	assert.Contains(t, f.logs.String(), "registered command")
}

func TestLoadAllSkipsDisabled(t *testing.T) {
	f := newFixture(t)
	f.touch(t, "echo.so")
	desc := descriptor("echo", "echo.so")
	desc.Enabled = false

	summary := f.loader.LoadAll([]config.CommandConfig{desc})

	assert.Equal(t, loader.StatusDisabled, summary.Outcomes[0].Status)
	assert.NoError(t, summary.Outcomes[0].Err)
	assert.Equal(t, 0, f.registry.Len())
}

func TestLoadAllSkipsUnsupportedVersion(t *testing.T) {
	f := newFixture(t)
	f.touch(t, "echo.so")
	desc := descriptor("echo", "echo.so")
	desc.SupportedVersions = []string{"2022", "2023"}

	summary := f.loader.LoadAll([]config.CommandConfig{desc})

	out := summary.Outcomes[0]
	assert.Equal(t, loader.StatusUnsupported, out.Status)
	assert.ErrorIs(t, out.Err, loader.ErrVersionUnsupported)
	assert.Empty(t, out.Path)
	assert.Equal(t, 0, f.registry.Len())
}

func TestLoadAllEmptySupportedVersionsMeansAll(t *testing.T) {
	f := newFixture(t)
	path := f.touch(t, "echo.so")
	f.expectModule(t, path, plainCandidate("Echo", "echo"))

	summary := f.loader.LoadAll([]config.CommandConfig{descriptor("echo", "echo.so")})
	assert.Equal(t, loader.StatusRegistered, summary.Outcomes[0].Status)
}

func TestLoadAllExpandsVersionPlaceholder(t *testing.T) {
	f := newFixture(t)
	path := f.touch(t, filepath.Join("2024", "cmd_2024.so"))
	f.expectModule(t, path, plainCandidate("Cmd", "cmd"))

	desc := descriptor("cmd", filepath.Join("{VERSION}", "cmd_{VERSION}.so"))
	desc.SupportedVersions = []string{"2024"}
	summary := f.loader.LoadAll([]config.CommandConfig{desc})

	assert.Equal(t, loader.StatusRegistered, summary.Outcomes[0].Status)
	assert.Equal(t, path, summary.Outcomes[0].Path)
}

func TestLoadAllAbsolutePathIsNotRebased(t *testing.T) {
	f := newFixture(t)
	other := t.TempDir()
	path := filepath.Join(other, "abs.so")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	f.expectModule(t, path, plainCandidate("Abs", "abs"))

	summary := f.loader.LoadAll([]config.CommandConfig{descriptor("abs", path)})
	assert.Equal(t, loader.StatusRegistered, summary.Outcomes[0].Status)
	assert.Equal(t, path, summary.Outcomes[0].Path)
}

func TestLoadAllMissingModuleContinues(t *testing.T) {
	f := newFixture(t)
	path := f.touch(t, "second.so")
	f.expectModule(t, path, plainCandidate("Second", "second"))

	summary := f.loader.LoadAll([]config.CommandConfig{
		descriptor("first", "missing.so"),
		descriptor("second", "second.so"),
	})

	require.Len(t, summary.Outcomes, 2)
	assert.Equal(t, loader.StatusNotFound, summary.Outcomes[0].Status)
	assert.ErrorIs(t, summary.Outcomes[0].Err, loader.ErrModuleNotFound)
	assert.Equal(t, loader.StatusRegistered, summary.Outcomes[1].Status)
	assert.Equal(t, []string{"second"}, f.registry.Names())
}

func TestLoadAllOpenFailureContinues(t *testing.T) {
	f := newFixture(t)
	bad := f.touch(t, "bad.so")
	good := f.touch(t, "good.so")
	f.opener.EXPECT().Open(bad).Return(nil, errors.New("not a plugin"))
	f.expectModule(t, good, plainCandidate("Good", "good"))

	summary := f.loader.LoadAll([]config.CommandConfig{
		descriptor("bad", "bad.so"),
		descriptor("good", "good.so"),
	})

	assert.Equal(t, loader.StatusLoadFailed, summary.Outcomes[0].Status)
	assert.ErrorIs(t, summary.Outcomes[0].Err, loader.ErrModuleLoadFailed)
	assert.Equal(t, loader.StatusRegistered, summary.Outcomes[1].Status)
}

func TestLoadAllMissingSymbol(t *testing.T) {
	f := newFixture(t)
	path := f.touch(t, "nosym.so")
	mod := mocks.NewMockModule(gomock.NewController(t))
	mod.EXPECT().Lookup(command.CandidatesSymbol).Return(nil, errors.New("symbol Candidates not found"))
	f.opener.EXPECT().Open(path).Return(mod, nil)

	summary := f.loader.LoadAll([]config.CommandConfig{descriptor("nosym", "nosym.so")})
	assert.Equal(t, loader.StatusLoadFailed, summary.Outcomes[0].Status)
	assert.ErrorIs(t, summary.Outcomes[0].Err, loader.ErrModuleLoadFailed)
}

func TestLoadAllWrongSymbolType(t *testing.T) {
	f := newFixture(t)
	path := f.touch(t, "wrong.so")
	mod := mocks.NewMockModule(gomock.NewController(t))
	mod.EXPECT().Lookup(command.CandidatesSymbol).Return(42, nil)
	f.opener.EXPECT().Open(path).Return(mod, nil)

	summary := f.loader.LoadAll([]config.CommandConfig{descriptor("wrong", "wrong.so")})
	assert.Equal(t, loader.StatusLoadFailed, summary.Outcomes[0].Status)
	assert.Contains(t, summary.Outcomes[0].Err.Error(), "int")
}

func TestLoadAllAcceptsCandidateSliceSymbol(t *testing.T) {
	f := newFixture(t)
	path := f.touch(t, "slice.so")
	candidates := []command.Candidate{plainCandidate("Slice", "slice")}
	mod := mocks.NewMockModule(gomock.NewController(t))
	mod.EXPECT().Lookup(command.CandidatesSymbol).Return(&candidates, nil)
	f.opener.EXPECT().Open(path).Return(mod, nil)

	summary := f.loader.LoadAll([]config.CommandConfig{descriptor("slice", "slice.so")})
	assert.Equal(t, loader.StatusRegistered, summary.Outcomes[0].Status)
}

func TestLoadAllFailingCandidateDoesNotStopScan(t *testing.T) {
	f := newFixture(t)
	path := f.touch(t, "multi.so")
	f.expectModule(t, path,
		command.Candidate{Type: "Broken", New: func() (command.Command, error) {
			return nil, errors.New("boom")
		}},
		command.Candidate{Type: "Panics", New: func() (command.Command, error) {
			panic("constructor exploded")
		}},
		plainCandidate("Works", "multi"),
	)

	summary := f.loader.LoadAll([]config.CommandConfig{descriptor("multi", "multi.so")})

	assert.Equal(t, loader.StatusRegistered, summary.Outcomes[0].Status)
	assert.Equal(t, "Works", summary.Outcomes[0].Type)
	assert.Contains(t, f.logs.String(), "failed to create command instance")
}

func TestLoadAllFirstMatchWins(t *testing.T) {
	f := newFixture(t)
	path := f.touch(t, "dup.so")
	f.expectModule(t, path,
		plainCandidate("Other", "other"),
		plainCandidate("First", "dup"),
		plainCandidate("Second", "dup"),
	)

	summary := f.loader.LoadAll([]config.CommandConfig{descriptor("dup", "dup.so")})

	assert.Equal(t, loader.StatusRegistered, summary.Outcomes[0].Status)
	assert.Equal(t, "First", summary.Outcomes[0].Type)
	assert.Equal(t, 1, f.registry.Len())
}

func TestLoadAllSkipsAbstractCandidates(t *testing.T) {
	f := newFixture(t)
	path := f.touch(t, "abstract.so")
	f.expectModule(t, path,
		command.Candidate{Type: "Base"},
		plainCandidate("Concrete", "abstract"),
	)

	summary := f.loader.LoadAll([]config.CommandConfig{descriptor("abstract", "abstract.so")})
	assert.Equal(t, "Concrete", summary.Outcomes[0].Type)
	assert.Contains(t, f.logs.String(), "skipping abstract candidate")
}

func TestLoadAllNoMatchIsWarning(t *testing.T) {
	f := newFixture(t)
	path := f.touch(t, "nomatch.so")
	f.expectModule(t, path, plainCandidate("Other", "other"))

	summary := f.loader.LoadAll([]config.CommandConfig{descriptor("wanted", "nomatch.so")})

	out := summary.Outcomes[0]
	assert.Equal(t, loader.StatusUnmatched, out.Status)
	assert.ErrorIs(t, out.Err, loader.ErrNoMatchingCommand)
	assert.Equal(t, 0, f.registry.Len())

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(f.logs.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] == "no command in module matches configured name" {
			found = true
			assert.Equal(t, "WARN", entry["level"])
			assert.Equal(t, "wanted", entry["command"])
		}
	}
	assert.True(t, found, "expected a no-match warning")
}

func TestLoadAllRegistryRejection(t *testing.T) {
	ctrl := gomock.NewController(t)
	logger, _ := newTestLogger()
	dir := t.TempDir()
	path := filepath.Join(dir, "rej.so")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	opener := mocks.NewMockOpener(ctrl)
	mod := mocks.NewMockModule(ctrl)
	registrar := mocks.NewMockRegistrar(ctrl)
	mod.EXPECT().Lookup(command.CandidatesSymbol).Return(func() []command.Candidate {
		return []command.Candidate{plainCandidate("Rej", "rej")}
	}, nil)
	opener.EXPECT().Open(path).Return(mod, nil)
	registrar.EXPECT().Register(gomock.Any()).Return(command.ErrDuplicateCommand)

	l := loader.New(fakeApp{version: "2024"}, registrar, dirResolver(dir),
		loader.WithOpener(opener), loader.WithLogger(logger))
	summary := l.LoadAll([]config.CommandConfig{descriptor("rej", "rej.so")})

	assert.Equal(t, loader.StatusRejected, summary.Outcomes[0].Status)
	assert.ErrorIs(t, summary.Outcomes[0].Err, command.ErrDuplicateCommand)
}

// constructorCalls counts how often each constructor of a candidate ran.
type constructorCalls struct {
	initializable, host, plain int
}

func newInitCommand(calls *constructorCalls, initErr error) func() (command.InitializableCommand, error) {
	return func() (command.InitializableCommand, error) {
		calls.initializable++
		return &initCommand{stubCommand: stubCommand{name: "target"}, initErr: initErr}, nil
	}
}

func newHostCommand(calls *constructorCalls) func(host.Application) (command.Command, error) {
	return func(app host.Application) (command.Command, error) {
		calls.host++
		return &stubCommand{name: "target", app: app, via: "host"}, nil
	}
}

func newPlainCommand(calls *constructorCalls, err error) func() (command.Command, error) {
	return func() (command.Command, error) {
		calls.plain++
		if err != nil {
			return nil, err
		}
		return &stubCommand{name: "target", via: "new"}, nil
	}
}

func TestInstantiationStrategies(t *testing.T) {
	tests := []struct {
		name      string
		candidate func(calls *constructorCalls) command.Candidate
		wantVia   string
		wantHost  bool
		wantMatch bool
		wantCalls constructorCalls
	}{
		{
			name: "initializable preferred",
			candidate: func(calls *constructorCalls) command.Candidate {
				return command.Candidate{
					Type:             "Init",
					NewInitializable: newInitCommand(calls, nil),
					NewWithHost:      newHostCommand(calls),
					New:              newPlainCommand(calls, nil),
				}
			},
			wantVia:   "initialize",
			wantHost:  true,
			wantMatch: true,
			wantCalls: constructorCalls{initializable: 1},
		},
		{
			name: "host constructor over plain",
			candidate: func(calls *constructorCalls) command.Candidate {
				return command.Candidate{
					Type:        "Host",
					NewWithHost: newHostCommand(calls),
					New:         newPlainCommand(calls, nil),
				}
			},
			wantVia:   "host",
			wantHost:  true,
			wantMatch: true,
			wantCalls: constructorCalls{host: 1},
		},
		{
			name: "host constructor when plain constructor fails",
			candidate: func(calls *constructorCalls) command.Candidate {
				return command.Candidate{
					Type:        "NeedsHost",
					NewWithHost: newHostCommand(calls),
					New:         newPlainCommand(calls, errors.New("needs host")),
				}
			},
			wantVia:   "host",
			wantHost:  true,
			wantMatch: true,
			wantCalls: constructorCalls{host: 1},
		},
		{
			name: "host constructor only",
			candidate: func(calls *constructorCalls) command.Candidate {
				return command.Candidate{Type: "HostOnly", NewWithHost: newHostCommand(calls)}
			},
			wantVia:   "host",
			wantHost:  true,
			wantMatch: true,
			wantCalls: constructorCalls{host: 1},
		},
		{
			name: "plain constructor",
			candidate: func(calls *constructorCalls) command.Candidate {
				return command.Candidate{Type: "Plain", New: newPlainCommand(calls, nil)}
			},
			wantVia:   "new",
			wantMatch: true,
			wantCalls: constructorCalls{plain: 1},
		},
		{
			name: "initializer failure does not fall back",
			candidate: func(calls *constructorCalls) command.Candidate {
				return command.Candidate{
					Type:             "InitFails",
					NewInitializable: newInitCommand(calls, errors.New("no host")),
					NewWithHost:      newHostCommand(calls),
				}
			},
			wantCalls: constructorCalls{initializable: 1},
		},
		{
			name: "plain constructor failure",
			candidate: func(calls *constructorCalls) command.Candidate {
				return command.Candidate{Type: "PlainFails", New: newPlainCommand(calls, errors.New("boom"))}
			},
			wantCalls: constructorCalls{plain: 1},
		},
		{
			name: "nil instance",
			candidate: func(*constructorCalls) command.Candidate {
				return command.Candidate{
					Type: "Nil",
					New:  func() (command.Command, error) { return nil, nil },
				}
			},
		},
		{
			name: "nil initializable instance",
			candidate: func(*constructorCalls) command.Candidate {
				return command.Candidate{
					Type:             "NilInit",
					NewInitializable: func() (command.InitializableCommand, error) { return nil, nil },
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			path := f.touch(t, "target.so")
			var calls constructorCalls
			f.expectModule(t, path, tt.candidate(&calls))

			summary := f.loader.LoadAll([]config.CommandConfig{descriptor("target", "target.so")})
			assert.Equal(t, tt.wantCalls, calls)

			if !tt.wantMatch {
				assert.Equal(t, loader.StatusUnmatched, summary.Outcomes[0].Status)
				assert.Contains(t, f.logs.String(), "failed to create command instance")
				return
			}
			require.Equal(t, loader.StatusRegistered, summary.Outcomes[0].Status)
			cmd, ok := f.registry.Get("target")
			require.True(t, ok)
			got, err := cmd.Execute(context.Background(), command.Env{}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantVia, got)

			var app host.Application
			switch c := cmd.(type) {
			case *initCommand:
				app = c.app
			case *stubCommand:
				app = c.app
			}
			if tt.wantHost {
				assert.Equal(t, f.app, app)
			} else {
				assert.Nil(t, app)
			}
		})
	}
}

func TestCandidateStrategy(t *testing.T) {
	var calls constructorCalls
	assert.Equal(t, command.StrategyNone, command.Candidate{Type: "Base"}.Strategy())
	assert.False(t, command.Candidate{Type: "Base"}.Instantiable())
	assert.Equal(t, command.StrategyPlain, command.Candidate{New: newPlainCommand(&calls, nil)}.Strategy())
	assert.Equal(t, command.StrategyHost, command.Candidate{
		New:         newPlainCommand(&calls, nil),
		NewWithHost: newHostCommand(&calls),
	}.Strategy())
	assert.Equal(t, command.StrategyInitializable, command.Candidate{
		NewInitializable: newInitCommand(&calls, nil),
		NewWithHost:      newHostCommand(&calls),
	}.Strategy())
	assert.Equal(t, "host", command.StrategyHost.String())
	assert.Equal(t, constructorCalls{}, calls)
}

func TestLoadAllEmpty(t *testing.T) {
	f := newFixture(t)
	summary := f.loader.LoadAll(nil)
	assert.Empty(t, summary.Outcomes)
	assert.Empty(t, summary.Registered())
	assert.Contains(t, f.logs.String(), "command loading complete")
}
