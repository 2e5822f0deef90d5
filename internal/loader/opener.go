package loader

import (
	"fmt"
	"plugin"
)

//go:generate mockgen -destination=mocks/mock_loader.go -package=mocks github.com/mattjoyce/hostbridge/internal/loader Module,Opener,Registrar

// Module is a loaded command module.
type Module interface {
	Lookup(symbol string) (any, error)
}

// Opener loads a module from a file.
type Opener interface {
	Open(path string) (Module, error)
}

// PluginOpener opens modules built with -buildmode=plugin.
// The Go runtime never unloads plugins; opening the same path twice returns
// the already loaded module.
type PluginOpener struct{}

// Open implements Opener.
func (PluginOpener) Open(path string) (Module, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin: %w", err)
	}
	return pluginModule{p: p}, nil
}

type pluginModule struct {
	p *plugin.Plugin
}

func (m pluginModule) Lookup(symbol string) (any, error) {
	sym, err := m.p.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	return sym, nil
}
