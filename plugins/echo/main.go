// Command echo is a sample command module. Build it with
//
//	go build -buildmode=plugin -o Commands/echo/echo_2024.so ./plugins/echo
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mattjoyce/hostbridge/internal/command"
	"github.com/mattjoyce/hostbridge/internal/host"
)

const documentHandleKey = "echo.document"

// Candidates is looked up by the loader.
func Candidates() []command.Candidate {
	return []command.Candidate{
		{Type: "echo.base"},
		{Type: "echo.Echo", New: func() (command.Command, error) { return &echoCommand{}, nil }},
		{Type: "echo.Document", NewInitializable: func() (command.InitializableCommand, error) {
			return newDocumentCommand(), nil
		}},
	}
}

type echoResult struct {
	RequestID   string          `json:"request_id"`
	Host        string          `json:"host"`
	HostVersion string          `json:"host_version"`
	Params      json.RawMessage `json:"params,omitempty"`
}

// echoCommand returns its parameters without touching the host.
type echoCommand struct{}

func (*echoCommand) Name() string { return "echo" }

func (*echoCommand) Execute(_ context.Context, env command.Env, params json.RawMessage) (any, error) {
	res := echoResult{RequestID: uuid.NewString(), Params: params}
	if env.App != nil {
		res.Host = env.App.Name()
		res.HostVersion = env.App.Version()
	}
	return res, nil
}

type documentParams struct {
	Open  string `json:"open,omitempty"`
	Close bool   `json:"close,omitempty"`
}

type documentResult struct {
	Document string `json:"document"`
	Open     bool   `json:"open"`
}

// documentCommand reports, opens or closes the active document on the main thread.
type documentCommand struct {
	app     host.Application
	handler *host.Waitable
}

func newDocumentCommand() *documentCommand {
	return &documentCommand{handler: host.NewWaitable("echo.document", applyDocument)}
}

func (*documentCommand) Name() string { return "document" }

func (c *documentCommand) Initialize(app host.Application) error {
	if app == nil {
		return errors.New("document command needs a host")
	}
	c.app = app
	return nil
}

func (c *documentCommand) Execute(ctx context.Context, env command.Env, params json.RawMessage) (any, error) {
	var p documentParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid document params: %w", err)
		}
	}
	if env.Handles == nil {
		return nil, errors.New("no execution handles available")
	}

	ev, err := env.Handles.GetOrCreateHandle(ctx, c.handler, documentHandleKey)
	if err != nil {
		return nil, err
	}
	return c.handler.Call(ctx, ev, p)
}

func applyDocument(m *host.Main, arg any) (any, error) {
	p, _ := arg.(documentParams)
	switch {
	case p.Close:
		if err := m.CloseDocument(); err != nil {
			return nil, err
		}
	case p.Open != "":
		if err := m.OpenDocument(p.Open); err != nil {
			return nil, err
		}
	}
	name, ok := m.Document()
	return documentResult{Document: name, Open: ok}, nil
}

func main() {}
