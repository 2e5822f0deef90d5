package api

import (
	"time"

	"github.com/mattjoyce/hostbridge/internal/journal"
	"github.com/mattjoyce/hostbridge/internal/loader"
	"github.com/mattjoyce/hostbridge/internal/service"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string    `json:"status"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Host          string    `json:"host"`
	HostVersion   string    `json:"host_version"`
	Commands      int       `json:"commands"`
	Handles       int       `json:"handles"`
	LastPass      string    `json:"last_pass,omitempty"`
	LastLoad      time.Time `json:"last_load,omitzero"`
}

// CommandsResponse is returned by GET /commands.
type CommandsResponse struct {
	Commands []service.CommandInfo `json:"commands"`
}

// ExecuteResponse is returned by POST /commands/{name}.
type ExecuteResponse struct {
	Command    string `json:"command"`
	Result     any    `json:"result"`
	DurationMs int64  `json:"duration_ms"`
}

// OutcomeResponse is one descriptor outcome of a reload.
type OutcomeResponse struct {
	Command string `json:"command"`
	Path    string `json:"path,omitempty"`
	Status  string `json:"status"`
	Type    string `json:"type,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ReloadResponse is returned by POST /reload.
type ReloadResponse struct {
	HostVersion string            `json:"host_version"`
	Registered  int               `json:"registered"`
	Outcomes    []OutcomeResponse `json:"outcomes"`
}

// HistoryResponse is returned by GET /history.
type HistoryResponse struct {
	Invocations []journal.Invocation `json:"invocations"`
}

func newReloadResponse(summary loader.Summary) ReloadResponse {
	resp := ReloadResponse{
		HostVersion: summary.HostVersion,
		Registered:  summary.Count(loader.StatusRegistered),
		Outcomes:    make([]OutcomeResponse, 0, len(summary.Outcomes)),
	}
	for _, o := range summary.Outcomes {
		out := OutcomeResponse{
			Command: o.Command,
			Path:    o.Path,
			Status:  string(o.Status),
			Type:    o.Type,
		}
		if o.Err != nil {
			out.Error = o.Err.Error()
		}
		resp.Outcomes = append(resp.Outcomes, out)
	}
	return resp
}
