package api

import (
	"fmt"

	"github.com/mattjoyce/hostbridge/internal/service"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document with one operation per command.
func buildOpenAPIDoc(commands []service.CommandInfo) map[string]any {
	paths := map[string]any{}
	for _, cmd := range commands {
		paths["/commands/"+cmd.Name] = map[string]any{"post": commandOperation(cmd)}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "hostbridge",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func commandOperation(cmd service.CommandInfo) map[string]any {
	summary := cmd.Description
	if summary == "" {
		summary = fmt.Sprintf("Run %s", cmd.Name)
	}

	op := map[string]any{
		"operationId": "run_" + cmd.Name,
		"summary":     summary,
		"requestBody": map[string]any{
			"required": false,
			"content": map[string]any{
				"application/json": map[string]any{"schema": map[string]any{}},
			},
		},
		"responses": map[string]any{
			"200": map[string]any{"description": "Command result"},
			"404": map[string]any{"description": "Command not loaded"},
			"422": map[string]any{"description": "Command failed"},
			"503": map[string]any{"description": "Host unavailable"},
		},
		"security": []any{map[string]any{"BearerAuth": []string{}}},
	}
	if len(cmd.Versions) > 0 {
		op["x-supported-versions"] = cmd.Versions
	}
	if cmd.Developer.Name != "" {
		op["x-developer"] = cmd.Developer.Name
	}
	return op
}
