package api

import (
	"fmt"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document with one call path per
// operation of the active version.
func buildOpenAPIDoc(version uint64, ops []OperationInfo) map[string]any {
	paths := map[string]any{}
	for _, op := range ops {
		paths["/call/"+op.Name] = map[string]any{"post": buildCallOperation(op)}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Switchboard",
			"version": fmt.Sprintf("handlers-v%d", version),
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

func buildCallOperation(op OperationInfo) map[string]any {
	summary := op.Description
	if summary == "" {
		summary = fmt.Sprintf("Call %s", op.Name)
	}

	return map[string]any{
		"operationId": op.Name,
		"summary":     summary,
		"requestBody": map[string]any{
			"required": len(op.Parameters) > 0,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": argsSchema(op.Parameters),
				},
			},
		},
		"responses": map[string]any{
			"200": map[string]any{
				"description": "Call finished",
				"content": map[string]any{
					"application/json": map[string]any{"schema": resultSchema(op.ReturnType)},
				},
			},
			"400": map[string]any{"description": "Wrong number of arguments"},
			"403": map[string]any{"description": "Insufficient scope"},
			"404": map[string]any{"description": "Unknown operation"},
			"503": map[string]any{"description": "No handlers loaded"},
			"504": map[string]any{"description": "Operation timed out"},
		},
		"security": []any{map[string]any{"BearerAuth": []string{}}},
	}
}

// argsSchema describes positional string arguments. prefixItems carries the
// parameter names as titles.
func argsSchema(params []string) map[string]any {
	items := make([]any, 0, len(params))
	for _, p := range params {
		items = append(items, map[string]any{"type": "string", "title": p})
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"args": map[string]any{
				"type":        "array",
				"prefixItems": items,
				"items":       false,
				"minItems":    len(params),
				"maxItems":    len(params),
			},
		},
		"additionalProperties": false,
	}
}

func resultSchema(returnType string) map[string]any {
	var value map[string]any
	switch returnType {
	case "bool":
		value = map[string]any{"type": "boolean"}
	case "none":
		value = map[string]any{"type": "null"}
	default:
		value = map[string]any{"type": "string"}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ok":      map[string]any{"type": "boolean"},
			"value":   value,
			"error":   map[string]any{"type": "string"},
			"version": map[string]any{"type": "integer"},
			"call_id": map[string]any{"type": "string"},
		},
		"required": []string{"ok", "value", "call_id"},
	}
}
