package dispatcher

// liteOperationLimit bounds the "lite" OpenAPI variant for clients
// with an operation-count ceiling (spec.md 4.7).
const liteOperationLimit = 30

// OpenAPIDocument generates an OpenAPI 3 document from the registry:
// one component schema per action, discriminated on the "action"
// field. If lite is true, the document is pruned to at most
// liteOperationLimit actions, preferring those explicitly marked Lite.
func (r *Registry) OpenAPIDocument(lite bool) map[string]interface{} {
	actions := r.All()
	if lite {
		actions = selectLite(actions, liteOperationLimit)
	}

	schemas := make(map[string]interface{}, len(actions))
	mapping := make(map[string]string, len(actions))
	for _, a := range actions {
		schemas[a.Name] = actionSchema(a)
		mapping[a.Name] = "#/components/schemas/" + a.Name
	}

	requestSchema := map[string]interface{}{
		"type":     "object",
		"required": []string{"action", "params"},
		"properties": map[string]interface{}{
			"action": map[string]interface{}{"type": "string", "enum": actionNames(actions)},
			"params": map[string]interface{}{
				"oneOf":         schemaRefs(actions),
				"discriminator": map[string]interface{}{"propertyName": "action", "mapping": mapping},
			},
		},
	}
	schemas["DispatchRequest"] = requestSchema

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   "Agent Dispatcher",
			"version": "1.0.0",
		},
		"paths": map[string]interface{}{
			"/api/agent": map[string]interface{}{
				"post": map[string]interface{}{
					"summary": "Invoke a registered action",
					"requestBody": map[string]interface{}{
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{"$ref": "#/components/schemas/DispatchRequest"},
							},
						},
					},
				},
			},
		},
		"components": map[string]interface{}{"schemas": schemas},
	}
}

func selectLite(actions []Action, limit int) []Action {
	preferred := make([]Action, 0, limit)
	rest := make([]Action, 0, len(actions))
	for _, a := range actions {
		if a.Lite {
			preferred = append(preferred, a)
		} else {
			rest = append(rest, a)
		}
	}
	for _, a := range rest {
		if len(preferred) >= limit {
			break
		}
		preferred = append(preferred, a)
	}
	if len(preferred) > limit {
		preferred = preferred[:limit]
	}
	return preferred
}

func actionSchema(a Action) map[string]interface{} {
	props := make(map[string]interface{}, len(a.Params))
	var required []string
	for _, p := range a.Params {
		props[p.Name] = map[string]interface{}{
			"type":        string(p.Kind),
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{
		"type":        "object",
		"description": a.Description,
		"properties":  props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func actionNames(actions []Action) []string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = a.Name
	}
	return names
}

func schemaRefs(actions []Action) []map[string]interface{} {
	refs := make([]map[string]interface{}, len(actions))
	for i, a := range actions {
		refs[i] = map[string]interface{}{"$ref": "#/components/schemas/" + a.Name}
	}
	return refs
}
