// Package dispatcher implements the single-endpoint agent action
// registry: every agent-callable operation is registered once with a
// parameter schema and a handler, and is exposed both over the
// dispatch endpoint and as a generated OpenAPI 3 document.
package dispatcher

import (
	"context"
	"sort"
	"sync"

	"github.com/atlas-desktop/atlas-bridge/pkg/apierr"
)

// RateLimitClass buckets actions into the per-key token-bucket classes
// defined in spec.md 4.7.
type RateLimitClass string

const (
	ClassGlobal RateLimitClass = "global"
	ClassOrders RateLimitClass = "orders"
	ClassCollab RateLimitClass = "collab"
	ClassEvals  RateLimitClass = "evals"
)

// ParamKind is the JSON-Schema-ish type of one action parameter.
type ParamKind string

const (
	ParamString  ParamKind = "string"
	ParamNumber  ParamKind = "number"
	ParamBoolean ParamKind = "boolean"
	ParamObject  ParamKind = "object"
	ParamArray   ParamKind = "array"
)

// ParamSpec describes one parameter an action accepts.
type ParamSpec struct {
	Name        string
	Kind        ParamKind
	Required    bool
	Description string
}

// Handler executes one action's params and returns a JSON-serializable
// result, or an error (which the dispatcher sanitizes into a 500
// unless it is an *apierr.Error, in which case its Kind picks the
// status code).
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Action is one registry entry: name, schema, handler, and metadata.
type Action struct {
	Name        string
	Description string
	Class       RateLimitClass
	Params      []ParamSpec
	Handler     Handler
	// Lite marks this action as included in the ≤30-operation OpenAPI
	// "lite" variant for clients with operation-count limits.
	Lite bool
}

// Registry holds every registered action, keyed by name.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry returns an empty registry. get_status is registered
// unconditionally so the "unknown action" error list is never empty.
func NewRegistry() *Registry {
	r := &Registry{actions: make(map[string]Action)}
	r.Register(Action{
		Name:        "get_status",
		Description: "Report bridge liveness and session summary.",
		Class:       ClassGlobal,
		Lite:        true,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"status": "ok"}, nil
		},
	})
	return r
}

// Register adds or replaces an action. Registration is expected at
// startup, before the dispatcher begins serving traffic.
func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name] = a
}

// Get looks up an action by name.
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Names returns every registered action name, sorted, for the
// "unknown action" error response.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every action, sorted by name, for OpenAPI generation.
func (r *Registry) All() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actions := make([]Action, 0, len(r.actions))
	for _, a := range r.actions {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })
	return actions
}

// Validate checks params against an action's schema: every required
// parameter present, present parameters roughly type-matching, and no
// extra fields beyond the schema. Returns the name of the first failed
// field.
func Validate(a Action, params map[string]interface{}) (string, bool) {
	allowed := make(map[string]bool, len(a.Params))
	for _, spec := range a.Params {
		allowed[spec.Name] = true

		v, present := params[spec.Name]
		if !present {
			if spec.Required {
				return spec.Name, false
			}
			continue
		}
		if !kindMatches(spec.Kind, v) {
			return spec.Name, false
		}
	}
	for name := range params {
		if !allowed[name] {
			return name, false
		}
	}
	return "", true
}

func kindMatches(kind ParamKind, v interface{}) bool {
	switch kind {
	case ParamString:
		_, ok := v.(string)
		return ok
	case ParamNumber:
		switch v.(type) {
		case float64, int, int64:
			return true
		default:
			return false
		}
	case ParamBoolean:
		_, ok := v.(bool)
		return ok
	case ParamObject:
		_, ok := v.(map[string]interface{})
		return ok
	case ParamArray:
		_, ok := v.([]interface{})
		return ok
	default:
		return true
	}
}

// ErrUnknownAction builds a Validation error naming an unregistered
// action. The HTTP dispatcher does not use it: it answers unknown
// actions itself, with the sorted list of valid actions.
func ErrUnknownAction(action string) error {
	return apierr.New(apierr.Validation, "unknown action: "+action)
}
