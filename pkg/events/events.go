package events

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"twigo/pkg/api"
)

// Matcher decides whether a handler applies to a stream message
type Matcher interface {
	Match(data map[string]any) bool
}

// MatchFunc adapts a function to Matcher
type MatchFunc func(data map[string]any) bool

// Match calls f
func (f MatchFunc) Match(data map[string]any) bool { return f(data) }

// Fields matches messages holding every key in Keys and, for each entry of
// Values, an equal value. A map value is matched recursively against the
// nested object; a slice value lists keys the nested object must hold.
type Fields struct {
	Keys   []string
	Values map[string]any
}

// Match implements Matcher
func (f Fields) Match(data map[string]any) bool {
	return matchFields(data, f.Keys, f.Values)
}

// Keys matches messages holding every key
func Keys(keys ...string) Fields {
	return Fields{Keys: keys}
}

// Values matches messages whose fields equal values
func Values(values map[string]any) Fields {
	return Fields{Values: values}
}

func matchFields(data map[string]any, keys []string, values map[string]any) bool {
	for _, key := range keys {
		if _, ok := data[key]; !ok {
			return false
		}
	}
	for key, want := range values {
		got, ok := data[key]
		if !ok {
			return false
		}
		if nested, ok := got.(map[string]any); ok {
			switch w := want.(type) {
			case map[string]any:
				if !matchFields(nested, nil, w) {
					return false
				}
			case []string:
				if !matchFields(nested, w, nil) {
					return false
				}
			case string:
				if !matchFields(nested, []string{w}, nil) {
					return false
				}
			default:
				return false
			}
			continue
		}
		if !equal(got, want) {
			return false
		}
	}
	return true
}

// equal compares decoded JSON values, treating numbers by value
func equal(got, want any) bool {
	if g, ok := api.Int(got); ok {
		if w, ok := api.Int(want); ok {
			return g == w
		}
	}
	if g, ok := api.String(got); ok {
		if w, ok := want.(string); ok {
			return g == w
		}
	}
	return reflect.DeepEqual(got, want)
}

// Stream message kinds
var (
	Tweet          = Keys("text")
	Delete         = Keys("delete")
	ScrubGeo       = Keys("scrub_geo")
	Limit          = Keys("limit")
	StatusWithheld = Keys("status_withheld")
	UserWithheld   = Keys("user_withheld")
	Disconnect     = Keys("disconnect")
	Warning        = Keys("warning")
	Friends        = Keys("friends")
	DirectMessage  = Keys("direct_message")
	Control        = Keys("control")
	Envelope       = Keys("for_user", "message")
)

// Event matches user events such as "follow" or "favorite"
func Event(name string) Fields {
	return Values(map[string]any{"event": name})
}

// HandlerFunc processes a stream message
type HandlerFunc func(ctx context.Context, data map[string]any) error

// Handler binds a matcher to a function. Handlers with a higher Priority
// are tried first; among equal priorities, the first registered wins.
type Handler struct {
	Name     string
	Match    Matcher
	Priority int
	Handle   HandlerFunc
}

// Registry holds handlers in dispatch order
type Registry struct {
	mu       sync.RWMutex
	handlers []Handler
	fallback *Handler
}

// NewRegistry creates a registry holding handlers
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds a handler. A handler without a matcher receives messages
// no other handler matched.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.Match == nil {
		r.fallback = &h
		return
	}
	i, _ := slices.BinarySearchFunc(r.handlers, h.Priority, func(e Handler, p int) int {
		// descending; equal priorities keep insertion order
		if e.Priority >= p {
			return -1
		}
		return 1
	})
	r.handlers = slices.Insert(r.handlers, i, h)
}

// Len returns the number of matching handlers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Lookup returns the handler for data
func (r *Registry) Lookup(data map[string]any) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range r.handlers {
		if h.Match.Match(data) {
			return h, true
		}
	}
	if r.fallback != nil {
		return *r.fallback, true
	}
	return Handler{}, false
}

// Dispatch runs the handler for data. It returns the name of the handler
// that ran, or "" when none matched.
func (r *Registry) Dispatch(ctx context.Context, data map[string]any) (string, error) {
	h, ok := r.Lookup(data)
	if !ok {
		return "", nil
	}
	if err := h.Handle(ctx, data); err != nil {
		return h.Name, fmt.Errorf("handler %s: %w", h.Name, err)
	}
	return h.Name, nil
}
