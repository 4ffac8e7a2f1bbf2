package links

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Validator checks that an entity id exists and may be linked. Each
// registered entity kind supplies its own.
type Validator func(ctx context.Context, entityID string) error

// RequireEntityID is the validator for kinds whose records live in an
// external system: any non-empty id is accepted.
func RequireEntityID(ctx context.Context, entityID string) error {
	if entityID == "" {
		return fmt.Errorf("entity id must not be empty")
	}
	return nil
}

// Registry maps entity-kind tags to validators. It backs the polymorphic
// message-to-record links: a link carries (kind, id) and the registry
// decides whether the pair is acceptable. Unknown kinds are rejected
// outright.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Validator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Validator)}
}

// Register adds an entity kind. Registering the same kind twice is an
// error; it indicates two collaborators claiming one tag.
func (r *Registry) Register(kind string, v Validator) error {
	if kind == "" {
		return fmt.Errorf("entity kind must not be empty")
	}
	if v == nil {
		return fmt.Errorf("entity kind %q requires a validator", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kinds[kind]; exists {
		return fmt.Errorf("entity kind %q already registered", kind)
	}
	r.kinds[kind] = v
	return nil
}

// Kinds returns the registered kind tags, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Validate checks a (kind, id) pair against the registered validator.
func (r *Registry) Validate(ctx context.Context, kind, entityID string) error {
	r.mu.RLock()
	v, ok := r.kinds[kind]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown entity kind %q", kind)
	}
	if entityID == "" {
		return fmt.Errorf("entity id must not be empty")
	}
	return v(ctx, entityID)
}
