package tool

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrAlreadyRegistered is returned by [Registry.Register] when a tool's
// canonical name or any alias collides with an existing registration.
var ErrAlreadyRegistered = errors.New("tool: already registered")

// ErrInvalidSchema is returned by [Registry.Register] when a definition
// violates a structural invariant (see [Definition] field docs).
var ErrInvalidSchema = errors.New("tool: invalid schema")

// ErrNotFound is returned by [Registry.Find] when no tool matches.
var ErrNotFound = errors.New("tool: not found")

// entry pairs a [Definition] with its registration order and current
// enabled state, so ForEachEnabled can iterate deterministically.
type entry struct {
	def     Definition
	order   int
	enabled bool
}

// Registry is the process-wide mapping from tool name (and aliases) to
// metadata. It is read-mostly: registration happens once at startup, and
// [Registry.Refresh] takes a brief write lock to recompute availability.
//
// The zero value is not usable; construct with [NewRegistry].
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]*entry // canonical name -> entry
	lowerName map[string]string // lowercased canonical name -> canonical name
	byAlias   map[string]string // lowercased alias -> canonical name
	ordered   []string          // canonical names in registration order
	nextSeq   int
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]*entry),
		lowerName: make(map[string]string),
		byAlias:   make(map[string]string),
	}
}

// Register adds tool to the registry.
//
// Fails with [ErrInvalidSchema] if the definition is structurally invalid
// (see [Definition] docs), and with [ErrAlreadyRegistered] if tool's
// canonical name or any alias collides, case-insensitively, with an
// existing tool's canonical name or alias — UNLESS the incoming definition
// matches the already-registered one under sameDefinition (callbacks are
// compared only by nilness; DeviceMap and Available are not compared), in
// which case Register is a no-op (idempotent re-registration).
func (r *Registry) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lowerName := strings.ToLower(def.Name)

	if existing, ok := r.byName[def.Name]; ok {
		if sameDefinition(existing.def, def) {
			return nil
		}
		return fmt.Errorf("%w: canonical name %q", ErrAlreadyRegistered, def.Name)
	}
	if canon, ok := r.lowerName[lowerName]; ok {
		return fmt.Errorf("%w: canonical name %q collides case-insensitively with %q", ErrAlreadyRegistered, def.Name, canon)
	}
	if canon, ok := r.byAlias[lowerName]; ok {
		return fmt.Errorf("%w: %q collides with alias of %q", ErrAlreadyRegistered, def.Name, canon)
	}

	seen := make(map[string]bool, len(def.Aliases))
	for _, alias := range def.Aliases {
		lower := strings.ToLower(alias)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		if canon, ok := r.lowerName[lower]; ok {
			return fmt.Errorf("%w: alias %q collides with canonical name %q", ErrAlreadyRegistered, alias, canon)
		}
		if canon, ok := r.byAlias[lower]; ok {
			return fmt.Errorf("%w: alias %q already maps to %q", ErrAlreadyRegistered, alias, canon)
		}
	}

	e := &entry{def: def, order: r.nextSeq, enabled: true}
	r.nextSeq++
	r.byName[def.Name] = e
	r.lowerName[lowerName] = def.Name
	for alias := range seen {
		r.byAlias[alias] = def.Name
	}
	r.ordered = append(r.ordered, def.Name)

	if def.Available != nil {
		e.enabled = def.Available()
	}

	return nil
}

// sameDefinition reports whether two definitions are equal for the purpose
// of idempotent re-registration. Callback function values are compared by
// nilness only (Go func values are not comparable).
func sameDefinition(a, b Definition) bool {
	if a.Name != b.Name || a.Description != b.Description || a.Style != b.Style ||
		a.Device != b.Device || a.UsesNetwork != b.UsesNetwork ||
		a.RequiresHardware != b.RequiresHardware || a.SkipFollowup != b.SkipFollowup ||
		a.DefaultRemote != b.DefaultRemote || a.Topic != b.Topic {
		return false
	}
	if (a.Callback == nil) != (b.Callback == nil) {
		return false
	}
	if len(a.Aliases) != len(b.Aliases) || len(a.Parameters) != len(b.Parameters) {
		return false
	}
	for i := range a.Aliases {
		if a.Aliases[i] != b.Aliases[i] {
			return false
		}
	}
	for i := range a.Parameters {
		if !sameParameter(a.Parameters[i], b.Parameters[i]) {
			return false
		}
	}
	return true
}

// sameParameter compares two [Parameter] values field-by-field; Parameter
// is not comparable with == because EnumValues is a slice.
func sameParameter(a, b Parameter) bool {
	if a.Name != b.Name || a.Description != b.Description || a.Type != b.Type ||
		a.Required != b.Required || a.Routing != b.Routing {
		return false
	}
	if len(a.EnumValues) != len(b.EnumValues) {
		return false
	}
	for i := range a.EnumValues {
		if a.EnumValues[i] != b.EnumValues[i] {
			return false
		}
	}
	return true
}

// Find looks up a tool by canonical name (case-insensitive exact match
// tried first against canonical names, then against aliases). Canonical-name
// lookup takes precedence: if a canonical name and an alias both
// case-insensitively equal name, the canonical tool wins.
func (r *Registry) Find(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lower := strings.ToLower(name)
	if canon, ok := r.lowerName[lower]; ok {
		return r.byName[canon].def, nil
	}
	if canon, ok := r.byAlias[lower]; ok {
		return r.byName[canon].def, nil
	}
	return Definition{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// ForEachEnabled calls visit once per registered tool, in registration
// order, skipping any tool whose last-computed availability is false.
// Stops early if visit returns false.
func (r *Registry) ForEachEnabled(visit func(Definition) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.ordered {
		e := r.byName[name]
		if !e.enabled {
			continue
		}
		if !visit(e.def) {
			return
		}
	}
}

// All returns every registered tool regardless of enabled state, in
// registration order. Used by management/debug surfaces.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.ordered))
	for _, name := range r.ordered {
		out = append(out, r.byName[name].def)
	}
	return out
}

// Refresh re-evaluates every tool's [Definition.Available] predicate against
// current configuration and logs a summary of what changed.
func (r *Registry) Refresh() {
	r.mu.Lock()
	var enabled, disabled int
	for _, name := range r.ordered {
		e := r.byName[name]
		was := e.enabled
		if e.def.Available != nil {
			e.enabled = e.def.Available()
		} else {
			e.enabled = true
		}
		if e.enabled {
			enabled++
		} else {
			disabled++
		}
		if was != e.enabled {
			slog.Info("tool registry: availability changed", "tool", name, "enabled", e.enabled)
		}
	}
	r.mu.Unlock()

	slog.Info("tool registry: refresh complete", "enabled", enabled, "disabled", disabled)
}
