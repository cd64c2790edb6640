package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fieldservice/concierge/internal/memory"
	"github.com/fieldservice/concierge/internal/session"
	"github.com/fieldservice/concierge/internal/telemetry"
)

// Handler executes a registered tool. Arguments arrive as a validated
// Value tree rather than an opaque map: by the time a handler runs, every
// schema-declared field has passed its kind check. Implementations should
// be pure with respect to session memory: mutation happens only through
// the registry's declarative ResultMapping application, never inside the
// handler.
type Handler func(ctx context.Context, args map[string]Value) Result

// Registration bundles everything the registry needs to catalog, enrich,
// invoke, and map the result of one tool.
type Registration struct {
	Schema   Schema
	Handler  Handler
	Enrich   []EnrichmentRule
	Mappings []ResultMapping
}

// Invocation is the append-only record of one tool call within a turn.
type Invocation struct {
	Name       string
	Arguments  map[string]any
	Result     Result
	Latency    time.Duration
	Enrichment []string // memory paths rendered into arguments, if any
}

// Registry catalogs tools and executes invocations against them.
type Registry struct {
	store session.Store
	log   telemetry.Logger

	mu   sync.RWMutex
	regs map[string]*Registration
}

// NewRegistry builds a Registry backed by store for enrichment reads and
// result-mapping writes.
func NewRegistry(store session.Store, log telemetry.Logger) *Registry {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Registry{store: store, log: log, regs: make(map[string]*Registration)}
}

// Register records a tool under its schema name, replacing any prior
// registration with the same name. Registration is idempotent.
func (r *Registry) Register(reg Registration) error {
	if reg.Schema.Name == "" {
		return fmt.Errorf("tools: schema name is required")
	}
	if reg.Handler == nil {
		return fmt.Errorf("tools: handler is required for %q", reg.Schema.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[reg.Schema.Name] = &reg
	return nil
}

// Describe returns the schemas for the given tool names, skipping any name
// that is not registered (used to build the tool list passed to the LLM;
// the orchestrator rejects a turn whose goal lists a deferred tool that is
// still unregistered).
func (r *Registry) Describe(names []string) []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(names))
	for _, n := range names {
		if reg, ok := r.regs[n]; ok {
			out = append(out, reg.Schema)
		}
	}
	return out
}

// Known reports whether name is registered.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.regs[name]
	return ok
}

// Invoke validates args against the tool's schema, enriches them with a
// memory snapshot, calls the handler outside the session lock, and applies
// the tool's result mapping back into session memory.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, sid string) Invocation {
	start := time.Now()
	r.mu.RLock()
	reg, ok := r.regs[name]
	r.mu.RUnlock()
	if !ok {
		return Invocation{Name: name, Arguments: args, Result: Fail(KindNotFound, "tool not registered: "+name), Latency: time.Since(start)}
	}

	vargs := make(map[string]Value, len(args))
	for k, v := range args {
		vargs[k] = FromAny(v)
	}
	if err := validateArgs(reg.Schema, vargs); err != nil {
		return Invocation{Name: name, Arguments: args, Result: Fail(KindArgInvalid, err.Error()), Latency: time.Since(start)}
	}

	vargs, enrichedPaths := r.enrich(ctx, reg, vargs, sid)

	// The handler itself runs outside any session lock so concurrent reads
	// of unrelated session state are never blocked by a slow upstream call.
	result := reg.Handler(ctx, vargs)

	if result.Ok && len(reg.Mappings) > 0 && r.store != nil {
		r.applyMappings(ctx, reg.Mappings, result.Payload, sid)
	}

	return Invocation{
		Name:       name,
		Arguments:  argsToAny(vargs),
		Result:     result,
		Latency:    time.Since(start),
		Enrichment: enrichedPaths,
	}
}

func argsToAny(args map[string]Value) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v.ToAny()
	}
	return out
}

func (r *Registry) enrich(ctx context.Context, reg *Registration, args map[string]Value, sid string) (map[string]Value, []string) {
	if len(reg.Enrich) == 0 || r.store == nil {
		return args, nil
	}
	out := make(map[string]Value, len(args))
	for k, v := range args {
		out[k] = v
	}
	var applied []string
	for _, rule := range reg.Enrich {
		values, err := r.store.ReadPaths(ctx, sid, rule.MemoryPaths)
		if err != nil {
			r.log.Warn(ctx, "enrichment read failed", "tool", reg.Schema.Name, "error", err)
			continue
		}
		if len(values) == 0 {
			continue
		}
		snapshot := renderSnapshot(rule.MemoryPaths, values)
		if rule.Template != "" {
			snapshot = fmt.Sprintf(rule.Template, snapshot)
		}
		if existing := out[rule.ArgField]; existing.Kind == KindString && existing.String != "" {
			out[rule.ArgField] = Value{Kind: KindString, String: existing.String + " " + snapshot}
		} else {
			out[rule.ArgField] = Value{Kind: KindString, String: snapshot}
		}
		applied = append(applied, rule.MemoryPaths...)
	}
	return out, applied
}

func renderSnapshot(paths []string, values map[string]any) string {
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		if v, ok := values[p]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", p, v))
		}
	}
	return strings.Join(parts, ", ")
}

func (r *Registry) applyMappings(ctx context.Context, mappings []ResultMapping, payload map[string]any, sid string) {
	update := map[string]any{}
	appendPaths := map[string]bool{}
	for _, m := range mappings {
		srcPath, err := memory.ParsePath(m.ResultPath)
		if err != nil {
			continue
		}
		val, ok := memory.Get(map[string]any(payload), srcPath)
		if !ok {
			continue // missing result paths yield no update
		}
		dstPath, err := memory.ParsePath(m.MemoryPath)
		if err != nil {
			continue
		}
		if err := memory.Set(update, dstPath, val); err != nil {
			r.log.Warn(ctx, "result mapping set failed", "path", m.MemoryPath, "error", err)
			continue
		}
		if m.Append {
			appendPaths[m.MemoryPath] = true
		}
	}
	if len(update) == 0 {
		return
	}
	if _, err := r.store.Update(ctx, sid, update, appendPaths); err != nil {
		r.log.Error(ctx, "result mapping update failed", "session_id", sid, "error", err)
	}
}

func validateArgs(schema Schema, args map[string]Value) error {
	for _, f := range schema.Fields {
		v, present := args[f.Name]
		if !present {
			if f.Required {
				return fmt.Errorf("missing required field %q", f.Name)
			}
			continue
		}
		// A field declared KindNull accepts any value shape.
		if f.Type != KindNull && v.Kind != f.Type {
			return fmt.Errorf("field %q has wrong type", f.Name)
		}
	}
	return nil
}
