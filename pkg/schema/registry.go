package schema

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "schema:registry"

// Store persists definitions. Registry calls it after every successful change.
type Store interface {
	SaveSchema(ctx context.Context, def Definition) error
	DeleteSchema(ctx context.Context, id string) error
	ListSchemas(ctx context.Context) ([]Definition, error)
}

// Registry holds schema definitions in memory. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Definition
	stats   Stats
	store   Store
	now     func() time.Time
}

// NewRegistryParams holds parameters for NewRegistry.
type NewRegistryParams struct {
	// Store is optional; nil keeps definitions in memory only.
	Store Store
	Now   func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry(params NewRegistryParams) *Registry {
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		schemas: make(map[string]Definition),
		store:   params.Store,
		now:     now,
	}
}

// Load replaces the in-memory set with the store's contents.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	defs, err := r.store.ListSchemas(ctx)
	if err != nil {
		return fmt.Errorf("%s - failed to load schemas: %w", logPrefix, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas = make(map[string]Definition, len(defs))
	for _, d := range defs {
		r.schemas[d.ID] = d.clone()
	}
	r.stats.TotalSchemas = len(r.schemas)
	slog.Info(fmt.Sprintf("%s - Loaded %d schemas from store", logPrefix, len(defs)))
	return nil
}

func checkDefinition(def Definition) *Error {
	if strings.TrimSpace(def.ID) == "" {
		return NewError(CodeInvalidArgument, "schema id is required")
	}
	if strings.TrimSpace(def.Name) == "" {
		return NewError(CodeInvalidArgument, "schema name is required")
	}
	if _, err := masterminds.NewVersion(def.Version); err != nil {
		return NewError(CodeInvalidArgument, "invalid schema version %q for %s", def.Version, def.ID)
	}
	if def.Type < TypeJSON || def.Type > TypeCustom {
		return NewError(CodeInvalidArgument, "invalid schema type %d for %s", int(def.Type), def.ID)
	}
	return nil
}

// Register adds a new definition. The id must not already be registered.
func (r *Registry) Register(ctx context.Context, def Definition) error {
	if err := checkDefinition(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[def.ID]; exists {
		return NewError(CodeAlreadyExists, "schema already registered: %s", def.ID)
	}

	now := r.now()
	stored := def.clone()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if err := r.persist(ctx, stored); err != nil {
		return err
	}
	r.schemas[def.ID] = stored
	r.stats.TotalSchemas = len(r.schemas)
	return nil
}

// Update replaces an existing definition. def.ID must equal id.
func (r *Registry) Update(ctx context.Context, id string, def Definition) error {
	if def.ID != id {
		return NewError(CodeInvalidArgument, "schema id mismatch: %s != %s", def.ID, id)
	}
	if err := checkDefinition(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.schemas[id]
	if !ok {
		return NewError(CodeNotFound, "schema not found: %s", id)
	}

	stored := def.clone()
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = r.now()

	if err := r.persist(ctx, stored); err != nil {
		return err
	}
	r.schemas[id] = stored
	return nil
}

// Remove deletes a definition.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schemas[id]; !ok {
		return NewError(CodeNotFound, "schema not found: %s", id)
	}
	if r.store != nil {
		if err := r.store.DeleteSchema(ctx, id); err != nil {
			slog.Error(fmt.Sprintf("%s - Failed to delete schema %s: %v", logPrefix, id, err))
			return NewError(CodeInternal, "failed to delete schema %s", id)
		}
	}
	delete(r.schemas, id)
	r.stats.TotalSchemas = len(r.schemas)
	return nil
}

func (r *Registry) persist(ctx context.Context, def Definition) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveSchema(ctx, def); err != nil {
		slog.Error(fmt.Sprintf("%s - Failed to persist schema %s: %v", logPrefix, def.ID, err))
		return NewError(CodeInternal, "failed to persist schema %s", def.ID)
	}
	return nil
}

// Get returns a copy of the definition with the given id.
func (r *Registry) Get(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.schemas[id]
	if !ok {
		return Definition{}, false
	}
	return d.clone(), true
}

// IDs returns every registered id in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.schemas))
	for id := range r.schemas {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// List returns every definition ordered by id.
func (r *Registry) List() []Definition {
	return r.collect(func(Definition) bool { return true })
}

// FindByName returns definitions whose name contains name.
func (r *Registry) FindByName(name string) []Definition {
	return r.collect(func(d Definition) bool { return strings.Contains(d.Name, name) })
}

// FindByType returns definitions of the given type.
func (r *Registry) FindByType(t Type) []Definition {
	return r.collect(func(d Definition) bool { return d.Type == t })
}

func (r *Registry) collect(match func(Definition) bool) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Definition
	for _, d := range r.schemas {
		if match(d) {
			out = append(out, d.clone())
		}
	}
	slices.SortFunc(out, func(a, b Definition) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Resolve returns the highest-versioned definition named name whose version satisfies
// rangeExpr. An empty range selects the latest stable version.
func (r *Registry) Resolve(name, rangeExpr string) (Definition, error) {
	if rangeExpr != "" && !IsMajorOnly(rangeExpr) {
		if _, err := masterminds.NewConstraint(rangeExpr); err != nil {
			return Definition{}, NewError(CodeInvalidArgument, "invalid version range %q", rangeExpr)
		}
	}

	candidates := r.collect(func(d Definition) bool { return d.Name == name })
	if len(candidates) == 0 {
		return Definition{}, NewError(CodeNotFound, "no schema named %s", name)
	}
	d, ok := highest(candidates, rangeExpr)
	if !ok {
		return Definition{}, NewError(CodeNotFound, "no version of %s satisfies %q", name, rangeExpr)
	}
	return d, nil
}

// Lookup resolves a schema reference: first as an exact id, then as name@range.
func (r *Registry) Lookup(ref string) (Definition, error) {
	if d, ok := r.Get(ref); ok {
		return d, nil
	}
	parsed, err := ParseRef(ref)
	if err != nil {
		return Definition{}, err
	}
	return r.Resolve(parsed.Name, parsed.Range)
}

// IsCompatible reports whether version is listed as compatible with the schema, either
// verbatim or as a version satisfying one of the listed entries treated as a range.
func (r *Registry) IsCompatible(id, version string) bool {
	d, ok := r.Get(id)
	if !ok {
		return false
	}
	for _, cv := range d.CompatibleVersions {
		if cv == version || SatisfiesRange(version, cv) {
			return true
		}
	}
	return false
}

// CompatibleVersions returns the compatibility list of a schema.
func (r *Registry) CompatibleVersions(id string) []string {
	d, _ := r.Get(id)
	return d.CompatibleVersions
}

// Stats returns a snapshot of the counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// ResetStats zeroes the validation counters.
func (r *Registry) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = Stats{TotalSchemas: len(r.schemas), LastValidation: r.now()}
}

func (r *Registry) recordValidation(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.TotalValidations++
	r.stats.LastValidation = r.now()
	if !ok {
		r.stats.ValidationErrors++
	}
}
