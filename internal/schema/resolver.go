// Package schema discovers the physical shape of the election tables and
// builds statements against whatever naming a deployment uses.
package schema

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Catalog reads table metadata from the live store.
type Catalog interface {
	// Columns returns the table's columns in ordinal order, or none when the
	// table does not exist.
	Columns(ctx context.Context, table string) ([]string, error)
	TablesLike(ctx context.Context, pattern string) ([]string, error)
	// RequiredColumns lists columns that are NOT NULL without a default.
	RequiredColumns(ctx context.Context, table string) ([]string, error)
}

type cacheEntry struct {
	value   any
	expires time.Time
}

// Resolver caches catalog lookups for ttl. A zero ttl caches until Invalidate.
type Resolver struct {
	catalog Catalog
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group
}

func NewResolver(catalog Catalog, ttl time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		catalog: catalog,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

// Invalidate drops every cached lookup.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
	r.logger.Debug("Schema cache invalidated")
}

func (r *Resolver) cached(ctx context.Context, key string, load func(context.Context) (any, error)) (any, error) {
	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && (r.ttl <= 0 || r.now().Before(entry.expires)) {
		return entry.value, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[key] = cacheEntry{value: value, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
		return value, nil
	})
	return v, err
}

// ResolveColumns returns the first candidate table that exists.
func (r *Resolver) ResolveColumns(ctx context.Context, candidates ...string) (*Table, error) {
	for _, name := range candidates {
		v, err := r.cached(ctx, "columns:"+name, func(ctx context.Context) (any, error) {
			cols, err := r.catalog.Columns(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("failed to read columns of %s: %w", name, err)
			}
			return cols, nil
		})
		if err != nil {
			return nil, err
		}
		if cols := v.([]string); len(cols) > 0 {
			return NewTable(name, cols), nil
		}
	}
	return nil, nil
}

// ResolveByPattern returns the first table whose name matches the LIKE pattern.
func (r *Resolver) ResolveByPattern(ctx context.Context, pattern string) (*Table, error) {
	v, err := r.cached(ctx, "like:"+pattern, func(ctx context.Context) (any, error) {
		names, err := r.catalog.TablesLike(ctx, pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to list tables like %s: %w", pattern, err)
		}
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	names := v.([]string)
	if len(names) == 0 {
		return nil, nil
	}
	return r.ResolveColumns(ctx, names...)
}

// Resolve maps e onto the first existing table, falling back to e.Pattern.
func (r *Resolver) Resolve(ctx context.Context, e Entity) (*Mapping, error) {
	t, err := r.ResolveColumns(ctx, e.Tables...)
	if err != nil {
		return nil, err
	}
	if t == nil && e.Pattern != "" {
		if t, err = r.ResolveByPattern(ctx, e.Pattern); err != nil {
			return nil, err
		}
	}
	if t == nil {
		return nil, &SchemaError{Entity: e.Name}
	}

	m, err := newMapping(e, t)
	if err != nil {
		r.logger.Warn("Schema mismatch",
			zap.String("entity", e.Name),
			zap.String("table", t.Name),
			zap.Error(err))
		return nil, err
	}
	return m, nil
}

func (r *Resolver) RequiredColumns(ctx context.Context, table string) ([]string, error) {
	v, err := r.cached(ctx, "required:"+table, func(ctx context.Context) (any, error) {
		cols, err := r.catalog.RequiredColumns(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to read required columns of %s: %w", table, err)
		}
		return cols, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}
