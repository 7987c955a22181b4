package pipeline

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/neutronik/sansred/internal/ctxlog"
)

// ErrNoProvider is returned when a requested key has neither a provider nor a
// parameter value. It surfaces missing configuration at compute time.
var ErrNoProvider = errors.New("no provider or parameter")

// memoSize bounds the memo store. Reductions touch a few dozen keys; the
// bound only matters for long-lived pipelines driving parameter sweeps.
const memoSize = 512

// Pipeline evaluates results on demand. It owns a parameter set and a memo
// store; both are private to the instance.
type Pipeline struct {
	reg        *Registry
	params     map[Key]any
	memo       *lru.Cache[Key, any]
	dependents map[Key][]Key
}

// New validates the provider graph and returns a pipeline over it.
func New(reg *Registry) (*Pipeline, error) {
	if err := reg.detectCycles(); err != nil {
		return nil, fmt.Errorf("invalid provider graph: %w", err)
	}
	memo, err := lru.New[Key, any](memoSize)
	if err != nil {
		return nil, err
	}
	dependents := make(map[Key][]Key)
	for _, p := range reg.providers {
		for _, dep := range p.Deps {
			dependents[dep] = append(dependents[dep], p.Key)
		}
	}
	return &Pipeline{
		reg:        reg,
		params:     make(map[Key]any),
		memo:       memo,
		dependents: dependents,
	}, nil
}

// SetParam stores a parameter value and invalidates the memoized results of
// all transitive dependents.
func (p *Pipeline) SetParam(k Key, v any) {
	p.params[k] = v
	p.invalidate(k, make(map[Key]bool))
}

// Param returns the current value of a parameter, if set.
func (p *Pipeline) Param(k Key) (any, bool) {
	v, ok := p.params[k]
	return v, ok
}

// Cached returns the memoized value for k without computing anything. It
// supports partial-result inspection.
func (p *Pipeline) Cached(k Key) (any, bool) {
	return p.memo.Get(k)
}

// Copy returns a pipeline sharing the provider graph but with its own
// parameter set and an empty memo store.
func (p *Pipeline) Copy() *Pipeline {
	memo, err := lru.New[Key, any](memoSize)
	if err != nil {
		// lru.New only fails on non-positive size.
		panic(err)
	}
	params := make(map[Key]any, len(p.params))
	for k, v := range p.params {
		params[k] = v
	}
	return &Pipeline{
		reg:        p.reg,
		params:     params,
		memo:       memo,
		dependents: p.dependents,
	}
}

func (p *Pipeline) invalidate(k Key, seen map[Key]bool) {
	if seen[k] {
		return
	}
	seen[k] = true
	p.memo.Remove(k)
	for _, dep := range p.dependents[k] {
		p.invalidate(dep, seen)
	}
}

// Compute resolves k, recursively computing its dependencies. Parameter
// values take precedence over providers, so a computed intermediate can be
// pinned by assigning it as a parameter.
func (p *Pipeline) Compute(ctx context.Context, k Key) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v, ok := p.params[k]; ok {
		return v, nil
	}
	if v, ok := p.memo.Get(k); ok {
		return v, nil
	}
	prov, ok := p.reg.Provider(k)
	if !ok {
		return nil, fmt.Errorf("%w for key '%s'", ErrNoProvider, k)
	}
	args := make([]any, len(prov.Deps))
	for i, dep := range prov.Deps {
		v, err := p.Compute(ctx, dep)
		if err != nil {
			return nil, fmt.Errorf("resolving dependency '%s' of '%s': %w", dep, k, err)
		}
		args[i] = v
	}
	ctxlog.FromContext(ctx).Debug("Computing result.", "key", k.String())
	v, err := prov.Fn(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("provider for '%s': %w", k, err)
	}
	p.memo.Add(k, v)
	return v, nil
}

// MapParam computes target once per value of the parameter key, restoring
// the original parameter afterwards. This is the parameter-table form of
// series computation: sweeps are data, not concurrency.
func (p *Pipeline) MapParam(ctx context.Context, param Key, values []any, target Key) ([]any, error) {
	orig, had := p.params[param]
	defer func() {
		if had {
			p.SetParam(param, orig)
		} else {
			delete(p.params, param)
			p.invalidate(param, make(map[Key]bool))
		}
	}()
	out := make([]any, 0, len(values))
	for _, v := range values {
		p.SetParam(param, v)
		res, err := p.Compute(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("computing '%s' for %s=%v: %w", target, param, v, err)
		}
		out = append(out, res)
	}
	return out, nil
}
