// internal/daemon/builder/registry.go
package builder

import (
	"fmt"
	"sort"
	"sync"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

// Registry maps action types to their strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[types.ActionType]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[types.ActionType]Strategy)}
}

// DefaultRegistry registers the built-in send, swap, bridge and stake
// strategies. Routed types use quoter.
func DefaultRegistry(quoter Quoter) *Registry {
	r := NewRegistry()
	for _, s := range []Strategy{
		&SendStrategy{},
		&SwapStrategy{Quoter: quoter},
		&BridgeStrategy{Quoter: quoter},
		&StakeStrategy{Quoter: quoter},
	} {
		// built-ins never collide
		_ = r.Register(s)
	}
	return r
}

// Register adds a strategy. Registering a type twice is an error.
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[s.Type()]; exists {
		return fmt.Errorf("strategy for %q already registered", s.Type())
	}
	r.strategies[s.Type()] = s
	return nil
}

// Get returns the strategy for t.
func (r *Registry) Get(t types.ActionType) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[t]
	return s, ok
}

// Types lists the registered action types.
func (r *Registry) Types() []types.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ActionType, 0, len(r.strategies))
	for t := range r.strategies {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
