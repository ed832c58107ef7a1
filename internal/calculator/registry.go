package calculator

import (
	"fmt"
	"strings"
)

var constructors = map[ID]func() Calculator{
	Price:            func() Calculator { return NewPrice() },
	Volume:           func() Calculator { return NewVolume() },
	Return:           func() Calculator { return NewReturn() },
	PriceDiff:        func() Calculator { return NewPriceDiff() },
	VolumeDiff:       func() Calculator { return NewVolumeDiff() },
	Return30d:        func() Calculator { return NewReturn30d() },
	MovingAverage30d: func() Calculator { return NewMovingAverage30d() },
	RSI:              func() Calculator { return NewRSI() },
	BTCCorrelation:   func() Calculator { return NewBTCCorrelation() },
	ETHCorrelation:   func() Calculator { return NewETHCorrelation() },
	Autocorrelation:  func() Calculator { return NewAutocorrelation() },
}

// Registry holds a set of calculators in execution order: every
// calculator runs after its dependencies, fundamentals before derived
// before correlation, and registration order breaks remaining ties.
type Registry struct {
	byID  map[ID]Calculator
	order []Calculator
}

// NewRegistry validates calcs and orders them. It rejects duplicate ids,
// dependencies on calculators not in the set, and dependency cycles.
func NewRegistry(calcs ...Calculator) (*Registry, error) {
	byID := make(map[ID]Calculator, len(calcs))
	index := make(map[ID]int, len(calcs))
	for i, c := range calcs {
		if _, dup := byID[c.ID()]; dup {
			return nil, fmt.Errorf("registry: duplicate calculator %s", c.ID())
		}
		byID[c.ID()] = c
		index[c.ID()] = i
	}

	pending := make(map[ID]int, len(calcs))
	dependents := make(map[ID][]ID)
	for _, c := range calcs {
		for _, dep := range c.DependsOn() {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("registry: %s depends on unregistered %s", c.ID(), dep)
			}
			pending[c.ID()]++
			dependents[dep] = append(dependents[dep], c.ID())
		}
	}

	ready := make([]ID, 0, len(calcs))
	for _, c := range calcs {
		if pending[c.ID()] == 0 {
			ready = append(ready, c.ID())
		}
	}
	less := func(a, b ID) bool {
		ka, kb := byID[a].Kind(), byID[b].Kind()
		if ka != kb {
			return ka < kb
		}
		return index[a] < index[b]
	}

	order := make([]Calculator, 0, len(calcs))
	for len(ready) > 0 {
		best := 0
		for i := 1; i < len(ready); i++ {
			if less(ready[i], ready[best]) {
				best = i
			}
		}
		id := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		order = append(order, byID[id])
		for _, next := range dependents[id] {
			pending[next]--
			if pending[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(calcs) {
		var stuck []string
		for _, c := range calcs {
			if pending[c.ID()] > 0 {
				stuck = append(stuck, string(c.ID()))
			}
		}
		return nil, fmt.Errorf("registry: dependency cycle among %s", strings.Join(stuck, ", "))
	}
	return &Registry{byID: byID, order: order}, nil
}

// Default returns a registry with every calculator.
func Default() *Registry {
	r, err := Build(AllIDs)
	if err != nil {
		panic(err)
	}
	return r
}

// Build returns a registry for ids plus any calculators they depend on.
func Build(ids []ID) (*Registry, error) {
	var calcs []Calculator
	seen := make(map[ID]bool)
	var add func(id ID) error
	add = func(id ID) error {
		if seen[id] {
			return nil
		}
		ctor, ok := constructors[id]
		if !ok {
			return fmt.Errorf("registry: unknown calculator %q", id)
		}
		seen[id] = true
		c := ctor()
		for _, dep := range c.DependsOn() {
			if err := add(dep); err != nil {
				return err
			}
		}
		calcs = append(calcs, c)
		return nil
	}
	for _, id := range ids {
		if err := add(id); err != nil {
			return nil, err
		}
	}
	return NewRegistry(calcs...)
}

// Order returns the calculators in execution order.
func (r *Registry) Order() []Calculator {
	out := make([]Calculator, len(r.order))
	copy(out, r.order)
	return out
}

// IDs returns the calculator ids in execution order.
func (r *Registry) IDs() []ID {
	out := make([]ID, len(r.order))
	for i, c := range r.order {
		out[i] = c.ID()
	}
	return out
}

// Get returns the calculator registered under id.
func (r *Registry) Get(id ID) (Calculator, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// Len returns the number of calculators.
func (r *Registry) Len() int { return len(r.order) }
