// Package datasets holds the named reference curves shipped with the
// simulator. The registry is an explicit object handed to whoever needs it,
// populated once at startup and never mutated afterwards; there are no
// package-level lookup tables.
package datasets

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/pushbroom-simulator/model"
)

// Registry is an in-memory, thread-safe store of named quantum-efficiency
// curves.
type Registry struct {
	mu sync.RWMutex
	qe map[string]model.Curve
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{qe: make(map[string]model.Curve)}
}

// AddQE registers a quantum-efficiency curve under name. It returns an error
// if the name is already taken or the curve is malformed.
func (r *Registry) AddQE(name string, c model.Curve) error {
	if name == "" {
		return fmt.Errorf("empty dataset name")
	}
	if len(c.Wavelengths) == 0 || len(c.Wavelengths) != len(c.Values) {
		return fmt.Errorf("dataset %q: wavelength/value length mismatch (%d vs %d)",
			name, len(c.Wavelengths), len(c.Values))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.qe[name]; exists {
		return fmt.Errorf("dataset %q already exists", name)
	}
	r.qe[name] = c
	return nil
}

// QE returns the named quantum-efficiency curve.
func (r *Registry) QE(name string) (model.Curve, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.qe[name]
	return c, ok
}

// Names lists all registered dataset names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.qe))
	for name := range r.qe {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Default returns a registry seeded with the curves the simulator ships:
// representative back-illuminated TDI CMOS and deep-depletion CCD quantum
// efficiencies sampled over the 400-1000 nm working range.
func Default() *Registry {
	r := NewRegistry()

	grid := func(vals []float64) model.Curve {
		wl := make([]float64, len(vals))
		for i := range wl {
			wl[i] = 400 + 50*float64(i)
		}
		return model.Curve{Wavelengths: wl, Values: vals}
	}

	// 400..1000 nm at 50 nm steps.
	mustAdd(r, "TDI_QE_BACK", grid([]float64{
		0.52, 0.68, 0.79, 0.85, 0.84, 0.80, 0.72, 0.61, 0.48, 0.34, 0.21, 0.11, 0.05,
	}))
	mustAdd(r, "CCD_QE_DD_BACK", grid([]float64{
		0.45, 0.62, 0.75, 0.88, 0.92, 0.93, 0.91, 0.86, 0.78, 0.65, 0.48, 0.30, 0.15,
	}))

	return r
}

func mustAdd(r *Registry, name string, c model.Curve) {
	if err := r.AddQE(name, c); err != nil {
		// Default() only ever registers distinct literal names.
		panic(err)
	}
}
