// Package brands implements the brand registry capability pattern: a
// uniform BrandModule interface, tried brand-specific-first then generic,
// rather than the Python original's runtime __getattr__ dynamic dispatch
// (core/dtc/registry.py).
package brands

// BrandModule is the capability set a brand can implement. Both methods
// return ok=false when the brand has no answer, letting composition fall
// through to the next module.
type BrandModule interface {
	// Describe returns a human description for a DTC code (e.g. "P0300"),
	// if this brand's dataset covers it.
	Describe(code string) (string, bool)
	// ECUName returns a friendly name for an ECU address, if known.
	ECUName(ecu uint8) (string, bool)
}

// Generic is the always-present fallback brand module; it knows nothing,
// so every lookup misses. It exists so composition always has a last
// resort to fall through to, matching the Python original's GenericBrand.
type Generic struct{}

func (Generic) Describe(code string) (string, bool) { return "", false }
func (Generic) ECUName(ecu uint8) (string, bool) { return "", false }

// Registry composes a brand-specific module (optional) with Generic,
// trying brand-specific first.
type Registry struct {
	brand BrandModule
	generic BrandModule
}

// NewRegistry builds a Registry. brand may be nil, in which case only the
// generic module answers.
func NewRegistry(brand BrandModule) *Registry {
	return &Registry{brand: brand, generic: Generic{}}
}

// Describe tries the brand-specific module, then generic.
func (r *Registry) Describe(code string) (string, bool) {
	if r.brand != nil {
		if s, ok := r.brand.Describe(code); ok {
			return s, true
		}
	}
	return r.generic.Describe(code)
}

// ECUName tries the brand-specific module, then generic.
func (r *Registry) ECUName(ecu uint8) (string, bool) {
	if r.brand != nil {
		if s, ok := r.brand.ECUName(ecu); ok {
			return s, true
		}
	}
	return r.generic.ECUName(ecu)
}
