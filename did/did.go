// Package did implements the DID (data identifier) registry and typed
// decoding of 0x22 read responses, grounded on the Python original's
// core/uds/did.py.
package did

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the wire encoding of a DID's value.
type Kind string

const (
	KindASCII Kind = "ascii"
	KindU16BE Kind = "u16be"
	KindU32BE Kind = "u32be"
	KindBytes Kind = "bytes"
)

// Spec describes one registered DID. Scale of 1.0 decodes to an integer
// value; any other scale decodes to a float.
type Spec struct {
	DID uint16
	Name string
	Kind Kind
	Scale float64
	Unit string
}

// Registry is an immutable DID table, built once and shared freely across
// goroutines (dataset/registry caches are read-only after load).
type Registry struct {
	specs map[uint16]Spec
}

// DefaultRegistry returns the built-in DID table: VIN, ECU part number, and
// the RPM/vehicle-speed/coolant-temperature DIDs used by freeze-frame
// snapshot decoding.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Spec{DID: 0xF190, Name: "VIN", Kind: KindASCII, Scale: 1.0})
	r.Register(Spec{DID: 0xF187, Name: "ECU Part Number", Kind: KindASCII, Scale: 1.0})
	r.Register(Spec{DID: 0x1234, Name: "Engine RPM", Kind: KindU16BE, Scale: 1.0, Unit: "rpm"})
	r.Register(Spec{DID: 0x1235, Name: "Vehicle Speed", Kind: KindU16BE, Scale: 1.0, Unit: "km/h"})
	r.Register(Spec{DID: 0x1236, Name: "Coolant Temperature", Kind: KindU16BE, Scale: 1.0, Unit: "C"})
	return r
}

// NewRegistry returns an empty registry; callers build it up with Register
// before treating it as immutable.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[uint16]Spec)}
}

// Register adds or overwrites a DID spec. Intended only during setup,
// before the registry is shared across goroutines.
func (r *Registry) Register(spec Spec) {
	r.specs[spec.DID] = spec
}

// Lookup returns the spec for did, if registered.
func (r *Registry) Lookup(did uint16) (Spec, bool) {
	s, ok := r.specs[did]
	return s, ok
}

// ErrUnknownDID is returned by Decode/Spec-dependent operations for an
// unregistered DID.
type ErrUnknownDID struct{ DID uint16 }

func (e *ErrUnknownDID) Error() string { return fmt.Sprintf("did: unknown did 0x%04X", e.DID) }

// Value is the decoded value of a DID read: exactly one of Int, Float, or
// Str is meaningful, selected by the spec's kind/scale.
type Value struct {
	Int int64
	Float float64
	Str string
	IsStr bool
	IsInt bool
}

// Decode applies spec.Kind (and Scale, for numeric kinds) to raw bytes.
func Decode(spec Spec, raw []byte) (Value, error) {
	switch spec.Kind {
	case KindASCII:
		return Value{Str: strings.TrimRight(string(raw), "\x00"), IsStr: true}, nil
	case KindU16BE:
		if len(raw) < 2 {
			return Value{}, fmt.Errorf("did: u16be value too short (%d bytes)", len(raw))
		}
		return decodeScaled(float64(binary.BigEndian.Uint16(raw)), spec.Scale), nil
	case KindU32BE:
		if len(raw) < 4 {
			return Value{}, fmt.Errorf("did: u32be value too short (%d bytes)", len(raw))
		}
		return decodeScaled(float64(binary.BigEndian.Uint32(raw)), spec.Scale), nil
	case KindBytes:
		return Value{Str: fmt.Sprintf("% X", raw), IsStr: true}, nil
	default:
		return Value{}, fmt.Errorf("did: unknown kind %q", spec.Kind)
	}
}

func decodeScaled(raw float64, scale float64) Value {
	if scale == 0 {
		scale = 1.0
	}
	if scale == 1.0 {
		return Value{Int: int64(raw), IsInt: true}
	}
	return Value{Float: raw * scale}
}

// ParseDID parses a DID given as a hex string (optional "0x" prefix),
// accepting the full 16-bit range.
func ParseDID(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("did: invalid did %q: %w", s, err)
	}
	return uint16(v), nil
}

// FormatDID renders a DID as uppercase 4-hex, the external-interface form.
func FormatDID(did uint16) string {
	return fmt.Sprintf("%04X", did)
}
