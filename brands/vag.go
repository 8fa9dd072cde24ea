package brands

import "strings"

// VAG is a concrete BrandModule backed by static description tables,
// grounded on the Python original's core/brands/vag.py (which loads the
// same tables from JSON at startup; candiag takes them as constructor
// arguments so the brand module itself stays a pure lookup, with loading
// left to the datasets package).
type VAG struct {
	ecuNames map[uint8]string
	dtcByID  map[string]string
}

// NewVAG builds a VAG brand module from pre-loaded tables. ECU names are
// keyed by the address byte; DTC descriptions are keyed by the
// SAE-formatted string (e.g. "P0300").
func NewVAG(ecuNames map[uint8]string, dtcByCode map[string]string) *VAG {
	return &VAG{ecuNames: ecuNames, dtcByID: dtcByCode}
}

// Describe looks up a DTC description, matching case-insensitively on the
// code's letter prefix since the original data files key by uppercase.
func (v *VAG) Describe(code string) (string, bool) {
	if desc, ok := v.dtcByID[strings.ToUpper(code)]; ok {
		return desc, true
	}
	return "", false
}

// ECUName looks up a friendly ECU name.
func (v *VAG) ECUName(ecu uint8) (string, bool) {
	name, ok := v.ecuNames[ecu]
	return name, ok
}
