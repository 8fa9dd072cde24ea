// Package datasets loads and strictly validates the on-disk brand dataset
// packs (manifest + adaptations + long-coding JSON files) described in
//, grounded on the Python original's core/datasets/{models,loader}.py.
package datasets

// AdaptKind is the typed value kind of an adaptation setting.
type AdaptKind string

const (
	AdaptKindBool AdaptKind = "bool"
	AdaptKindU8 AdaptKind = "u8"
	AdaptKindU16 AdaptKind = "u16"
	AdaptKindI16 AdaptKind = "i16"
	AdaptKindEnum AdaptKind = "enum"
	AdaptKindBytes AdaptKind = "bytes"
)

// AdaptRisk gates which write mode a setting may be written under.
type AdaptRisk string

const (
	RiskSafe AdaptRisk = "safe"
	RiskRisky AdaptRisk = "risky"
	RiskUnsafe AdaptRisk = "unsafe"
)

// LongCodingKind is the typed value kind of a long-coding bit field.
type LongCodingKind string

const (
	LongCodingKindBool LongCodingKind = "bool"
	LongCodingKindU8 LongCodingKind = "u8"
	LongCodingKindEnum LongCodingKind = "enum"
)

// Manifest is a brand dataset pack's manifest.json.
type Manifest struct {
	Brand string
	Version string
	Type string // must be "datasets"
	Notes string // optional
}

// RwRef is the {service:"did", id:u16} read/write reference a setting
// resolves through.
type RwRef struct {
	Service string
	ID uint16
}

// AdaptSettingSpec is one entry in an adaptations/<ecu>.json profile.
type AdaptSettingSpec struct {
	Key string
	Label string
	Kind AdaptKind
	Read RwRef
	Write RwRef
	Risk AdaptRisk
	Notes string
	NeedsSecurityAccess bool
	Enum map[string]string // decimal-string -> label, only for kind=enum
}

// AdaptationsProfile is one ecu's adaptations/<ecu>.json.
type AdaptationsProfile struct {
	ECU string
	ECUName string
	Settings []AdaptSettingSpec
}

// LongCodingFieldSpec is one bit-field within a longcoding/<ecu>.json
// profile. Must satisfy Bit+Len <= 8.
type LongCodingFieldSpec struct {
	Key string
	Label string
	Kind LongCodingKind
	Risk AdaptRisk
	Byte uint16
	Bit uint8
	Len uint8
	Enum map[string]string
	NeedsSecurityAccess bool
}

// LongCodingProfile is one ecu's longcoding/<ecu>.json.
type LongCodingProfile struct {
	ECU string
	ECUName string
	DID uint16
	CodingLength uint16
	Fields []LongCodingFieldSpec
}
