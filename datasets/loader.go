package datasets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Error is the dataset error family: missing pack, missing directory,
// invalid JSON, validation failure.
type Error struct {
	Path string
	Msg string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "datasets: " + e.Msg
	}
	return fmt.Sprintf("datasets: %s: %s", e.Path, e.Msg)
}

// Loader resolves and loads brand dataset packs from a root directory
// (<root>/<brand>/...).
type Loader struct {
	Root string
}

// NewLoader builds a Loader rooted at root.
func NewLoader(root string) *Loader {
	return &Loader{Root: root}
}

func (l *Loader) brandDir(brand string) string {
	return filepath.Join(l.Root, brand)
}

func (l *Loader) readJSON(path string) (map[string]any, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, &Error{Path: path, Msg: "not found"}
		}
		return nil, nil, &Error{Path: path, Msg: err.Error()}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, &Error{Path: path, Msg: "invalid json: " + err.Error()}
	}
	return m, raw, nil
}

// LoadManifest loads <root>/<brand>/manifest.json and validates it.
func (l *Loader) LoadManifest(brand string) (*Manifest, error) {
	path := filepath.Join(l.brandDir(brand), "manifest.json")
	m, _, err := l.readJSON(path)
	if err != nil {
		return nil, err
	}
	if err := requireKeys(path, m, []string{"brand", "version", "type"}, []string{"notes"}); err != nil {
		return nil, err
	}
	manifest := &Manifest{}
	var ok bool
	if manifest.Brand, ok = asString(m["brand"]); !ok {
		return nil, &Error{Path: path, Msg: "brand must be a string"}
	}
	if manifest.Version, ok = asString(m["version"]); !ok {
		return nil, &Error{Path: path, Msg: "version must be a string"}
	}
	if manifest.Type, ok = asString(m["type"]); !ok || manifest.Type != "datasets" {
		return nil, &Error{Path: path, Msg: `type must be "datasets"`}
	}
	if notes, ok := m["notes"]; ok {
		manifest.Notes, _ = asString(notes)
	}
	return manifest, nil
}

// LoadAdaptationsProfile loads <root>/<brand>/adaptations/<ecu>.json.
func (l *Loader) LoadAdaptationsProfile(brand, ecu string) (*AdaptationsProfile, error) {
	path := filepath.Join(l.brandDir(brand), "adaptations", strings.ToUpper(ecu)+".json")
	m, _, err := l.readJSON(path)
	if err != nil {
		return nil, err
	}
	if err := requireKeys(path, m, []string{"ecu", "ecu_name", "settings"}, nil); err != nil {
		return nil, err
	}
	profile := &AdaptationsProfile{}
	if profile.ECU, err = requireECU(path, m["ecu"]); err != nil {
		return nil, err
	}
	if profile.ECUName, _ = asString(m["ecu_name"]); profile.ECUName == "" {
		return nil, &Error{Path: path, Msg: "ecu_name must be a non-empty string"}
	}
	settingsRaw, ok := m["settings"].([]any)
	if !ok {
		return nil, &Error{Path: path, Msg: "settings must be an array"}
	}
	for i, raw := range settingsRaw {
		sm, ok := raw.(map[string]any)
		if !ok {
			return nil, &Error{Path: path, Msg: fmt.Sprintf("settings[%d] must be an object", i)}
		}
		setting, err := parseSetting(path, sm)
		if err != nil {
			return nil, err
		}
		profile.Settings = append(profile.Settings, *setting)
	}
	return profile, nil
}

func parseSetting(path string, sm map[string]any) (*AdaptSettingSpec, error) {
	if err := requireKeys(path, sm, []string{"key", "label", "kind", "read", "write", "risk", "needs_security_access"}, []string{"notes", "enum"}); err != nil {
		return nil, err
	}
	s := &AdaptSettingSpec{}
	var ok bool
	if s.Key, ok = asString(sm["key"]); !ok || s.Key == "" {
		return nil, &Error{Path: path, Msg: "key must be a non-empty string"}
	}
	if s.Label, ok = asString(sm["label"]); !ok {
		return nil, &Error{Path: path, Msg: "label must be a string"}
	}
	if err := validateLabel(path, s.Label); err != nil {
		return nil, err
	}
	kindStr, _ := asString(sm["kind"])
	s.Kind = AdaptKind(kindStr)
	switch s.Kind {
	case AdaptKindBool, AdaptKindU8, AdaptKindU16, AdaptKindI16, AdaptKindEnum, AdaptKindBytes:
	default:
		return nil, &Error{Path: path, Msg: fmt.Sprintf("unknown adaptation kind %q", kindStr)}
	}
	var err error
	if s.Read, err = parseRwRef(path, sm["read"]); err != nil {
		return nil, err
	}
	if s.Write, err = parseRwRef(path, sm["write"]); err != nil {
		return nil, err
	}
	riskStr, _ := asString(sm["risk"])
	s.Risk = AdaptRisk(riskStr)
	switch s.Risk {
	case RiskSafe, RiskRisky, RiskUnsafe:
	default:
		return nil, &Error{Path: path, Msg: fmt.Sprintf("unknown risk %q", riskStr)}
	}
	if notes, ok := sm["notes"]; ok {
		s.Notes, _ = asString(notes)
	}
	s.NeedsSecurityAccess, _ = sm["needs_security_access"].(bool)
	if s.Kind == AdaptKindEnum {
		enumMap, ok := sm["enum"].(map[string]any)
		if !ok {
			return nil, &Error{Path: path, Msg: fmt.Sprintf("setting %q: kind=enum requires an enum map", s.Key)}
		}
		s.Enum = make(map[string]string, len(enumMap))
		for k, v := range enumMap {
			if _, err := strconv.ParseInt(k, 10, 64); err != nil {
				return nil, &Error{Path: path, Msg: fmt.Sprintf("setting %q: enum key %q must be a decimal string", s.Key, k)}
			}
			label, ok := asString(v)
			if !ok {
				return nil, &Error{Path: path, Msg: fmt.Sprintf("setting %q: enum value for %q must be a string", s.Key, k)}
			}
			s.Enum[k] = label
		}
	}
	return s, nil
}

func parseRwRef(path string, raw any) (RwRef, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return RwRef{}, &Error{Path: path, Msg: "read/write ref must be an object"}
	}
	if err := requireKeys(path, m, []string{"service", "id"}, nil); err != nil {
		return RwRef{}, err
	}
	service, ok := asString(m["service"])
	if !ok || service != "did" {
		return RwRef{}, &Error{Path: path, Msg: `read/write ref service must be "did"`}
	}
	idf, ok := m["id"].(float64)
	if !ok || idf < 0 || idf > 0xFFFF {
		return RwRef{}, &Error{Path: path, Msg: "read/write ref id must be a uint16"}
	}
	return RwRef{Service: service, ID: uint16(idf)}, nil
}

// LoadLongCodingProfile loads <root>/<brand>/longcoding/<ecu>.json.
func (l *Loader) LoadLongCodingProfile(brand, ecu string) (*LongCodingProfile, error) {
	path := filepath.Join(l.brandDir(brand), "longcoding", strings.ToUpper(ecu)+".json")
	m, _, err := l.readJSON(path)
	if err != nil {
		return nil, err
	}
	if err := requireKeys(path, m, []string{"ecu", "ecu_name", "did", "length", "fields"}, nil); err != nil {
		return nil, err
	}
	profile := &LongCodingProfile{}
	if profile.ECU, err = requireECU(path, m["ecu"]); err != nil {
		return nil, err
	}
	if profile.ECUName, _ = asString(m["ecu_name"]); profile.ECUName == "" {
		return nil, &Error{Path: path, Msg: "ecu_name must be a non-empty string"}
	}
	didStr, ok := asString(m["did"])
	if !ok || len(didStr) != 4 || didStr != strings.ToUpper(didStr) {
		return nil, &Error{Path: path, Msg: "did must be 4 uppercase hex digits"}
	}
	didVal, err := strconv.ParseUint(didStr, 16, 16)
	if err != nil {
		return nil, &Error{Path: path, Msg: "did must be valid hex"}
	}
	profile.DID = uint16(didVal)
	lengthF, ok := m["length"].(float64)
	if !ok || lengthF < 0 || lengthF > 0xFFFF {
		return nil, &Error{Path: path, Msg: "length must be a uint16"}
	}
	profile.CodingLength = uint16(lengthF)

	fieldsRaw, ok := m["fields"].([]any)
	if !ok {
		return nil, &Error{Path: path, Msg: "fields must be an array"}
	}
	for i, raw := range fieldsRaw {
		fm, ok := raw.(map[string]any)
		if !ok {
			return nil, &Error{Path: path, Msg: fmt.Sprintf("fields[%d] must be an object", i)}
		}
		field, err := parseField(path, fm)
		if err != nil {
			return nil, err
		}
		profile.Fields = append(profile.Fields, *field)
	}
	return profile, nil
}

func parseField(path string, fm map[string]any) (*LongCodingFieldSpec, error) {
	if err := requireKeys(path, fm, []string{"key", "label", "kind", "risk", "byte", "bit", "len", "needs_security_access"}, []string{"enum"}); err != nil {
		return nil, err
	}
	f := &LongCodingFieldSpec{}
	var ok bool
	if f.Key, ok = asString(fm["key"]); !ok || f.Key == "" {
		return nil, &Error{Path: path, Msg: "key must be a non-empty string"}
	}
	if f.Label, ok = asString(fm["label"]); !ok {
		return nil, &Error{Path: path, Msg: "label must be a string"}
	}
	if err := validateLabel(path, f.Label); err != nil {
		return nil, err
	}
	kindStr, _ := asString(fm["kind"])
	f.Kind = LongCodingKind(kindStr)
	switch f.Kind {
	case LongCodingKindBool, LongCodingKindU8, LongCodingKindEnum:
	default:
		return nil, &Error{Path: path, Msg: fmt.Sprintf("unknown long-coding kind %q", kindStr)}
	}
	riskStr, _ := asString(fm["risk"])
	f.Risk = AdaptRisk(riskStr)
	switch f.Risk {
	case RiskSafe, RiskRisky, RiskUnsafe:
	default:
		return nil, &Error{Path: path, Msg: fmt.Sprintf("unknown risk %q", riskStr)}
	}
	byteF, ok := fm["byte"].(float64)
	if !ok || byteF < 0 {
		return nil, &Error{Path: path, Msg: "byte must be a non-negative integer"}
	}
	f.Byte = uint16(byteF)
	bitF, ok := fm["bit"].(float64)
	if !ok || bitF < 0 || bitF > 7 {
		return nil, &Error{Path: path, Msg: "bit must be in 0..7"}
	}
	f.Bit = uint8(bitF)
	lenF, ok := fm["len"].(float64)
	if !ok || lenF < 1 || lenF > 8 {
		return nil, &Error{Path: path, Msg: "len must be in 1..8"}
	}
	f.Len = uint8(lenF)
	if int(f.Bit)+int(f.Len) > 8 {
		return nil, &Error{Path: path, Msg: fmt.Sprintf("field %q: bit+len exceeds 8 (byte-crossing fields are not supported)", f.Key)}
	}
	f.NeedsSecurityAccess, _ = fm["needs_security_access"].(bool)
	if f.Kind == LongCodingKindEnum {
		enumMap, ok := fm["enum"].(map[string]any)
		if !ok {
			return nil, &Error{Path: path, Msg: fmt.Sprintf("field %q: kind=enum requires an enum map", f.Key)}
		}
		f.Enum = make(map[string]string, len(enumMap))
		for k, v := range enumMap {
			label, ok := asString(v)
			if !ok {
				return nil, &Error{Path: path, Msg: fmt.Sprintf("field %q: enum value for %q must be a string", f.Key, k)}
			}
			f.Enum[k] = label
		}
	}
	return f, nil
}

func requireECU(path string, raw any) (string, error) {
	s, ok := asString(raw)
	if !ok || len(s) != 2 || s != strings.ToUpper(s) || !isHex(s) {
		return "", &Error{Path: path, Msg: "ecu must be exactly 2 uppercase hex digits"}
	}
	return s, nil
}

func isHex(s string) bool {
	_, err := strconv.ParseUint(s, 16, 64)
	return err == nil
}

// validateLabel enforces that descriptions must not end with .!?:;
func validateLabel(path, label string) error {
	if label == "" {
		return nil
	}
	last := label[len(label)-1]
	if strings.ContainsRune(".!?:;", rune(last)) {
		return &Error{Path: path, Msg: fmt.Sprintf("label %q must not end with punctuation", label)}
	}
	return nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// requireKeys validates m has exactly the required keys plus any subset of
// optional keys, reporting both missing and unknown (extra) keys in one
// error.
func requireKeys(path string, m map[string]any, required, optional []string) error {
	allowed := make(map[string]bool, len(required)+len(optional))
	for _, k := range required {
		allowed[k] = true
	}
	for _, k := range optional {
		allowed[k] = true
	}
	var missing []string
	for _, k := range required {
		if _, ok := m[k]; !ok {
			missing = append(missing, k)
		}
	}
	var extra []string
	for k := range m {
		if !allowed[k] {
			extra = append(extra, k)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing keys: "+strings.Join(missing, ", "))
	}
	if len(extra) > 0 {
		parts = append(parts, "unknown keys: "+strings.Join(extra, ", "))
	}
	return &Error{Path: path, Msg: strings.Join(parts, "; ")}
}
