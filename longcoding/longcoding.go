// Package longcoding implements the bit-field long-coding engine: reading and writing individual fields packed within a single
// DID's byte array, grounded on the Python original's
// core/uds/longcoding.py. Unlike adaptations, safe mode is read-only here:
// a long-coding byte array mixes fields of varying risk, so no mode short
// of advanced may write any of it.
package longcoding

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"candiag/backup"
	"candiag/datasets"
)

// DIDClient is the subset of uds.Client the long-coding engine needs.
type DIDClient interface {
	ReadDataByIdentifier(ctx context.Context, did uint16) ([]byte, error)
	WriteDataByIdentifier(ctx context.Context, did uint16, value []byte) error
}

// Mode mirrors adaptations.Mode; duplicated rather than imported to keep
// the two engines independently gateable.
type Mode string

const (
	ModeSafe Mode = "safe"
	ModeAdvanced Mode = "advanced"
	ModeUnsafe Mode = "unsafe"
)

// Error is the long-coding error family.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "longcoding: " + e.Msg }

// FieldValue is a decoded field: raw numeric value plus, for enum fields,
// its label.
type FieldValue struct {
	Key string
	Raw uint8
	Value string
}

// WriteReport is the result of a successful field write, including whether
// the readback differs from the value that was written.
type WriteReport struct {
	BackupID string
	Old FieldValue
	New FieldValue
	Changed bool
}

// Manager holds loaded per-ECU long-coding profiles and the shared backup
// store.
type Manager struct {
	profiles map[string]*datasets.LongCodingProfile
	store *backup.Store
}

// NewManager builds a Manager backed by store.
func NewManager(store *backup.Store) *Manager {
	return &Manager{profiles: make(map[string]*datasets.LongCodingProfile), store: store}
}

// LoadProfile registers ecu's long-coding profile.
func (m *Manager) LoadProfile(ecu string, profile *datasets.LongCodingProfile) {
	m.profiles[strings.ToUpper(ecu)] = profile
}

func (m *Manager) profileFor(ecu string) (*datasets.LongCodingProfile, error) {
	p, ok := m.profiles[strings.ToUpper(ecu)]
	if !ok {
		return nil, &Error{Msg: fmt.Sprintf("no long-coding profile loaded for ecu %s", ecu)}
	}
	return p, nil
}

// ListFields returns the fields known for ecu.
func (m *Manager) ListFields(ecu string) ([]datasets.LongCodingFieldSpec, error) {
	p, err := m.profileFor(ecu)
	if err != nil {
		return nil, err
	}
	return p.Fields, nil
}

func (m *Manager) fieldFor(ecu, key string) (*datasets.LongCodingProfile, *datasets.LongCodingFieldSpec, error) {
	p, err := m.profileFor(ecu)
	if err != nil {
		return nil, nil, err
	}
	for i := range p.Fields {
		if p.Fields[i].Key == key {
			return p, &p.Fields[i], nil
		}
	}
	return nil, nil, &Error{Msg: fmt.Sprintf("unknown long-coding field %q for ecu %s", key, ecu)}
}

// enforceMode validates the write-mode gate: safe may never write
// long-coding fields regardless of field risk; advanced allows safe|risky;
// unsafe allows any risk.
func enforceMode(mode Mode, risk datasets.AdaptRisk) error {
	switch mode {
	case ModeSafe:
		return &Error{Msg: "mode safe is read-only for long-coding fields"}
	case ModeAdvanced:
		if risk == datasets.RiskUnsafe {
			return &Error{Msg: "mode advanced cannot write risk=unsafe fields"}
		}
	case ModeUnsafe:
		// any risk permitted
	default:
		return &Error{Msg: fmt.Sprintf("unknown mode %q", mode)}
	}
	return nil
}

// extractBits pulls spec.Len bits starting at spec.Bit out of coding[spec.Byte].
func extractBits(coding []byte, spec datasets.LongCodingFieldSpec) (uint8, error) {
	if int(spec.Byte) >= len(coding) {
		return 0, &Error{Msg: fmt.Sprintf("field %q byte offset %d out of range (coding length %d)", spec.Key, spec.Byte, len(coding))}
	}
	mask := uint8((1 << spec.Len) - 1)
	return (coding[spec.Byte] >> spec.Bit) & mask, nil
}

// packBits returns coding with spec.Len bits starting at spec.Bit in
// coding[spec.Byte] replaced by value's low spec.Len bits.
func packBits(coding []byte, spec datasets.LongCodingFieldSpec, value uint8) ([]byte, error) {
	if int(spec.Byte) >= len(coding) {
		return nil, &Error{Msg: fmt.Sprintf("field %q byte offset %d out of range (coding length %d)", spec.Key, spec.Byte, len(coding))}
	}
	mask := uint8((1 << spec.Len) - 1)
	if value > mask {
		return nil, &Error{Msg: fmt.Sprintf("value %d does not fit in %d bits for field %q", value, spec.Len, spec.Key)}
	}
	out := append([]byte(nil), coding...)
	out[spec.Byte] = (out[spec.Byte] &^ (mask << spec.Bit)) | (value << spec.Bit)
	return out, nil
}

func decodeField(spec datasets.LongCodingFieldSpec, raw uint8) FieldValue {
	fv := FieldValue{Key: spec.Key, Raw: raw}
	switch spec.Kind {
	case datasets.LongCodingKindBool:
		fv.Value = strconv.FormatBool(raw != 0)
	case datasets.LongCodingKindEnum:
		if label, ok := spec.Enum[strconv.Itoa(int(raw))]; ok {
			fv.Value = label
		} else {
			fv.Value = strconv.Itoa(int(raw))
		}
	default:
		fv.Value = strconv.Itoa(int(raw))
	}
	return fv
}

func encodeField(spec datasets.LongCodingFieldSpec, value string) (uint8, error) {
	switch spec.Kind {
	case datasets.LongCodingKindBool:
		switch strings.ToLower(value) {
		case "true", "1":
			return 1, nil
		case "false", "0":
			return 0, nil
		default:
			return 0, &Error{Msg: fmt.Sprintf("invalid bool value %q for field %q", value, spec.Key)}
		}
	case datasets.LongCodingKindU8:
		v, err := strconv.ParseUint(value, 10, 8)
		if err != nil {
			return 0, &Error{Msg: fmt.Sprintf("invalid u8 value %q for field %q: %v", value, spec.Key, err)}
		}
		return uint8(v), nil
	case datasets.LongCodingKindEnum:
		if v, err := strconv.ParseUint(value, 10, 8); err == nil {
			if _, ok := spec.Enum[strconv.FormatUint(v, 10)]; ok {
				return uint8(v), nil
			}
		}
		lower := strings.ToLower(value)
		for dec, label := range spec.Enum {
			if strings.ToLower(label) == lower {
				v, err := strconv.ParseUint(dec, 10, 8)
				if err != nil {
					continue
				}
				return uint8(v), nil
			}
		}
		return 0, &Error{Msg: fmt.Sprintf("unknown enum value %q for field %q", value, spec.Key)}
	default:
		return 0, &Error{Msg: fmt.Sprintf("unknown kind %q", spec.Kind)}
	}
}

// ReadField reads the whole coding DID and decodes a single field from it.
func (m *Manager) ReadField(ctx context.Context, client DIDClient, ecu, key string) (FieldValue, error) {
	p, spec, err := m.fieldFor(ecu, key)
	if err != nil {
		return FieldValue{}, err
	}
	coding, err := client.ReadDataByIdentifier(ctx, p.DID)
	if err != nil {
		return FieldValue{}, err
	}
	raw, err := extractBits(coding, *spec)
	if err != nil {
		return FieldValue{}, err
	}
	return decodeField(*spec, raw), nil
}

// WriteField runs the long-coding write sequence: resolve, enforce
// mode, read whole coding array, pack new field value in, backup the full
// array, write it back, read back and report whether the field's readback
// value differs from the value that was written.
func (m *Manager) WriteField(ctx context.Context, client DIDClient, ecu, key, newValue string, mode Mode) (*WriteReport, error) {
	p, spec, err := m.fieldFor(ecu, key)
	if err != nil {
		return nil, err
	}
	if err := enforceMode(mode, spec.Risk); err != nil {
		return nil, err
	}

	oldCoding, err := client.ReadDataByIdentifier(ctx, p.DID)
	if err != nil {
		return nil, err
	}
	oldRaw, err := extractBits(oldCoding, *spec)
	if err != nil {
		return nil, err
	}

	newRawVal, err := encodeField(*spec, newValue)
	if err != nil {
		return nil, err
	}
	newCoding, err := packBits(oldCoding, *spec, newRawVal)
	if err != nil {
		return nil, err
	}

	rec, err := m.store.CreateWriteBackup(strings.ToUpper(ecu), p.DID, key, hex.EncodeToString(oldCoding), hex.EncodeToString(newCoding))
	if err != nil {
		return nil, fmt.Errorf("longcoding: creating backup: %w", err)
	}

	if err := client.WriteDataByIdentifier(ctx, p.DID, newCoding); err != nil {
		return nil, err
	}

	readbackCoding, err := client.ReadDataByIdentifier(ctx, p.DID)
	if err != nil {
		return nil, err
	}
	readbackRaw, err := extractBits(readbackCoding, *spec)
	if err != nil {
		return nil, err
	}

	return &WriteReport{
		BackupID: rec.BackupID,
		Old: decodeField(*spec, oldRaw),
		New: decodeField(*spec, readbackRaw),
		Changed: readbackRaw != newRawVal,
	}, nil
}

// WriteRaw bypasses the dataset and writes the entire coding DID's raw
// bytes directly. Requires mode=unsafe.
func (m *Manager) WriteRaw(ctx context.Context, client DIDClient, ecu string, rawHex string, mode Mode) (string, error) {
	if mode != ModeUnsafe {
		return "", &Error{Msg: "write_coding_raw requires unsafe mode"}
	}
	p, err := m.profileFor(ecu)
	if err != nil {
		return "", err
	}
	newCoding, err := parseHexBytes(rawHex)
	if err != nil {
		return "", err
	}
	oldCoding, err := client.ReadDataByIdentifier(ctx, p.DID)
	if err != nil {
		return "", err
	}
	rec, err := m.store.CreateWriteBackup(strings.ToUpper(ecu), p.DID, "", hex.EncodeToString(oldCoding), hex.EncodeToString(newCoding))
	if err != nil {
		return "", fmt.Errorf("longcoding: creating backup: %w", err)
	}
	if err := client.WriteDataByIdentifier(ctx, p.DID, newCoding); err != nil {
		return "", err
	}
	return rec.BackupID, nil
}

func parseHexBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 != 0 {
		return nil, &Error{Msg: fmt.Sprintf("hex string %q has odd length", s)}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &Error{Msg: fmt.Sprintf("invalid hex string %q: %v", s, err)}
	}
	return b, nil
}
