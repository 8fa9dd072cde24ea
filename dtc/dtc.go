// Package dtc implements the diagnostic trouble code codec: 24-bit raw
// code plus status byte, SAE-style formatting, and severity/status
// classification. Grounded on the Python original's core/dtc/{format,status,
// decode}.py, replacing husk's static string-keyed dtcMap (uds/dtcs.go)
// with a structural encode/decode covering the full SAE DTC/status space.
package dtc

import "fmt"

// prefixes maps the top 2 bits of the lower 16 bits of a DTC code to its
// SAE letter.
var prefixes = [4]byte{'P', 'C', 'B', 'U'}

// prefixIndex is the inverse of prefixes, used by Decode.
var prefixIndex = map[byte]uint16{'P': 0, 'C': 1, 'B': 2, 'U': 3}

// Code is a DTC's raw 24-bit code plus its 8-bit status byte.
type Code struct {
	Raw24 uint32
	StatusByte byte
}

// StatusFlags names the 8 status-byte bits.
type StatusFlags struct {
	TestFailed bool
	TestFailedThisOperationCycle bool
	PendingDTC bool
	ConfirmedDTC bool
	TestNotCompletedSinceLastClear bool
	TestFailedSinceLastClear bool
	TestNotCompletedThisOperationCycle bool
	WarningIndicatorRequested bool
}

// DecodeStatusByte splits a status byte into its named flags.
func DecodeStatusByte(b byte) StatusFlags {
	return StatusFlags{
		TestFailed: b&(1<<0) != 0,
		TestFailedThisOperationCycle: b&(1<<1) != 0,
		PendingDTC: b&(1<<2) != 0,
		ConfirmedDTC: b&(1<<3) != 0,
		TestNotCompletedSinceLastClear: b&(1<<4) != 0,
		TestFailedSinceLastClear: b&(1<<5) != 0,
		TestNotCompletedThisOperationCycle: b&(1<<6) != 0,
		WarningIndicatorRequested: b&(1<<7) != 0,
	}
}

// Format renders the lower 16 bits of code24 as the SAE-style string
// `[PCBU][0-3][0-9A-F]{3}`.
func Format(code24 uint32) string {
	code16 := uint16(code24 & 0xFFFF)
	prefix := prefixes[(code16>>14)&0x3]
	digit := (code16 >> 12) & 0x3
	return fmt.Sprintf("%c%d%03X", prefix, digit, code16&0x0FFF)
}

// Parse is the inverse of Format on the lower 16 bits: given a string
// matching `[PCBU][0-3][0-9A-F]{3}`, returns the 16-bit code it encodes.
func Parse(s string) (uint16, error) {
	if len(s) != 5 {
		return 0, fmt.Errorf("dtc: malformed code %q", s)
	}
	idx, ok := prefixIndex[s[0]]
	if !ok {
		return 0, fmt.Errorf("dtc: unknown prefix %q", s[0])
	}
	var digit uint16
	if s[1] < '0' || s[1] > '3' {
		return 0, fmt.Errorf("dtc: invalid first digit %q", s[1])
	}
	digit = uint16(s[1] - '0')
	var rest uint16
	if _, err := fmt.Sscanf(s[2:], "%03X", &rest); err != nil {
		return 0, fmt.Errorf("dtc: invalid hex suffix %q: %w", s[2:], err)
	}
	return (idx << 14) | (digit << 12) | (rest & 0x0FFF), nil
}

// RawHex renders the full 24-bit code as 6 uppercase hex digits.
func RawHex(code24 uint32) string {
	return fmt.Sprintf("%06X", code24&0xFFFFFF)
}

// StatusLabel classifies a DTC's lifecycle state: active if test
// failed or confirmed; else pending if the pending bit is set; else
// stored.
func StatusLabel(flags StatusFlags) string {
	if flags.TestFailed || flags.ConfirmedDTC {
		return "active"
	}
	if flags.PendingDTC {
		return "pending"
	}
	return "stored"
}

// Severity classifies a DTC: critical if the MIL-requested bit is
// set; else warning for U-codes or P0-prefixed confirmed codes; else info.
func Severity(code16 uint16, flags StatusFlags) string {
	if flags.WarningIndicatorRequested {
		return "critical"
	}
	formatted := Format(uint32(code16))
	if formatted[0] == 'U' {
		return "warning"
	}
	if formatted[0] == 'P' && formatted[1] == '0' && flags.ConfirmedDTC {
		return "warning"
	}
	return "info"
}

// Decoded is the full decoded shape used by the read-DTCs response.
type Decoded struct {
	Code string
	Status string
	Severity string
	Raw string
	StatusByte byte
	Flags StatusFlags
}

// Decode builds the full Decoded shape for one DTC triple.
func Decode(hi, lo, statusByte byte) Decoded {
	code16 := uint16(hi)<<8 | uint16(lo)
	flags := DecodeStatusByte(statusByte)
	return Decoded{
		Code: Format(uint32(code16)),
		Status: StatusLabel(flags),
		Severity: Severity(code16, flags),
		Raw: RawHex(uint32(code16)),
		StatusByte: statusByte,
		Flags: flags,
	}
}
