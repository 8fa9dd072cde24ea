// Package addr derives the CAN arbitration ids used for UDS diagnostics
// from an ECU address and addressing mode, per ISO 15765-4 normal-fixed
// addressing. uds.Client and topology both need this; it lives here so
// neither imports the other.
package addr

import "fmt"

// Mode is the CAN identifier width used for diagnostic addressing.
type Mode string

const (
	Mode11Bit Mode = "11bit"
	Mode29Bit Mode = "29bit"
)

// TesterSourceAddress29 is the fixed tester source address (SA) used in
// 29-bit normal-fixed addressing.
const TesterSourceAddress29 = 0xF1

// Functional broadcast ids for DiagnosticSessionControl-style probes.
const (
	FunctionalID11 uint32 = 0x7DF
	FunctionalID29 uint32 = 0x18DB33F1
)

// MaxECU11Bit is the highest ECU address representable in 11-bit mode
// (rx = 0x7E8+e must stay within the 11-bit id space, which ends at 0x7FF).
const MaxECU11Bit = 0x17

// IDs returns the (tx, rx) CAN ids the tester uses to address ecu in the
// given mode.
func IDs(ecu uint8, mode Mode) (tx, rx uint32, err error) {
	switch mode {
	case Mode11Bit:
		if ecu > MaxECU11Bit {
			return 0, 0, fmt.Errorf("addr: ecu %02X out of range for 11-bit addressing (00..%02X)", ecu, MaxECU11Bit)
		}
		return 0x7E0 + uint32(ecu), 0x7E8 + uint32(ecu), nil
	case Mode29Bit:
		tx = 0x18DA0000 | (uint32(ecu) << 8) | TesterSourceAddress29
		rx = 0x18DA0000 | (uint32(TesterSourceAddress29) << 8) | uint32(ecu)
		return tx, rx, nil
	default:
		return 0, 0, fmt.Errorf("addr: unknown can id mode %q", mode)
	}
}

// FunctionalID returns the broadcast id used to probe all ECUs at once.
func FunctionalID(mode Mode) (uint32, error) {
	switch mode {
	case Mode11Bit:
		return FunctionalID11, nil
	case Mode29Bit:
		return FunctionalID29, nil
	default:
		return 0, fmt.Errorf("addr: unknown can id mode %q", mode)
	}
}

// ECUFromResponseID infers the responding ECU's address from an inbound
// arbitration id, per the mode's response-id convention. ok is false if id
// does not match the mode's response pattern.
func ECUFromResponseID(id uint32, mode Mode) (ecu uint8, ok bool) {
	switch mode {
	case Mode11Bit:
		if id < 0x7E8 || id > 0x7E8+MaxECU11Bit {
			return 0, false
		}
		return uint8(id - 0x7E8), true
	case Mode29Bit:
		if id&0x1FFFFF00 != 0x18DAF100 {
			return 0, false
		}
		return uint8(id & 0xFF), true
	default:
		return 0, false
	}
}

// FormatECU renders an ECU address as uppercase 2-hex, the canonical
// textual form used throughout the external interfaces.
func FormatECU(ecu uint8) string {
	return fmt.Sprintf("%02X", ecu)
}

// ParseECU parses a 2-hex ECU address (case-insensitive, optional "0x"
// prefix), validating it fits a byte.
func ParseECU(s string) (uint8, error) {
	v, err := parseHexByte(s)
	if err != nil {
		return 0, fmt.Errorf("addr: invalid ecu %q: %w", s, err)
	}
	return v, nil
}

func parseHexByte(s string) (uint8, error) {
	if len(s) >= 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		s = s[2:]
	}
	if len(s) == 0 || len(s) > 2 {
		return 0, fmt.Errorf("expected 1-2 hex digits")
	}
	var v uint64
	for _, c := range s {
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint64(c-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hex digit %q", c)
		}
		v = v*16 + d
	}
	return uint8(v), nil
}
