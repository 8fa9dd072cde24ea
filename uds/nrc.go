package uds

import "fmt"

// Negative response codes (ISO 14229-1), trimmed to the set this stack
// needs to name (grounded on the Python original's core/uds/nrc.py, which
// ships a similarly small authoritative subset rather than the full
// standard's table).
const (
	NRCGeneralReject byte = 0x10
	NRCServiceNotSupported byte = 0x11
	NRCSubFunctionNotSupported byte = 0x12
	NRCIncorrectMessageLengthOrInvalidFormat byte = 0x13
	NRCConditionsNotCorrect byte = 0x22
	NRCRequestSequenceError byte = 0x24
	NRCRequestOutOfRange byte = 0x31
	NRCSecurityAccessDenied byte = 0x33
	NRCInvalidKey byte = 0x35
	NRCExceededNumberOfAttempts byte = 0x36
	NRCRequiredTimeDelayNotExpired byte = 0x37
	NRCRequestCorrectlyReceivedResponsePending byte = 0x78
)

var nrcNames = map[byte]string{
	NRCGeneralReject: "generalReject",
	NRCServiceNotSupported: "serviceNotSupported",
	NRCSubFunctionNotSupported: "subFunctionNotSupported",
	NRCIncorrectMessageLengthOrInvalidFormat: "incorrectMessageLengthOrInvalidFormat",
	NRCConditionsNotCorrect: "conditionsNotCorrect",
	NRCRequestSequenceError: "requestSequenceError",
	NRCRequestOutOfRange: "requestOutOfRange",
	NRCSecurityAccessDenied: "securityAccessDenied",
	NRCInvalidKey: "invalidKey",
	NRCExceededNumberOfAttempts: "exceedNumberOfAttempts",
	NRCRequiredTimeDelayNotExpired: "requiredTimeDelayNotExpired",
	NRCRequestCorrectlyReceivedResponsePending: "requestCorrectlyReceived-ResponsePending",
}

// securityNRCs is the NRC family /call out as security-related.
var securityNRCs = map[byte]bool{
	NRCSecurityAccessDenied: true,
	NRCInvalidKey: true,
	NRCExceededNumberOfAttempts: true,
	NRCRequiredTimeDelayNotExpired: true,
}

// IsSecurityNRC reports whether nrc belongs to the security-access family.
func IsSecurityNRC(nrc byte) bool {
	return securityNRCs[nrc]
}

// NRCName returns the canonical lowerCamelCase NRC name, or the raw hex
// value if unknown.
func NRCName(nrc byte) string {
	if name, ok := nrcNames[nrc]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", nrc)
}

// NRCLabel returns the NRC name for a decoded negative response message.
func (m *Message) NRCLabel() string {
	if m.NRC == nil {
		return "N/A"
	}
	return NRCName(*m.NRC)
}
