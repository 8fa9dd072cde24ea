package uds

import "fmt"

// UDS service IDs (ISO 14229-1) used by this stack.
const (
	ServiceDiagnosticSessionControl   byte = 0x10
	ServiceClearDiagnosticInformation byte = 0x14
	ServiceReadDTCInformation         byte = 0x19
	ServiceReadDataByIdentifier       byte = 0x22
	ServiceSecurityAccess             byte = 0x27
	ServiceWriteDataByIdentifier      byte = 0x2E
	ServiceTesterPresent              byte = 0x3E
)

var serviceIDNames = map[byte]string{
	ServiceDiagnosticSessionControl:   "Diagnostic Session Control",
	ServiceClearDiagnosticInformation: "Clear Diagnostic Information",
	ServiceReadDTCInformation:         "Read DTC Information",
	ServiceReadDataByIdentifier:       "Read Data By Identifier",
	ServiceSecurityAccess:             "Security Access",
	ServiceWriteDataByIdentifier:      "Write Data By Identifier",
	ServiceTesterPresent:              "Tester Present",
}

// ServiceLabel returns a readable service name, falling back to the raw
// hex id if unknown.
func (m *Message) ServiceLabel() string {
	if name, ok := serviceIDNames[m.ServiceID]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", m.ServiceID)
}
