// Package uds implements the UDS (ISO 14229-1) request/response layer on
// top of isotp.Transport: service/subfunction/NRC tables and the Client
// that derives tx/rx addressing and handles P2/P2* timing, pending
// responses and negative responses. Adapted from husk/uds/message.go.
package uds

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// NegativeResponseByte is the SID prefix of every negative response.
	NegativeResponseByte byte = 0x7F
	// PositiveResponseServiceIDOffset is added to a request SID to form
	// the positive response SID.
	PositiveResponseServiceIDOffset byte = 0x40
)

// Message represents a decoded UDS request or response.
type Message struct {
	ServiceID   byte
	Subfunction *byte
	NRC         *byte
	Data        []byte
	IsResponse  bool
	IsPositive  bool
}

// RawDataToMessage decodes a raw ISO-TP payload into a Message.
func RawDataToMessage(rawData []byte, isResponse bool) (*Message, error) {
	if len(rawData) == 0 {
		return nil, fmt.Errorf("uds: empty message")
	}

	if !isResponse {
		m := &Message{ServiceID: rawData[0], Data: rawData[1:]}
		if len(rawData) > 1 {
			sf := rawData[1]
			m.Subfunction = &sf
		}
		return m, nil
	}

	if rawData[0] == NegativeResponseByte {
		if len(rawData) < 3 {
			return nil, fmt.Errorf("uds: negative response too short")
		}
		nrc := rawData[2]
		return &Message{
			ServiceID:  rawData[1],
			NRC:        &nrc,
			Data:       rawData[3:],
			IsResponse: true,
			IsPositive: false,
		}, nil
	}

	sid := rawData[0] - PositiveResponseServiceIDOffset
	m := &Message{ServiceID: sid, Data: rawData[1:], IsResponse: true, IsPositive: true}
	if len(rawData) > 1 {
		sf := rawData[1]
		m.Subfunction = &sf
	}
	return m, nil
}

// ToRawData encodes the message back to a raw ISO-TP payload.
func (m *Message) ToRawData() []byte {
	var raw []byte
	if !m.IsResponse {
		raw = append(raw, m.ServiceID)
		if m.Subfunction != nil {
			raw = append(raw, *m.Subfunction)
		}
		return append(raw, m.Data...)
	}
	if m.IsPositive {
		raw = append(raw, m.ServiceID+PositiveResponseServiceIDOffset)
		return append(raw, m.Data...)
	}
	raw = append(raw, NegativeResponseByte, m.ServiceID)
	if m.NRC != nil {
		raw = append(raw, *m.NRC)
	}
	return append(raw, m.Data...)
}

func (m *Message) String() string {
	dataStr := strings.TrimSpace(fmt.Sprintf("% X", m.Data))
	if dataStr == "" {
		dataStr = "N/A"
	}
	if !m.IsResponse {
		return fmt.Sprintf("Request: service=%s subfunction=%s data=%s", m.ServiceLabel(), m.SubfunctionLabel(), dataStr)
	}
	if m.IsPositive {
		return fmt.Sprintf("Response: service=%s subfunction=%s data=%s", m.ServiceLabel(), m.SubfunctionLabel(), dataStr)
	}
	return fmt.Sprintf("Negative response: service=%s nrc=%s", m.ServiceLabel(), m.NRCLabel())
}

// ASCIIRepresentation returns the printable-ASCII rendering of the
// message's data, used for log lines.
func (m *Message) ASCIIRepresentation() string {
	var b strings.Builder
	for _, c := range m.Data {
		if unicode.IsPrint(rune(c)) {
			b.WriteByte(c)
		}
	}
	if b.Len() == 0 {
		return "N/A"
	}
	return b.String()
}
