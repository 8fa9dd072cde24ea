package uds

import (
	"context"
	"fmt"
	"time"

	"candiag/addr"
	"candiag/canbus"
	"candiag/isotp"

	"github.com/sirupsen/logrus"
)

// Default timing: P2 bounds the first response, P2* bounds
// subsequent responses after a 0x78 (responsePending) negative response.
const (
	DefaultP2Ms = 50
	DefaultP2StarMs = 5000
)

// Client wraps an isotp.Transport for a single ECU, handling P2/P2* timing,
// responsePending absorption and NRC mapping. One Client instance owns its
// ECU's request/response exchange; do not share a CAN transport's
// underlying wire across concurrently-issued requests.
type Client struct {
	iso *isotp.Transport
	ecu uint8
	mode addr.Mode
	p2Ms int
	p2StarMs int
	log *logrus.Entry
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithP2 overrides the default P2 timeout (ms).
func WithP2(ms int) ClientOption { return func(c *Client) { c.p2Ms = ms } }

// WithP2Star overrides the default P2* timeout (ms).
func WithP2Star(ms int) ClientOption { return func(c *Client) { c.p2StarMs = ms } }

// NewClient builds a Client addressed to ecu over can using the given
// addressing mode.
func NewClient(can canbus.Transport, ecu uint8, mode addr.Mode, opts ...ClientOption) (*Client, error) {
	tx, rx, err := addr.IDs(ecu, mode)
	if err != nil {
		return nil, err
	}
	c := &Client{
		iso: isotp.New(can, tx, rx),
		ecu: ecu,
		mode: mode,
		p2Ms: DefaultP2Ms,
		p2StarMs: DefaultP2StarMs,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = logrus.WithFields(logrus.Fields{"component": "uds", "ecu": addr.FormatECU(ecu)})
	return c, nil
}

// ECU returns the address this client is bound to.
func (c *Client) ECU() uint8 { return c.ecu }

// Request sends a request (serviceID, optional subfunction, data) and
// returns the decoded response, absorbing NRC 0x78 (responsePending) by
// re-waiting up to P2* for a final response. Any other negative response
// is returned as *NegativeResponseError.
func (c *Client) Request(ctx context.Context, serviceID byte, subfunction *byte, data []byte) (*Message, error) {
	req := &Message{ServiceID: serviceID, Subfunction: subfunction, Data: data}
	if err := c.iso.Send(ctx, req.ToRawData(), time.Now().Add(time.Duration(c.p2Ms)*time.Millisecond)); err != nil {
		return nil, fmt.Errorf("uds: sending request: %w", err)
	}

	deadline := time.Now().Add(time.Duration(c.p2Ms) * time.Millisecond)
	for {
		raw, err := c.iso.Recv(ctx, deadline)
		if err != nil {
			return nil, fmt.Errorf("uds: waiting for response: %w", err)
		}
		resp, err := RawDataToMessage(raw, true)
		if err != nil {
			return nil, err
		}
		if !resp.IsPositive && resp.NRC != nil && *resp.NRC == NRCRequestCorrectlyReceivedResponsePending {
			c.log.Debug("response pending, extending deadline to P2*")
			deadline = time.Now().Add(time.Duration(c.p2StarMs) * time.Millisecond)
			continue
		}
		if !resp.IsPositive {
			nrc := byte(0)
			if resp.NRC != nil {
				nrc = *resp.NRC
			}
			return nil, &NegativeResponseError{ServiceID: resp.ServiceID, NRC: nrc}
		}
		if resp.ServiceID != serviceID {
			return nil, &ErrUnexpectedServiceID{Want: serviceID, Got: resp.ServiceID}
		}
		return resp, nil
	}
}

// DiagnosticSessionControl sends service 0x10 with the given session
// subfunction, returning nil only for a positive response that echoes the
// session (response starts 0x50,session).
func (c *Client) DiagnosticSessionControl(ctx context.Context, session byte) error {
	sub := session
	resp, err := c.Request(ctx, ServiceDiagnosticSessionControl, &sub, nil)
	if err != nil {
		return err
	}
	if len(resp.Data) < 1 || resp.Data[0] != session {
		return fmt.Errorf("uds: session control response does not echo session 0x%02X", session)
	}
	return nil
}

// DTCTriple is one (code-high, code-low, status) entry from a 0x19/0x02
// response.
type DTCTriple struct {
	Hi, Lo, Status byte
}

// ReadDTCsByStatusMask issues 0x19 sub 0x02 with the given status mask and
// returns the raw (hi,lo,status) triples.
func (c *Client) ReadDTCsByStatusMask(ctx context.Context, statusMask byte) ([]DTCTriple, error) {
	sub := SubfunctionReportDTCByStatusMask
	resp, err := c.Request(ctx, ServiceReadDTCInformation, &sub, []byte{statusMask})
	if err != nil {
		return nil, err
	}
	// resp.Data has only the service id stripped by Message decoding, so it
	// begins with [subfunction echo, status availability mask, dtc-records...].
	body := resp.Data
	if len(body) < 2 {
		return nil, fmt.Errorf("uds: malformed DTC report, missing subfunction/status mask echo")
	}
	body = body[2:]
	if len(body)%3 != 0 {
		return nil, fmt.Errorf("uds: malformed DTC report, %d trailing bytes", len(body)%3)
	}
	triples := make([]DTCTriple, 0, len(body)/3)
	for i := 0; i+3 <= len(body); i += 3 {
		triples = append(triples, DTCTriple{Hi: body[i], Lo: body[i+1], Status: body[i+2]})
	}
	return triples, nil
}

// ClearDiagnosticInformation issues 0x14 with the standard "all groups"
// mask FF FF FF.
func (c *Client) ClearDiagnosticInformation(ctx context.Context) error {
	_, err := c.Request(ctx, ServiceClearDiagnosticInformation, nil, []byte{0xFF, 0xFF, 0xFF})
	return err
}

// ReadDataByIdentifier issues 0x22 for the given DID and returns the raw
// value bytes (response data beyond the echoed DID).
func (c *Client) ReadDataByIdentifier(ctx context.Context, did uint16) ([]byte, error) {
	resp, err := c.Request(ctx, ServiceReadDataByIdentifier, nil, []byte{byte(did >> 8), byte(did)})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 2 {
		return nil, fmt.Errorf("uds: read data by identifier response too short")
	}
	gotDID := uint16(resp.Data[0])<<8 | uint16(resp.Data[1])
	if gotDID != did {
		return nil, fmt.Errorf("uds: echoed did 0x%04X does not match requested 0x%04X", gotDID, did)
	}
	return resp.Data[2:], nil
}

// WriteDataByIdentifier issues 0x2E for the given DID and value bytes.
func (c *Client) WriteDataByIdentifier(ctx context.Context, did uint16, value []byte) error {
	data := append([]byte{byte(did >> 8), byte(did)}, value...)
	_, err := c.Request(ctx, ServiceWriteDataByIdentifier, nil, data)
	return err
}

// SecurityAccessRequestSeed issues 0x27 with an odd subfunction (level) and
// returns the seed bytes.
func (c *Client) SecurityAccessRequestSeed(ctx context.Context, level byte) ([]byte, error) {
	resp, err := c.Request(ctx, ServiceSecurityAccess, &level, nil)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SecurityAccessSendKey issues 0x27 at level+1 with the computed key.
func (c *Client) SecurityAccessSendKey(ctx context.Context, level byte, key []byte) error {
	sendLevel := level + 1
	_, err := c.Request(ctx, ServiceSecurityAccess, &sendLevel, key)
	return err
}

// ReadSnapshotIdentification issues 0x19 sub 0x04, used by the freeze-frame
// reader.
func (c *Client) ReadSnapshotIdentification(ctx context.Context) (*Message, error) {
	sub := SubfunctionReportSnapshotIdentification
	return c.Request(ctx, ServiceReadDTCInformation, &sub, nil)
}

// ReadSnapshotRecord issues 0x19 sub 0x05 for the given DTC code, used by
// the freeze-frame reader.
func (c *Client) ReadSnapshotRecord(ctx context.Context, dtcHi, dtcLo, recordID byte) (*Message, error) {
	sub := SubfunctionReportSnapshotRecordByDTC
	return c.Request(ctx, ServiceReadDTCInformation, &sub, []byte{dtcHi, dtcLo, recordID})
}
