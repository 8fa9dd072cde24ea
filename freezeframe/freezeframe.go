// Package freezeframe implements UDS 0x19 sub 0x04/0x05 snapshot
// identification and record reading, grounded on the Python
// original's core/uds/freeze_frame.py. Both entry points are best-effort:
// a transport-level failure degrades to an empty/nil result rather than
// propagating, since freeze-frame attachment must never fail a DTC read.
package freezeframe

import (
	"context"
	"fmt"

	"candiag/did"
	"candiag/dtc"
	"candiag/uds"
)

// SnapshotID is one (dtc, recordID) pair from a sub-0x04 response.
type SnapshotID struct {
	DTCHi, DTCLo, RecordID byte
}

// Parameter is one decoded (or raw-hex-degraded) freeze-frame value.
type Parameter struct {
	Name string
	DID uint16
	Raw string
	Value did.Value
	Unit string
}

// FreezeFrame is one decoded snapshot record.
type FreezeFrame struct {
	DTC string
	RecordID byte
	Parameters []Parameter
}

// Reader reads freeze-frame data for one ECU.
type Reader struct {
	client *uds.Client
	registry *did.Registry
	params []uint16 // stored as given; record parsing does not consult it
}

// NewReader builds a Reader. params is kept on the Reader as given;
// ReadSnapshotRecord decodes whichever DIDs the snapshot record itself
// lists and does not consult params.
func NewReader(client *uds.Client, registry *did.Registry, params []uint16) *Reader {
	return &Reader{client: client, registry: registry, params: params}
}

// ListSnapshotIdentification issues 0x19 sub 0x04. On any UDS error it
// returns an empty slice rather than propagating.
func (r *Reader) ListSnapshotIdentification(ctx context.Context) []SnapshotID {
	resp, err := r.client.ReadSnapshotIdentification(ctx)
	if err != nil {
		return nil
	}
	// resp.Data has only the service id stripped by Message decoding, so it
	// begins with [subfunction echo, status availability mask, dtc_hi
	// dtc_lo record_id, ...].
	body := resp.Data
	if len(body) < 2 {
		return nil
	}
	body = body[2:]
	if len(body)%3 != 0 {
		return nil
	}
	out := make([]SnapshotID, 0, len(body)/3)
	for i := 0; i+3 <= len(body); i += 3 {
		out = append(out, SnapshotID{DTCHi: body[i], DTCLo: body[i+1], RecordID: body[i+2]})
	}
	return out
}

// ReadSnapshotRecord issues 0x19 sub 0x05 for the given DTC/record. On any
// UDS error it returns (nil, nil) — best-effort. Per-parameter
// decode failures degrade that parameter to raw hex rather than failing
// the whole record.
func (r *Reader) ReadSnapshotRecord(ctx context.Context, dtcHi, dtcLo, recordID byte) (*FreezeFrame, error) {
	resp, err := r.client.ReadSnapshotRecord(ctx, dtcHi, dtcLo, recordID)
	if err != nil {
		return nil, nil
	}
	// resp.Data has only the service id stripped by Message decoding, so it
	// begins with the subfunction echo, then [dtc_hi dtc_lo record_id
	// param_count, then param_count entries].
	body := resp.Data
	if len(body) < 1 {
		return nil, nil
	}
	body = body[1:]
	if len(body) < 4 {
		return nil, nil
	}
	gotHi, gotLo, gotRecord, paramCount := body[0], body[1], body[2], body[3]
	if gotHi != dtcHi || gotLo != dtcLo || gotRecord != recordID {
		return nil, fmt.Errorf("freezeframe: echoed dtc/record mismatch")
	}
	rest := body[4:]
	params := make([]Parameter, 0, paramCount)
	for i := byte(0); i < paramCount; i++ {
		if len(rest) < 3 {
			return nil, fmt.Errorf("freezeframe: truncated parameter %d", i)
		}
		paramDID := uint16(rest[0])<<8 | uint16(rest[1])
		length := rest[2]
		if len(rest) < 3+int(length) {
			return nil, fmt.Errorf("freezeframe: parameter %d length %d overruns record", i, length)
		}
		raw := rest[3: 3+int(length)]
		rest = rest[3+int(length):]
		params = append(params, r.decodeParameter(paramDID, raw))
	}
	code16 := uint32(dtcHi)<<8 | uint32(dtcLo)
	return &FreezeFrame{
		DTC: dtc.Format(code16),
		RecordID: recordID,
		Parameters: params,
	}, nil
}

// decodeParameter decodes one parameter's raw bytes against the DID
// registry, degrading to raw hex on any lookup/decode failure.
func (r *Reader) decodeParameter(paramDID uint16, raw []byte) Parameter {
	rawHex := fmt.Sprintf("% X", raw)
	spec, ok := r.registry.Lookup(paramDID)
	if !ok {
		return Parameter{DID: paramDID, Name: did.FormatDID(paramDID), Raw: rawHex, Value: did.Value{Str: rawHex, IsStr: true}}
	}
	value, err := did.Decode(spec, raw)
	if err != nil {
		return Parameter{DID: paramDID, Name: spec.Name, Raw: rawHex, Value: did.Value{Str: rawHex, IsStr: true}, Unit: spec.Unit}
	}
	return Parameter{DID: paramDID, Name: spec.Name, Raw: rawHex, Value: value, Unit: spec.Unit}
}
