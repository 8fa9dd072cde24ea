// Package topology implements ECU discovery: functional (broadcast) and
// physical (point-to-point) scans that build a merged Topology, grounded
// on the Python original's core/vehicle/{discovery,topology}.py.
package topology

import (
	"context"
	"sort"
	"time"

	"candiag/addr"
	"candiag/canbus"

	"github.com/sirupsen/logrus"
)

// AddressingMode selects which scan(s) discovery runs.
type AddressingMode string

const (
	AddressingFunctional AddressingMode = "functional"
	AddressingPhysical AddressingMode = "physical"
	AddressingBoth AddressingMode = "both"
)

// Config holds a discovery run's parameters.
type Config struct {
	Addressing AddressingMode
	CanIDMode addr.Mode
	TimeoutMs int
	Retries int
	ProbeSession bool
	// Candidates overrides the default physical-scan candidate list
	// (00..07).
	Candidates []uint8
}

// DefaultConfig returns the discovery defaults used by the Python original.
func DefaultConfig() Config {
	return Config{
		Addressing: AddressingBoth,
		CanIDMode: addr.Mode11Bit,
		TimeoutMs: 250,
		Retries: 1,
		ProbeSession: true,
	}
}

func defaultCandidates() []uint8 {
	out := make([]uint8, 8)
	for i := range out {
		out[i] = uint8(i)
	}
	return out
}

// EcuNode is one discovered ECU.
type EcuNode struct {
	ECU uint8
	ECUName string
	TxID uint32
	RxID uint32
	CanIDMode addr.Mode
	UDSConfirmed bool
	Notes map[string]bool
}

// Topology is a full discovery result.
type Topology struct {
	CanInterface string
	CanIDMode addr.Mode
	Addressing AddressingMode
	Nodes []EcuNode
}

type nodeAcc struct {
	ecuName string
	udsConfirmed bool
	notes map[string]bool
}

// Scan runs discovery against can per cfg and returns the merged Topology.
func Scan(ctx context.Context, can canbus.Transport, canInterface string, cfg Config) (*Topology, error) {
	if cfg.Candidates == nil {
		cfg.Candidates = defaultCandidates()
	}
	log := logrus.WithFields(logrus.Fields{"component": "topology", "addressing": cfg.Addressing})

	acc := make(map[uint8]*nodeAcc)
	ensure := func(ecu uint8) *nodeAcc {
		n, ok := acc[ecu]
		if !ok {
			n = &nodeAcc{notes: map[string]bool{}}
			acc[ecu] = n
		}
		return n
	}

	if cfg.Addressing == AddressingFunctional || cfg.Addressing == AddressingBoth {
		found, err := functionalScan(ctx, can, cfg)
		if err != nil {
			return nil, err
		}
		for ecu, confirmed := range found {
			n := ensure(ecu)
			n.udsConfirmed = n.udsConfirmed || confirmed
			n.notes["seen:functional"] = true
		}
		log.Debugf("functional scan found %d candidate ecus", len(found))
	}

	if cfg.Addressing == AddressingPhysical || cfg.Addressing == AddressingBoth {
		candidates := cfg.Candidates
		if cfg.Addressing == AddressingBoth {
			candidates = unionCandidates(cfg.Candidates, acc)
		}
		for _, ecu := range candidates {
			confirmed, responded, err := physicalProbe(ctx, can, ecu, cfg)
			if err != nil {
				return nil, err
			}
			if !responded {
				continue
			}
			if cfg.ProbeSession && !confirmed {
				continue
			}
			n := ensure(ecu)
			n.udsConfirmed = n.udsConfirmed || confirmed
			n.notes["seen:physical"] = true
		}
	}

	nodes := make([]EcuNode, 0, len(acc))
	for ecu, n := range acc {
		tx, rx, err := addr.IDs(ecu, cfg.CanIDMode)
		if err != nil {
			continue
		}
		nodes = append(nodes, EcuNode{
			ECU: ecu,
			ECUName: "Unknown ECU",
			TxID: tx,
			RxID: rx,
			CanIDMode: cfg.CanIDMode,
			UDSConfirmed: n.udsConfirmed,
			Notes: n.notes,
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ECU < nodes[j].ECU })

	return &Topology{
		CanInterface: canInterface,
		CanIDMode: cfg.CanIDMode,
		Addressing: cfg.Addressing,
		Nodes: nodes,
	}, nil
}

func unionCandidates(base []uint8, found map[uint8]*nodeAcc) []uint8 {
	seen := map[uint8]bool{}
	out := make([]uint8, 0, len(base)+len(found))
	for _, e := range base {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	for e := range found {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// functionalScan sends a single 10 01 to the functional id and collects
// every matching inbound frame across cfg.Retries within cfg.TimeoutMs
// each, returning a map of ecu -> whether it confirmed (positive 50 01).
func functionalScan(ctx context.Context, can canbus.Transport, cfg Config) (map[uint8]bool, error) {
	functionalID, err := addr.FunctionalID(cfg.CanIDMode)
	if err != nil {
		return nil, err
	}

	drainRx(ctx, can)

	found := make(map[uint8]bool)
	for retry := 0; retry <= cfg.Retries; retry++ {
		if err := sendSingleFrame(ctx, can, functionalID, []byte{0x10, 0x01}); err != nil {
			return nil, err
		}
		deadline := time.Now().Add(time.Duration(cfg.TimeoutMs) * time.Millisecond)
		for {
			remaining := remainingMs(deadline)
			if remaining <= 0 {
				break
			}
			frame, err := can.Recv(ctx, remaining)
			if err != nil {
				if err == canbus.ErrTimeout {
					break
				}
				return nil, err
			}
			ecu, ok := addr.ECUFromResponseID(frame.ID, cfg.CanIDMode)
			if !ok {
				continue
			}
			body, ok := decodeSingleFrame(frame)
			if !ok {
				continue
			}
			confirmed := found[ecu]
			if len(body) >= 2 && body[0] == 0x50 && body[1] == 0x01 {
				confirmed = true
			}
			found[ecu] = confirmed
		}
	}
	return found, nil
}

// physicalProbe sends 10 01 to a single candidate ECU and waits (across
// retries) for its first response.
func physicalProbe(ctx context.Context, can canbus.Transport, ecu uint8, cfg Config) (confirmed bool, responded bool, err error) {
	tx, rx, err := addr.IDs(ecu, cfg.CanIDMode)
	if err != nil {
		return false, false, nil // out-of-range ECU for this mode; skip silently
	}
	for retry := 0; retry <= cfg.Retries; retry++ {
		if err := sendSingleFrame(ctx, can, tx, []byte{0x10, 0x01}); err != nil {
			return false, false, err
		}
		deadline := time.Now().Add(time.Duration(cfg.TimeoutMs) * time.Millisecond)
		for {
			remaining := remainingMs(deadline)
			if remaining <= 0 {
				break
			}
			frame, err := can.Recv(ctx, remaining)
			if err != nil {
				if err == canbus.ErrTimeout {
					break
				}
				return false, false, err
			}
			if frame.ID != rx {
				continue
			}
			body, ok := decodeSingleFrame(frame)
			if !ok {
				continue
			}
			confirmed := len(body) >= 2 && body[0] == 0x50 && body[1] == 0x01
			return confirmed, true, nil
		}
	}
	return false, false, nil
}

func drainRx(ctx context.Context, can canbus.Transport) {
	for {
		_, err := can.Recv(ctx, 0)
		if err != nil {
			return
		}
	}
}

func sendSingleFrame(ctx context.Context, can canbus.Transport, id uint32, payload []byte) error {
	data := make([]byte, 1+len(payload))
	data[0] = byte(len(payload) & 0x0F)
	copy(data[1:], payload)
	frame, err := canbus.NewFrame(id, data)
	if err != nil {
		return err
	}
	return can.Send(ctx, frame)
}

func decodeSingleFrame(frame canbus.Frame) ([]byte, bool) {
	if frame.DLC == 0 {
		return nil, false
	}
	pciType := (frame.Data[0] & 0xF0) >> 4
	if pciType != 0x0 {
		return nil, false
	}
	n := frame.Data[0] & 0x0F
	if int(n) > int(frame.DLC)-1 {
		return nil, false
	}
	return frame.Data[1: 1+n], true
}

func remainingMs(deadline time.Time) int {
	d := time.Until(deadline)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms <= 0 {
		return 1
	}
	return int(ms)
}
