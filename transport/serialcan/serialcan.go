// Package serialcan implements a canbus.Transport over a USB-serial CAN
// adapter: start/end marker framing, byte-stuffed escaping, and a CRC-8
// checksum, generalized from a 2-byte 11-bit-only CAN id to the 4-byte id
// candiag's 11/29-bit addressing modes need.
package serialcan

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"candiag/canbus"
)

const (
	defaultBaudRate = 115200
	startMarker     = 0x7E
	endMarker       = 0x7F
	escapeChar      = 0x1B
)

// knownVendorIDs are USB VIDs an auto-discovered port is matched against
// (Arduino, CH340, Arduino SA).
var knownVendorIDs = map[string]bool{"2341": true, "1A86": true, "2A03": true}

// Transport is a serial-framed CAN adapter.
type Transport struct {
	port   serial.Port
	reader *bufio.Reader

	writeMutex sync.Mutex
	framesCh   chan canbus.Frame
	errCh      chan error
	closeCh    chan struct{}
	closeOnce  sync.Once
}

// Open finds the first USB-serial port with a known adapter VID and opens
// a Transport over it at baudRate (0 selects the default 115200).
func Open(baudRate int) (*Transport, error) {
	portName, err := findPortName()
	if err != nil {
		return nil, err
	}
	return OpenPort(portName, baudRate)
}

// OpenPort opens a Transport over a specific serial port name.
func OpenPort(portName string, baudRate int) (*Transport, error) {
	if baudRate <= 0 {
		baudRate = defaultBaudRate
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("serialcan: opening %s: %w", portName, err)
	}
	t := &Transport{
		port:     port,
		reader:   bufio.NewReader(port),
		framesCh: make(chan canbus.Frame, 256),
		errCh:    make(chan error, 1),
		closeCh:  make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func findPortName() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("serialcan: listing ports: %w", err)
	}
	for _, p := range ports {
		if p.IsUSB && knownVendorIDs[p.VID] {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("serialcan: no known CAN adapter found on any USB serial port")
}

// Send writes frame to the serial port using the stuffed wire format.
func (t *Transport) Send(ctx context.Context, frame canbus.Frame) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()
	_, err := t.port.Write(encodeFrame(frame))
	if err != nil {
		return fmt.Errorf("serialcan: writing frame: %w", err)
	}
	return nil
}

// Recv returns the next inbound frame decoded by the background read loop,
// or ErrTimeout if none arrives within timeoutMs.
func (t *Transport) Recv(ctx context.Context, timeoutMs int) (canbus.Frame, error) {
	if timeoutMs <= 0 {
		select {
		case f := <-t.framesCh:
			return f, nil
		default:
			return canbus.Frame{}, canbus.ErrTimeout
		}
	}
	select {
	case f := <-t.framesCh:
		return f, nil
	case err := <-t.errCh:
		return canbus.Frame{}, err
	case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
		return canbus.Frame{}, canbus.ErrTimeout
	case <-ctx.Done():
		return canbus.Frame{}, ctx.Err()
	case <-t.closeCh:
		return canbus.Frame{}, fmt.Errorf("serialcan: transport closed")
	}
}

// Close stops the read loop and closes the serial port. Idempotent.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closeCh)
		err = t.port.Close()
	})
	return err
}

func (t *Transport) readLoop() {
	for {
		frame, err := t.readFrame()
		if err != nil {
			select {
			case t.errCh <- err:
			default:
			}
			return
		}
		select {
		case t.framesCh <- frame:
		case <-t.closeCh:
			return
		}
	}
}

func (t *Transport) readFrame() (canbus.Frame, error) {
	unstuffed, err := t.readAndUnstuff()
	if err != nil {
		return canbus.Frame{}, err
	}
	if len(unstuffed) < 5 {
		return canbus.Frame{}, fmt.Errorf("serialcan: incomplete frame (%d bytes)", len(unstuffed))
	}
	id := uint32(unstuffed[0])<<24 | uint32(unstuffed[1])<<16 | uint32(unstuffed[2])<<8 | uint32(unstuffed[3])
	dlc := unstuffed[4]
	if dlc > 8 {
		return canbus.Frame{}, fmt.Errorf("serialcan: invalid DLC %d", dlc)
	}
	if len(unstuffed) < 5+int(dlc)+1 {
		return canbus.Frame{}, fmt.Errorf("serialcan: truncated frame body")
	}
	data := unstuffed[5 : 5+dlc]
	gotChecksum := unstuffed[5+dlc]
	var buf [8]byte
	copy(buf[:], data)
	if calculateCRC8(dlc, buf) != gotChecksum {
		return canbus.Frame{}, fmt.Errorf("serialcan: checksum mismatch")
	}
	return canbus.NewFrame(id, data)
}

func (t *Transport) readAndUnstuff() ([]byte, error) {
	for {
		b, err := t.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == startMarker {
			break
		}
	}
	var out []byte
	for {
		b, err := t.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case endMarker:
			return out, nil
		case escapeChar:
			tag, err := t.reader.ReadByte()
			if err != nil {
				return nil, err
			}
			switch tag {
			case 0x01:
				out = append(out, startMarker)
			case 0x02:
				out = append(out, endMarker)
			case 0x03:
				out = append(out, escapeChar)
			default:
				return nil, fmt.Errorf("serialcan: invalid escape sequence 0x%02X", tag)
			}
		default:
			out = append(out, b)
		}
	}
}

func encodeFrame(frame canbus.Frame) []byte {
	out := []byte{startMarker}
	stuff := func(b byte) {
		switch b {
		case startMarker:
			out = append(out, escapeChar, 0x01)
		case endMarker:
			out = append(out, escapeChar, 0x02)
		case escapeChar:
			out = append(out, escapeChar, 0x03)
		default:
			out = append(out, b)
		}
	}
	stuff(byte(frame.ID >> 24))
	stuff(byte(frame.ID >> 16))
	stuff(byte(frame.ID >> 8))
	stuff(byte(frame.ID))
	stuff(frame.DLC)
	for i := 0; i < int(frame.DLC); i++ {
		stuff(frame.Data[i])
	}
	stuff(calculateCRC8(frame.DLC, frame.Data))
	out = append(out, endMarker)
	return out
}

// calculateCRC8 computes the CRC-8-CCITT checksum over the frame's DLC
// bytes of payload.
func calculateCRC8(dlc uint8, data [8]byte) byte {
	const polynomial = byte(0x07)
	crc := byte(0x00)
	for i := 0; i < int(dlc); i++ {
		crc ^= data[i]
		for j := 0; j < 8; j++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
