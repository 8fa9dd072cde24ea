package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"candiag/did"
	"candiag/service"

	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	ecus  []string
	names map[string]string
	dids  map[uint16]service.DIDReport
}

func (f *fakeBackend) ScanECUs(_ context.Context) ([]string, map[string]string, error) {
	return f.ecus, f.names, nil
}

func (f *fakeBackend) ReadDTCs(_ context.Context, ecu string, attachFreezeFrames bool) ([]service.DTCReport, error) {
	return nil, nil
}

func (f *fakeBackend) ClearDTCs(_ context.Context, ecu string) error { return nil }

func (f *fakeBackend) ReadDIDValue(_ context.Context, ecu string, didVal uint16) (service.DIDReport, error) {
	return f.dids[didVal], nil
}

func (f *fakeBackend) ReadDID(_ context.Context, ecu string, didVal uint16) (string, string, string, error) {
	r := f.dids[didVal]
	return r.Name, r.Value.Str, r.Unit, nil
}

func startTestConn(t *testing.T, backend Backend) (client net.Conn, done chan struct{}) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	s := NewServer("", backend)
	done = make(chan struct{})
	go func() {
		s.handleConn(context.Background(), serverConn)
		close(done)
	}()
	return clientConn, done
}

func sendLine(t *testing.T, conn net.Conn, v map[string]any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)
}

func readResponse(t *testing.T, reader *bufio.Reader) map[string]any {
	t.Helper()
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(line, &m))
	return m
}

func TestScanECUsCommand(t *testing.T) {
	backend := &fakeBackend{ecus: []string{"01", "02"}, names: map[string]string{"01": "Engine", "02": "ABS"}}
	conn, _ := startTestConn(t, backend)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	sendLine(t, conn, map[string]any{"cmd": "scan_ecus"})
	resp := readResponse(t, reader)

	require.Equal(t, true, resp["ok"])
	ecus, ok := resp["ecus"].([]any)
	require.True(t, ok)
	require.Len(t, ecus, 2)
}

func TestUnknownCommandReturnsError(t *testing.T) {
	conn, _ := startTestConn(t, &fakeBackend{})
	defer conn.Close()
	reader := bufio.NewReader(conn)

	sendLine(t, conn, map[string]any{"cmd": "nonsense"})
	resp := readResponse(t, reader)

	require.Equal(t, false, resp["ok"])
	require.Contains(t, resp["error"], "unknown command")
}

func TestReadDIDCommand(t *testing.T) {
	backend := &fakeBackend{dids: map[uint16]service.DIDReport{
		0xF190: {DID: 0xF190, Name: "VIN", Raw: "5756", Value: did2Value("WVWZZZ")},
	}}
	conn, _ := startTestConn(t, backend)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	sendLine(t, conn, map[string]any{"cmd": "read_did", "ecu": "01", "did": "F190"})
	resp := readResponse(t, reader)

	require.Equal(t, true, resp["ok"])
	item, ok := resp["item"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "VIN", item["name"])
	require.Equal(t, "WVWZZZ", item["value"])
}

func TestWatchStartStreamsUntilMaxTicks(t *testing.T) {
	backend := &fakeBackend{dids: map[uint16]service.DIDReport{
		0x1235: {DID: 0x1235, Name: "Vehicle Speed", Value: did2Value("12")},
	}}
	conn, _ := startTestConn(t, backend)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	sendLine(t, conn, map[string]any{
		"cmd":       "watch_start",
		"items":     []any{map[string]any{"ecu": "01", "did": "1235"}},
		"emit":      "always",
		"tick_ms":   float64(5),
		"max_ticks": float64(2),
	})

	started := readResponse(t, reader)
	require.Equal(t, true, started["watching"])

	ev1 := readResponse(t, reader)
	require.Equal(t, "live_did", ev1["event"])
	require.Equal(t, float64(1), ev1["tick"])

	ev2 := readResponse(t, reader)
	require.Equal(t, float64(2), ev2["tick"])

	final := readResponse(t, reader)
	require.Equal(t, true, final["done"])
}

func TestWatchStopEndsStream(t *testing.T) {
	backend := &fakeBackend{dids: map[uint16]service.DIDReport{
		0x1235: {DID: 0x1235, Name: "Vehicle Speed", Value: did2Value("12")},
	}}
	conn, _ := startTestConn(t, backend)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	sendLine(t, conn, map[string]any{
		"cmd":     "watch_start",
		"items":   []any{map[string]any{"ecu": "01", "did": "1235"}},
		"emit":    "always",
		"tick_ms": float64(500),
	})
	started := readResponse(t, reader)
	require.Equal(t, true, started["watching"])

	time.Sleep(10 * time.Millisecond)
	sendLine(t, conn, map[string]any{"cmd": "watch_stop"})

	stopped := readResponse(t, reader)
	require.Equal(t, true, stopped["stopped"])
}

func did2Value(s string) did.Value {
	return did.Value{Str: s, IsStr: true}
}
