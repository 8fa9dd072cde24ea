package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"candiag/did"
	"candiag/service"
	"candiag/watch"

	"github.com/sirupsen/logrus"
)

// Backend is the subset of *service.Service the IPC server dispatches
// commands to.
type Backend interface {
	ScanECUs(ctx context.Context) (ecus []string, names map[string]string, err error)
	ReadDTCs(ctx context.Context, ecu string, attachFreezeFrames bool) ([]service.DTCReport, error)
	ClearDTCs(ctx context.Context, ecu string) error
	ReadDIDValue(ctx context.Context, ecu string, didVal uint16) (service.DIDReport, error)
	ReadDID(ctx context.Context, ecu string, didVal uint16) (name, value, unit string, err error)
}

// Server listens on a unix-domain stream socket and serves the command
// protocol, handling each connection in its own goroutine.
type Server struct {
	SocketPath string
	Backend Backend
	log *logrus.Entry
}

// NewServer builds a Server for socketPath. It does not touch the
// filesystem; Serve removes any stale socket file before listening.
func NewServer(socketPath string, backend Backend) *Server {
	return &Server{SocketPath: socketPath, Backend: backend, log: logrus.WithField("component", "ipc")}
}

// Serve accepts connections until ctx is cancelled or listener.Accept
// fails. Each connection is handled in its own goroutine, but within a
// connection requests are handled strictly sequentially.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.SocketPath)
	listener, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("ipc: listening on %s: %w", s.SocketPath, err)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return fmt.Errorf("ipc: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	if uid, pid, ok := peerCredentials(conn); ok {
		s.log.WithField("uid", uid).WithField("pid", pid).Debug("ipc connection accepted")
	}
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		req, err := decodeRequest(line)
		if err != nil {
			s.writeLine(conn, fail(err))
			continue
		}
		if req.Cmd == "watch_start" {
			s.handleWatch(ctx, conn, reader, req)
			continue
		}
		s.writeLine(conn, s.dispatch(ctx, req))
	}
}

func (s *Server) writeLine(conn net.Conn, r response) {
	line, err := encodeLine(r)
	if err != nil {
		s.log.WithError(err).Error("encoding ipc response")
		return
	}
	if _, err := conn.Write(line); err != nil {
		s.log.WithError(err).Debug("writing ipc response")
	}
}

// dispatch handles every non-streaming command.
func (s *Server) dispatch(ctx context.Context, req request) response {
	switch req.Cmd {
	case "scan_ecus":
		return s.cmdScanECUs(ctx)
	case "read_dtcs":
		return s.cmdReadDTCs(ctx, req.Params)
	case "clear_dtcs":
		return s.cmdClearDTCs(ctx, req.Params)
	case "read_did":
		return s.cmdReadDID(ctx, req.Params)
	case "watch_stop":
		return fail(fmt.Errorf("ipc: watch_stop received outside a watch stream"))
	default:
		return fail(fmt.Errorf("ipc: unknown command %q", req.Cmd))
	}
}

func (s *Server) cmdScanECUs(ctx context.Context) response {
	ecus, names, err := s.Backend.ScanECUs(ctx)
	if err != nil {
		return fail(err)
	}
	nodes := make([]map[string]any, 0, len(ecus))
	for _, e := range ecus {
		nodes = append(nodes, map[string]any{"ecu": e, "ecu_name": names[e]})
	}
	return ok(map[string]any{"ecus": ecus, "nodes": nodes})
}

func (s *Server) cmdReadDTCs(ctx context.Context, params map[string]any) response {
	ecu, err := paramString(params, "ecu")
	if err != nil {
		return fail(err)
	}
	reports, err := s.Backend.ReadDTCs(ctx, ecu, true)
	if err != nil {
		return fail(err)
	}
	dtcs := make([]map[string]any, 0, len(reports))
	for _, r := range reports {
		entry := map[string]any{
			"code": r.Code,
			"status": r.Status,
			"severity": r.Severity,
			"raw": r.Raw,
		}
		if r.FreezeFrame != nil {
			params := make([]map[string]any, 0, len(r.FreezeFrame.Parameters))
			for _, p := range r.FreezeFrame.Parameters {
				params = append(params, map[string]any{
					"name": p.Name,
					"did": did.FormatDID(p.DID),
					"raw": p.Raw,
					"unit": p.Unit,
				})
			}
			entry["freeze_frame"] = map[string]any{
				"record_id": r.FreezeFrame.RecordID,
				"parameters": params,
			}
		}
		dtcs = append(dtcs, entry)
	}
	return ok(map[string]any{"dtcs": dtcs})
}

func (s *Server) cmdClearDTCs(ctx context.Context, params map[string]any) response {
	ecu, err := paramString(params, "ecu")
	if err != nil {
		return fail(err)
	}
	if err := s.Backend.ClearDTCs(ctx, ecu); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (s *Server) cmdReadDID(ctx context.Context, params map[string]any) response {
	ecu, err := paramString(params, "ecu")
	if err != nil {
		return fail(err)
	}
	didStr, err := paramString(params, "did")
	if err != nil {
		return fail(err)
	}
	didVal, err := did.ParseDID(didStr)
	if err != nil {
		return fail(err)
	}
	report, err := s.Backend.ReadDIDValue(ctx, ecu, didVal)
	if err != nil {
		return fail(err)
	}
	item := map[string]any{
		"did": did.FormatDID(report.DID),
		"name": report.Name,
		"raw": report.Raw,
		"unit": report.Unit,
	}
	switch {
	case report.Value.IsStr:
		item["value"] = report.Value.Str
	case report.Value.IsInt:
		item["value"] = report.Value.Int
	default:
		item["value"] = report.Value.Float
	}
	return ok(map[string]any{"item": item})
}

// handleWatch runs a watch_start stream to completion: emits events every
// tick_ms until max_ticks is reached or the client sends watch_stop,
// interleaving reads for watch_stop with tick emission/.
func (s *Server) handleWatch(ctx context.Context, conn net.Conn, reader *bufio.Reader, req request) {
	items, emit, tickMs, maxTicks, err := parseWatchStart(req.Params)
	if err != nil {
		s.writeLine(conn, fail(err))
		return
	}

	s.writeLine(conn, ok(map[string]any{"watching": true}))

	w := watch.New(s.Backend, items, emit)
	stopCh := make(chan struct{})
	go watchForStop(reader, stopCh)

	ticker := time.NewTicker(time.Duration(tickMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			s.writeLine(conn, ok(map[string]any{"stopped": true}))
			return
		case <-ticker.C:
			events, errs := w.Tick(ctx)
			for _, err := range errs {
				s.log.WithError(err).Debug("watch tick read failed")
			}
			for _, ev := range events {
				s.writeLine(conn, response{
					"event": "live_did",
					"tick": ev.Tick,
					"ecu": ev.ECU,
					"did": did.FormatDID(ev.DID),
					"name": ev.Name,
					"value": ev.Value,
					"unit": ev.Unit,
				})
			}
			if maxTicks > 0 && w.TickCount() >= maxTicks {
				s.writeLine(conn, ok(map[string]any{"done": true}))
				return
			}
		}
	}
}

// watchForStop blocks on reader until a watch_stop line arrives or the
// connection closes, signalling stopCh in the former case.
func watchForStop(reader *bufio.Reader, stopCh chan<- struct{}) {
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		req, err := decodeRequest(line)
		if err != nil {
			continue
		}
		if req.Cmd == "watch_stop" {
			stopCh <- struct{}{}
			return
		}
	}
}

func parseWatchStart(params map[string]any) ([]watch.Item, watch.EmitMode, int, int, error) {
	rawItems, ok := params["items"].([]any)
	if !ok {
		return nil, "", 0, 0, fmt.Errorf("ipc: watch_start requires an \"items\" array")
	}
	items := make([]watch.Item, 0, len(rawItems))
	for _, raw := range rawItems {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, "", 0, 0, fmt.Errorf("ipc: watch_start item must be an object")
		}
		ecu, err := paramString(m, "ecu")
		if err != nil {
			return nil, "", 0, 0, err
		}
		didStr, err := paramString(m, "did")
		if err != nil {
			return nil, "", 0, 0, err
		}
		didVal, err := did.ParseDID(didStr)
		if err != nil {
			return nil, "", 0, 0, err
		}
		items = append(items, watch.Item{ECU: ecu, DID: didVal})
	}

	emitStr, err := paramString(params, "emit")
	if err != nil {
		return nil, "", 0, 0, err
	}
	emit := watch.EmitMode(emitStr)
	if emit != watch.EmitChanged && emit != watch.EmitAlways {
		return nil, "", 0, 0, fmt.Errorf("ipc: invalid emit mode %q", emitStr)
	}

	tickMs, _, err := paramInt(params, "tick_ms", true)
	if err != nil {
		return nil, "", 0, 0, err
	}
	maxTicks, _, err := paramInt(params, "max_ticks", false)
	if err != nil {
		return nil, "", 0, 0, err
	}

	return items, emit, tickMs, maxTicks, nil
}
