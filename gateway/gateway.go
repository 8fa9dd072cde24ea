// Package gateway exposes a read-only HTTP/WebSocket bridge in front of the
// diagnostic service, grounded on anodyne74-iload-obd2's main.go (gorilla/mux
// routing plus a gorilla/websocket broadcast loop) and on the route-dispatch
// shape of samsamfire-gocanopen's gateway_http_server.go. Unlike the IPC
// server, the gateway never exposes write operations (adaptations,
// long-coding, clear_dtcs) — it's meant for dashboards and remote viewers,
// not control.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"candiag/service"
	"candiag/watch"
)

// Backend is the subset of the diagnostic service façade the gateway can
// call. *service.Service satisfies this directly.
type Backend interface {
	ScanECUs(ctx context.Context) (ecus []string, names map[string]string, err error)
	ReadDTCs(ctx context.Context, ecuStr string, attachFreezeFrames bool) ([]service.DTCReport, error)
	ReadDIDValue(ctx context.Context, ecuStr string, didVal uint16) (service.DIDReport, error)
	ReadDID(ctx context.Context, ecuStr string, didVal uint16) (name, value, unit string, err error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the read-only HTTP API and WebSocket live-watch stream.
type Server struct {
	Backend Backend
	Addr    string

	router *mux.Router
	log    *log.Entry

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool
}

// New builds a Server wired to backend, listening on addr (e.g. ":8080").
func New(backend Backend, addr string) *Server {
	s := &Server{
		Backend: backend,
		Addr:    addr,
		router:  mux.NewRouter(),
		log:     log.WithField("component", "gateway"),
		clients: make(map[*websocket.Conn]bool),
	}
	s.router.HandleFunc("/api/ecus", s.handleScanECUs).Methods(http.MethodGet)
	s.router.HandleFunc("/api/ecus/{ecu}/dtcs", s.handleReadDTCs).Methods(http.MethodGet)
	s.router.HandleFunc("/api/ecus/{ecu}/dids/{did}", s.handleReadDID).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/watch", s.handleWatchWS)
	return s
}

// ListenAndServe starts serving HTTP until the process is shut down.
func (s *Server) ListenAndServe() error {
	s.log.Infof("gateway listening on %s", s.Addr)
	return http.ListenAndServe(s.Addr, s.router)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleScanECUs(w http.ResponseWriter, r *http.Request) {
	ecus, names, err := s.Backend.ScanECUs(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ecus": ecus, "names": names})
}

func (s *Server) handleReadDTCs(w http.ResponseWriter, r *http.Request) {
	ecu := mux.Vars(r)["ecu"]
	attach := r.URL.Query().Get("freeze_frame") == "1"
	dtcs, err := s.Backend.ReadDTCs(r.Context(), ecu, attach)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, dtcs)
}

func (s *Server) handleReadDID(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	didNum, err := strconv.ParseUint(vars["did"], 0, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := s.Backend.ReadDIDValue(r.Context(), vars["ecu"], uint16(didNum))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// watchRequest is the JSON payload a client sends after upgrading, naming
// the items to stream.
type watchRequest struct {
	Items []struct {
		ECU string `json:"ecu"`
		DID uint16 `json:"did"`
	} `json:"items"`
	TickMs int    `json:"tick_ms"`
	Emit   string `json:"emit"`
}

func (s *Server) handleWatchWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	s.registerClient(conn)
	defer s.removeClient(conn)

	var req watchRequest
	if err := conn.ReadJSON(&req); err != nil {
		return
	}
	if req.TickMs <= 0 {
		req.TickMs = 1000
	}
	emit := watch.EmitChanged
	if req.Emit == "always" {
		emit = watch.EmitAlways
	}
	items := make([]watch.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, watch.Item{ECU: it.ECU, DID: it.DID})
	}
	watcher := watch.New(s.Backend, items, emit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.drainCloseFrames(conn, cancel)

	ticker := time.NewTicker(time.Duration(req.TickMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, errs := watcher.Tick(ctx)
			for _, ev := range events {
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
			for _, e := range errs {
				s.log.WithError(e).Debug("watch read error")
			}
		}
	}
}

func (s *Server) drainCloseFrames(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) registerClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[conn] = true
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, conn)
	conn.Close()
}
