// Package service implements the diagnostic service façade: the single
// entry point composing ISO-TP/UDS, DTC/DID decoding, topology discovery,
// brand lookups, adaptations/long-coding engines, backups, and the unsafe
// credential gate. Grounded on the Python original's core/service.py.
package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"candiag/adaptations"
	"candiag/addr"
	"candiag/backup"
	"candiag/brands"
	"candiag/canbus"
	"candiag/datasets"
	"candiag/did"
	"candiag/dtc"
	"candiag/freezeframe"
	"candiag/longcoding"
	"candiag/topology"
	"candiag/uds"
	"candiag/unsafeauth"
)

// Error is the façade-level error family: mostly wraps a lower-layer error
// with the (ecu, operation) context a frontend needs to report.
type Error struct {
	Op string
	ECU string
	Err error
}

func (e *Error) Error() string {
	if e.ECU != "" {
		return fmt.Sprintf("service: %s (ecu=%s): %v", e.Op, e.ECU, e.Err)
	}
	return fmt.Sprintf("service: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DTCReport is one decoded DTC plus its best-effort freeze-frame (nil if
// unavailable) returned from ReadDTCs.
type DTCReport struct {
	dtc.Decoded
	FreezeFrame *freezeframe.FreezeFrame
}

// DIDReport is one decoded DID read.
type DIDReport struct {
	DID uint16
	Name string
	Raw string
	Value did.Value
	Unit string
}

// Service composes every diagnostic engine behind one entry point.
// It maintains at most one adaptations.Manager and one longcoding.Manager,
// initialized lazily on first use.
type Service struct {
	can canbus.Transport
	canInterface string
	mode addr.Mode

	didRegistry *did.Registry
	brandRegistry *brands.Registry
	store *backup.Store
	loader *datasets.Loader
	brand string

	unsafePasswordPath string

	freezeFrameParams []uint16

	mu sync.Mutex
	clients map[uint8]*uds.Client
	adaptMgr *adaptations.Manager
	longMgr *longcoding.Manager
}

// New builds a Service. loader/brand may be zero-valued if the deployment
// carries no dataset packs (adaptations/long-coding calls then fail with a
// clear "no profile loaded" error rather than panicking).
func New(can canbus.Transport, canInterface string, mode addr.Mode, didRegistry *did.Registry, brandRegistry *brands.Registry, store *backup.Store, loader *datasets.Loader, brand string, unsafePasswordPath string) *Service {
	return &Service{
		can: can,
		canInterface: canInterface,
		mode: mode,
		didRegistry: didRegistry,
		brandRegistry: brandRegistry,
		store: store,
		loader: loader,
		brand: brand,
		unsafePasswordPath: unsafePasswordPath,
		freezeFrameParams: []uint16{0x1235, 0x1236},
		clients: make(map[uint8]*uds.Client),
	}
}

// NormalizeECU validates s as hex in 0..=0xFF and returns its canonical
// uppercase 2-hex form alongside the parsed byte.
func NormalizeECU(s string) (uint8, string, error) {
	ecu, err := addr.ParseECU(s)
	if err != nil {
		return 0, "", &Error{Op: "normalize_ecu", Err: err}
	}
	return ecu, addr.FormatECU(ecu), nil
}

func (s *Service) clientFor(ecu uint8) (*uds.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[ecu]; ok {
		return c, nil
	}
	c, err := uds.NewClient(s.can, ecu, s.mode)
	if err != nil {
		return nil, err
	}
	s.clients[ecu] = c
	return c, nil
}

func (s *Service) adaptations() *adaptations.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adaptMgr == nil {
		s.adaptMgr = adaptations.NewManager(s.store)
	}
	return s.adaptMgr
}

func (s *Service) longcoding() *longcoding.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.longMgr == nil {
		s.longMgr = longcoding.NewManager(s.store)
	}
	return s.longMgr
}

// SecurityUnlock performs a standalone 0x27 seed/key exchange at the given
// level, optionally computing the key via keyAlgo (e.g. seedkey.GenerateK01Key).
// It exists for callers that need security access independent of an
// adaptation/long-coding write, which perform their own inline unlock
// instead of going through this method.
func (s *Service) SecurityUnlock(ctx context.Context, ecuStr string, level byte, keyAlgo adaptations.SecurityKeyAlgo) error {
	ecu, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return err
	}
	client, err := s.clientFor(ecu)
	if err != nil {
		return &Error{Op: "security_unlock", ECU: ecuStr, Err: err}
	}
	seed, err := client.SecurityAccessRequestSeed(ctx, level)
	if err != nil {
		return &Error{Op: "security_unlock", ECU: ecuStr, Err: err}
	}
	if keyAlgo == nil {
		return &Error{Op: "security_unlock", ECU: ecuStr, Err: fmt.Errorf("no key algorithm supplied for seed %x", seed)}
	}
	key, err := keyAlgo(seed, level)
	if err != nil {
		return &Error{Op: "security_unlock", ECU: ecuStr, Err: err}
	}
	if err := client.SecurityAccessSendKey(ctx, level, key); err != nil {
		return &Error{Op: "security_unlock", ECU: ecuStr, Err: err}
	}
	return nil
}

// ScanECUs runs discovery with the default config and returns every
// discovered ECU address (UDS-confirmed or not) plus {ecu,ecu_name} pairs.
func (s *Service) ScanECUs(ctx context.Context) (ecus []string, names map[string]string, err error) {
	topo, err := s.ScanTopology(ctx, topology.DefaultConfig())
	if err != nil {
		return nil, nil, err
	}
	names = make(map[string]string)
	for _, n := range topo.Nodes {
		ecuStr := addr.FormatECU(n.ECU)
		ecus = append(ecus, ecuStr)
		name := n.ECUName
		if friendly, ok := s.brandRegistry.ECUName(n.ECU); ok {
			name = friendly
		}
		names[ecuStr] = name
	}
	return ecus, names, nil
}

// ScanTopology runs discovery per cfg and returns the full rich Topology.
func (s *Service) ScanTopology(ctx context.Context, cfg topology.Config) (*topology.Topology, error) {
	cfg.CanIDMode = s.mode
	topo, err := topology.Scan(ctx, s.can, s.canInterface, cfg)
	if err != nil {
		return nil, &Error{Op: "scan_topology", Err: err}
	}
	return topo, nil
}

// ReadDTCs reads every DTC reported under the "all groups" status mask,
// optionally attaching a best-effort freeze frame to each DTC regardless of
// its status.
func (s *Service) ReadDTCs(ctx context.Context, ecuStr string, attachFreezeFrames bool) ([]DTCReport, error) {
	ecu, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return nil, err
	}
	client, err := s.clientFor(ecu)
	if err != nil {
		return nil, &Error{Op: "read_dtcs", ECU: ecuStr, Err: err}
	}
	triples, err := client.ReadDTCsByStatusMask(ctx, 0xFF)
	if err != nil {
		return nil, &Error{Op: "read_dtcs", ECU: ecuStr, Err: err}
	}

	var ffReader *freezeframe.Reader
	if attachFreezeFrames {
		ffReader = freezeframe.NewReader(client, s.didRegistry, s.freezeFrameParams)
	}

	reports := make([]DTCReport, 0, len(triples))
	for _, t := range triples {
		decoded := dtc.Decode(t.Hi, t.Lo, t.Status)
		report := DTCReport{Decoded: decoded}
		if ffReader != nil {
			report.FreezeFrame = s.bestEffortFreezeFrame(ctx, ffReader, t)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// bestEffortFreezeFrame attaches the first available snapshot record for a
// DTC; any failure anywhere in the chain yields nil rather than propagating.
func (s *Service) bestEffortFreezeFrame(ctx context.Context, r *freezeframe.Reader, t uds.DTCTriple) *freezeframe.FreezeFrame {
	ids := r.ListSnapshotIdentification(ctx)
	for _, id := range ids {
		if id.DTCHi != t.Hi || id.DTCLo != t.Lo {
			continue
		}
		ff, err := r.ReadSnapshotRecord(ctx, id.DTCHi, id.DTCLo, id.RecordID)
		if err != nil || ff == nil {
			continue
		}
		return ff
	}
	return nil
}

// ClearDTCs issues a clear-all-groups request.
func (s *Service) ClearDTCs(ctx context.Context, ecuStr string) error {
	ecu, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return err
	}
	client, err := s.clientFor(ecu)
	if err != nil {
		return &Error{Op: "clear_dtcs", ECU: ecuStr, Err: err}
	}
	if err := client.ClearDiagnosticInformation(ctx); err != nil {
		return &Error{Op: "clear_dtcs", ECU: ecuStr, Err: err}
	}
	return nil
}

// ReadDIDValue reads and decodes a single DID, used directly by ReadDID and
// by the IPC read_did command.
func (s *Service) ReadDIDValue(ctx context.Context, ecuStr string, didVal uint16) (DIDReport, error) {
	ecu, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return DIDReport{}, err
	}
	client, err := s.clientFor(ecu)
	if err != nil {
		return DIDReport{}, &Error{Op: "read_did", ECU: ecuStr, Err: err}
	}
	raw, err := client.ReadDataByIdentifier(ctx, didVal)
	if err != nil {
		return DIDReport{}, &Error{Op: "read_did", ECU: ecuStr, Err: err}
	}
	rawHex := strings.ToUpper(hex.EncodeToString(raw))
	spec, ok := s.didRegistry.Lookup(didVal)
	if !ok {
		return DIDReport{DID: didVal, Name: did.FormatDID(didVal), Raw: rawHex, Value: did.Value{Str: rawHex, IsStr: true}}, nil
	}
	value, err := did.Decode(spec, raw)
	if err != nil {
		return DIDReport{}, &Error{Op: "read_did", ECU: ecuStr, Err: err}
	}
	return DIDReport{DID: didVal, Name: spec.Name, Raw: rawHex, Value: value, Unit: spec.Unit}, nil
}

// ReadDIDs reads several DIDs in order for one ECU.
func (s *Service) ReadDIDs(ctx context.Context, ecuStr string, dids []uint16) ([]DIDReport, error) {
	out := make([]DIDReport, 0, len(dids))
	for _, d := range dids {
		r, err := s.ReadDIDValue(ctx, ecuStr, d)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ReadDID implements watch.Reader by rendering a DID read as a flat
// (name,value,unit) triple.
func (s *Service) ReadDID(ctx context.Context, ecuStr string, didVal uint16) (name, value, unit string, err error) {
	r, err := s.ReadDIDValue(ctx, ecuStr, didVal)
	if err != nil {
		return "", "", "", err
	}
	switch {
	case r.Value.IsStr:
		value = r.Value.Str
	case r.Value.IsInt:
		value = fmt.Sprintf("%d", r.Value.Int)
	default:
		value = fmt.Sprintf("%g", r.Value.Float)
	}
	return r.Name, value, r.Unit, nil
}

// LoadAdaptationsProfile loads and registers an ECU's adaptations profile
// from the configured dataset pack.
func (s *Service) LoadAdaptationsProfile(ecuStr string) error {
	_, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return err
	}
	if s.loader == nil {
		return &Error{Op: "load_adaptations_profile", ECU: ecuStr, Err: fmt.Errorf("no dataset loader configured")}
	}
	profile, err := s.loader.LoadAdaptationsProfile(s.brand, ecuStr)
	if err != nil {
		return &Error{Op: "load_adaptations_profile", ECU: ecuStr, Err: err}
	}
	s.adaptations().LoadProfile(ecuStr, profile)
	return nil
}

// LoadLongCodingProfile loads and registers an ECU's long-coding profile
// from the configured dataset pack.
func (s *Service) LoadLongCodingProfile(ecuStr string) error {
	_, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return err
	}
	if s.loader == nil {
		return &Error{Op: "load_longcoding_profile", ECU: ecuStr, Err: fmt.Errorf("no dataset loader configured")}
	}
	profile, err := s.loader.LoadLongCodingProfile(s.brand, ecuStr)
	if err != nil {
		return &Error{Op: "load_longcoding_profile", ECU: ecuStr, Err: err}
	}
	s.longcoding().LoadProfile(ecuStr, profile)
	return nil
}

// ListAdaptations lists the settings known for ecuStr.
func (s *Service) ListAdaptations(ecuStr string) ([]datasets.AdaptSettingSpec, error) {
	_, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return nil, err
	}
	settings, err := s.adaptations().ListSettings(ecuStr)
	if err != nil {
		return nil, &Error{Op: "list_adaptations", ECU: ecuStr, Err: err}
	}
	return settings, nil
}

// ReadAdaptation reads a single adaptation setting's current value.
func (s *Service) ReadAdaptation(ctx context.Context, ecuStr, key string) (adaptations.DecodedValue, error) {
	ecu, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return adaptations.DecodedValue{}, err
	}
	client, err := s.clientFor(ecu)
	if err != nil {
		return adaptations.DecodedValue{}, &Error{Op: "read_adaptation", ECU: ecuStr, Err: err}
	}
	value, err := s.adaptations().ReadSetting(ctx, client, ecuStr, key)
	if err != nil {
		return adaptations.DecodedValue{}, &Error{Op: "read_adaptation", ECU: ecuStr, Err: err}
	}
	return value, nil
}

// WriteAdaptation performs the full write sequence for one dataset
// setting. If mode is unsafe, password must be the correct unsafe
// password; it is verified before any security access or write occurs.
func (s *Service) WriteAdaptation(ctx context.Context, ecuStr, key, newValue string, mode adaptations.Mode, password string, securityLevel *byte, keyAlgo adaptations.SecurityKeyAlgo) (*adaptations.WriteReport, error) {
	ecu, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return nil, err
	}
	if err := s.requireUnsafeIfNeeded(mode, password); err != nil {
		return nil, &Error{Op: "write_adaptation", ECU: ecuStr, Err: err}
	}
	client, err := s.clientFor(ecu)
	if err != nil {
		return nil, &Error{Op: "write_adaptation", ECU: ecuStr, Err: err}
	}
	report, err := s.adaptations().WriteSetting(ctx, client, client, ecuStr, key, newValue, mode, securityLevel, keyAlgo)
	if err != nil {
		return nil, &Error{Op: "write_adaptation", ECU: ecuStr, Err: err}
	}
	return report, nil
}

// WriteAdaptationRaw bypasses the dataset (unsafe mode only).
func (s *Service) WriteAdaptationRaw(ctx context.Context, ecuStr string, didVal uint16, rawHex, password string) (*adaptations.WriteReport, error) {
	ecu, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return nil, err
	}
	if err := s.requireUnsafeIfNeeded(adaptations.ModeUnsafe, password); err != nil {
		return nil, &Error{Op: "write_adaptation_raw", ECU: ecuStr, Err: err}
	}
	client, err := s.clientFor(ecu)
	if err != nil {
		return nil, &Error{Op: "write_adaptation_raw", ECU: ecuStr, Err: err}
	}
	report, err := s.adaptations().WriteRaw(ctx, client, ecuStr, didVal, rawHex, adaptations.ModeUnsafe)
	if err != nil {
		return nil, &Error{Op: "write_adaptation_raw", ECU: ecuStr, Err: err}
	}
	return report, nil
}

// ListLongCodingFields lists the fields known for ecuStr.
func (s *Service) ListLongCodingFields(ecuStr string) ([]datasets.LongCodingFieldSpec, error) {
	_, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return nil, err
	}
	profile, err := s.longcoding().ListFields(ecuStr)
	if err != nil {
		return nil, &Error{Op: "list_longcoding_fields", ECU: ecuStr, Err: err}
	}
	return profile, nil
}

// ReadLongCodingField reads a single long-coding field's current value.
func (s *Service) ReadLongCodingField(ctx context.Context, ecuStr, key string) (longcoding.FieldValue, error) {
	ecu, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return longcoding.FieldValue{}, err
	}
	client, err := s.clientFor(ecu)
	if err != nil {
		return longcoding.FieldValue{}, &Error{Op: "read_longcoding_field", ECU: ecuStr, Err: err}
	}
	value, err := s.longcoding().ReadField(ctx, client, ecuStr, key)
	if err != nil {
		return longcoding.FieldValue{}, &Error{Op: "read_longcoding_field", ECU: ecuStr, Err: err}
	}
	return value, nil
}

// WriteLongCodingField writes a single bit-field within the ECU's coding
// DID.
func (s *Service) WriteLongCodingField(ctx context.Context, ecuStr, key, newValue string, mode longcoding.Mode, password string) (*longcoding.WriteReport, error) {
	ecu, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return nil, err
	}
	if mode == longcoding.ModeUnsafe {
		if err := unsafeauth.RequirePassword(s.unsafePasswordPath, password); err != nil {
			return nil, &Error{Op: "write_longcoding_field", ECU: ecuStr, Err: err}
		}
	}
	client, err := s.clientFor(ecu)
	if err != nil {
		return nil, &Error{Op: "write_longcoding_field", ECU: ecuStr, Err: err}
	}
	report, err := s.longcoding().WriteField(ctx, client, ecuStr, key, newValue, mode)
	if err != nil {
		return nil, &Error{Op: "write_longcoding_field", ECU: ecuStr, Err: err}
	}
	return report, nil
}

// WriteLongCodingRaw bypasses the dataset and writes the whole coding DID
// (unsafe mode only).
func (s *Service) WriteLongCodingRaw(ctx context.Context, ecuStr, rawHex, password string) (string, error) {
	ecu, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return "", err
	}
	if err := unsafeauth.RequirePassword(s.unsafePasswordPath, password); err != nil {
		return "", &Error{Op: "write_longcoding_raw", ECU: ecuStr, Err: err}
	}
	client, err := s.clientFor(ecu)
	if err != nil {
		return "", &Error{Op: "write_longcoding_raw", ECU: ecuStr, Err: err}
	}
	id, err := s.longcoding().WriteRaw(ctx, client, ecuStr, rawHex, longcoding.ModeUnsafe)
	if err != nil {
		return "", &Error{Op: "write_longcoding_raw", ECU: ecuStr, Err: err}
	}
	return id, nil
}

// BackupDID creates a non-revertable snapshot backup of a DID's current
// raw bytes by reading it through this service's UDS client for ecuStr.
// Always reads live rather than reusing a cached/earlier value, so a
// snapshot reflects the ECU's state at backup time; raw_hex is recorded
// in uppercase.
func (s *Service) BackupDID(ctx context.Context, ecuStr string, didVal uint16) (*backup.Record, error) {
	ecu, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return nil, err
	}
	client, err := s.clientFor(ecu)
	if err != nil {
		return nil, &Error{Op: "backup_did", ECU: ecuStr, Err: err}
	}
	raw, err := client.ReadDataByIdentifier(ctx, didVal)
	if err != nil {
		return nil, &Error{Op: "backup_did", ECU: ecuStr, Err: err}
	}
	rec, err := s.store.CreateSnapshotBackup(ecuStr, didVal, strings.ToUpper(hex.EncodeToString(raw)))
	if err != nil {
		return nil, &Error{Op: "backup_did", ECU: ecuStr, Err: err}
	}
	return rec, nil
}

// Revert restores a did_write backup's old_hex to the DID it targeted,
// regardless of which engine (adaptations or long-coding) created it.
func (s *Service) Revert(ctx context.Context, ecuStr, backupID string) (string, error) {
	ecu, ecuStr, err := NormalizeECU(ecuStr)
	if err != nil {
		return "", err
	}
	rec, err := s.store.Load(backupID)
	if err != nil {
		return "", &Error{Op: "revert", ECU: ecuStr, Err: err}
	}
	if rec.Kind != backup.KindDidWrite {
		return "", &Error{Op: "revert", ECU: ecuStr, Err: fmt.Errorf("backup %s (kind=%s) is not revertable", backupID, rec.Kind)}
	}
	oldRaw, err := hex.DecodeString(rec.OldHex)
	if err != nil {
		return "", &Error{Op: "revert", ECU: ecuStr, Err: err}
	}
	client, err := s.clientFor(ecu)
	if err != nil {
		return "", &Error{Op: "revert", ECU: ecuStr, Err: err}
	}
	if err := client.WriteDataByIdentifier(ctx, rec.DID, oldRaw); err != nil {
		return "", &Error{Op: "revert", ECU: ecuStr, Err: err}
	}
	readback, err := client.ReadDataByIdentifier(ctx, rec.DID)
	if err != nil {
		return "", &Error{Op: "revert", ECU: ecuStr, Err: err}
	}
	return strings.ToUpper(hex.EncodeToString(readback)), nil
}

// requireUnsafeIfNeeded verifies password against the configured unsafe
// credential gate when mode is unsafe, before any security access or write
// step runs.
func (s *Service) requireUnsafeIfNeeded(mode adaptations.Mode, password string) error {
	if mode != adaptations.ModeUnsafe {
		return nil
	}
	return unsafeauth.RequirePassword(s.unsafePasswordPath, password)
}
