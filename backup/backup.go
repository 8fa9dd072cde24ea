// Package backup implements the sequentially-numbered write/snapshot
// backup store: <backups_root>/<id>.json records plus an
// append-only index.jsonl. IDs are monotonic and gap-free; no wall-clock
// timestamps are persisted.
package backup

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Kind distinguishes a revertable write-backup from a read-only snapshot.
type Kind string

const (
	KindDidWrite Kind = "did_write"
	KindDidSnapshot Kind = "did_snapshot"
)

// Record is one persisted backup entry.
type Record struct {
	BackupID string `json:"backup_id"`
	Kind Kind `json:"kind"`
	ECU string `json:"ecu"`
	DID uint16 `json:"did"`
	Key string `json:"key,omitempty"`
	OldHex string `json:"old_hex,omitempty"`
	NewHex string `json:"new_hex,omitempty"`
	RawHex string `json:"raw_hex,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// indexEntry is one line of index.jsonl: just enough to recover the next
// id and to audit what was written without opening every record file.
type indexEntry struct {
	BackupID string `json:"backup_id"`
	Kind Kind `json:"kind"`
	ECU string `json:"ecu"`
	DID uint16 `json:"did"`
}

// Error reports a backup-layer failure: unknown id, invalid record.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "backup: " + e.Msg }

// Store is a backup store rooted at a directory. LogDir, if set, receives
// a best-effort side-copy of every record; a missing or unwritable
// LogDir never fails the main operation.
type Store struct {
	Root string
	LogDir string
	log *logrus.Entry
}

// NewStore builds a Store rooted at root, creating it if necessary.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &Error{Msg: fmt.Sprintf("creating backup root %s: %v", root, err)}
	}
	return &Store{Root: root, log: logrus.WithField("component", "backup")}, nil
}

func (s *Store) indexPath() string { return filepath.Join(s.Root, "index.jsonl") }

// nextID scans index.jsonl for the last entry's backup_id and returns the
// zero-padded successor, or "000001" if the index is empty/absent.
func (s *Store) nextID() (string, error) {
	f, err := os.Open(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "000001", nil
		}
		return "", &Error{Msg: err.Error()}
	}
	defer f.Close()

	var last int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry indexEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return "", &Error{Msg: "corrupt index entry: " + err.Error()}
		}
		var id int
		if _, err := fmt.Sscanf(entry.BackupID, "%06d", &id); err != nil {
			return "", &Error{Msg: "corrupt index backup_id: " + entry.BackupID}
		}
		last = id
	}
	if err := scanner.Err(); err != nil {
		return "", &Error{Msg: err.Error()}
	}
	return fmt.Sprintf("%06d", last+1), nil
}

// create persists rec under the next id, appends to the index, and
// best-effort side-copies to LogDir.
func (s *Store) create(rec Record) (*Record, error) {
	id, err := s.nextID()
	if err != nil {
		return nil, err
	}
	rec.BackupID = id

	recordPath := filepath.Join(s.Root, id+".json")
	data, err := json.MarshalIndent(rec, "", " ")
	if err != nil {
		return nil, &Error{Msg: err.Error()}
	}
	if err := os.WriteFile(recordPath, data, 0o644); err != nil {
		return nil, &Error{Msg: fmt.Sprintf("writing record %s: %v", recordPath, err)}
	}

	indexLine, err := json.Marshal(indexEntry{BackupID: rec.BackupID, Kind: rec.Kind, ECU: rec.ECU, DID: rec.DID})
	if err != nil {
		return nil, &Error{Msg: err.Error()}
	}
	f, err := os.OpenFile(s.indexPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &Error{Msg: fmt.Sprintf("opening index: %v", err)}
	}
	defer f.Close()
	if _, err := f.Write(append(indexLine, '\n')); err != nil {
		return nil, &Error{Msg: fmt.Sprintf("appending to index: %v", err)}
	}

	s.sideCopy(id, data)
	return &rec, nil
}

func (s *Store) sideCopy(id string, data []byte) {
	if s.LogDir == "" {
		return
	}
	if err := os.MkdirAll(s.LogDir, 0o755); err != nil {
		s.log.WithError(err).Debug("backup side-copy: could not create log dir, skipping")
		return
	}
	path := filepath.Join(s.LogDir, id+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.log.WithError(err).Debug("backup side-copy: could not write, skipping")
	}
}

// CreateWriteBackup records a revertable did_write backup before a write is
// issued.
func (s *Store) CreateWriteBackup(ecu string, didVal uint16, key, oldHex, newHex string) (*Record, error) {
	return s.create(Record{Kind: KindDidWrite, ECU: ecu, DID: didVal, Key: key, OldHex: oldHex, NewHex: newHex})
}

// CreateSnapshotBackup records a read-only, non-revertable did_snapshot
// backup of a DID's current bytes.
func (s *Store) CreateSnapshotBackup(ecu string, didVal uint16, rawHex string) (*Record, error) {
	return s.create(Record{Kind: KindDidSnapshot, ECU: ecu, DID: didVal, RawHex: rawHex})
}

// Load reads back a backup record by id.
func (s *Store) Load(backupID string) (*Record, error) {
	path := filepath.Join(s.Root, backupID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Msg: fmt.Sprintf("unknown backup id %q", backupID)}
		}
		return nil, &Error{Msg: err.Error()}
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &Error{Msg: fmt.Sprintf("invalid record %q: %v", backupID, err)}
	}
	return &rec, nil
}
