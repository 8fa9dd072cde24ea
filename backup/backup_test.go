package backup_test

import (
	"testing"

	"candiag/backup"

	"github.com/stretchr/testify/require"
)

func TestBackupIDsMonotonicAndZeroPadded(t *testing.T) {
	store, err := backup.NewStore(t.TempDir())
	require.NoError(t, err)

	r1, err := store.CreateWriteBackup("01", 0x1234, "drl", "00", "01")
	require.NoError(t, err)
	require.Equal(t, "000001", r1.BackupID)

	r2, err := store.CreateSnapshotBackup("01", 0xF190, "5756575A")
	require.NoError(t, err)
	require.Equal(t, "000002", r2.BackupID)

	r3, err := store.CreateWriteBackup("02", 0x1235, "", "10", "20")
	require.NoError(t, err)
	require.Equal(t, "000003", r3.BackupID)
}

func TestLoadRoundTrip(t *testing.T) {
	store, err := backup.NewStore(t.TempDir())
	require.NoError(t, err)
	r, err := store.CreateWriteBackup("01", 0x1234, "drl", "00", "01")
	require.NoError(t, err)

	loaded, err := store.Load(r.BackupID)
	require.NoError(t, err)
	require.Equal(t, "00", loaded.OldHex)
	require.Equal(t, "01", loaded.NewHex)
	require.Equal(t, backup.KindDidWrite, loaded.Kind)
}

func TestLoadUnknownID(t *testing.T) {
	store, err := backup.NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Load("000099")
	require.Error(t, err)
}

func TestSideCopyNeverFailsMainWrite(t *testing.T) {
	store, err := backup.NewStore(t.TempDir())
	require.NoError(t, err)
	store.LogDir = "/nonexistent/definitely-not-writable-path-xyz"
	_, err = store.CreateWriteBackup("01", 0x1234, "drl", "00", "01")
	require.NoError(t, err)
}
