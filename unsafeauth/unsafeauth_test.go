package unsafeauth_test

import (
	"path/filepath"
	"testing"

	"candiag/unsafeauth"

	"github.com/stretchr/testify/require"
)

func TestHashSaveLoadVerify(t *testing.T) {
	h, err := unsafeauth.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, unsafeauth.ScryptN, h.N)
	require.Equal(t, unsafeauth.KeyLen, h.DKLen)

	path := filepath.Join(t.TempDir(), "unsafe.json")
	require.NoError(t, unsafeauth.Save(path, h))

	loaded, err := unsafeauth.Load(path)
	require.NoError(t, err)

	ok, err := unsafeauth.Verify(loaded, "correct horse battery staple")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = unsafeauth.Verify(loaded, "wrong password")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRequirePasswordMissingConfig(t *testing.T) {
	err := unsafeauth.RequirePassword(filepath.Join(t.TempDir(), "missing.json"), "anything")
	require.Error(t, err)
}

func TestRequirePasswordWrongPassword(t *testing.T) {
	h, err := unsafeauth.HashPassword("hunter2")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "unsafe.json")
	require.NoError(t, unsafeauth.Save(path, h))

	err = unsafeauth.RequirePassword(path, "not hunter2")
	require.Error(t, err)

	err = unsafeauth.RequirePassword(path, "hunter2")
	require.NoError(t, err)
}
