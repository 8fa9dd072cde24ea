//go:build linux

package ipc

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPeerCredentialsReportsConnectingUID(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "peercred.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer listener.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			acceptedCh <- conn
		}
	}()

	client, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer client.Close()

	serverConn := <-acceptedCh
	defer serverConn.Close()

	uid, _, ok := peerCredentials(serverConn)
	require.True(t, ok)
	require.Equal(t, uint32(os.Getuid()), uid)
}

func TestPeerCredentialsFalseForNonUnixConn(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	_, _, ok := peerCredentials(server)
	require.False(t, ok)
}
