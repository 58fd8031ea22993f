package handshake

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPerformCompletesAgainstAWellBehavedClient(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- Perform(server) }()

	c1 := make([]byte, blockSize)
	c1[4] = 0xAA
	_, err := client.Write(append([]byte{version}, c1...))
	require.NoError(t, err)

	var s0s1s2 [1 + 2*blockSize]byte
	_, err = io.ReadFull(client, s0s1s2[:])
	require.NoError(t, err)
	require.Equal(t, byte(version), s0s1s2[0])

	s2 := s0s1s2[1+blockSize:]
	require.Equal(t, c1, s2, "S2 must echo C1 verbatim")

	_, err = client.Write(make([]byte, blockSize)) // C2
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}
}

func TestPerformRejectsUnsupportedVersion(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- Perform(server) }()

	_, err := client.Write(append([]byte{0x06}, make([]byte, blockSize)...))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not return")
	}
}
