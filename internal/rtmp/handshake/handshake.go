// Package handshake implements the RTMP "simple" handshake: the
// C0/C1 -> S0/S1/S2 -> C2 exchange every connection performs before any
// chunk stream traffic flows. Grounded on the retrieval pack's
// alxayo-rtmp-go server-side handshake, rewritten as a single blocking
// Perform call (this service never needs the client side, nor the
// multi-state FSM a bidirectional implementation requires).
package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	version    = 0x03
	blockSize  = 1536
	ioDeadline = 5 * time.Second
)

// Perform runs the server side of the simple handshake over conn: read
// C0+C1, reply with S0+S1+S2, then read C2 without checking its contents. Read/write
// deadlines are cleared before returning so the caller's chunk stream
// read-loop isn't bound by handshake timing.
func Perform(conn net.Conn) error {
	_ = conn.SetDeadline(time.Now().Add(ioDeadline))
	defer func() { _ = conn.SetDeadline(time.Time{}) }()

	var c0c1 [1 + blockSize]byte
	if _, err := io.ReadFull(conn, c0c1[:]); err != nil {
		return fmt.Errorf("handshake: read c0/c1: %w", err)
	}
	if c0c1[0] != version {
		return fmt.Errorf("handshake: unsupported version 0x%02x", c0c1[0])
	}
	c1 := c0c1[1:]

	s1 := make([]byte, blockSize)
	binary.BigEndian.PutUint32(s1[0:4], uint32(time.Now().UnixMilli()))
	// s1[4:8] left zero per the simple-handshake convention.
	if _, err := rand.Read(s1[8:]); err != nil {
		return fmt.Errorf("handshake: fill s1 random: %w", err)
	}

	s2 := append([]byte(nil), c1...) // S2 echoes C1 verbatim.

	out := make([]byte, 0, 1+2*blockSize)
	out = append(out, version)
	out = append(out, s1...)
	out = append(out, s2...)
	if _, err := conn.Write(out); err != nil {
		return fmt.Errorf("handshake: write s0/s1/s2: %w", err)
	}

	c2 := make([]byte, blockSize)
	if _, err := io.ReadFull(conn, c2); err != nil {
		return fmt.Errorf("handshake: read c2: %w", err)
	}
	// A strict implementation would compare c2 against s1 byte-for-byte;
	// several real encoders don't echo it faithfully, so a mismatch here is
	// tolerated rather than rejected.

	return nil
}
