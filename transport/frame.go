// Package transport ships signed envelopes between a signer and a verifier
// over TCP.
//
// Every message is a frame: a 4-byte big endian length followed by that
// many bytes.  A client sends one frame holding a marshalled mss.Envelope
// and the server answers with a one-byte Status frame.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Port the server listens on if none is configured.
	DefaultPort = 12800

	// Largest frame accepted by default.
	DefaultMaxFrameSize = 16 << 20

	// Largest tree height accepted by default: that of the largest
	// registered MSS instance.
	DefaultMaxHeight = 10

	// Number of connections a server handles at once by default.
	DefaultMaxConns = 64
)

var ErrFrameTooLarge = errors.New("transport: frame too large")

// Outcome of verifying a received envelope.
type Status uint8

const (
	StatusAccepted  Status = iota // the signature is valid
	StatusRejected                // the signature does not verify
	StatusMalformed               // the envelope could not be parsed or checked
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusMalformed:
		return "malformed"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Writes payload as a single frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > 0xffffffff {
		return ErrFrameTooLarge
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Reads a single frame of at most maxSize bytes.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > maxSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
