package transport

import (
	"bytes"
	"io"
	"testing"
)

func TestFrames(t *testing.T) {
	var buf bytes.Buffer
	for _, payload := range [][]byte{{}, []byte("test"), make([]byte, 70000)} {
		if err := WriteFrame(&buf, payload); err != nil {
			t.Fatalf("WriteFrame(): %v", err)
		}
	}
	if buf.Len() != 3*4+4+70000 {
		t.Fatalf("Frames take %d bytes", buf.Len())
	}
	for _, size := range []int{0, 4, 70000} {
		payload, err := ReadFrame(&buf, DefaultMaxFrameSize)
		if err != nil {
			t.Fatalf("ReadFrame(): %v", err)
		}
		if len(payload) != size {
			t.Fatalf("ReadFrame() returned %d bytes instead of %d", len(payload), size)
		}
	}
	if _, err := ReadFrame(&buf, DefaultMaxFrameSize); err != io.EOF {
		t.Fatalf("ReadFrame() at the end: %v", err)
	}
}

func TestFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, make([]byte, 100))
	if _, err := ReadFrame(&buf, 99); err != ErrFrameTooLarge {
		t.Fatalf("ReadFrame(): %v", err)
	}

	buf.Reset()
	WriteFrame(&buf, make([]byte, 100))
	if _, err := ReadFrame(bytes.NewReader(buf.Bytes()[:50]), 100); err != io.ErrUnexpectedEOF {
		t.Fatalf("ReadFrame() of truncated frame: %v", err)
	}
}

func TestStatusString(t *testing.T) {
	if StatusAccepted.String() != "accepted" || StatusRejected.String() != "rejected" ||
		StatusMalformed.String() != "malformed" || Status(7).String() != "Status(7)" {
		t.Fatalf("Status.String() is wrong")
	}
}
