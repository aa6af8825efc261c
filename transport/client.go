package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/bwesterb/go-mss"
)

// Sends env to the server at addr and returns its verdict.
func Send(ctx context.Context, addr string, env *mss.Envelope) (Status, error) {
	buf, err := env.MarshalBinary()
	if err != nil {
		return 0, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	if err = WriteFrame(conn, buf); err != nil {
		return 0, err
	}
	reply, err := ReadFrame(conn, 1)
	if err != nil {
		return 0, err
	}
	if len(reply) != 1 {
		return 0, fmt.Errorf("transport: reply of %d bytes", len(reply))
	}
	return Status(reply[0]), nil
}
