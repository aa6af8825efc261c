package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/bwesterb/go-mss"

	"go.uber.org/zap"
)

// Called for every envelope a Server has checked.  env is nil if the
// frame could not be parsed.
type Handler func(env *mss.Envelope, status Status, err error)

// A ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on.  Defaults to localhost on DefaultPort.
	Addr string

	// Largest accepted frame.  Defaults to DefaultMaxFrameSize.
	MaxFrameSize uint32

	// Deadline for reading a request and writing the reply.
	// Defaults to five seconds.
	Timeout time.Duration

	// Largest tree height accepted in an envelope.  Verification allocates
	// a tree of 2^height leafs, so this bounds the memory spent on a
	// single envelope.  Defaults to DefaultMaxHeight.
	MaxHeight uint32

	// Maximum number of connections handled at the same time.
	// Defaults to DefaultMaxConns.
	MaxConns int

	// Decides whether the root in an envelope belongs to a trusted
	// signer.  If nil, every root is trusted.
	Trusted func(pk *mss.PublicKey) bool

	Logger  *zap.Logger // defaults to a no-op logger
	Metrics *Metrics    // defaults to unregistered metrics
	Handler Handler     // may be nil
}

// Server receives envelopes and verifies them.
type Server struct {
	cfg ServerConfig
	log *zap.Logger

	mux sync.Mutex // guards ln
	ln  net.Listener

	sem           chan struct{} // one slot per connection being handled
	waitCloseConn sync.WaitGroup
}

// NewServer creates a Server.  Call Listen or Serve to start it.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = net.JoinHostPort("localhost", strconv.Itoa(DefaultPort))
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxHeight == 0 {
		cfg.MaxHeight = DefaultMaxHeight
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	return &Server{
		cfg: cfg,
		log: cfg.Logger,
		sem: make(chan struct{}, cfg.MaxConns),
	}
}

// Binds the listening socket.  Serve calls Listen if it has not been
// called yet.
func (s *Server) Listen() error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info("Listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Returns the address the server listens on, or nil if it does not
// listen yet.
func (s *Server) Addr() net.Addr {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Accepts connections until ctx is cancelled.  Waits for the
// connections being handled before it returns.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mux.Lock()
	ln := s.ln
	s.mux.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.waitCloseConn.Wait()
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			ln.Close()
			s.waitCloseConn.Wait()
			return err
		}
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			s.waitCloseConn.Wait()
			return nil
		}
		s.waitCloseConn.Add(1)
		go func() {
			s.acceptClient(conn)
			<-s.sem
			s.waitCloseConn.Done()
		}()
	}
}

func (s *Server) acceptClient(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	remote := zap.String("address", conn.RemoteAddr().String())

	buf, err := ReadFrame(conn, s.cfg.MaxFrameSize)
	if err != nil {
		s.cfg.Metrics.ConnectionError.Inc()
		s.log.Error("Failed to read frame", zap.Error(err), remote)
		return
	}
	s.cfg.Metrics.Received.Inc()

	start := time.Now()
	env, status, err := s.check(buf)
	s.cfg.Metrics.VerifyLatency.Observe(time.Since(start).Seconds())
	s.cfg.Metrics.Envelopes.WithLabelValues(status.String()).Inc()

	switch status {
	case StatusAccepted:
		s.log.Info("Accepted envelope", remote,
			zap.Uint32("leaf", env.Signature.Leaf()),
			zap.Int("msgLen", len(env.Message)))
	default:
		s.log.Warn("Refused envelope", remote,
			zap.Stringer("status", status), zap.Error(err))
	}

	if s.cfg.Handler != nil {
		s.cfg.Handler(env, status, err)
	}

	if err = WriteFrame(conn, []byte{byte(status)}); err != nil {
		s.cfg.Metrics.ConnectionError.Inc()
		s.log.Error("Failed to write reply", zap.Error(err), remote)
	}
}

// Parses and verifies an envelope.
func (s *Server) check(buf []byte) (*mss.Envelope, Status, error) {
	var env mss.Envelope
	if err := env.UnmarshalBinary(buf); err != nil {
		return nil, StatusMalformed, err
	}
	if env.Params.Height > s.cfg.MaxHeight {
		return &env, StatusMalformed, fmt.Errorf(
			"height %d exceeds limit %d", env.Params.Height, s.cfg.MaxHeight)
	}
	pk, err := env.PublicKey()
	if err != nil {
		return nil, StatusMalformed, err
	}
	if s.cfg.Trusted != nil && !s.cfg.Trusted(pk) {
		return &env, StatusRejected, errors.New("untrusted root")
	}
	ok, err := pk.Verify(env.Signature, env.Message)
	if ok {
		return &env, StatusAccepted, nil
	}
	if err.Rejected() {
		return &env, StatusRejected, err
	}
	return &env, StatusMalformed, err
}
