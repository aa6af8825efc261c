package mss

import (
	"encoding/binary"
	"fmt"
	goLog "log"
)

// Encodes the given uint64 into the buffer out in Big Endian
func encodeUint64Into(x uint64, out []byte) {
	if len(out)%8 == 0 {
		binary.BigEndian.PutUint64(out[len(out)-8:], x)
		for i := 0; i < len(out)-8; i += 8 {
			binary.BigEndian.PutUint64(out[i:i+8], 0)
		}
	} else {
		for i := len(out) - 1; i >= 0; i-- {
			out[i] = byte(x)
			x >>= 8
		}
	}
}

// Interpret []byte as Big Endian int.
func decodeUint64(in []byte) (ret uint64) {
	for i := 0; i < len(in); i++ {
		ret |= uint64(in[i]) << uint64(8*(len(in)-1-i))
	}
	return
}

// Kind of an Error.  Verification failures (ErrInvalidOneTimeSignature and
// ErrInvalidAuthenticationPath) are expected outcomes of checking untrusted
// input; the other kinds indicate malformed input or a usage bug.
type ErrorKind uint8

const (
	ErrOther ErrorKind = iota
	ErrInvalidLeafCount
	ErrKeyReuse
	ErrKeysExhausted
	ErrMalformedSignature
	ErrMalformedKey
	ErrMalformedDigest
	ErrInvalidPosition
	ErrNoBrother
	ErrTreeNotGenerated
	ErrInvalidOneTimeSignature
	ErrInvalidAuthenticationPath
	ErrLocked
)

var errorKindNames = [...]string{
	"other",
	"invalid leaf count",
	"key reuse",
	"keys exhausted",
	"malformed signature",
	"malformed key",
	"malformed digest",
	"invalid position",
	"no brother",
	"tree not generated",
	"invalid one-time signature",
	"invalid authentication path",
	"locked",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

type Error interface {
	error
	Locked() bool    // Is this error because something (like a file) was locked?
	Inner() error    // Returns the wrapped error, if any
	Kind() ErrorKind // Returns the kind of error
	Rejected() bool  // Is this a signature that failed verification?
}

type errorImpl struct {
	msg   string
	kind  ErrorKind
	inner error
}

func (err *errorImpl) Locked() bool    { return err.kind == ErrLocked }
func (err *errorImpl) Inner() error    { return err.inner }
func (err *errorImpl) Unwrap() error   { return err.inner }
func (err *errorImpl) Kind() ErrorKind { return err.kind }

func (err *errorImpl) Rejected() bool {
	return err.kind == ErrInvalidOneTimeSignature ||
		err.kind == ErrInvalidAuthenticationPath
}

func (err *errorImpl) Error() string {
	if err.inner != nil {
		return fmt.Sprintf("%s: %s", err.msg, err.inner.Error())
	}
	return err.msg
}

// Reports whether err is an Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	if err == nil {
		return false
	}
	e, ok := err.(Error)
	return ok && e.Kind() == kind
}

// Formats a new Error
func errorf(format string, a ...interface{}) *errorImpl {
	return &errorImpl{msg: fmt.Sprintf(format, a...)}
}

// Formats a new Error of the given kind
func kindErrorf(kind ErrorKind, format string, a ...interface{}) *errorImpl {
	return &errorImpl{msg: fmt.Sprintf(format, a...), kind: kind}
}

// Formats a new Error that wraps another
func wrapErrorf(err error, format string, a ...interface{}) *errorImpl {
	return &errorImpl{msg: fmt.Sprintf(format, a...), inner: err}
}

type dummyLogger struct{}
type stdlibLogger struct{}

func (logger *dummyLogger) Logf(format string, a ...interface{}) {}

func (logger *stdlibLogger) Logf(format string, a ...interface{}) {
	goLog.Printf(format, a...)
}

var log Logger = &dummyLogger{}

type Logger interface {
	Logf(format string, a ...interface{})
}

// Enables logging to log package.  For more flexibility, see SetLogger().
func EnableLogging() {
	SetLogger(&stdlibLogger{})
}

// Enables logging.  Disable logging by passing nil.
//
// Use EnableLogging if you want to log to the log package.
func SetLogger(logger Logger) {
	if logger == nil {
		log = &dummyLogger{}
		return
	}
	log = logger
}
