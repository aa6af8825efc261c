package mss

import (
	"crypto/rand"
	"crypto/subtle"
	"io"
	"sync/atomic"

	"github.com/templexxx/xor"
)

// A Lamport one-time key pair.
//
// The private key consists of 256 pairs of N-byte secrets (secret0, secret1),
// one pair for every bit of a message digest.  The public key consists of
// the digests of these secrets, in the same order.  Both are stored as
//
//     secret0[0] secret1[0] secret0[1] secret1[1] ... secret1[255]
//
// which is also their serialization.
//
// A key pair signs at most one message.
type OneTimeKeyPair struct {
	ctx  *Context
	sk   []byte // OneTimeKeySize bytes of secrets
	pk   []byte // OneTimeKeySize bytes of digests of the secrets
	used uint32 // 1 once the key pair has been claimed for signing
}

// A Lamport one-time public key.
type OneTimePublicKey struct {
	buf []byte
}

// A Lamport one-time signature: the 256 revealed secrets in bit order.
type OneTimeSignature struct {
	buf []byte
}

// Returns the i-th bit of the digest, most significant bit first.
func digestBit(digest []byte, i int) int {
	return int(digest[i/8]>>(7-uint(i%8))) & 1
}

// Generates a fresh one-time key pair with secrets read from rng.
// If rng is nil, crypto/rand is used.  rng must be a cryptographically
// secure source: predictable secrets allow forgeries.
func (ctx *Context) GenerateOneTimeKeyPair(rng io.Reader) (*OneTimeKeyPair, Error) {
	sk := make([]byte, OneTimeKeySize)
	if err := readSecrets(rng, sk); err != nil {
		return nil, err
	}
	return ctx.newOneTimeKeyPair(sk), nil
}

func readSecrets(rng io.Reader, buf []byte) Error {
	if rng == nil {
		rng = rand.Reader
	}
	if _, err := io.ReadFull(rng, buf); err != nil {
		return wrapErrorf(err, "Failed to read one-time secrets")
	}
	return nil
}

// Recreates a one-time key pair from its serialized secrets, as returned
// by MarshalBinary.
func (ctx *Context) OneTimeKeyPairFromBytes(sk []byte, used bool) (
	*OneTimeKeyPair, Error) {
	if len(sk) != OneTimeKeySize {
		return nil, kindErrorf(ErrMalformedKey,
			"One-time private key should be %d bytes, not %d",
			OneTimeKeySize, len(sk))
	}
	buf := make([]byte, OneTimeKeySize)
	copy(buf, sk)
	kp := ctx.newOneTimeKeyPair(buf)
	if used {
		kp.used = 1
	}
	return kp, nil
}

// Takes ownership of sk and derives the public key.
func (ctx *Context) newOneTimeKeyPair(sk []byte) *OneTimeKeyPair {
	pk := make([]byte, OneTimeKeySize)
	for i := 0; i < 2*OneTimeBits; i++ {
		ctx.hashInto(sk[i*N:(i+1)*N], pk[i*N:(i+1)*N])
	}
	return &OneTimeKeyPair{
		ctx: ctx,
		sk:  sk,
		pk:  pk,
	}
}

// Signs msg.  The key pair is marked as used before anything else happens,
// and stays used even if signing fails.  Returns an error of kind
// ErrKeyReuse if the key pair was used before.
func (kp *OneTimeKeyPair) Sign(msg []byte) (*OneTimeSignature, Error) {
	if !kp.claim() {
		return nil, kindErrorf(ErrKeyReuse, "One-time key has already been used")
	}
	return kp.reveal(msg), nil
}

// Atomically marks the key pair as used.  Returns false if it already was.
func (kp *OneTimeKeyPair) claim() bool {
	return atomic.CompareAndSwapUint32(&kp.used, 0, 1)
}

// Reveals, for every bit of the digest of msg, the matching secret.
func (kp *OneTimeKeyPair) reveal(msg []byte) *OneTimeSignature {
	digest := kp.ctx.hash(msg)
	buf := make([]byte, OneTimeSignatureSize)
	for i := 0; i < OneTimeBits; i++ {
		off := (2*i + digestBit(digest, i)) * N
		copy(buf[i*N:(i+1)*N], kp.sk[off:off+N])
	}
	return &OneTimeSignature{buf: buf}
}

// Returns whether the key pair has been used to sign.
func (kp *OneTimeKeyPair) Used() bool {
	return atomic.LoadUint32(&kp.used) == 1
}

// Returns the public key.
func (kp *OneTimeKeyPair) PublicKey() *OneTimePublicKey {
	return &OneTimePublicKey{buf: kp.pk}
}

// Returns the serialized secrets.  Handle with care.
func (kp *OneTimeKeyPair) MarshalBinary() ([]byte, error) {
	ret := make([]byte, OneTimeKeySize)
	copy(ret, kp.sk)
	return ret, nil
}

// Check whether sig is a valid one-time signature of msg under pk.
//
// Returns an error of kind ErrMalformedSignature or ErrMalformedKey if
// sig or pk is not of the right shape, and false with an error of kind
// ErrInvalidOneTimeSignature if the signature does not match.  All 256
// positions are checked regardless of where a mismatch occurs.
func (ctx *Context) VerifyOneTime(msg []byte, sig *OneTimeSignature,
	pk *OneTimePublicKey) (bool, Error) {
	if sig == nil || len(sig.buf) != OneTimeSignatureSize {
		return false, kindErrorf(ErrMalformedSignature,
			"One-time signature should be %d bytes", OneTimeSignatureSize)
	}
	if pk == nil || len(pk.buf) != OneTimeKeySize {
		return false, kindErrorf(ErrMalformedKey,
			"One-time public key should be %d bytes", OneTimeKeySize)
	}

	digest := ctx.hash(msg)
	var acc, diff, computed, zero [N]byte
	for i := 0; i < OneTimeBits; i++ {
		off := (2*i + digestBit(digest, i)) * N
		ctx.hashInto(sig.buf[i*N:(i+1)*N], computed[:])
		xor.BytesSameLen(diff[:], computed[:], pk.buf[off:off+N])
		for j := 0; j < N; j++ {
			acc[j] |= diff[j]
		}
	}

	if subtle.ConstantTimeCompare(acc[:], zero[:]) != 1 {
		return false, kindErrorf(ErrInvalidOneTimeSignature,
			"Invalid one-time signature")
	}
	return true, nil
}

// Returns the entry of the public key for the given bit position and
// bit value.
func (pk *OneTimePublicKey) Entry(position, bit int) []byte {
	off := (2*position + bit) * N
	return pk.buf[off : off+N]
}

// Returns the serialized public key: all 512 digests in pair order.
func (pk *OneTimePublicKey) MarshalBinary() ([]byte, error) {
	ret := make([]byte, len(pk.buf))
	copy(ret, pk.buf)
	return ret, nil
}

func (pk *OneTimePublicKey) UnmarshalBinary(buf []byte) error {
	if len(buf) != OneTimeKeySize {
		return kindErrorf(ErrMalformedKey,
			"One-time public key should be %d bytes, not %d",
			OneTimeKeySize, len(buf))
	}
	pk.buf = make([]byte, OneTimeKeySize)
	copy(pk.buf, buf)
	return nil
}

// Returns the secret revealed for the given bit position.
func (sig *OneTimeSignature) Secret(position int) []byte {
	return sig.buf[position*N : (position+1)*N]
}

func (sig *OneTimeSignature) MarshalBinary() ([]byte, error) {
	ret := make([]byte, len(sig.buf))
	copy(ret, sig.buf)
	return ret, nil
}

func (sig *OneTimeSignature) UnmarshalBinary(buf []byte) error {
	if len(buf) != OneTimeSignatureSize {
		return kindErrorf(ErrMalformedSignature,
			"One-time signature should be %d bytes, not %d",
			OneTimeSignatureSize, len(buf))
	}
	sig.buf = make([]byte, OneTimeSignatureSize)
	copy(sig.buf, buf)
	return nil
}
