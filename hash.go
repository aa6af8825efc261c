package mss

import (
	"crypto/sha256"

	"golang.org/x/crypto/sha3"
)

// Computes the N-byte digest of in and writes it into out.
func (ctx *Context) hashInto(in, out []byte) {
	if ctx.p.Func == SHA2 {
		ret := sha256.Sum256(in)
		copy(out, ret[:])
	} else { // SHAKE
		sha3.ShakeSum256(out[:N], in)
	}
}

// Computes the N-byte digest of in.
func (ctx *Context) hash(in []byte) []byte {
	ret := make([]byte, N)
	ctx.hashInto(in, ret)
	return ret
}

// Computes Hash(left || right) into out, which is how the internal
// nodes of the tree are formed.  There is no separator or length prefix:
// the order of left and right is all that matters.
func (ctx *Context) hashNodeInto(left, right, out []byte) {
	var buf [2 * N]byte
	copy(buf[:N], left)
	copy(buf[N:], right)
	ctx.hashInto(buf[:], out)
}

// Returns the digest of data under the hash function of this instance.
func (ctx *Context) Hash(data []byte) []byte {
	return ctx.hash(data)
}
