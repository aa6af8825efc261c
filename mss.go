// Go implementation of the Merkle Signature Scheme: a many-time signature
// built from 2^h Lamport one-time key pairs, whose public keys are the
// leafs of a hash tree.  The root of that tree is the public key.
package mss

import (
	"crypto/subtle"
	"io"
	"sync"
)

// MSS private key: the one-time key pairs and the tree over their public
// keys.
type PrivateKey struct {
	ctx      *Context // context, which contains algorithm parameters.
	keyPairs []*OneTimeKeyPair
	tree     *MerkleTree
	root     []byte // root node

	// container that stores the one-time secrets and records which
	// of them have been used.  Might be nil.
	ctr PrivateKeyContainer

	mux  sync.Mutex // guards next
	next uint32     // all leafs before next are used
}

// MSS public key
type PublicKey struct {
	ctx  *Context // context which contains algorithm parameters
	root []byte   // root node
}

// Represents an MSS signature: a one-time signature, the one-time public
// key that verifies it and the authentication path of that public key.
type Signature struct {
	leaf     uint32 // index of the one-time key pair used
	ots      *OneTimeSignature
	otsPub   *OneTimePublicKey
	authPath [][]byte // siblings from the leaf up to the root
}

// Computes the root of the tree whose leafs are the digests of the
// serialized public keys of the given one-time key pairs.  The number of
// key pairs must be a power of two.
func (ctx *Context) BuildPublicKey(keyPairs []*OneTimeKeyPair) (
	root []byte, mt *MerkleTree, err Error) {
	mt, err = ctx.NewMerkleTree(uint64(len(keyPairs)))
	if err != nil {
		return nil, nil, err
	}
	for i, kp := range keyPairs {
		err = mt.AddNode(RawNode(kp.pk), Position{0, uint32(i)})
		if err != nil {
			return nil, nil, err
		}
	}
	mt.Generate()
	root, err = mt.Root()
	if err != nil {
		return nil, nil, err
	}
	return root, mt, nil
}

// Generates an MSS public/private keypair, which is kept in memory.
// The one-time secrets are read from rng; crypto/rand is used if rng is nil.
func (ctx *Context) GenerateKeyPair(rng io.Reader) (
	*PrivateKey, *PublicKey, Error) {
	return ctx.GenerateKeyPairInto(nil, rng)
}

// Generates an MSS public/private keypair and stores it at the given path
// on the filesystem.
// NOTE Do not forget to Close() the returned PrivateKey
func (ctx *Context) GenerateKeyPairAt(path string, rng io.Reader) (
	*PrivateKey, *PublicKey, Error) {
	ctr, err := OpenFSPrivateKeyContainer(path)
	if err != nil {
		return nil, nil, err
	}
	sk, pk, err := ctx.GenerateKeyPairInto(ctr, rng)
	if err != nil {
		ctr.Close()
		return nil, nil, err
	}
	return sk, pk, nil
}

// Generates an MSS public/private keypair and stores it in the container,
// if ctr is not nil.
func (ctx *Context) GenerateKeyPairInto(ctr PrivateKeyContainer,
	rng io.Reader) (*PrivateKey, *PublicKey, Error) {
	secrets := make([]byte, ctx.p.PrivateKeySize())
	if err := readSecrets(rng, secrets); err != nil {
		return nil, nil, err
	}
	if ctr != nil {
		if err := ctr.Reset(ctx.p, secrets); err != nil {
			return nil, nil, err
		}
	}
	sk, err := ctx.privateKeyFromSecrets(ctr, secrets, nil)
	if err != nil {
		return nil, nil, err
	}
	log.Logf("Generated %s key with %d one-time keys", ctx.Name(),
		len(sk.keyPairs))
	return sk, sk.PublicKey(), nil
}

// Derives the one-time public keys and the tree from the secrets.
// used may be nil if no one-time key has been used.
func (ctx *Context) privateKeyFromSecrets(ctr PrivateKeyContainer,
	secrets []byte, used []bool) (*PrivateKey, Error) {
	count := ctx.LeafCount()
	if uint64(len(secrets)) != count*OneTimeKeySize {
		return nil, kindErrorf(ErrMalformedKey,
			"Private key should be %d bytes, not %d",
			count*OneTimeKeySize, len(secrets))
	}
	if used != nil && uint64(len(used)) != count {
		return nil, kindErrorf(ErrMalformedKey,
			"Expected %d used flags, not %d", count, len(used))
	}
	keyPairs := make([]*OneTimeKeyPair, count)
	ctx.parallelFor(count, 1, func(i uint64) {
		sk := make([]byte, OneTimeKeySize)
		copy(sk, secrets[i*OneTimeKeySize:(i+1)*OneTimeKeySize])
		keyPairs[i] = ctx.newOneTimeKeyPair(sk)
	})
	for i := range used {
		if used[i] {
			keyPairs[i].used = 1
		}
	}

	root, mt, err := ctx.BuildPublicKey(keyPairs)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{
		ctx:      ctx,
		keyPairs: keyPairs,
		tree:     mt,
		root:     root,
		ctr:      ctr,
	}, nil
}

// Signs msg with the one-time key at the given leaf.  Fails with an error
// of kind ErrKeyReuse if that one-time key has been used before.
func (sk *PrivateKey) SignAt(msg []byte, leaf uint32) (*Signature, Error) {
	if uint64(leaf) >= uint64(len(sk.keyPairs)) {
		return nil, kindErrorf(ErrInvalidPosition,
			"Leaf %d is out of range", leaf)
	}
	if !sk.keyPairs[leaf].claim() {
		return nil, kindErrorf(ErrKeyReuse,
			"One-time key %d has already been used", leaf)
	}
	return sk.signClaimed(msg, leaf)
}

// Signs msg with the first unused one-time key.  Fails with an error of
// kind ErrKeysExhausted if there are none left.
func (sk *PrivateKey) Sign(msg []byte) (*Signature, Error) {
	leaf, err := sk.claimNextLeaf()
	if err != nil {
		return nil, err
	}
	return sk.signClaimed(msg, leaf)
}

// Finds and claims the first unused one-time key.
func (sk *PrivateKey) claimNextLeaf() (uint32, Error) {
	sk.mux.Lock()
	defer sk.mux.Unlock()
	for ; uint64(sk.next) < uint64(len(sk.keyPairs)); sk.next++ {
		if sk.keyPairs[sk.next].claim() {
			sk.next++
			return sk.next - 1, nil
		}
	}
	log.Logf("All %d one-time keys have been used", len(sk.keyPairs))
	return 0, kindErrorf(ErrKeysExhausted,
		"All %d one-time keys have been used", len(sk.keyPairs))
}

// Creates the signature with the one-time key at leaf, which the caller
// has claimed.  The use is recorded in the container before any secret
// is revealed.
func (sk *PrivateKey) signClaimed(msg []byte, leaf uint32) (
	*Signature, Error) {
	if sk.ctr != nil {
		if err := sk.ctr.MarkUsed(leaf); err != nil {
			return nil, err
		}
	}
	authPath, err := sk.tree.AuthPathHashes(leaf)
	if err != nil {
		return nil, err
	}
	kp := sk.keyPairs[leaf]
	return &Signature{
		leaf:     leaf,
		ots:      kp.reveal(msg),
		otsPub:   kp.PublicKey(),
		authPath: authPath,
	}, nil
}

// Check whether sig is a valid signature of msg made with the one-time
// key at the given leaf of a tree with nLeaves leafs and root claimedRoot.
//
// First the one-time signature is checked against the one-time public key
// in sig.  Only if it is valid, the root is recomputed from the digest
// of that public key and the authentication path.
//
// A signature that does not verify results in false together with an
// error of kind ErrInvalidOneTimeSignature or ErrInvalidAuthenticationPath.
// Other kinds of errors indicate malformed input.
func (ctx *Context) VerifyMessage(msg []byte, sig *Signature,
	claimedRoot []byte, nLeaves uint64, leaf uint32) (bool, Error) {
	if sig == nil {
		return false, kindErrorf(ErrMalformedSignature, "Signature is nil")
	}
	if len(claimedRoot) != N {
		return false, kindErrorf(ErrMalformedDigest,
			"Root should be %d bytes, not %d", N, len(claimedRoot))
	}

	ok, err := ctx.VerifyOneTime(msg, sig.ots, sig.otsPub)
	if !ok {
		return false, err
	}

	mt, err := ctx.NewMerkleTree(nLeaves)
	if err != nil {
		return false, err
	}
	path, err := mt.AuthPath(leaf)
	if err != nil {
		return false, err
	}
	if len(sig.authPath) != len(path) {
		return false, kindErrorf(ErrMalformedSignature,
			"Authentication path should have %d nodes, not %d",
			len(path), len(sig.authPath))
	}

	err = mt.AddNode(DigestNode(ctx.hash(sig.otsPub.buf)), Position{0, leaf})
	if err != nil {
		return false, err
	}
	for i, pos := range path {
		if err = mt.AddNode(DigestNode(sig.authPath[i]), pos); err != nil {
			return false, err
		}
	}
	mt.Generate()

	root, err := mt.Root()
	if err != nil {
		return false, err
	}
	if subtle.ConstantTimeCompare(root, claimedRoot) != 1 {
		return false, kindErrorf(ErrInvalidAuthenticationPath,
			"Authentication path does not lead to the root")
	}
	return true, nil
}

// Check whether the sig is a valid signature of this public key
// for the given message.
func (pk *PublicKey) Verify(sig *Signature, msg []byte) (bool, Error) {
	if sig == nil {
		return false, kindErrorf(ErrMalformedSignature, "Signature is nil")
	}
	return pk.ctx.VerifyMessage(msg, sig, pk.root, pk.ctx.LeafCount(), sig.leaf)
}

// Returns the public key belonging to this private key.
func (sk *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{ctx: sk.ctx, root: sk.root}
}

// Returns the number of unused one-time keys.
func (sk *PrivateKey) Remaining() int {
	ret := 0
	for _, kp := range sk.keyPairs {
		if !kp.Used() {
			ret++
		}
	}
	return ret
}

// Returns the number of one-time keys, used or not.
func (sk *PrivateKey) LeafCount() uint64 {
	return uint64(len(sk.keyPairs))
}

// Returns the one-time key pair at the given leaf.
func (sk *PrivateKey) OneTimeKeyPair(leaf uint32) *OneTimeKeyPair {
	return sk.keyPairs[leaf]
}

// Returns the tree over the one-time public keys.
func (sk *PrivateKey) Tree() *MerkleTree {
	return sk.tree
}

// Close the underlying container, if any.
func (sk *PrivateKey) Close() Error {
	if sk.ctr == nil {
		return nil
	}
	return sk.ctr.Close()
}

func (sk *PrivateKey) Context() *Context {
	return sk.ctx
}

// Creates the public key with the given root.
func (ctx *Context) PublicKeyFromRoot(root []byte) (*PublicKey, Error) {
	if len(root) != N {
		return nil, kindErrorf(ErrMalformedKey,
			"Root should be %d bytes, not %d", N, len(root))
	}
	buf := make([]byte, N)
	copy(buf, root)
	return &PublicKey{ctx: ctx, root: buf}, nil
}

func (pk *PublicKey) Context() *Context {
	return pk.ctx
}

// Returns a copy of the root.
func (pk *PublicKey) Root() []byte {
	ret := make([]byte, N)
	copy(ret, pk.root)
	return ret
}

// Returns the parameters followed by the root.
func (pk *PublicKey) MarshalBinary() ([]byte, error) {
	params, _ := pk.ctx.p.MarshalBinary()
	return append(params, pk.root...), nil
}

func (pk *PublicKey) UnmarshalBinary(buf []byte) error {
	if len(buf) != ParamsSize+N {
		return kindErrorf(ErrMalformedKey,
			"Public key should be %d bytes, not %d", ParamsSize+N, len(buf))
	}
	var params Params
	if err := params.UnmarshalBinary(buf[:ParamsSize]); err != nil {
		return err
	}
	ctx, err := NewContext(params)
	if err != nil {
		return err
	}
	pk.ctx = ctx
	pk.root = make([]byte, N)
	copy(pk.root, buf[ParamsSize:])
	return nil
}

// Returns the index of the one-time key used for this signature.
func (sig *Signature) Leaf() uint32 {
	return sig.leaf
}

func (sig *Signature) OneTimeSignature() *OneTimeSignature {
	return sig.ots
}

func (sig *Signature) OneTimePublicKey() *OneTimePublicKey {
	return sig.otsPub
}

// Returns the authentication path, from the leaf up.
func (sig *Signature) AuthPath() [][]byte {
	return sig.authPath
}

// Encodes the signature as
//
//   [leaf (4 bytes, big endian)] [one-time signature] [one-time public key]
//   [authentication path, from the leaf up]
func (sig *Signature) MarshalBinary() ([]byte, error) {
	ret := make([]byte, 4+OneTimeSignatureSize+OneTimeKeySize+
		len(sig.authPath)*N)
	encodeUint64Into(uint64(sig.leaf), ret[:4])
	off := 4
	off += copy(ret[off:], sig.ots.buf)
	off += copy(ret[off:], sig.otsPub.buf)
	for _, node := range sig.authPath {
		off += copy(ret[off:], node)
	}
	return ret, nil
}

// Decodes a signature.  The length of the authentication path follows from
// the length of buf.
func (sig *Signature) UnmarshalBinary(buf []byte) error {
	const fixed = 4 + OneTimeSignatureSize + OneTimeKeySize
	if len(buf) < fixed || (len(buf)-fixed)%N != 0 ||
		(len(buf)-fixed)/N > MaxHeight {
		return kindErrorf(ErrMalformedSignature,
			"Signature has invalid length %d", len(buf))
	}
	var ots OneTimeSignature
	var otsPub OneTimePublicKey
	if err := ots.UnmarshalBinary(buf[4 : 4+OneTimeSignatureSize]); err != nil {
		return err
	}
	if err := otsPub.UnmarshalBinary(buf[4+OneTimeSignatureSize : fixed]); err != nil {
		return err
	}
	authPath := make([][]byte, (len(buf)-fixed)/N)
	for i := range authPath {
		authPath[i] = make([]byte, N)
		copy(authPath[i], buf[fixed+i*N:fixed+(i+1)*N])
	}
	sig.leaf = uint32(decodeUint64(buf[:4]))
	sig.ots = &ots
	sig.otsPub = &otsPub
	sig.authPath = authPath
	return nil
}
