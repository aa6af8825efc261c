package mss

import (
	"math/bits"
)

// State of a slot in the tree.
type nodeState uint8

const (
	nodeAbsent   nodeState = iota // nothing was ever stored here
	nodeUnknown                   // explicitly stored as unknown
	nodeSupplied                  // stored by AddNode
	nodeDerived                   // computed by Generate
)

func (s nodeState) known() bool {
	return s == nodeSupplied || s == nodeDerived
}

type nodeInputKind uint8

const (
	inputUnknown nodeInputKind = iota
	inputRaw
	inputDigest
)

// Value to store in the tree with AddNode.  Create one with RawNode,
// DigestNode or UnknownNode.
type NodeInput struct {
	kind nodeInputKind
	data []byte
}

// Data that is hashed before it is stored.
func RawNode(data []byte) NodeInput {
	return NodeInput{kind: inputRaw, data: data}
}

// An N-byte digest that is stored as is.
func DigestNode(digest []byte) NodeInput {
	return NodeInput{kind: inputDigest, data: digest}
}

// Marks a node as explicitly unknown.
func UnknownNode() NodeInput {
	return NodeInput{kind: inputUnknown}
}

// Represents a merkle tree with 2^t leafs of N-byte digests T[i,j] as
//
//                    T[t,0]
//                 /
//               (...)        (...)
//            /           \            \
//         T[1,0]        T[1,1]  ...  T[1,2^(t-1)-1]
//        /     \       /      \          \
//     T[0,0] T[0,1] T[0,2]  T[0,3]  ...  T[0,2^t-1]
//
// as a (2^(t+1)-1)*N byte array, level after level, together with the
// state of every slot.  A slot that is not known holds zeroes.
type MerkleTree struct {
	ctx     *Context
	nLeaves uint64
	levels  uint32
	buf     []byte
	states  []nodeState
}

// Allocates an empty tree with the given number of leafs, which must be
// a power of two.
func (ctx *Context) NewMerkleTree(nLeaves uint64) (*MerkleTree, Error) {
	if nLeaves == 0 || nLeaves&(nLeaves-1) != 0 {
		return nil, kindErrorf(ErrInvalidLeafCount,
			"Number of leafs %d is not a power of two", nLeaves)
	}
	if nLeaves > 1<<MaxHeight {
		return nil, kindErrorf(ErrInvalidLeafCount,
			"Number of leafs %d exceeds maximum of %d", nLeaves,
			uint64(1)<<MaxHeight)
	}
	levels := uint32(bits.TrailingZeros64(nLeaves)) + 1
	count := (uint64(1) << levels) - 1
	return &MerkleTree{
		ctx:     ctx,
		nLeaves: nLeaves,
		levels:  levels,
		buf:     make([]byte, count*N),
		states:  make([]nodeState, count),
	}, nil
}

// Returns the number of leafs.
func (mt *MerkleTree) LeafCount() uint64 {
	return mt.nLeaves
}

// Returns the number of levels, which is log2(LeafCount()) + 1.
func (mt *MerkleTree) Levels() uint32 {
	return mt.levels
}

// Returns whether pos is inside the tree.
func (mt *MerkleTree) contains(pos Position) bool {
	return pos.Level < mt.levels && uint64(pos.Index) < mt.nLeaves>>pos.Level
}

// Offset of the slot of the given node.  The node must be in the tree.
func (mt *MerkleTree) slot(level, index uint32) uint64 {
	return (uint64(1) << mt.levels) - (uint64(1) << (mt.levels - level)) +
		uint64(index)
}

// Returns a slice to the given node.
func (mt *MerkleTree) node(level, index uint32) []byte {
	ptr := N * mt.slot(level, index)
	return mt.buf[ptr : ptr+N]
}

func (mt *MerkleTree) known(level, index uint32) bool {
	return mt.states[mt.slot(level, index)].known()
}

// Stores in at pos, replacing whatever was there.
//
// Returns an error of kind ErrInvalidPosition if pos is not in the tree
// and of kind ErrMalformedDigest if a DigestNode is not N bytes.
func (mt *MerkleTree) AddNode(in NodeInput, pos Position) Error {
	if !mt.contains(pos) {
		return kindErrorf(ErrInvalidPosition,
			"Position %v is not in a tree with %d leafs", pos, mt.nLeaves)
	}
	slot := mt.slot(pos.Level, pos.Index)
	out := mt.node(pos.Level, pos.Index)
	switch in.kind {
	case inputRaw:
		mt.ctx.hashInto(in.data, out)
		mt.states[slot] = nodeSupplied
	case inputDigest:
		if len(in.data) != N {
			return kindErrorf(ErrMalformedDigest,
				"Digest should be %d bytes, not %d", N, len(in.data))
		}
		copy(out, in.data)
		mt.states[slot] = nodeSupplied
	default:
		for i := range out {
			out[i] = 0
		}
		mt.states[slot] = nodeUnknown
	}
	return nil
}

// Computes every internal node that is not yet known, but whose children
// are both known, from the bottom up.  Nodes that are already known are
// left untouched and a node with an unknown child stays unknown.
//
// Generate may be called repeatedly: each call only fills in what has
// become derivable.  The nodes of one level are computed in parallel.
func (mt *MerkleTree) Generate() {
	var level uint32
	for level = 1; level < mt.levels; level++ {
		lvl := level
		mt.ctx.parallelFor(mt.nLeaves>>lvl, 256, func(i uint64) {
			mt.deriveNode(lvl, uint32(i))
		})
	}
}

func (mt *MerkleTree) deriveNode(level, index uint32) {
	slot := mt.slot(level, index)
	if mt.states[slot].known() {
		return
	}
	if !mt.known(level-1, 2*index) || !mt.known(level-1, 2*index+1) {
		return
	}
	mt.ctx.hashNodeInto(
		mt.node(level-1, 2*index),
		mt.node(level-1, 2*index+1),
		mt.node(level, index))
	mt.states[slot] = nodeDerived
}

// Returns a copy of the node at pos and whether it is known.
func (mt *MerkleTree) Node(pos Position) ([]byte, bool) {
	if !mt.contains(pos) || !mt.known(pos.Level, pos.Index) {
		return nil, false
	}
	ret := make([]byte, N)
	copy(ret, mt.node(pos.Level, pos.Index))
	return ret, true
}

// Returns the root.  Returns an error of kind ErrTreeNotGenerated if the
// root is not known.
func (mt *MerkleTree) Root() ([]byte, Error) {
	root, ok := mt.Node(Position{mt.levels - 1, 0})
	if !ok {
		return nil, kindErrorf(ErrTreeNotGenerated, "Root is not known")
	}
	return root, nil
}

// Returns the position of the sibling of pos.
func (mt *MerkleTree) BrotherPosition(pos Position) Position {
	return pos.Brother()
}

// Returns the value of the sibling of pos.  Returns an error of kind
// ErrNoBrother if the sibling is not in the tree or is not known.
func (mt *MerkleTree) BrotherHash(pos Position) ([]byte, Error) {
	brother := pos.Brother()
	ret, ok := mt.Node(brother)
	if !ok {
		return nil, kindErrorf(ErrNoBrother,
			"Brother %v of %v is not known", brother, pos)
	}
	return ret, nil
}

// Returns the positions of the siblings on the path from the given leaf
// up to, but excluding, the root, in that order.
func (mt *MerkleTree) AuthPath(leaf uint32) ([]Position, Error) {
	if uint64(leaf) >= mt.nLeaves {
		return nil, kindErrorf(ErrInvalidPosition,
			"Leaf %d is not in a tree with %d leafs", leaf, mt.nLeaves)
	}
	ret := make([]Position, mt.levels-1)
	pos := Position{0, leaf}
	for i := range ret {
		ret[i] = pos.Brother()
		pos = pos.Parent()
	}
	return ret, nil
}

// Returns the values of the nodes in AuthPath(leaf), in the same order.
func (mt *MerkleTree) AuthPathHashes(leaf uint32) ([][]byte, Error) {
	path, err := mt.AuthPath(leaf)
	if err != nil {
		return nil, err
	}
	ret := make([][]byte, len(path))
	for i, pos := range path {
		var ok bool
		ret[i], ok = mt.Node(pos)
		if !ok {
			return nil, kindErrorf(ErrNoBrother,
				"Node %v on the authentication path is not known", pos)
		}
	}
	return ret, nil
}
