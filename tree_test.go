package mss

import (
	"bytes"
	"crypto/sha256"
	"math/rand"
	"reflect"
	"testing"
)

var treeTestLeafs = []string{
	"test", "retest", "test", "world", "test", "again", "test", "andagain"}

func sha256Node(left, right []byte) []byte {
	ret := sha256.Sum256(append(append([]byte{}, left...), right...))
	return ret[:]
}

func sha256Leaf(data string) []byte {
	ret := sha256.Sum256([]byte(data))
	return ret[:]
}

func buildTestTree(t *testing.T, ctx *Context) *MerkleTree {
	mt, err := ctx.NewMerkleTree(uint64(len(treeTestLeafs)))
	if err != nil {
		t.Fatalf("NewMerkleTree(): %v", err)
	}
	for i, leaf := range treeTestLeafs {
		if err = mt.AddNode(RawNode([]byte(leaf)), Position{0, uint32(i)}); err != nil {
			t.Fatalf("AddNode(): %v", err)
		}
	}
	mt.Generate()
	return mt
}

func TestMerkleTreeRoot(t *testing.T) {
	ctx := NewContextFromName("MSS-SHA2_2")
	mt := buildTestTree(t, ctx)
	if mt.Levels() != 4 || mt.LeafCount() != 8 {
		t.Fatalf("Tree has %d levels and %d leafs", mt.Levels(), mt.LeafCount())
	}

	level := make([][]byte, len(treeTestLeafs))
	for i, leaf := range treeTestLeafs {
		level[i] = sha256Leaf(leaf)
	}
	for len(level) > 1 {
		next := make([][]byte, len(level)/2)
		for i := range next {
			next[i] = sha256Node(level[2*i], level[2*i+1])
		}
		level = next
	}

	root, err := mt.Root()
	if err != nil {
		t.Fatalf("Root(): %v", err)
	}
	if !bytes.Equal(root, level[0]) {
		t.Fatalf("Root() = %x, expected %x", root, level[0])
	}
}

func TestAuthPath(t *testing.T) {
	ctx := NewContextFromName("MSS-SHA2_2")
	mt := buildTestTree(t, ctx)

	path, err := mt.AuthPath(6)
	if err != nil {
		t.Fatalf("AuthPath(): %v", err)
	}
	expected := []Position{{0, 7}, {1, 2}, {2, 0}}
	if !reflect.DeepEqual(path, expected) {
		t.Fatalf("AuthPath(6) = %v, expected %v", path, expected)
	}
	if _, err = mt.AuthPath(8); !IsKind(err, ErrInvalidPosition) {
		t.Fatalf("AuthPath(8): %v", err)
	}

	hashes, err := mt.AuthPathHashes(6)
	if err != nil {
		t.Fatalf("AuthPathHashes(): %v", err)
	}

	// Recompute the root from the leaf and its authentication path only
	mt2, _ := ctx.NewMerkleTree(8)
	if err = mt2.AddNode(DigestNode(sha256Leaf("test")), Position{0, 6}); err != nil {
		t.Fatalf("AddNode(): %v", err)
	}
	mt2.Generate()
	if _, err = mt2.Root(); !IsKind(err, ErrTreeNotGenerated) {
		t.Fatalf("Root() of a partial tree: %v", err)
	}
	for i, pos := range path {
		if err = mt2.AddNode(DigestNode(hashes[i]), pos); err != nil {
			t.Fatalf("AddNode(): %v", err)
		}
	}
	mt2.Generate()

	root, _ := mt.Root()
	root2, err := mt2.Root()
	if err != nil {
		t.Fatalf("Root(): %v", err)
	}
	if !bytes.Equal(root, root2) {
		t.Fatalf("Authentication path does not lead to the root")
	}
}

func TestInvalidLeafCount(t *testing.T) {
	ctx := NewContextFromName("MSS-SHA2_2")
	for _, n := range []uint64{0, 3, 5, 6, 1000, 1<<MaxHeight + 2, 1 << (MaxHeight + 1)} {
		if _, err := ctx.NewMerkleTree(n); !IsKind(err, ErrInvalidLeafCount) {
			t.Fatalf("NewMerkleTree(%d): %v", n, err)
		}
	}
	mt, err := ctx.NewMerkleTree(1)
	if err != nil {
		t.Fatalf("NewMerkleTree(1): %v", err)
	}
	mt.AddNode(RawNode([]byte("only")), Position{0, 0})
	mt.Generate()
	root, err := mt.Root()
	if err != nil || !bytes.Equal(root, sha256Leaf("only")) {
		t.Fatalf("Root of a single leaf tree should be the leaf: %v", err)
	}
	path, _ := mt.AuthPath(0)
	if len(path) != 0 {
		t.Fatalf("Single leaf tree has authentication path %v", path)
	}
}

func TestAddNode(t *testing.T) {
	ctx := NewContextFromName("MSS-SHA2_2")
	mt, _ := ctx.NewMerkleTree(8)
	for _, pos := range []Position{{0, 8}, {1, 4}, {3, 1}, {4, 0}} {
		if err := mt.AddNode(RawNode(nil), pos); !IsKind(err, ErrInvalidPosition) {
			t.Fatalf("AddNode(%v): %v", pos, err)
		}
	}
	if err := mt.AddNode(DigestNode(make([]byte, N-1)), Position{0, 0}); !IsKind(err, ErrMalformedDigest) {
		t.Fatalf("AddNode() of short digest: %v", err)
	}
	if err := mt.AddNode(RawNode(nil), Position{3, 0}); err != nil {
		t.Fatalf("AddNode() at root: %v", err)
	}
	if _, err := mt.Root(); err != nil {
		t.Fatalf("Supplied root should be known: %v", err)
	}
}

func TestSuppliedNodesAreKept(t *testing.T) {
	ctx := NewContextFromName("MSS-SHA2_2")
	mt, _ := ctx.NewMerkleTree(4)
	for i := 0; i < 4; i++ {
		mt.AddNode(RawNode([]byte(treeTestLeafs[i])), Position{0, uint32(i)})
	}
	fake := sha256Leaf("not derived")
	mt.AddNode(DigestNode(fake), Position{1, 0})
	mt.Generate()

	node, ok := mt.Node(Position{1, 0})
	if !ok || !bytes.Equal(node, fake) {
		t.Fatalf("Generate() overwrote a supplied node")
	}
	right := sha256Node(sha256Leaf(treeTestLeafs[2]), sha256Leaf(treeTestLeafs[3]))
	root, _ := mt.Root()
	if !bytes.Equal(root, sha256Node(fake, right)) {
		t.Fatalf("Root should be derived from the supplied node")
	}

	// A second Generate() changes nothing
	mt.Generate()
	root2, _ := mt.Root()
	if !bytes.Equal(root, root2) {
		t.Fatalf("Generate() is not idempotent")
	}
}

func TestUnknownNode(t *testing.T) {
	ctx := NewContextFromName("MSS-SHA2_2")
	mt, _ := ctx.NewMerkleTree(2)
	mt.AddNode(RawNode([]byte("left")), Position{0, 0})
	mt.AddNode(RawNode([]byte("right")), Position{0, 1})
	mt.AddNode(UnknownNode(), Position{0, 1})
	mt.Generate()
	if _, err := mt.Root(); !IsKind(err, ErrTreeNotGenerated) {
		t.Fatalf("Root() over an unknown node: %v", err)
	}
	if _, ok := mt.Node(Position{0, 1}); ok {
		t.Fatalf("Node marked unknown should not be known")
	}
	if _, err := mt.BrotherHash(Position{0, 0}); !IsKind(err, ErrNoBrother) {
		t.Fatalf("BrotherHash() of unknown brother: %v", err)
	}

	mt.AddNode(RawNode([]byte("right")), Position{0, 1})
	mt.Generate()
	root, err := mt.Root()
	if err != nil {
		t.Fatalf("Root(): %v", err)
	}
	if !bytes.Equal(root, sha256Node(sha256Leaf("left"), sha256Leaf("right"))) {
		t.Fatalf("Root() is wrong")
	}
}

func TestBrother(t *testing.T) {
	ctx := NewContextFromName("MSS-SHA2_2")
	mt := buildTestTree(t, ctx)

	if mt.BrotherPosition(Position{1, 2}) != (Position{1, 3}) {
		t.Fatalf("BrotherPosition((1,2)) is wrong")
	}
	brother, err := mt.BrotherHash(Position{0, 6})
	if err != nil {
		t.Fatalf("BrotherHash(): %v", err)
	}
	if !bytes.Equal(brother, sha256Leaf("andagain")) {
		t.Fatalf("BrotherHash((0,6)) is wrong")
	}
	if _, err = mt.BrotherHash(Position{3, 0}); !IsKind(err, ErrNoBrother) {
		t.Fatalf("BrotherHash() of root: %v", err)
	}

	left, right, ok := Position{2, 1}.Children()
	if !ok || left != (Position{1, 2}) || right != (Position{1, 3}) {
		t.Fatalf("Children() is wrong")
	}
	left, right, ok = Position{0, 5}.Children()
	if ok || left != (Position{}) || right != (Position{}) {
		t.Fatalf("Children() of a leaf: %v %v %v", left, right, ok)
	}
	if (Position{1, 3}).Parent() != (Position{2, 1}) {
		t.Fatalf("Parent() is wrong")
	}
}

func TestParallelGenerate(t *testing.T) {
	leafs := make([][]byte, 2048)
	rng := rand.New(rand.NewSource(1))
	for i := range leafs {
		leafs[i] = make([]byte, N)
		rng.Read(leafs[i])
	}

	var roots [][]byte
	for _, threads := range []int{1, 4} {
		ctx := NewContextFromName("MSS-SHA2_2")
		ctx.Threads = threads
		mt, _ := ctx.NewMerkleTree(uint64(len(leafs)))
		for i, leaf := range leafs {
			mt.AddNode(DigestNode(leaf), Position{0, uint32(i)})
		}
		mt.Generate()
		root, err := mt.Root()
		if err != nil {
			t.Fatalf("Root(): %v", err)
		}
		roots = append(roots, root)
	}
	if !bytes.Equal(roots[0], roots[1]) {
		t.Fatalf("Parallel Generate() computed another root")
	}

	// Changing a single leaf changes the root
	ctx := NewContextFromName("MSS-SHA2_2")
	mt, _ := ctx.NewMerkleTree(uint64(len(leafs)))
	for i, leaf := range leafs {
		mt.AddNode(DigestNode(leaf), Position{0, uint32(i)})
	}
	mt.AddNode(RawNode([]byte("changed")), Position{0, 1234})
	mt.Generate()
	root, _ := mt.Root()
	if bytes.Equal(root, roots[0]) {
		t.Fatalf("Changing a leaf did not change the root")
	}
}

func BenchmarkGenerate1024(b *testing.B) {
	ctx := NewContextFromName("MSS-SHA2_2")
	for i := 0; i < b.N; i++ {
		mt, _ := ctx.NewMerkleTree(1024)
		for j := uint32(0); j < 1024; j++ {
			mt.AddNode(RawNode([]byte{byte(j), byte(j >> 8)}), Position{0, j})
		}
		mt.Generate()
	}
}
