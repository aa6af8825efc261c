package mss

import (
	"fmt"
)

type HashFunc uint8

const (
	SHA2  HashFunc = 0
	SHAKE HashFunc = 1
)

func (f HashFunc) String() string {
	switch f {
	case SHA2:
		return "SHA2"
	case SHAKE:
		return "SHAKE"
	}
	return fmt.Sprintf("HashFunc(%d)", uint8(f))
}

const (
	// Size of a digest, a one-time secret and a one-time public key entry.
	N = 32

	// Number of bits signed by a one-time key: the size of a message digest.
	OneTimeBits = 8 * N

	// Size of a serialized one-time public (or private) key:
	// 256 pairs of two 32-byte values.
	OneTimeKeySize = OneTimeBits * 2 * N

	// Size of a serialized one-time signature: 256 revealed secrets.
	OneTimeSignatureSize = OneTimeBits * N

	// Size of serialized Params.
	ParamsSize = 8

	// Largest supported tree height.
	MaxHeight = 20

	paramsVersion = 1
)

// Parameters of an MSS instance
type Params struct {
	Func   HashFunc // which hash function to use
	Height uint32   // height of the tree; there are 2^Height one-time keys
}

// Entry in the registry of algorithms
type regEntry struct {
	name   string // name, eg. MSS-SHA2_10
	oid    uint32 // oid of the algorithm
	params Params // parameters of the algorithm
}

// Returns the number of one-time keys, which is the number of leafs.
func (params *Params) LeafCount() uint64 {
	return 1 << params.Height
}

// Returns the number of levels of the tree, including leafs and root.
func (params *Params) Levels() uint32 {
	return params.Height + 1
}

// Returns the size of an MSS signature.
func (params *Params) SignatureSize() int {
	return 4 + OneTimeSignatureSize + OneTimeKeySize + int(params.Height)*N
}

// Size of the private key as stored by PrivateKeyContainer, not counting
// the header.
func (params *Params) PrivateKeySize() int {
	return int(params.LeafCount()) * OneTimeKeySize
}

func (params *Params) validate() error {
	if params.Func != SHA2 && params.Func != SHAKE {
		return fmt.Errorf("Unsupported hash function %v", params.Func)
	}
	if params.Height > MaxHeight {
		return fmt.Errorf("Height %d exceeds maximum of %d",
			params.Height, MaxHeight)
	}
	return nil
}

// Encodes the parameters as
//
//   [version] [hash func] [0] [0] [height (4 bytes, big endian)]
func (params *Params) MarshalBinary() ([]byte, error) {
	ret := make([]byte, ParamsSize)
	ret[0] = paramsVersion
	ret[1] = byte(params.Func)
	encodeUint64Into(uint64(params.Height), ret[4:8])
	return ret, nil
}

func (params *Params) UnmarshalBinary(buf []byte) error {
	if len(buf) != ParamsSize {
		return kindErrorf(ErrMalformedKey,
			"Params should be %d bytes, not %d", ParamsSize, len(buf))
	}
	if buf[0] != paramsVersion {
		return kindErrorf(ErrMalformedKey,
			"Unsupported params version %d", buf[0])
	}
	if buf[2] != 0 || buf[3] != 0 {
		return kindErrorf(ErrMalformedKey, "Reserved params bytes are set")
	}
	var p Params
	p.Func = HashFunc(buf[1])
	p.Height = uint32(decodeUint64(buf[4:8]))
	if err := p.validate(); err != nil {
		return kindErrorf(ErrMalformedKey, "Invalid params: %v", err)
	}
	*params = p
	return nil
}

// Looks up the name and oid of this set of parameters.  Returns an empty
// string and zero if they are not registered.
func (params *Params) LookupNameAndOid() (string, uint32) {
	for _, entry := range registry {
		if entry.params == *params {
			return entry.name, entry.oid
		}
	}
	return "", 0
}

// Returns paramters for the named MSS instance (and nil if there is no
// such algorithm).
func ParamsFromName(name string) *Params {
	entry, ok := registryNameLut[name]
	if ok {
		params := entry.params
		return &params
	}
	return nil
}

// List all named MSS instances
func ListNames() (names []string) {
	names = make([]string, len(registry))
	for i, entry := range registry {
		names[i] = entry.name
	}
	return
}

// Registry of named MSS algorithms
var registry []regEntry = []regEntry{
	{"MSS-SHA2_2", 0x00000001, Params{SHA2, 2}},
	{"MSS-SHA2_4", 0x00000002, Params{SHA2, 4}},
	{"MSS-SHA2_6", 0x00000003, Params{SHA2, 6}},
	{"MSS-SHA2_8", 0x00000004, Params{SHA2, 8}},
	{"MSS-SHA2_10", 0x00000005, Params{SHA2, 10}},

	{"MSS-SHAKE_2", 0x00000006, Params{SHAKE, 2}},
	{"MSS-SHAKE_4", 0x00000007, Params{SHAKE, 4}},
	{"MSS-SHAKE_6", 0x00000008, Params{SHAKE, 6}},
	{"MSS-SHAKE_8", 0x00000009, Params{SHAKE, 8}},
	{"MSS-SHAKE_10", 0x0000000a, Params{SHAKE, 10}},
}

var registryNameLut map[string]regEntry
var registryOidLut map[uint32]regEntry

// Initializes algorithm lookup tables.
func init() {
	registryNameLut = make(map[string]regEntry)
	registryOidLut = make(map[uint32]regEntry)
	for _, entry := range registry {
		registryNameLut[entry.name] = entry
		registryOidLut[entry.oid] = entry
	}
}
