package mss

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/bwesterb/byteswriter"
	"github.com/cespare/xxhash"
	"github.com/edsrzf/mmap-go"
	"github.com/hashicorp/go-multierror"
	"github.com/nightlyone/lockfile"
)

// A PrivateKeyContainer stores the one-time secrets of an MSS private key
// and remembers which of them have been used to sign.
type PrivateKeyContainer interface {
	// Reset (or initialize) the container with the given parameters and
	// one-time secrets.  All one-time keys are marked as unused.
	Reset(params Params, secrets []byte) Error

	// Returns the stored parameters, a copy of the secrets and for every
	// leaf whether its one-time key has been used.
	Load() (params Params, secrets []byte, used []bool, err Error)

	// Records that the one-time key at the given leaf has been used.
	// When MarkUsed returns, the record must be durable.
	MarkUsed(leaf uint32) Error

	// Returns whether the container is initialized (eg. whether its
	// files exist.)
	Initialized() bool

	// Closes the container.
	Close() Error
}

const (
	fsMagic      = "MSSKEY01"
	fsHeaderSize = 32
)

// Header of the key file.
type fsHeader struct {
	Magic    [8]byte
	Params   [ParamsSize]byte
	Checksum uint64 // xxhash64 of the secrets
	Reserved uint64
}

// PrivateKeyContainer backed by two files:
//
//   path/to/key        header, one used-byte per leaf and the secrets
//   path/to/key.lock   a lockfile
//
// The key file is memory mapped.
type fsContainer struct {
	flock lockfile.Lockfile // file lock
	path  string            // absolute base path

	mux   sync.Mutex // guards everything below
	file  *os.File
	mm    mmap.MMap
	leafs uint64 // number of used-bytes, set once the header is parsed

	initialized bool
	closed      bool
}

// Returns a PrivateKeyContainer backed by the filesystem.
func OpenFSPrivateKeyContainer(path string) (PrivateKeyContainer, Error) {
	var ctr fsContainer
	var err error

	ctr.path, err = filepath.Abs(path)
	if err != nil {
		return nil, wrapErrorf(err, "Could not turn %s into an absolute path", path)
	}

	lockFilePath := ctr.path + ".lock"
	ctr.flock, err = lockfile.New(lockFilePath)
	if err != nil {
		return nil, wrapErrorf(err, "Failed to create lockfile %s", lockFilePath)
	}

	err = ctr.flock.TryLock()
	if err != nil {
		if _, ok := err.(interface {
			Temporary() bool
		}); ok {
			err2 := kindErrorf(ErrLocked, "%s is locked", path)
			err2.inner = err
			return nil, err2
		}
		return nil, wrapErrorf(err, "Failed to lock %s", lockFilePath)
	}

	if _, err = os.Stat(ctr.path); os.IsNotExist(err) {
		return &ctr, nil
	}

	if err2 := ctr.mapFile(os.O_RDWR); err2 != nil {
		ctr.flock.Unlock()
		return nil, err2
	}
	ctr.initialized = true
	return &ctr, nil
}

// Opens and maps the key file.
func (ctr *fsContainer) mapFile(flag int) Error {
	var err error
	ctr.file, err = os.OpenFile(ctr.path, flag, 0600)
	if err != nil {
		return wrapErrorf(err, "Failed to open %s", ctr.path)
	}
	ctr.mm, err = mmap.Map(ctr.file, mmap.RDWR, 0)
	if err != nil {
		ctr.file.Close()
		ctr.file = nil
		return wrapErrorf(err, "Failed to mmap %s", ctr.path)
	}
	return nil
}

// Unmaps and closes the key file, if it is open.
func (ctr *fsContainer) unmapFile() error {
	var result error
	if ctr.mm != nil {
		if err := ctr.mm.Unmap(); err != nil {
			result = multierror.Append(result, err)
		}
		ctr.mm = nil
	}
	if ctr.file != nil {
		if err := ctr.file.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		ctr.file = nil
	}
	return result
}

func (ctr *fsContainer) Reset(params Params, secrets []byte) Error {
	ctr.mux.Lock()
	defer ctr.mux.Unlock()

	if ctr.closed {
		return errorf("Container is closed")
	}
	if len(secrets) != params.PrivateKeySize() {
		return kindErrorf(ErrMalformedKey,
			"Secrets should be %d bytes, not %d",
			params.PrivateKeySize(), len(secrets))
	}
	if err := ctr.unmapFile(); err != nil {
		return wrapErrorf(err, "Failed to close %s", ctr.path)
	}
	ctr.initialized = false

	leafs := params.LeafCount()
	size := int64(fsHeaderSize) + int64(leafs) + int64(len(secrets))
	file, err := os.OpenFile(ctr.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return wrapErrorf(err, "Failed to create %s", ctr.path)
	}
	err = file.Truncate(size)
	file.Close()
	if err != nil {
		return wrapErrorf(err, "Failed to resize %s", ctr.path)
	}
	if err2 := ctr.mapFile(os.O_RDWR); err2 != nil {
		return err2
	}

	var hdr fsHeader
	copy(hdr.Magic[:], fsMagic)
	paramsBuf, _ := params.MarshalBinary()
	copy(hdr.Params[:], paramsBuf)
	hdr.Checksum = xxhash.Sum64(secrets)
	w := byteswriter.NewWriter(ctr.mm[:fsHeaderSize])
	if err = binary.Write(w, binary.BigEndian, &hdr); err != nil {
		return wrapErrorf(err, "Failed to write header")
	}
	copy(ctr.mm[fsHeaderSize+leafs:], secrets)

	if err = ctr.mm.Flush(); err != nil {
		return wrapErrorf(err, "Failed to flush %s", ctr.path)
	}
	ctr.leafs = leafs
	ctr.initialized = true
	return nil
}

// Parses the header and checks the size of the file.
func (ctr *fsContainer) readHeader() (Params, uint64, Error) {
	var hdr fsHeader
	var params Params
	if len(ctr.mm) < fsHeaderSize {
		return params, 0, kindErrorf(ErrMalformedKey,
			"%s is too small to hold a key", ctr.path)
	}
	err := binary.Read(bytes.NewReader(ctr.mm[:fsHeaderSize]),
		binary.BigEndian, &hdr)
	if err != nil {
		return params, 0, wrapErrorf(err, "Failed to read header")
	}
	if string(hdr.Magic[:]) != fsMagic {
		return params, 0, kindErrorf(ErrMalformedKey,
			"%s is not an MSS private key", ctr.path)
	}
	if err = params.UnmarshalBinary(hdr.Params[:]); err != nil {
		return params, 0, kindErrorf(ErrMalformedKey,
			"%s has invalid parameters: %v", ctr.path, err)
	}
	expected := fsHeaderSize + int(params.LeafCount()) + params.PrivateKeySize()
	if len(ctr.mm) != expected {
		return params, 0, kindErrorf(ErrMalformedKey,
			"%s should be %d bytes, not %d", ctr.path, expected, len(ctr.mm))
	}
	return params, hdr.Checksum, nil
}

func (ctr *fsContainer) Load() (params Params, secrets []byte,
	used []bool, err Error) {
	ctr.mux.Lock()
	defer ctr.mux.Unlock()

	if !ctr.initialized || ctr.closed {
		err = errorf("Container is not initialized")
		return
	}

	var checksum uint64
	params, checksum, err = ctr.readHeader()
	if err != nil {
		return
	}
	leafs := params.LeafCount()
	stored := ctr.mm[fsHeaderSize+leafs:]
	if xxhash.Sum64(stored) != checksum {
		err = kindErrorf(ErrMalformedKey,
			"Checksum of the secrets in %s does not match", ctr.path)
		return
	}

	secrets = make([]byte, len(stored))
	copy(secrets, stored)
	used = make([]bool, leafs)
	for i := range used {
		used[i] = ctr.mm[fsHeaderSize+uint64(i)] != 0
	}
	ctr.leafs = leafs
	return
}

func (ctr *fsContainer) MarkUsed(leaf uint32) Error {
	ctr.mux.Lock()
	defer ctr.mux.Unlock()

	if !ctr.initialized || ctr.closed {
		return errorf("Container is not initialized")
	}
	if ctr.leafs == 0 {
		params, _, err := ctr.readHeader()
		if err != nil {
			return err
		}
		ctr.leafs = params.LeafCount()
	}
	if uint64(leaf) >= ctr.leafs {
		return kindErrorf(ErrInvalidPosition,
			"Leaf %d is out of range", leaf)
	}
	ctr.mm[fsHeaderSize+uint64(leaf)] = 1
	if err := ctr.mm.Flush(); err != nil {
		return wrapErrorf(err, "Failed to flush %s", ctr.path)
	}
	return nil
}

func (ctr *fsContainer) Initialized() bool {
	ctr.mux.Lock()
	defer ctr.mux.Unlock()
	return ctr.initialized
}

func (ctr *fsContainer) Close() Error {
	ctr.mux.Lock()
	defer ctr.mux.Unlock()

	if ctr.closed {
		return nil
	}
	ctr.closed = true

	var result error
	if err := ctr.unmapFile(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := ctr.flock.Unlock(); err != nil {
		result = multierror.Append(result, err)
	}
	if result != nil {
		return wrapErrorf(result, "Failed to close %s", ctr.path)
	}
	return nil
}

// Loads the private key stored at path.
// NOTE Do not forget to Close() the returned PrivateKey
func LoadPrivateKey(path string) (*PrivateKey, *PublicKey, Error) {
	ctr, err := OpenFSPrivateKeyContainer(path)
	if err != nil {
		return nil, nil, err
	}
	sk, err := loadPrivateKeyFrom(ctr)
	if err != nil {
		ctr.Close()
		return nil, nil, err
	}
	return sk, sk.PublicKey(), nil
}

// Loads the private key stored in the container.
func loadPrivateKeyFrom(ctr PrivateKeyContainer) (*PrivateKey, Error) {
	if !ctr.Initialized() {
		return nil, errorf("Container is not initialized")
	}
	params, secrets, used, err := ctr.Load()
	if err != nil {
		return nil, err
	}
	ctx, err := NewContext(params)
	if err != nil {
		return nil, err
	}
	sk, err := ctx.privateKeyFromSecrets(ctr, secrets, used)
	if err != nil {
		return nil, err
	}
	log.Logf("Loaded %s key with %d of %d one-time keys remaining",
		ctx.Name(), sk.Remaining(), len(sk.keyPairs))
	return sk, nil
}

// Loads the private key stored in the container.
func LoadPrivateKeyFrom(ctr PrivateKeyContainer) (*PrivateKey, *PublicKey, Error) {
	sk, err := loadPrivateKeyFrom(ctr)
	if err != nil {
		return nil, nil, err
	}
	return sk, sk.PublicKey(), nil
}
