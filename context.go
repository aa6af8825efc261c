package mss

import (
	"runtime"
	"sync"
)

// MSS instance.
// Create one using NewContextFromName, NewContextFromOid or NewContext.
type Context struct {
	// Number of worker goroutines ("threads") to use for expensive operations.
	// Will guess an appropriate number if set to 0.
	Threads int

	p    Params  // parameters.
	oid  uint32  // OID of this configuration, if it has any
	name *string // name of algorithm
}

// Return new context for the given MSS oid (and nil if it's unknown).
func NewContextFromOid(oid uint32) *Context {
	entry, ok := registryOidLut[oid]
	if !ok {
		return nil
	}
	ctx, _ := NewContext(entry.params)
	ctx.oid = oid
	ctx.name = &entry.name
	return ctx
}

// Return new context for the given MSS algorithm name (and nil if the
// algorithm name is unknown).
func NewContextFromName(name string) *Context {
	entry, ok := registryNameLut[name]
	if !ok {
		return nil
	}
	ctx, _ := NewContext(entry.params)
	ctx.name = &name
	ctx.oid = entry.oid
	return ctx
}

// Creates a new context.
func NewContext(params Params) (ctx *Context, err Error) {
	if err2 := params.validate(); err2 != nil {
		return nil, wrapErrorf(err2, "NewContext")
	}
	ctx = new(Context)
	ctx.p = params
	return
}

// Returns the name of the MSS instance and an empty string if it has
// no name.
func (ctx *Context) Name() string {
	if ctx.name == nil {
		name, oid := ctx.p.LookupNameAndOid()
		if name != "" {
			ctx.name = &name
			ctx.oid = oid
		}
	}
	if ctx.name != nil {
		return *ctx.name
	}
	return ""
}

// Returns the Oid of the MSS instance and 0 if it has no Oid.
func (ctx *Context) Oid() uint32 {
	ctx.Name()
	return ctx.oid
}

// Get parameters of an MSS instance
func (ctx *Context) Params() Params {
	return ctx.p
}

// Returns the number of one-time keys of this MSS instance.
func (ctx *Context) LeafCount() uint64 {
	return ctx.p.LeafCount()
}

// Returns the size of signatures of this MSS instance
func (ctx *Context) SignatureSize() int {
	return ctx.p.SignatureSize()
}

func (ctx *Context) threads() int {
	if ctx.Threads <= 0 {
		return runtime.NumCPU()
	}
	return ctx.Threads
}

// Calls f(i) for every 0 <= i < count, spread over ctx.Threads goroutines
// in batches of perBatch.  Returns when all calls have returned.
func (ctx *Context) parallelFor(count uint64, perBatch uint64,
	f func(i uint64)) {
	threads := ctx.threads()
	if threads == 1 || count <= perBatch {
		for i := uint64(0); i < count; i++ {
			f(i)
		}
		return
	}

	// The code below does exactly the same as the loop above,
	// but then in parallel.
	var idx uint64
	wg := &sync.WaitGroup{}
	mux := &sync.Mutex{}
	wg.Add(threads)
	for t := 0; t < threads; t++ {
		go func() {
			defer wg.Done()
			for {
				mux.Lock()
				ourIdx := idx
				idx += perBatch
				mux.Unlock()
				if ourIdx >= count {
					return
				}
				ourEnd := ourIdx + perBatch
				if ourEnd > count {
					ourEnd = count
				}
				for ; ourIdx < ourEnd; ourIdx++ {
					f(ourIdx)
				}
			}
		}()
	}

	wg.Wait() // wait for all workers to finish
}
