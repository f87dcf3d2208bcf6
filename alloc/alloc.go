package alloc

import (
	"sync"

	"github.com/MarioKarv/SPZ4/util"
)

// Alloc uses a bit map to allocate and free the numbers [0, max). Bit n set
// means number n is in use.
type Alloc struct {
	lock   *sync.Mutex // protects bitmap
	max    uint64
	bitmap []byte
}

func MkMaxAlloc(max uint64) *Alloc {
	a := &Alloc{
		lock:   new(sync.Mutex),
		max:    max,
		bitmap: make([]byte, util.RoundUp(max, 8)),
	}
	return a
}

func (a *Alloc) markUsed(n uint64) {
	a.bitmap[n/8] = a.bitmap[n/8] | (1 << (n % 8))
}

func (a *Alloc) freeBit(n uint64) {
	a.bitmap[n/8] = a.bitmap[n/8] & ^(byte(1) << (n % 8))
}

func (a *Alloc) isUsed(n uint64) bool {
	return a.bitmap[n/8]&(1<<(n%8)) != 0
}

// AllocNum hands out the lowest free number, first-fit. ok is false when
// every number is in use.
func (a *Alloc) AllocNum() (uint64, bool) {
	a.lock.Lock()
	defer a.lock.Unlock()
	for n := uint64(0); n < a.max; n++ {
		if !a.isUsed(n) {
			a.markUsed(n)
			util.DPrintf(10, "AllocNum: %d\n", n)
			return n, true
		}
	}
	return 0, false
}

// MarkUsed claims n directly, bypassing the scan.
func (a *Alloc) MarkUsed(n uint64) {
	if n >= a.max {
		panic("MarkUsed")
	}
	a.lock.Lock()
	a.markUsed(n)
	a.lock.Unlock()
}

// FreeNum releases n and reports whether it was in use; freeing a free
// number is a no-op.
func (a *Alloc) FreeNum(n uint64) bool {
	if n >= a.max {
		panic("FreeNum")
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	if !a.isUsed(n) {
		return false
	}
	a.freeBit(n)
	util.DPrintf(10, "FreeNum: %d\n", n)
	return true
}

func (a *Alloc) IsUsed(n uint64) bool {
	if n >= a.max {
		panic("IsUsed")
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.isUsed(n)
}

func popCnt(b byte) uint64 {
	var n uint64
	for b != 0 {
		n += uint64(b & 1)
		b = b >> 1
	}
	return n
}

func (a *Alloc) NumFree() uint64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	var used uint64
	for _, b := range a.bitmap {
		used += popCnt(b)
	}
	return a.max - used
}
