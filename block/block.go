// Package block implements the block store: a fixed pool of fixed-size
// in-memory block buffers behind a bitmap allocator.
package block

import (
	"fmt"
	"sync"

	"github.com/MarioKarv/SPZ4/alloc"
	"github.com/MarioKarv/SPZ4/common"
	"github.com/MarioKarv/SPZ4/util"
)

type Store struct {
	lock      *sync.RWMutex // protects blocks
	blocks    [][]byte
	blockSize uint64
	alloc     *alloc.Alloc
}

func MkStore(nblocks uint64, blocksize uint64) (*Store, error) {
	if nblocks == 0 || blocksize == 0 {
		return nil, common.EINVAL
	}
	blocks := make([][]byte, nblocks)
	for i := range blocks {
		blocks[i] = make([]byte, blocksize)
	}
	s := &Store{
		lock:      new(sync.RWMutex),
		blocks:    blocks,
		blockSize: blocksize,
		alloc:     alloc.MkMaxAlloc(nblocks),
	}
	return s, nil
}

func (s *Store) BlockSize() uint64 {
	return s.blockSize
}

func (s *Store) NumBlocks() uint64 {
	return uint64(len(s.blocks))
}

func (s *Store) NumFree() uint64 {
	return s.alloc.NumFree()
}

func (s *Store) IsUsed(bn common.Bnum) bool {
	s.checkBnum(bn)
	return s.alloc.IsUsed(bn)
}

// MarkUsed claims bn without scanning, for callers restoring a known layout.
func (s *Store) MarkUsed(bn common.Bnum) {
	s.checkBnum(bn)
	s.alloc.MarkUsed(bn)
}

// A block number out of range is a caller bug, not an I/O condition.
func (s *Store) checkBnum(bn common.Bnum) {
	if bn >= uint64(len(s.blocks)) {
		panic(fmt.Errorf("out-of-bounds block %v", bn))
	}
}

// Allocate claims the lowest free block.
func (s *Store) Allocate() (common.Bnum, error) {
	bn, ok := s.alloc.AllocNum()
	if !ok {
		return 0, common.ENOSPC
	}
	util.DPrintf(5, "Allocate: %d\n", bn)
	return bn, nil
}

// Free releases bn and zeroes its buffer, so stale bytes never reach the
// next owner. Freeing a free block is a no-op.
func (s *Store) Free(bn common.Bnum) {
	s.checkBnum(bn)
	if !s.alloc.FreeNum(bn) {
		return
	}
	s.lock.Lock()
	s.blocks[bn] = make([]byte, s.blockSize)
	s.lock.Unlock()
	util.DPrintf(5, "Free: %d\n", bn)
}

// Write copies data into the leading bytes of bn. Trailing bytes keep their
// previous contents; callers must not assume zero padding on short writes.
func (s *Store) Write(bn common.Bnum, data []byte) error {
	s.checkBnum(bn)
	if uint64(len(data)) > s.blockSize {
		return common.EINVAL
	}
	s.lock.Lock()
	copy(s.blocks[bn], data)
	s.lock.Unlock()
	util.DPrintf(10, "Write: %d (%d bytes)\n", bn, len(data))
	return nil
}

// Read returns a copy of the full block buffer; the caller slices out the
// range it needs.
func (s *Store) Read(bn common.Bnum) []byte {
	s.checkBnum(bn)
	buf := make([]byte, s.blockSize)
	s.lock.RLock()
	copy(buf, s.blocks[bn])
	s.lock.RUnlock()
	return buf
}
