// Package inode implements the per-file descriptor: file type, link count,
// logical size, and the ordered list of blocks backing the byte stream.
package inode

import (
	"github.com/MarioKarv/SPZ4/common"
)

// Inode holds the metadata for one file. Block numbers live in a bounded
// direct list; there is no indirect overflow, so MaxSize is a hard ceiling.
type Inode struct {
	Ftype common.Ftype
	Nlink uint64
	Size  uint64

	direct    []common.Bnum // append order defines the byte-stream order
	maxDirect uint64
}

func MkInode(ftype common.Ftype, maxDirect uint64) *Inode {
	ip := &Inode{
		Ftype:     ftype,
		Nlink:     1,
		Size:      0,
		direct:    make([]common.Bnum, 0, maxDirect),
		maxDirect: maxDirect,
	}
	return ip
}

// AddBlock appends bn to the direct list. Fails with EFBIG once every
// direct slot is taken.
func (ip *Inode) AddBlock(bn common.Bnum) error {
	if uint64(len(ip.direct)) >= ip.maxDirect {
		return common.EFBIG
	}
	ip.direct = append(ip.direct, bn)
	return nil
}

// Blocks returns a copy of the file's block numbers in byte-stream order.
func (ip *Inode) Blocks() []common.Bnum {
	blks := make([]common.Bnum, len(ip.direct))
	copy(blks, ip.direct)
	return blks
}

func (ip *Inode) NBlocks() uint64 {
	return uint64(len(ip.direct))
}

// Blkno returns the block backing the i-th block of the byte stream.
// Expects i < NBlocks().
func (ip *Inode) Blkno(i uint64) common.Bnum {
	return ip.direct[i]
}

// Shrink drops every block past the first keep and returns the dropped
// block numbers so the caller can free them.
func (ip *Inode) Shrink(keep uint64) []common.Bnum {
	if keep >= uint64(len(ip.direct)) {
		return nil
	}
	dropped := make([]common.Bnum, uint64(len(ip.direct))-keep)
	copy(dropped, ip.direct[keep:])
	ip.direct = ip.direct[:keep]
	return dropped
}

func (ip *Inode) MaxDirect() uint64 {
	return ip.maxDirect
}

// MaxSize is the byte capacity imposed by the direct list.
func (ip *Inode) MaxSize(blockSize uint64) uint64 {
	return ip.maxDirect * blockSize
}
