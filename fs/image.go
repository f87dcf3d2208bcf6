package fs

import (
	"sort"

	"github.com/tchajed/marshal"

	"github.com/MarioKarv/SPZ4/common"
	"github.com/MarioKarv/SPZ4/inode"
	"github.com/MarioKarv/SPZ4/util"
)

const imageMagic uint64 = 0x53505a34 // "SPZ4"

// Image layout, all integers 8 bytes:
//
//	magic | nblocks blocksize maxfiles maxdirect
//	ndir  | (namelen name inum)*
//	per descriptor slot: present [ftype nlink size nblks bnum*]
//	per block: used [blocksize content bytes]
//
// Open handles are process-local sessions and are not part of the image.
// A descriptor kept alive only by handles (unlinked while open) is skipped
// along with its blocks: with no name and no handle it would be
// unreachable in the loaded instance.

// live reports which descriptor slots get serialized. Call with fs.mu held.
func (fs *FileSystem) live(inum int) *inode.Inode {
	ip := fs.inodes[inum]
	if ip == nil || ip.Nlink == 0 {
		return nil
	}
	return ip
}

// liveBlocks is the set of block numbers owned by serialized descriptors.
func (fs *FileSystem) liveBlocks() map[common.Bnum]bool {
	owned := make(map[common.Bnum]bool)
	for i := range fs.inodes {
		if ip := fs.live(i); ip != nil {
			for _, bn := range ip.Blocks() {
				owned[bn] = true
			}
		}
	}
	return owned
}

func (fs *FileSystem) imageSize(owned map[common.Bnum]bool) uint64 {
	sz := 8 * uint64(6)
	for name := range fs.dir {
		sz += 8 + uint64(len(name)) + 8
	}
	for i := range fs.inodes {
		sz += 8
		if ip := fs.live(i); ip != nil {
			sz += 8*4 + 8*ip.NBlocks()
		}
	}
	sz += 8 * fs.store.NumBlocks()
	sz += uint64(len(owned)) * fs.store.BlockSize()
	return sz
}

// SaveImage serializes the filesystem into a flat byte image that LoadImage
// restores from.
func (fs *FileSystem) SaveImage() []byte {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	owned := fs.liveBlocks()
	sz := fs.imageSize(owned)
	enc := marshal.NewEnc(sz)
	enc.PutInt(imageMagic)
	enc.PutInt(fs.store.NumBlocks())
	enc.PutInt(fs.store.BlockSize())
	enc.PutInt(uint64(len(fs.inodes)))
	enc.PutInt(fs.maxDirect)

	names := make([]string, 0, len(fs.dir))
	for name := range fs.dir {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic image for identical state
	enc.PutInt(uint64(len(names)))
	for _, name := range names {
		enc.PutInt(uint64(len(name)))
		enc.PutBytes([]byte(name))
		enc.PutInt(uint64(fs.dir[name]))
	}

	for i := range fs.inodes {
		ip := fs.live(i)
		if ip == nil {
			enc.PutInt(0)
			continue
		}
		enc.PutInt(1)
		enc.PutInt(uint64(ip.Ftype))
		enc.PutInt(ip.Nlink)
		enc.PutInt(ip.Size)
		blks := ip.Blocks()
		enc.PutInt(uint64(len(blks)))
		for _, bn := range blks {
			enc.PutInt(bn)
		}
	}

	for bn := uint64(0); bn < fs.store.NumBlocks(); bn++ {
		if !owned[bn] {
			enc.PutInt(0)
			continue
		}
		enc.PutInt(1)
		enc.PutBytes(fs.store.Read(bn))
	}

	util.DPrintf(1, "SaveImage: %d bytes\n", sz)
	return enc.Finish()
}

// imageDec wraps marshal.Dec with a remaining-byte count so a truncated or
// corrupt image fails with EINVAL instead of running off the buffer.
type imageDec struct {
	d    marshal.Dec
	rest uint64
}

func (d *imageDec) getInt() (uint64, bool) {
	if d.rest < 8 {
		return 0, false
	}
	d.rest -= 8
	return d.d.GetInt(), true
}

func (d *imageDec) getBytes(n uint64) ([]byte, bool) {
	if d.rest < n {
		return nil, false
	}
	d.rest -= n
	return d.d.GetBytes(n), true
}

// LoadImage rebuilds a filesystem from a SaveImage result. The new instance
// shares nothing with the one that produced the image. An image that is
// truncated, carries trailing bytes, or references slots or blocks outside
// the encoded geometry fails with EINVAL.
func LoadImage(img []byte) (*FileSystem, error) {
	if uint64(len(img)) < 8*6 {
		return nil, common.EINVAL
	}
	dec := &imageDec{d: marshal.NewDec(img), rest: uint64(len(img))}
	magic, _ := dec.getInt()
	if magic != imageMagic {
		return nil, common.EINVAL
	}
	nblocks, _ := dec.getInt()
	blocksize, _ := dec.getInt()
	maxFiles, _ := dec.getInt()
	maxDirect, _ := dec.getInt()
	ndir, _ := dec.getInt()
	// every block and descriptor slot takes at least 8 bytes, and every
	// directory entry at least 16; geometry that outruns the buffer is bogus
	if nblocks > dec.rest/8 || maxFiles > dec.rest/8 || ndir > dec.rest/16 {
		return nil, common.EINVAL
	}
	fs, err := MkFileSystem(nblocks, blocksize, maxFiles, maxDirect)
	if err != nil {
		return nil, err
	}

	for i := uint64(0); i < ndir; i++ {
		nlen, ok := dec.getInt()
		if !ok {
			return nil, common.EINVAL
		}
		name, ok := dec.getBytes(nlen)
		if !ok {
			return nil, common.EINVAL
		}
		inum, ok := dec.getInt()
		if !ok || inum >= maxFiles {
			return nil, common.EINVAL
		}
		fs.dir[string(name)] = common.Inum(inum)
	}

	for i := range fs.inodes {
		present, ok := dec.getInt()
		if !ok {
			return nil, common.EINVAL
		}
		if present == 0 {
			continue
		}
		ftype, ok := dec.getInt()
		if !ok {
			return nil, common.EINVAL
		}
		nlink, ok := dec.getInt()
		if !ok {
			return nil, common.EINVAL
		}
		size, ok := dec.getInt()
		if !ok {
			return nil, common.EINVAL
		}
		nblks, ok := dec.getInt()
		if !ok || nblks > maxDirect {
			return nil, common.EINVAL
		}
		ip := inode.MkInode(common.Ftype(ftype), maxDirect)
		ip.Nlink = nlink
		ip.Size = size
		for j := uint64(0); j < nblks; j++ {
			bn, ok := dec.getInt()
			if !ok || bn >= nblocks {
				return nil, common.EINVAL
			}
			if err := ip.AddBlock(bn); err != nil {
				return nil, err
			}
		}
		fs.inodes[i] = ip
	}

	// a name bound to an empty slot would make Stat or Open follow nil
	for _, inum := range fs.dir {
		if fs.inodes[inum] == nil {
			return nil, common.EINVAL
		}
	}

	for bn := uint64(0); bn < nblocks; bn++ {
		used, ok := dec.getInt()
		if !ok {
			return nil, common.EINVAL
		}
		if used == 0 {
			continue
		}
		content, ok := dec.getBytes(blocksize)
		if !ok {
			return nil, common.EINVAL
		}
		fs.store.MarkUsed(bn)
		if err := fs.store.Write(bn, content); err != nil {
			return nil, err
		}
	}
	if dec.rest != 0 {
		return nil, common.EINVAL
	}
	return fs, nil
}
