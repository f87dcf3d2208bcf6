// Package fs ties the block store, the descriptor table, and the flat name
// directory into the file-system API: create, open, close, seek, read,
// write, link, unlink, truncate, stat, ls.
//
// One coarse mutex serializes every operation. The store and the allocator
// carry their own locks, so they stay safe even when used directly.
package fs

import (
	"sync"

	"github.com/MarioKarv/SPZ4/block"
	"github.com/MarioKarv/SPZ4/common"
	"github.com/MarioKarv/SPZ4/inode"
	"github.com/MarioKarv/SPZ4/util"
)

// DefaultMaxDirect is the direct-list capacity used when the caller has no
// opinion.
const DefaultMaxDirect uint64 = 10

// filp is one open-file session: the descriptor it refers to plus an offset
// cursor independent of every other session on the same descriptor.
type filp struct {
	inum common.Inum
	off  uint64
}

type FileSystem struct {
	mu        *sync.Mutex
	store     *block.Store
	inodes    []*inode.Inode         // descriptor table; nil marks a free slot
	dir       map[string]common.Inum // flat name directory
	filps     map[common.Fd]*filp    // open-handle table
	nextFd    common.Fd
	maxDirect uint64
}

// Attr is a point-in-time snapshot of a descriptor's metadata.
type Attr struct {
	Ftype common.Ftype
	Size  uint64
	Nlink uint64
}

func MkFileSystem(nblocks, blocksize, maxFiles, maxDirect uint64) (*FileSystem, error) {
	if maxFiles == 0 || maxDirect == 0 {
		return nil, common.EINVAL
	}
	store, err := block.MkStore(nblocks, blocksize)
	if err != nil {
		return nil, err
	}
	fs := &FileSystem{
		mu:        new(sync.Mutex),
		store:     store,
		inodes:    make([]*inode.Inode, maxFiles),
		dir:       make(map[string]common.Inum),
		filps:     make(map[common.Fd]*filp),
		nextFd:    0,
		maxDirect: maxDirect,
	}
	return fs, nil
}

// Mkfs throws away every descriptor, name, open handle, and block, keeping
// the store geometry, and resizes the descriptor table to maxFiles.
func (fs *FileSystem) Mkfs(maxFiles uint64) error {
	if maxFiles == 0 {
		return common.EINVAL
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	store, err := block.MkStore(fs.store.NumBlocks(), fs.store.BlockSize())
	if err != nil {
		return err
	}
	fs.store = store
	fs.inodes = make([]*inode.Inode, maxFiles)
	fs.dir = make(map[string]common.Inum)
	fs.filps = make(map[common.Fd]*filp)
	fs.nextFd = 0
	util.DPrintf(1, "Mkfs: %d descriptors\n", maxFiles)
	return nil
}

// Create binds name to a fresh empty descriptor.
func (fs *FileSystem) Create(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.dir[name]; ok {
		return common.EEXIST
	}
	for i := range fs.inodes {
		if fs.inodes[i] == nil {
			fs.inodes[i] = inode.MkInode(common.FtypeReg, fs.maxDirect)
			fs.dir[name] = common.Inum(i)
			util.DPrintf(1, "Create: %q -> %d\n", name, i)
			return nil
		}
	}
	return common.ENFILE
}

// Open starts a new session on name with the cursor at 0. Opening the same
// name twice yields two independent cursors over the same descriptor.
func (fs *FileSystem) Open(name string) (common.Fd, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	inum, ok := fs.dir[name]
	if !ok {
		return 0, common.ENOENT
	}
	fd := fs.nextFd
	fs.nextFd++
	fs.filps[fd] = &filp{inum: inum, off: 0}
	util.DPrintf(1, "Open: %q -> fd %d\n", name, fd)
	return fd, nil
}

// Close drops the session. Closing an unknown fd is a no-op. If fd was the
// last session on a descriptor with no remaining names, the descriptor's
// blocks go back to the store and its slot is cleared.
func (fs *FileSystem) Close(fd common.Fd) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fi, ok := fs.filps[fd]
	if !ok {
		return
	}
	delete(fs.filps, fd)
	fs.reclaim(fi.inum)
}

// reclaim frees inum's blocks and clears its slot once it has no names and
// no open sessions. Call with fs.mu held.
func (fs *FileSystem) reclaim(inum common.Inum) {
	ip := fs.inodes[inum]
	if ip == nil || ip.Nlink > 0 {
		return
	}
	for _, fi := range fs.filps {
		if fi.inum == inum {
			return
		}
	}
	for _, bn := range ip.Blocks() {
		fs.store.Free(bn)
	}
	fs.inodes[inum] = nil
	util.DPrintf(1, "reclaim: %d\n", inum)
}

// Seek sets the cursor to off absolutely. Offsets past the end of the file
// are legal and only matter to the next read or write.
func (fs *FileSystem) Seek(fd common.Fd, off uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fi, ok := fs.filps[fd]
	if !ok {
		return common.ENOENT
	}
	fi.off = off
	return nil
}

// Read returns up to size bytes at the cursor and advances it by the bytes
// actually read. Reads never run past the file size; at or past the end the
// result is empty.
func (fs *FileSystem) Read(fd common.Fd, size uint64) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fi, ok := fs.filps[fd]
	if !ok {
		return nil, common.ENOENT
	}
	ip := fs.inodes[fi.inum]
	if fi.off >= ip.Size {
		return []byte{}, nil
	}
	size = util.Min(size, ip.Size-fi.off)
	blksz := fs.store.BlockSize()
	data := make([]byte, 0, size)
	for size > 0 {
		bi := fi.off / blksz
		if bi >= ip.NBlocks() {
			// size can run past the block list when a write landed
			// short of its seek hole; there is nothing more to read
			break
		}
		boff := fi.off % blksz
		n := util.Min(size, blksz-boff)
		blk := fs.store.Read(ip.Blkno(bi))
		data = append(data, blk[boff:boff+n]...)
		fi.off += n
		size -= n
	}
	return data, nil
}

// Write stores data at the cursor, allocating blocks on demand, and grows
// the file size to the final cursor; writes never shrink a file. There is
// no rollback: a write that fails mid-loop leaves the blocks already
// written, the advanced cursor, and the grown size in place.
func (fs *FileSystem) Write(fd common.Fd, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fi, ok := fs.filps[fd]
	if !ok {
		return common.ENOENT
	}
	if util.SumOverflows(fi.off, uint64(len(data))) {
		return common.EINVAL
	}
	ip := fs.inodes[fi.inum]
	blksz := fs.store.BlockSize()
	for len(data) > 0 {
		bi := fi.off / blksz
		boff := fi.off % blksz
		if bi >= ip.NBlocks() {
			bn, err := fs.store.Allocate()
			if err != nil {
				return err
			}
			if err := ip.AddBlock(bn); err != nil {
				// the block never gained an owner
				fs.store.Free(bn)
				return err
			}
			// a seek hole is not back-filled: the new block lands in
			// the next free slot, which may trail bi
			bi = util.Min(bi, ip.NBlocks()-1)
		}
		bn := ip.Blkno(bi)
		n := util.Min(uint64(len(data)), blksz-boff)
		blk := fs.store.Read(bn)
		copy(blk[boff:boff+n], data[:n])
		if err := fs.store.Write(bn, blk); err != nil {
			return err
		}
		data = data[n:]
		fi.off += n
		if fi.off > ip.Size {
			ip.Size = fi.off
		}
	}
	return nil
}

// Link binds newname to oldname's descriptor. Both names end up fully
// equivalent, independently linkable and unlinkable.
func (fs *FileSystem) Link(oldname, newname string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	inum, ok := fs.dir[oldname]
	if !ok {
		return common.ENOENT
	}
	if _, ok := fs.dir[newname]; ok {
		return common.EEXIST
	}
	fs.inodes[inum].Nlink++
	fs.dir[newname] = inum
	util.DPrintf(1, "Link: %q -> %q\n", newname, oldname)
	return nil
}

// Unlink removes name. The descriptor survives while other names or open
// sessions still reference it; once the last reference drops, its blocks
// return to the store.
func (fs *FileSystem) Unlink(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	inum, ok := fs.dir[name]
	if !ok {
		return common.ENOENT
	}
	delete(fs.dir, name)
	fs.inodes[inum].Nlink--
	fs.reclaim(inum)
	util.DPrintf(1, "Unlink: %q\n", name)
	return nil
}

// Truncate grows or shrinks name's file to size bytes. Growing allocates
// just enough blocks to cover the new size; bytes of a previously written
// tail block are left as they were, only fresh blocks read back zero.
func (fs *FileSystem) Truncate(name string, size uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	inum, ok := fs.dir[name]
	if !ok {
		return common.ENOENT
	}
	ip := fs.inodes[inum]
	blksz := fs.store.BlockSize()
	if size > ip.Size {
		need := util.RoundUp(size, blksz)
		for ip.NBlocks() < need {
			bn, err := fs.store.Allocate()
			if err != nil {
				return err
			}
			if err := ip.AddBlock(bn); err != nil {
				fs.store.Free(bn)
				return err
			}
		}
		ip.Size = size
	} else if size < ip.Size {
		for _, bn := range ip.Shrink(util.RoundUp(size, blksz)) {
			fs.store.Free(bn)
		}
		ip.Size = size
	}
	return nil
}

// Stat returns a snapshot of name's descriptor metadata.
func (fs *FileSystem) Stat(name string) (Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	inum, ok := fs.dir[name]
	if !ok {
		return Attr{}, common.ENOENT
	}
	ip := fs.inodes[inum]
	return Attr{Ftype: ip.Ftype, Size: ip.Size, Nlink: ip.Nlink}, nil
}

// Ls returns a copy of the directory: name to descriptor index.
func (fs *FileSystem) Ls() map[string]common.Inum {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make(map[string]common.Inum, len(fs.dir))
	for name, inum := range fs.dir {
		out[name] = inum
	}
	return out
}
