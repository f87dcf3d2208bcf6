package common

// Bnum is a block number: the index of a block in the store.
type Bnum = uint64

// Inum is a slot index in the file descriptor table.
type Inum uint64

// Fd identifies one open-file session.
type Fd uint64

type Ftype uint32

const FtypeReg Ftype = 1

func (t Ftype) String() string {
	if t == FtypeReg {
		return "regular"
	}
	return "unknown"
}
