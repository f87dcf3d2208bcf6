package fs

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/MarioKarv/SPZ4/common"
)

type ImageSuite struct {
	suite.Suite
	fs *FileSystem
}

func (suite *ImageSuite) SetupTest() {
	fs, err := MkFileSystem(32, 128, 8, 4)
	suite.Require().NoError(err)
	suite.fs = fs
}

func TestImage(t *testing.T) {
	suite.Run(t, new(ImageSuite))
}

func (suite *ImageSuite) TestRoundTrip() {
	fs := suite.fs
	suite.Require().NoError(fs.Create("a"))
	fd, err := fs.Open("a")
	suite.Require().NoError(err)
	data := pattern(300) // spans three 128-byte blocks
	suite.Require().NoError(fs.Write(fd, data))
	fs.Close(fd)
	suite.Require().NoError(fs.Link("a", "b"))
	suite.Require().NoError(fs.Create("empty"))

	loaded, err := LoadImage(fs.SaveImage())
	suite.Require().NoError(err)

	suite.Equal(fs.Ls(), loaded.Ls())
	for _, name := range []string{"a", "b", "empty"} {
		want, err := fs.Stat(name)
		suite.Require().NoError(err)
		got, err := loaded.Stat(name)
		suite.Require().NoError(err)
		suite.Equal(want, got, "stat of %q survives the round trip", name)
	}
	suite.Equal(fs.store.NumFree(), loaded.store.NumFree())

	fd, err = loaded.Open("b")
	suite.Require().NoError(err)
	got, err := loaded.Read(fd, 300)
	suite.Require().NoError(err)
	suite.Equal(data, got)
	loaded.Close(fd)
}

func (suite *ImageSuite) TestLoadedInstanceIsIndependent() {
	fs := suite.fs
	suite.Require().NoError(fs.Create("a"))
	fd, err := fs.Open("a")
	suite.Require().NoError(err)
	suite.Require().NoError(fs.Write(fd, []byte("original")))
	fs.Close(fd)

	loaded, err := LoadImage(fs.SaveImage())
	suite.Require().NoError(err)

	fd, err = loaded.Open("a")
	suite.Require().NoError(err)
	suite.Require().NoError(loaded.Write(fd, []byte("mutated!")))
	loaded.Close(fd)

	fd, err = fs.Open("a")
	suite.Require().NoError(err)
	got, err := fs.Read(fd, 8)
	suite.Require().NoError(err)
	suite.Equal([]byte("original"), got, "the source instance is untouched")
	fs.Close(fd)
}

func (suite *ImageSuite) TestOrphansAreNotSaved() {
	fs := suite.fs
	suite.Require().NoError(fs.Create("doomed"))
	fd, err := fs.Open("doomed")
	suite.Require().NoError(err)
	suite.Require().NoError(fs.Write(fd, pattern(200)))
	suite.Require().NoError(fs.Unlink("doomed"))
	// still open: two blocks remain allocated here
	suite.Equal(uint64(30), fs.store.NumFree())

	loaded, err := LoadImage(fs.SaveImage())
	suite.Require().NoError(err)
	suite.Equal(uint64(32), loaded.store.NumFree(),
		"handle-only descriptors do not survive the image")
	suite.Empty(loaded.Ls())
	fs.Close(fd)
}

func (suite *ImageSuite) TestLoadRejectsGarbage() {
	_, err := LoadImage(nil)
	suite.Equal(common.EINVAL, err)
	_, err = LoadImage(make([]byte, 64))
	suite.Equal(common.EINVAL, err, "bad magic")
}

// saveOneFile builds an image of a single file "a" holding two blocks.
// Layout (8-byte ints): header 0..47, then the directory entry (name
// length at 48, "a" at 56, inum at 57), then descriptor slot 0 (present
// flag at 65, ftype 73, nlink 81, size 89, nblks 97, first bnum at 105).
func (suite *ImageSuite) saveOneFile() []byte {
	fs := suite.fs
	suite.Require().NoError(fs.Create("a"))
	fd, err := fs.Open("a")
	suite.Require().NoError(err)
	suite.Require().NoError(fs.Write(fd, pattern(200)))
	fs.Close(fd)
	return fs.SaveImage()
}

func (suite *ImageSuite) TestLoadRejectsTruncated() {
	img := suite.saveOneFile()
	for _, n := range []int{52, 60, len(img) / 2, len(img) - 1} {
		trunc := img[:n]
		suite.NotPanics(func() {
			_, err := LoadImage(trunc)
			suite.Equal(common.EINVAL, err, "image truncated to %d bytes", n)
		})
	}

	_, err := LoadImage(append(img, 0))
	suite.Equal(common.EINVAL, err, "trailing bytes are rejected")
}

func (suite *ImageSuite) TestLoadRejectsBadReferences() {
	img := suite.saveOneFile()

	corrupt := func(off int, b byte) []byte {
		bad := append([]byte(nil), img...)
		bad[off] = b
		return bad
	}

	suite.NotPanics(func() {
		_, err := LoadImage(corrupt(57, 0xff))
		suite.Equal(common.EINVAL, err, "directory inum past the table")
	})
	suite.NotPanics(func() {
		_, err := LoadImage(corrupt(57, 5))
		suite.Equal(common.EINVAL, err, "directory inum bound to an empty slot")
	})
	suite.NotPanics(func() {
		_, err := LoadImage(corrupt(97, 0xff))
		suite.Equal(common.EINVAL, err, "descriptor block count past maxdirect")
	})
	suite.NotPanics(func() {
		_, err := LoadImage(corrupt(105, 0xff))
		suite.Equal(common.EINVAL, err, "descriptor bnum past the pool")
	})
}
