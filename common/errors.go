package common

import "errors"

// Error sentinels surfaced across the public API. Naming follows the usual
// errno vocabulary.
var (
	ENOENT = errors.New("no such file or directory")
	EEXIST = errors.New("file exists")
	ENFILE = errors.New("file table overflow")
	EFBIG  = errors.New("file too large")
	ENOSPC = errors.New("no space left on device")
	EINVAL = errors.New("invalid argument")
)
