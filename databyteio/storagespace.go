package databyteio

import (
	"errors"
	"syscall"
)

// IsStorageSpace returns whether err is caused by running out of storage: a full
// disk, no free inodes or a reached quota.
func IsStorageSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT)
}
