//go:build linux

package nodecache

import (
	"os"

	"golang.org/x/sys/unix"
)

func fadvise(f *os.File, a Advice) error {
	var flag int
	switch a {
	case AdviceSequential:
		flag = unix.FADV_SEQUENTIAL
	case AdviceRandom:
		flag = unix.FADV_RANDOM
	case AdviceWillNeed:
		flag = unix.FADV_WILLNEED
	case AdviceDontNeed:
		flag = unix.FADV_DONTNEED
	default:
		flag = unix.FADV_NORMAL
	}
	return unix.Fadvise(int(f.Fd()), 0, 0, flag)
}
