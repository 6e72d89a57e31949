//go:build !linux

package nodecache

import (
	"errors"
	"os"
)

func fadvise(f *os.File, a Advice) error {
	return errors.New("posix_fadvise not available")
}
