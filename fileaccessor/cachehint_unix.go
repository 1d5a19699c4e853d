//go:build linux

package fileaccessor

import (
	"os"

	"golang.org/x/sys/unix"
)

// applyCacheHint advises the kernel's readahead/caching behavior via
// fadvise. It is advisory: a failure here is not surfaced as an error,
// applied once on open and never retried.
func applyCacheHint(f *os.File, hint CacheHint) {
	var advice int
	switch hint {
	case Sequential:
		advice = unix.FADV_SEQUENTIAL
	case Random:
		advice = unix.FADV_RANDOM
	default:
		advice = unix.FADV_NORMAL
	}
	_ = unix.Fadvise(int(f.Fd()), 0, 0, advice)
}
