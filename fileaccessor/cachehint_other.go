//go:build !linux

package fileaccessor

import "os"

// applyCacheHint is a no-op on platforms without fadvise; the hint remains
// purely advisory and has no effect here.
func applyCacheHint(f *os.File, hint CacheHint) {}
