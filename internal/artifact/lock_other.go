//go:build !windows

package artifact

import "syscall"

func isWindowsLock(syscall.Errno) bool { return false }
