package artifact

import "syscall"

func isWindowsLock(errno syscall.Errno) bool {
	return errno == errSharingViolation || errno == errLockViolation
}
