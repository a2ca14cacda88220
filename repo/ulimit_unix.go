// +build darwin linux netbsd openbsd

package repo

import "syscall"

// fdLimit is the number of open files a node with many peer
// connections needs.
const fdLimit = 4096

// CheckAndSetUlimit raises the soft open file limit if it is low.
func CheckAndSetUlimit() error {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return err
	}
	if rLimit.Cur >= fdLimit {
		return nil
	}
	rLimit.Cur = fdLimit
	if rLimit.Max < fdLimit {
		rLimit.Cur = rLimit.Max
	}
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warningf("Unable to raise open file limit: %s", err)
	}
	return nil
}
