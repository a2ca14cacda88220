// +build !darwin,!linux,!netbsd,!openbsd

package repo

// CheckAndSetUlimit does nothing on platforms without rlimits.
func CheckAndSetUlimit() error {
	return nil
}
