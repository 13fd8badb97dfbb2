//go:build unix

package daemontransport

import (
	"os"

	"golang.org/x/sys/unix"
)

// ownedByCurrentUser reports whether info's underlying file is owned by
// the current effective user, per spec §4.5's hardening requirement.
func ownedByCurrentUser(info os.FileInfo) bool {
	stat, ok := info.Sys().(*unix.Stat_t)
	if !ok {
		return false
	}
	return int(stat.Uid) == os.Geteuid()
}
