//go:build !unix

package daemontransport

import "os"

// ownedByCurrentUser is a no-op on non-POSIX platforms, where euid
// ownership checks do not apply; permission-bit hardening still runs.
func ownedByCurrentUser(info os.FileInfo) bool {
	return true
}
