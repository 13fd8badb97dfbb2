//go:build unix

package daemontransport

import "syscall"

// detachedProcAttr starts the daemon in its own session so it is not
// killed when the spawning ingress process's controlling terminal exits.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
