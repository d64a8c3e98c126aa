//go:build unix

package squash

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func raise(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("raise: unsupported signal %v", sig)
	}
	return unix.Kill(unix.Getpid(), s)
}

// processAlive reports whether a process with pid exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
