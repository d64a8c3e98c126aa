//go:build darwin

package squash

import (
	"runtime"

	"golang.org/x/sys/unix"
)

func osInfo() (sysname, release, version string) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return runtime.GOOS, "", ""
	}
	sysname = unix.ByteSliceToString(u.Sysname[:])
	release = unix.ByteSliceToString(u.Release[:])
	if v, err := unix.Sysctl("kern.osproductversion"); err == nil {
		release = v
	}
	if b, err := unix.Sysctl("kern.osversion"); err == nil {
		version = b
	}
	return sysname, release, version
}

func physicalMemory() *uint64 {
	total, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return nil
	}
	return &total
}

// parentProcessName is not resolved on darwin.
func parentProcessName(int) string {
	return ""
}

// processNative reports whether the process runs without Rosetta translation.
func processNative() bool {
	translated, err := unix.SysctlUint32("sysctl.proc_translated")
	if err != nil {
		return true
	}
	return translated == 0
}
