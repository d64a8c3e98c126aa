//go:build !linux && !darwin

package squash

import "runtime"

func osInfo() (sysname, release, version string) {
	return runtime.GOOS, "", ""
}

func physicalMemory() *uint64 { return nil }

func parentProcessName(int) string { return "" }

func processNative() bool { return true }
