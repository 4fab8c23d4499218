//go:build linux

package fakedevice

import "golang.org/x/sys/unix"

// systemMemoryBytes reports the host's total physical memory, used as the
// fake device's default local-segment budget so budget-gating tests see a
// realistic (if arbitrary) ceiling without hardcoding one.
func systemMemoryBytes() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return defaultSystemMemoryBytes
	}
	return uint64(info.Totalram) * uint64(info.Unit)
}
