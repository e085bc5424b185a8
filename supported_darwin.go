//go:build darwin

package vmm

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// Supported reports whether this host can run a virtual machine: an Apple
// Silicon mac whose kernel advertises hypervisor support. A false result
// with a nil error means the host genuinely lacks support; an error means
// the probe itself failed.
func Supported() (bool, error) {
	if runtime.GOARCH != "arm64" {
		return false, nil
	}
	value, err := unix.SysctlUint32("kern.hv_support")
	if err != nil {
		return false, err
	}
	return value == 1, nil
}
