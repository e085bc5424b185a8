//go:build !darwin

package vmm

// EnsureEntitled is a no-op away from darwin. On macOS it re-signs the
// executable with the hypervisor entitlement and re-execs when needed.
func EnsureEntitled() error {
	return nil
}
