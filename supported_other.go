//go:build !darwin

package vmm

// Supported reports false away from darwin; the native layer only exists on
// Apple Silicon macs.
func Supported() (bool, error) {
	return false, nil
}
