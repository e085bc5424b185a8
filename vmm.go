// Package vmm is a safe control layer over the Apple Silicon hypervisor.
//
// It tracks guest memory allocations and guest-physical mappings, translates
// native status codes into a closed error taxonomy, and manages the life
// cycle of the process virtual machine and its thread-resident virtual CPUs.
// The native layer is Hypervisor.framework, loaded at runtime; on other
// hosts the package still builds and operations report ErrUnsupported.
package vmm

// PageSize is the guest page granule. Allocation sizes round up to it and
// guest addresses handed to Map must be multiples of it.
const PageSize = 0x10000

// alignUp rounds value up to the next multiple of align. align must be a
// power of two.
func alignUp(value, align uint64) uint64 {
	return (value + align - 1) &^ (align - 1)
}
