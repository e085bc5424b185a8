package vmm

import "github.com/tinyrange/vmm/internal/bindings"

// MemoryPermission is the guest access policy for a mapping: read, write and
// execute are independent capabilities and any of the eight combinations is
// legal, including no access at all.
type MemoryPermission uint8

const (
	MemoryRead  MemoryPermission = 1 << 0
	MemoryWrite MemoryPermission = 1 << 1
	MemoryExec  MemoryPermission = 1 << 2

	MemoryNone             MemoryPermission = 0
	MemoryReadWrite                         = MemoryRead | MemoryWrite
	MemoryReadExec                          = MemoryRead | MemoryExec
	MemoryReadWriteExec                     = MemoryRead | MemoryWrite | MemoryExec
)

// Read reports whether the guest may load from the mapping.
func (p MemoryPermission) Read() bool { return p&MemoryRead != 0 }

// Write reports whether the guest may store to the mapping.
func (p MemoryPermission) Write() bool { return p&MemoryWrite != 0 }

// Exec reports whether the guest may fetch instructions from the mapping.
func (p MemoryPermission) Exec() bool { return p&MemoryExec != 0 }

func (p MemoryPermission) String() string {
	buf := [3]byte{'-', '-', '-'}
	if p.Read() {
		buf[0] = 'r'
	}
	if p.Write() {
		buf[1] = 'w'
	}
	if p.Exec() {
		buf[2] = 'x'
	}
	return string(buf[:])
}

// nativeFlags translates the permission into the native bitmask. The mapping
// is per capability rather than a cast so the public type stays independent
// of the native bit layout.
func (p MemoryPermission) nativeFlags() bindings.MemoryFlags {
	var flags bindings.MemoryFlags
	if p.Read() {
		flags |= bindings.HV_MEMORY_READ
	}
	if p.Write() {
		flags |= bindings.HV_MEMORY_WRITE
	}
	if p.Exec() {
		flags |= bindings.HV_MEMORY_EXEC
	}
	return flags
}
