//go:build windows

package vmm

import (
	"fmt"
	"syscall"
	"unsafe"
)

const (
	memCommit  = 0x1000
	memReserve = 0x2000
	memRelease = 0x8000

	pageReadWrite = 0x04
)

var (
	kernel32DLL      = syscall.NewLazyDLL("kernel32.dll")
	procVirtualAlloc = kernel32DLL.NewProc("VirtualAlloc")
	procVirtualFree  = kernel32DLL.NewProc("VirtualFree")
)

// hostBuffer is a page-aligned, zero-filled chunk of host memory backing one
// guest allocation. VirtualAlloc reservations are 64KiB-granular, which
// already satisfies PageSize alignment. The address is kept as a uintptr so
// the GC never scans non-Go memory.
type hostBuffer struct {
	addr uintptr
	size uintptr
}

func allocateBuffer(size uint64) (*hostBuffer, error) {
	if size == 0 {
		return &hostBuffer{}, nil
	}
	ptr, _, err := procVirtualAlloc.Call(0, uintptr(size), memCommit|memReserve, pageReadWrite)
	if ptr == 0 {
		if err == syscall.Errno(0) {
			err = syscall.GetLastError()
		}
		return nil, fmt.Errorf("VirtualAlloc guest memory: %v: %w", err, ErrNoResources)
	}
	return &hostBuffer{addr: ptr, size: uintptr(size)}, nil
}

// slice is the aligned view; its length is the rounded allocation size.
func (b *hostBuffer) slice() []byte {
	if b.addr == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(b.addr)), int(b.size))
}

func (b *hostBuffer) pointer() unsafe.Pointer {
	return unsafe.Pointer(b.addr)
}

func (b *hostBuffer) free() error {
	if b.addr == 0 {
		return nil
	}
	// For MEM_RELEASE the size argument must be 0.
	r1, _, err := procVirtualFree.Call(b.addr, 0, memRelease)
	if r1 == 0 {
		if err == syscall.Errno(0) {
			err = syscall.GetLastError()
		}
		return fmt.Errorf("VirtualFree guest memory: %w", err)
	}
	b.addr, b.size = 0, 0
	return nil
}
