//go:build unix

package vmm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const maxInt = int(^uint(0) >> 1)

// hostBuffer is a page-aligned, zero-filled chunk of host memory backing one
// guest allocation. mmap only guarantees host page alignment, which can be
// smaller than PageSize, so the mapping over-allocates by one page and hands
// out an aligned view; raw keeps the full mapping for munmap.
type hostBuffer struct {
	raw []byte
	buf []byte
}

func allocateBuffer(size uint64) (*hostBuffer, error) {
	if size == 0 {
		return &hostBuffer{}, nil
	}
	if size > uint64(maxInt)-PageSize {
		return nil, fmt.Errorf("allocation size %d exceeds host address limit: %w", size, ErrNoResources)
	}

	raw, err := unix.Mmap(
		-1,
		0,
		int(size+PageSize),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANONYMOUS|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap guest memory: %v: %w", err, ErrNoResources)
	}

	addr := uintptr(unsafe.Pointer(&raw[0]))
	off := int((PageSize - addr%PageSize) % PageSize)
	return &hostBuffer{raw: raw, buf: raw[off : off+int(size)]}, nil
}

// slice is the aligned view; its length is the rounded allocation size.
func (b *hostBuffer) slice() []byte { return b.buf }

func (b *hostBuffer) pointer() unsafe.Pointer {
	if len(b.buf) == 0 {
		return nil
	}
	return unsafe.Pointer(&b.buf[0])
}

func (b *hostBuffer) free() error {
	if b.raw == nil {
		return nil
	}
	if err := unix.Munmap(b.raw); err != nil {
		return fmt.Errorf("munmap guest memory: %w", err)
	}
	b.raw, b.buf = nil, nil
	return nil
}
