package vmm

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"

	"github.com/tinyrange/vmm/internal/bindings"
)

// AllocationHandle identifies a guest memory allocation. Handles are issued
// from a monotonic counter starting at 1 and are never reused, even after the
// allocation is released.
type AllocationHandle uint64

// MappingHandle identifies a live guest-physical mapping. Handles are issued
// from their own monotonic counter starting at 1 and are never reused.
type MappingHandle uint64

// Mapping is a point-in-time copy of one mapping record.
type Mapping struct {
	Handle       MappingHandle
	Allocation   AllocationHandle
	GuestAddress uint64
	Size         uint64
	Permission   MemoryPermission
}

// handleCounter issues handles; the first value returned is 1.
type handleCounter uint64

func (c *handleCounter) next() uint64 {
	*c++
	return uint64(*c)
}

type allocation struct {
	handle AllocationHandle
	buf    *hostBuffer
}

// The native layer supports one virtual machine per process; globalVM holds
// the live instance so a second construction can be rejected before touching
// native state.
var globalVM atomic.Pointer[VirtualMachine]

// VirtualMachineConfiguration is a reserved extension point. The native layer
// exposes no VM-level configuration today, so the zero value is the only
// meaningful configuration and translates to a null native config handle.
type VirtualMachineConfiguration struct{}

// VirtualMachine owns the process-wide virtual machine together with its
// guest memory allocations and guest-physical mappings.
//
// The trackers are not internally synchronized: Allocate, AllocateFrom,
// Deallocate, Map, Unmap, Reprotect and Close must be serialized by the
// caller. Read-only queries are safe between mutations but not concurrently
// with one.
type VirtualMachine struct {
	allocCounter handleCounter
	mapCounter   handleCounter

	allocations map[AllocationHandle]*allocation
	mappings    map[MappingHandle]Mapping

	vcpus map[bindings.VCPU]*VirtualCpu

	closed bool
}

// NewVirtualMachine creates the process virtual machine. Only one instance
// can be live at a time; a second call fails with ErrBusy until the first
// instance is closed. A nil configuration means the default configuration.
func NewVirtualMachine(config *VirtualMachineConfiguration) (*VirtualMachine, error) {
	vm := &VirtualMachine{
		allocations: make(map[AllocationHandle]*allocation),
		mappings:    make(map[MappingHandle]Mapping),
		vcpus:       make(map[bindings.VCPU]*VirtualCpu),
	}
	if !globalVM.CompareAndSwap(nil, vm) {
		return nil, fmt.Errorf("vmm: create virtual machine: another instance is live: %w", ErrBusy)
	}
	if ret := native.vmCreate(0); ret != bindings.HV_SUCCESS {
		globalVM.CompareAndSwap(vm, nil)
		return nil, fmt.Errorf("vmm: create virtual machine: %w", hvError(ret))
	}
	metrics.vmCreates.Add(1)
	return vm, nil
}

// Allocate reserves zero-filled guest memory. The requested size is rounded
// up to the next PageSize multiple and the backing buffer is aligned to
// PageSize; the rounded size is what AllocationSlice and Map observe.
// Allocation does not touch the native layer and fails only when the host
// cannot provide the memory.
func (vm *VirtualMachine) Allocate(size uint64) (AllocationHandle, error) {
	if vm.closed {
		return 0, fmt.Errorf("vmm: allocate: %w", ErrClosed)
	}
	if size > math.MaxUint64-(PageSize-1) {
		return 0, fmt.Errorf("vmm: allocate: size overflows page rounding: %w", ErrNoResources)
	}
	rounded := alignUp(size, PageSize)
	buf, err := allocateBuffer(rounded)
	if err != nil {
		return 0, fmt.Errorf("vmm: allocate: %w", err)
	}
	handle := AllocationHandle(vm.allocCounter.next())
	vm.allocations[handle] = &allocation{handle: handle, buf: buf}
	metrics.bytesAllocated.Add(rounded)
	return handle, nil
}

// AllocateFrom allocates like Allocate and seeds the buffer with data. Bytes
// past len(data) up to the rounded size stay zero.
func (vm *VirtualMachine) AllocateFrom(data []byte) (AllocationHandle, error) {
	handle, err := vm.Allocate(uint64(len(data)))
	if err != nil {
		return 0, err
	}
	alloc, ok := vm.allocations[handle]
	if !ok {
		// Unreachable unless the tracker is corrupted; report rather than
		// indexing into a record that is not there.
		return 0, fmt.Errorf("vmm: allocate from buffer: lost fresh allocation: %w", ErrNoResources)
	}
	copy(alloc.buf.slice(), data)
	return handle, nil
}

// Deallocate releases an allocation. It fails with ErrAllocationStillMapped
// while any mapping still references the allocation; unmap first.
func (vm *VirtualMachine) Deallocate(handle AllocationHandle) error {
	if vm.closed {
		return fmt.Errorf("vmm: deallocate: %w", ErrClosed)
	}
	alloc, ok := vm.allocations[handle]
	if !ok {
		return fmt.Errorf("vmm: deallocate: %w", ErrInvalidHandle)
	}
	for _, m := range vm.mappings {
		if m.Allocation == handle {
			return fmt.Errorf("vmm: deallocate: %w", ErrAllocationStillMapped)
		}
	}
	if err := alloc.buf.free(); err != nil {
		return fmt.Errorf("vmm: deallocate: %w", err)
	}
	delete(vm.allocations, handle)
	return nil
}

// AllocationSlice returns the live backing buffer of an allocation; the
// length is the rounded allocation size. While the allocation is mapped the
// guest reads and writes the same bytes, so the content is not stable across
// guest execution.
func (vm *VirtualMachine) AllocationSlice(handle AllocationHandle) ([]byte, error) {
	if vm.closed {
		return nil, fmt.Errorf("vmm: allocation slice: %w", ErrClosed)
	}
	alloc, ok := vm.allocations[handle]
	if !ok {
		return nil, fmt.Errorf("vmm: allocation slice: %w", ErrInvalidHandle)
	}
	return alloc.buf.slice(), nil
}

// Map gives the guest access to an allocation at guestAddress, which must be
// a PageSize multiple. The whole rounded buffer is mapped. The mapping is
// recorded only after the native layer accepts it, so a failed map leaves no
// record behind. The same allocation may be mapped at several addresses.
func (vm *VirtualMachine) Map(alloc AllocationHandle, guestAddress uint64, perm MemoryPermission) (MappingHandle, error) {
	if vm.closed {
		return 0, fmt.Errorf("vmm: map memory: %w", ErrClosed)
	}
	a, ok := vm.allocations[alloc]
	if !ok {
		return 0, fmt.Errorf("vmm: map memory: %w", ErrInvalidHandle)
	}
	if guestAddress%PageSize != 0 {
		return 0, fmt.Errorf("vmm: map memory: guest address 0x%x: %w", guestAddress, ErrMisalignedAddress)
	}
	size := uint64(len(a.buf.slice()))
	if ret := native.vmMap(a.buf.pointer(), bindings.IPA(guestAddress), uintptr(size), perm.nativeFlags()); ret != bindings.HV_SUCCESS {
		return 0, fmt.Errorf("vmm: map memory: %w", hvError(ret))
	}
	handle := MappingHandle(vm.mapCounter.next())
	vm.mappings[handle] = Mapping{
		Handle:       handle,
		Allocation:   alloc,
		GuestAddress: guestAddress,
		Size:         size,
		Permission:   perm,
	}
	return handle, nil
}

// Unmap withdraws a mapping. The record is removed only after the native
// layer unmapped the range; afterwards the handle is permanently invalid.
func (vm *VirtualMachine) Unmap(handle MappingHandle) error {
	if vm.closed {
		return fmt.Errorf("vmm: unmap memory: %w", ErrClosed)
	}
	m, ok := vm.mappings[handle]
	if !ok {
		return fmt.Errorf("vmm: unmap memory: %w", ErrInvalidHandle)
	}
	if ret := native.vmUnmap(bindings.IPA(m.GuestAddress), uintptr(m.Size)); ret != bindings.HV_SUCCESS {
		return fmt.Errorf("vmm: unmap memory: %w", hvError(ret))
	}
	delete(vm.mappings, handle)
	return nil
}

// Reprotect changes the guest permission of a live mapping. Address, size and
// handles are untouched; the record is updated only after the native layer
// accepted the new permission.
func (vm *VirtualMachine) Reprotect(handle MappingHandle, perm MemoryPermission) error {
	if vm.closed {
		return fmt.Errorf("vmm: reprotect memory: %w", ErrClosed)
	}
	m, ok := vm.mappings[handle]
	if !ok {
		return fmt.Errorf("vmm: reprotect memory: %w", ErrInvalidHandle)
	}
	if ret := native.vmProtect(bindings.IPA(m.GuestAddress), uintptr(m.Size), perm.nativeFlags()); ret != bindings.HV_SUCCESS {
		return fmt.Errorf("vmm: reprotect memory: %w", hvError(ret))
	}
	if _, ok := vm.mappings[handle]; !ok {
		panic("vmm: mapping record vanished during reprotect")
	}
	m.Permission = perm
	vm.mappings[handle] = m
	return nil
}

// MappingInfo returns a copy of one mapping record.
func (vm *VirtualMachine) MappingInfo(handle MappingHandle) (Mapping, error) {
	m, ok := vm.mappings[handle]
	if !ok {
		return Mapping{}, fmt.Errorf("vmm: mapping info: %w", ErrInvalidHandle)
	}
	return m, nil
}

// Mappings returns copies of every mapping record, ordered by handle.
func (vm *VirtualMachine) Mappings() []Mapping {
	out := make([]Mapping, 0, len(vm.mappings))
	for _, m := range vm.mappings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Close tears the virtual machine down: every live mapping is unmapped, the
// native VM is destroyed and all allocations are released. Virtual CPUs must
// be closed before the machine; Close refuses to start teardown while any
// are live. A native failure during teardown panics because the
// process-global hypervisor state is undefined afterwards and continuing
// would hide corruption. Closing twice is a no-op.
func (vm *VirtualMachine) Close() error {
	if vm.closed {
		return nil
	}
	if len(vm.vcpus) > 0 {
		return fmt.Errorf("vmm: close virtual machine: %d vcpus still live: %w", len(vm.vcpus), ErrBusy)
	}
	for _, m := range vm.Mappings() {
		if ret := native.vmUnmap(bindings.IPA(m.GuestAddress), uintptr(m.Size)); ret != bindings.HV_SUCCESS {
			slog.Error("teardown unmap failed", "mapping", uint64(m.Handle), "guest_address", m.GuestAddress, "status", ret.String())
			panic(fmt.Sprintf("vmm: teardown unmap failed: %v", ret))
		}
		delete(vm.mappings, m.Handle)
	}
	if ret := native.vmDestroy(); ret != bindings.HV_SUCCESS {
		slog.Error("teardown destroy failed", "status", ret.String())
		panic(fmt.Sprintf("vmm: teardown destroy failed: %v", ret))
	}
	for handle, alloc := range vm.allocations {
		if err := alloc.buf.free(); err != nil {
			slog.Error("release guest memory failed", "allocation", uint64(handle), "error", err)
		}
		delete(vm.allocations, handle)
	}
	vm.closed = true
	globalVM.CompareAndSwap(vm, nil)
	metrics.vmCloses.Add(1)
	return nil
}
