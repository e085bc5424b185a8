package vmm

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyrange/vmm/internal/bindings"
)

// InterruptType selects one of the interrupt lines into the guest.
type InterruptType uint32

const (
	InterruptIRQ InterruptType = iota
	InterruptFIQ
)

func (t InterruptType) String() string {
	switch t {
	case InterruptIRQ:
		return "IRQ"
	case InterruptFIQ:
		return "FIQ"
	default:
		return fmt.Sprintf("InterruptType(%d)", uint32(t))
	}
}

func (t InterruptType) native() (bindings.InterruptType, bool) {
	switch t {
	case InterruptIRQ:
		return bindings.HV_INTERRUPT_TYPE_IRQ, true
	case InterruptFIQ:
		return bindings.HV_INTERRUPT_TYPE_FIQ, true
	default:
		return 0, false
	}
}

// VirtualCpu is one guest CPU. The native layer binds a vCPU to the OS
// thread that created it, so every method except the exit requests must be
// called from that thread; callers lock their goroutine down with
// runtime.LockOSThread before CreateVirtualCpu and keep it locked until
// Close. Thread residency is a caller contract, not enforced here.
//
// ExitVirtualCpus and Exit are the exception: they are safe from any
// thread, including while Run is blocked.
type VirtualCpu struct {
	vm *VirtualMachine

	id   bindings.VCPU
	exit *bindings.VcpuExit

	closed bool
}

// CreateVirtualCpu creates a guest CPU bound to the calling OS thread. Pass
// a configuration to pin vCPU features, or nil for the defaults. The
// configuration may be closed once this returns.
//
// The caller must have locked its goroutine to the thread and must run and
// close the vCPU from that same thread. One vCPU per thread; further vCPUs
// live on further locked threads.
func (vm *VirtualMachine) CreateVirtualCpu(config *VirtualCpuConfiguration) (*VirtualCpu, error) {
	if vm.closed {
		return nil, fmt.Errorf("vmm: create vcpu: %w", ErrClosed)
	}
	var nativeConfig bindings.VcpuConfig
	if config != nil {
		if config.closed {
			return nil, fmt.Errorf("vmm: create vcpu: configuration is closed: %w", ErrClosed)
		}
		nativeConfig = config.handle
	}

	v := &VirtualCpu{vm: vm}
	if ret := native.vcpuCreate(&v.id, &v.exit, nativeConfig); ret != bindings.HV_SUCCESS {
		return nil, fmt.Errorf("vmm: create vcpu: %w", hvError(ret))
	}
	vm.vcpus[v.id] = v
	metrics.vcpuCreates.Add(1)
	return v, nil
}

// ID returns the native vCPU id.
func (v *VirtualCpu) ID() int { return int(v.id) }

// Run enters the guest on the owning thread and blocks until the guest
// exits. The returned exit is a stable copy; the native exit record is
// rewritten by the next Run.
//
// When ctx carries cancellation, an exit request is sent to this vCPU the
// moment the context is done, and the run returns through the normal decode
// path, usually as ExitReasonCancelled. A cancelled run is not an error and
// the vCPU stays runnable. context.Background() adds no behavior.
func (v *VirtualCpu) Run(ctx context.Context) (*VirtualCpuExit, error) {
	if v.closed {
		return nil, fmt.Errorf("vmm: run vcpu %d: %w", v.id, ErrClosed)
	}

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			_ = native.vcpusExit([]bindings.VCPU{v.id})
		})
		defer stop()
	}

	if ret := native.vcpuRun(v.id); ret != bindings.HV_SUCCESS {
		return nil, fmt.Errorf("vmm: run vcpu %d: %w", v.id, hvError(ret))
	}

	exit := decodeExit(v.exit)
	metrics.runs.Add(1)
	if exit.Reason == ExitReasonCancelled {
		metrics.cancellations.Add(1)
	}
	return exit, nil
}

// Exit asks this vCPU to leave the guest. Safe from any thread. If the vCPU
// is mid-Run that run returns with ExitReasonCancelled; if it is not
// running the next Run returns immediately instead. The request does not
// accumulate beyond one pending exit.
func (v *VirtualCpu) Exit() error {
	return v.vm.ExitVirtualCpus(v)
}

// ExitVirtualCpus asks the given vCPUs to leave the guest. This is the one
// operation that is safe from any thread; it is how a supervisor thread
// stops vCPUs that are blocked in Run. The vCPUs must still be open. With
// no arguments it does nothing.
func (vm *VirtualMachine) ExitVirtualCpus(vcpus ...*VirtualCpu) error {
	if len(vcpus) == 0 {
		return nil
	}
	ids := make([]bindings.VCPU, len(vcpus))
	for i, v := range vcpus {
		ids[i] = v.id
	}
	if ret := native.vcpusExit(ids); ret != bindings.HV_SUCCESS {
		return fmt.Errorf("vmm: exit vcpus: %w", hvError(ret))
	}
	return nil
}

// Close sends the vCPU an exit request and destroys it. Must be called on
// the owning thread. A native destroy failure panics because the hypervisor
// still considers the vCPU live and the thread cannot be reused for another
// one. Closing twice is a no-op.
func (v *VirtualCpu) Close() error {
	if v.closed {
		return nil
	}
	_ = native.vcpusExit([]bindings.VCPU{v.id})
	if ret := native.vcpuDestroy(v.id); ret != bindings.HV_SUCCESS {
		slog.Error("failed to destroy vcpu", "vcpu", uint64(v.id), "status", ret.String())
		panic(fmt.Sprintf("vmm: destroy vcpu %d: %v", v.id, ret))
	}
	delete(v.vm.vcpus, v.id)
	v.closed = true
	metrics.vcpuCloses.Add(1)
	return nil
}

// GetRegister reads a general purpose, floating point control or CPSR
// register.
func (v *VirtualCpu) GetRegister(reg Register) (uint64, error) {
	if v.closed {
		return 0, fmt.Errorf("vmm: get register %v: %w", reg, ErrClosed)
	}
	nativeReg, ok := reg.native()
	if !ok {
		return 0, fmt.Errorf("vmm: get register: unknown register %d: %w", int(reg), ErrBadArgument)
	}
	var value uint64
	if ret := native.vcpuGetReg(v.id, nativeReg, &value); ret != bindings.HV_SUCCESS {
		return 0, fmt.Errorf("vmm: get register %v: %w", reg, hvError(ret))
	}
	return value, nil
}

// SetRegister writes a general purpose, floating point control or CPSR
// register.
func (v *VirtualCpu) SetRegister(reg Register, value uint64) error {
	if v.closed {
		return fmt.Errorf("vmm: set register %v: %w", reg, ErrClosed)
	}
	nativeReg, ok := reg.native()
	if !ok {
		return fmt.Errorf("vmm: set register: unknown register %d: %w", int(reg), ErrBadArgument)
	}
	if ret := native.vcpuSetReg(v.id, nativeReg, value); ret != bindings.HV_SUCCESS {
		return fmt.Errorf("vmm: set register %v: %w", reg, hvError(ret))
	}
	return nil
}

// GetSystemRegister reads an EL1 system register.
func (v *VirtualCpu) GetSystemRegister(reg SystemRegister) (uint64, error) {
	if v.closed {
		return 0, fmt.Errorf("vmm: get system register %v: %w", reg, ErrClosed)
	}
	nativeReg, ok := reg.native()
	if !ok {
		return 0, fmt.Errorf("vmm: get system register: unknown register %d: %w", int(reg), ErrBadArgument)
	}
	var value uint64
	if ret := native.vcpuGetSysReg(v.id, nativeReg, &value); ret != bindings.HV_SUCCESS {
		return 0, fmt.Errorf("vmm: get system register %v: %w", reg, hvError(ret))
	}
	return value, nil
}

// SetSystemRegister writes an EL1 system register.
func (v *VirtualCpu) SetSystemRegister(reg SystemRegister, value uint64) error {
	if v.closed {
		return fmt.Errorf("vmm: set system register %v: %w", reg, ErrClosed)
	}
	nativeReg, ok := reg.native()
	if !ok {
		return fmt.Errorf("vmm: set system register: unknown register %d: %w", int(reg), ErrBadArgument)
	}
	if ret := native.vcpuSetSysReg(v.id, nativeReg, value); ret != bindings.HV_SUCCESS {
		return fmt.Errorf("vmm: set system register %v: %w", reg, hvError(ret))
	}
	return nil
}

// GetSIMDFPRegister reads a 128-bit SIMD&FP register. The bytes are in
// little-endian lane order, byte 0 holding the lowest lane.
func (v *VirtualCpu) GetSIMDFPRegister(reg SIMDFPRegister) ([16]byte, error) {
	var out [16]byte
	if v.closed {
		return out, fmt.Errorf("vmm: get simd register %v: %w", reg, ErrClosed)
	}
	nativeReg, ok := reg.native()
	if !ok {
		return out, fmt.Errorf("vmm: get simd register: unknown register %d: %w", int(reg), ErrBadArgument)
	}
	var value bindings.SimdFP
	if ret := native.vcpuGetSimdFpReg(v.id, nativeReg, &value); ret != bindings.HV_SUCCESS {
		return out, fmt.Errorf("vmm: get simd register %v: %w", reg, hvError(ret))
	}
	binary.LittleEndian.PutUint64(out[0:8], value.Low())
	binary.LittleEndian.PutUint64(out[8:16], value.High())
	return out, nil
}

// SetSIMDFPRegister writes a 128-bit SIMD&FP register from little-endian
// lane order bytes.
func (v *VirtualCpu) SetSIMDFPRegister(reg SIMDFPRegister, value [16]byte) error {
	if v.closed {
		return fmt.Errorf("vmm: set simd register %v: %w", reg, ErrClosed)
	}
	nativeReg, ok := reg.native()
	if !ok {
		return fmt.Errorf("vmm: set simd register: unknown register %d: %w", int(reg), ErrBadArgument)
	}
	simd := bindings.NewSimdFP(
		binary.LittleEndian.Uint64(value[0:8]),
		binary.LittleEndian.Uint64(value[8:16]),
	)
	if ret := native.vcpuSetSimdFpReg(v.id, nativeReg, simd); ret != bindings.HV_SUCCESS {
		return fmt.Errorf("vmm: set simd register %v: %w", reg, hvError(ret))
	}
	return nil
}

// GetPendingInterrupt reports whether an interrupt is pending on the given
// line.
func (v *VirtualCpu) GetPendingInterrupt(typ InterruptType) (bool, error) {
	if v.closed {
		return false, fmt.Errorf("vmm: get pending interrupt: %w", ErrClosed)
	}
	nativeType, ok := typ.native()
	if !ok {
		return false, fmt.Errorf("vmm: get pending interrupt: unknown interrupt type %d: %w", uint32(typ), ErrBadArgument)
	}
	var pending bool
	if ret := native.vcpuGetPendingInterrupt(v.id, nativeType, &pending); ret != bindings.HV_SUCCESS {
		return false, fmt.Errorf("vmm: get pending %v: %w", typ, hvError(ret))
	}
	return pending, nil
}

// SetPendingInterrupt asserts or clears an interrupt line. Pending
// interrupts are delivered on the next Run and cleared by the hypervisor on
// delivery, so a level-triggered source re-asserts before each run.
func (v *VirtualCpu) SetPendingInterrupt(typ InterruptType, pending bool) error {
	if v.closed {
		return fmt.Errorf("vmm: set pending interrupt: %w", ErrClosed)
	}
	nativeType, ok := typ.native()
	if !ok {
		return fmt.Errorf("vmm: set pending interrupt: unknown interrupt type %d: %w", uint32(typ), ErrBadArgument)
	}
	if ret := native.vcpuSetPendingInterrupt(v.id, nativeType, pending); ret != bindings.HV_SUCCESS {
		return fmt.Errorf("vmm: set pending %v: %w", typ, hvError(ret))
	}
	return nil
}

// GetTrapDebugExceptions reports whether guest debug exceptions trap to the
// host.
func (v *VirtualCpu) GetTrapDebugExceptions() (bool, error) {
	if v.closed {
		return false, fmt.Errorf("vmm: get trap debug exceptions: %w", ErrClosed)
	}
	var value bool
	if ret := native.vcpuGetTrapDebugExceptions(v.id, &value); ret != bindings.HV_SUCCESS {
		return false, fmt.Errorf("vmm: get trap debug exceptions: %w", hvError(ret))
	}
	return value, nil
}

// SetTrapDebugExceptions routes guest debug exceptions to the host instead
// of the guest's own EL1 handler.
func (v *VirtualCpu) SetTrapDebugExceptions(trap bool) error {
	if v.closed {
		return fmt.Errorf("vmm: set trap debug exceptions: %w", ErrClosed)
	}
	if ret := native.vcpuSetTrapDebugExceptions(v.id, trap); ret != bindings.HV_SUCCESS {
		return fmt.Errorf("vmm: set trap debug exceptions: %w", hvError(ret))
	}
	return nil
}

// GetTrapDebugRegisterAccesses reports whether guest accesses to debug
// registers trap to the host.
func (v *VirtualCpu) GetTrapDebugRegisterAccesses() (bool, error) {
	if v.closed {
		return false, fmt.Errorf("vmm: get trap debug register accesses: %w", ErrClosed)
	}
	var value bool
	if ret := native.vcpuGetTrapDebugRegAccesses(v.id, &value); ret != bindings.HV_SUCCESS {
		return false, fmt.Errorf("vmm: get trap debug register accesses: %w", hvError(ret))
	}
	return value, nil
}

// SetTrapDebugRegisterAccesses routes guest accesses to the DBG* registers
// to the host.
func (v *VirtualCpu) SetTrapDebugRegisterAccesses(trap bool) error {
	if v.closed {
		return fmt.Errorf("vmm: set trap debug register accesses: %w", ErrClosed)
	}
	if ret := native.vcpuSetTrapDebugRegAccesses(v.id, trap); ret != bindings.HV_SUCCESS {
		return fmt.Errorf("vmm: set trap debug register accesses: %w", hvError(ret))
	}
	return nil
}

// ExecTime returns the cumulative guest execution time of this vCPU. The
// native unit is mach ticks, which current hardware reports as nanoseconds.
func (v *VirtualCpu) ExecTime() (time.Duration, error) {
	if v.closed {
		return 0, fmt.Errorf("vmm: get exec time: %w", ErrClosed)
	}
	var ticks uint64
	if ret := native.vcpuGetExecTime(v.id, &ticks); ret != bindings.HV_SUCCESS {
		return 0, fmt.Errorf("vmm: get exec time: %w", hvError(ret))
	}
	return time.Duration(ticks), nil
}

// GetVTimerMask reports whether virtual timer interrupts are masked.
func (v *VirtualCpu) GetVTimerMask() (bool, error) {
	if v.closed {
		return false, fmt.Errorf("vmm: get vtimer mask: %w", ErrClosed)
	}
	var masked bool
	if ret := native.vcpuGetVtimerMask(v.id, &masked); ret != bindings.HV_SUCCESS {
		return false, fmt.Errorf("vmm: get vtimer mask: %w", hvError(ret))
	}
	return masked, nil
}

// SetVTimerMask masks or unmasks virtual timer interrupts. The hypervisor
// masks the timer when a run exits with ExitReasonVTimerActivated; the
// caller unmasks it after injecting the interrupt.
func (v *VirtualCpu) SetVTimerMask(masked bool) error {
	if v.closed {
		return fmt.Errorf("vmm: set vtimer mask: %w", ErrClosed)
	}
	if ret := native.vcpuSetVtimerMask(v.id, masked); ret != bindings.HV_SUCCESS {
		return fmt.Errorf("vmm: set vtimer mask: %w", hvError(ret))
	}
	return nil
}

// GetVTimerOffset returns the offset subtracted from the host counter to
// form the guest's virtual counter.
func (v *VirtualCpu) GetVTimerOffset() (uint64, error) {
	if v.closed {
		return 0, fmt.Errorf("vmm: get vtimer offset: %w", ErrClosed)
	}
	var offset uint64
	if ret := native.vcpuGetVtimerOffset(v.id, &offset); ret != bindings.HV_SUCCESS {
		return 0, fmt.Errorf("vmm: get vtimer offset: %w", hvError(ret))
	}
	return offset, nil
}

// SetVTimerOffset sets the guest virtual counter offset. Snapshot restore
// uses this to keep guest time continuous across a save and load.
func (v *VirtualCpu) SetVTimerOffset(offset uint64) error {
	if v.closed {
		return fmt.Errorf("vmm: set vtimer offset: %w", ErrClosed)
	}
	if ret := native.vcpuSetVtimerOffset(v.id, offset); ret != bindings.HV_SUCCESS {
		return fmt.Errorf("vmm: set vtimer offset: %w", hvError(ret))
	}
	return nil
}
