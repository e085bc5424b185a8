package vmm

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/tinyrange/vmm/internal/bindings"
)

func newTestVcpu(t *testing.T) (*VirtualMachine, *VirtualCpu, *fakeNative) {
	t.Helper()
	vm, fake := newTestVM(t)
	vcpu, err := vm.CreateVirtualCpu(nil)
	if err != nil {
		t.Fatalf("CreateVirtualCpu: %v", err)
	}
	t.Cleanup(func() {
		fake.mu.Lock()
		fake.failVcpuDestroy, fake.failExit, fake.failAccess = 0, 0, 0
		fake.runHook, fake.exitHook = nil, nil
		fake.mu.Unlock()
		_ = vcpu.Close()
	})
	return vm, vcpu, fake
}

func TestCreateVirtualCpu(t *testing.T) {
	vm, vcpu, _ := newTestVcpu(t)

	if vcpu.ID() != 0 {
		t.Errorf("first vcpu id = %d, want 0", vcpu.ID())
	}

	second, err := vm.CreateVirtualCpu(nil)
	if err != nil {
		t.Fatalf("CreateVirtualCpu: %v", err)
	}
	defer second.Close()
	if second.ID() != 1 {
		t.Errorf("second vcpu id = %d, want 1", second.ID())
	}
}

func TestCreateVirtualCpuOnClosedVM(t *testing.T) {
	vm, _ := newTestVM(t)
	if err := vm.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := vm.CreateVirtualCpu(nil); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateVirtualCpu = %v, want ErrClosed", err)
	}
}

func TestCreateVirtualCpuWithClosedConfiguration(t *testing.T) {
	vm, _ := newTestVM(t)

	config, err := NewVirtualCpuConfiguration()
	if err != nil {
		t.Fatalf("NewVirtualCpuConfiguration: %v", err)
	}
	if err := config.Close(); err != nil {
		t.Fatalf("Close configuration: %v", err)
	}
	if _, err := vm.CreateVirtualCpu(config); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateVirtualCpu(closed config) = %v, want ErrClosed", err)
	}
}

func TestCreateVirtualCpuNativeFailure(t *testing.T) {
	vm, fake := newTestVM(t)

	fake.failVcpuCreate = bindings.HV_NO_RESOURCES
	if _, err := vm.CreateVirtualCpu(nil); !errors.Is(err, ErrNoResources) {
		t.Errorf("CreateVirtualCpu = %v, want ErrNoResources", err)
	}
}

func TestRunDecodesExits(t *testing.T) {
	_, vcpu, fake := newTestVcpu(t)
	id := vcpu.id

	fake.scriptExits(id,
		bindings.VcpuExit{
			Reason: bindings.HV_EXIT_REASON_EXCEPTION,
			Exception: bindings.VcpuExitException{
				Syndrome:        0x5620_0000,
				VirtualAddress:  0xFFFF_0000_1000,
				PhysicalAddress: 0x8_0000,
			},
		},
		bindings.VcpuExit{Reason: bindings.HV_EXIT_REASON_VTIMER_ACTIVATED},
		bindings.VcpuExit{Reason: 7},
	)

	exit, err := vcpu.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exit.Reason != ExitReasonException {
		t.Fatalf("reason = %v, want exception", exit.Reason)
	}
	if exit.Exception.Syndrome != 0x5620_0000 {
		t.Errorf("syndrome = %#x", exit.Exception.Syndrome)
	}
	if exit.Exception.VirtualAddress != 0xFFFF_0000_1000 {
		t.Errorf("virtual address = %#x", exit.Exception.VirtualAddress)
	}
	if exit.Exception.PhysicalAddress != 0x8_0000 {
		t.Errorf("physical address = %#x", exit.Exception.PhysicalAddress)
	}
	first := exit

	exit, err = vcpu.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exit.Reason != ExitReasonVTimerActivated {
		t.Errorf("reason = %v, want vtimer activated", exit.Reason)
	}

	// The native exit record was rewritten twice by now; the first result
	// must be untouched.
	if first.Reason != ExitReasonException || first.Exception.Syndrome != 0x5620_0000 {
		t.Errorf("earlier exit mutated by later runs: %+v", first)
	}

	exit, err = vcpu.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exit.Reason != ExitReasonUnknown {
		t.Fatalf("reason = %v, want unknown", exit.Reason)
	}
	if exit.RawReason != 7 {
		t.Errorf("raw reason = %d, want 7", exit.RawReason)
	}
}

func TestRunNativeFailure(t *testing.T) {
	_, vcpu, fake := newTestVcpu(t)

	fake.failRun = bindings.HV_ILLEGAL_GUEST_STATE
	exit, err := vcpu.Run(context.Background())
	if !errors.Is(err, ErrIllegalGuestState) {
		t.Errorf("Run = %v, want ErrIllegalGuestState", err)
	}
	if exit != nil {
		t.Errorf("failed run returned an exit: %+v", exit)
	}
}

func TestRunOnClosedVcpu(t *testing.T) {
	_, vcpu, _ := newTestVcpu(t)

	if err := vcpu.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := vcpu.Run(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Run = %v, want ErrClosed", err)
	}
}

// Cancelling the run context must kick a vCPU that is blocked in the guest
// back out through the normal exit path.
func TestRunContextCancellation(t *testing.T) {
	_, vcpu, fake := newTestVcpu(t)
	id := vcpu.id

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fake.runHook = func(bindings.VCPU) {
		close(started)
		<-release
	}
	fake.exitHook = func([]bindings.VCPU) {
		once.Do(func() { close(release) })
	}

	go func() {
		<-started
		cancel()
	}()

	exit, err := vcpu.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exit.Reason != ExitReasonCancelled {
		t.Errorf("reason = %v, want cancelled", exit.Reason)
	}
	if fake.exitRequestCount(id) == 0 {
		t.Errorf("no exit request reached the native layer")
	}

	// The vCPU survives the cancellation and runs again.
	fake.mu.Lock()
	fake.runHook, fake.exitHook = nil, nil
	fake.mu.Unlock()
	fake.scriptExits(id, bindings.VcpuExit{Reason: bindings.HV_EXIT_REASON_VTIMER_ACTIVATED})
	exit, err = vcpu.Run(context.Background())
	if err != nil {
		t.Fatalf("Run after cancellation: %v", err)
	}
	if exit.Reason != ExitReasonVTimerActivated {
		t.Errorf("reason after cancellation = %v, want vtimer activated", exit.Reason)
	}
}

func TestRunWithAlreadyCancelledContext(t *testing.T) {
	_, vcpu, fake := newTestVcpu(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Park the run until the exit request lands, like the real hypervisor
	// would until the guest leaves.
	release := make(chan struct{})
	var once sync.Once
	fake.runHook = func(bindings.VCPU) { <-release }
	fake.exitHook = func([]bindings.VCPU) {
		once.Do(func() { close(release) })
	}

	exit, err := vcpu.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exit.Reason != ExitReasonCancelled {
		t.Errorf("reason = %v, want cancelled", exit.Reason)
	}
}

func TestRunWithBackgroundContextSendsNoExitRequests(t *testing.T) {
	_, vcpu, fake := newTestVcpu(t)
	id := vcpu.id

	fake.scriptExits(id, bindings.VcpuExit{Reason: bindings.HV_EXIT_REASON_VTIMER_ACTIVATED})
	if _, err := vcpu.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := fake.exitRequestCount(id); got != 0 {
		t.Errorf("%d exit requests sent for a background context", got)
	}
}

func TestExitAndExitVirtualCpus(t *testing.T) {
	vm, vcpu, fake := newTestVcpu(t)
	id := vcpu.id

	if err := vcpu.Exit(); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if got := fake.exitRequestCount(id); got != 1 {
		t.Errorf("exit requests = %d, want 1", got)
	}

	second, err := vm.CreateVirtualCpu(nil)
	if err != nil {
		t.Fatalf("CreateVirtualCpu: %v", err)
	}
	defer second.Close()

	if err := vm.ExitVirtualCpus(vcpu, second); err != nil {
		t.Fatalf("ExitVirtualCpus: %v", err)
	}
	if got := fake.exitRequestCount(id); got != 2 {
		t.Errorf("exit requests = %d, want 2", got)
	}
	if got := fake.exitRequestCount(second.id); got != 1 {
		t.Errorf("second vcpu exit requests = %d, want 1", got)
	}

	// No arguments, no native call.
	before := len(fake.eventLog())
	if err := vm.ExitVirtualCpus(); err != nil {
		t.Fatalf("ExitVirtualCpus(): %v", err)
	}
	if after := len(fake.eventLog()); after != before {
		t.Errorf("empty exit request reached the native layer")
	}

	fake.failExit = bindings.HV_ERROR
	if err := vcpu.Exit(); !errors.Is(err, ErrHypervisor) {
		t.Errorf("Exit = %v, want ErrHypervisor", err)
	}
	fake.failExit = 0
}

func TestVcpuCloseRequestsExitBeforeDestroy(t *testing.T) {
	vm, vcpu, fake := newTestVcpu(t)

	if err := vcpu.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := fake.eventLog()
	exitAt := slices.Index(events, "exit [0]")
	destroyAt := slices.Index(events, "vcpu destroy 0")
	if exitAt < 0 || destroyAt < 0 {
		t.Fatalf("missing exit or destroy in %v", events)
	}
	if exitAt > destroyAt {
		t.Errorf("destroy before exit request: %v", events)
	}

	// Closed vCPU is no longer tracked; the machine can close.
	if err := vm.Close(); err != nil {
		t.Fatalf("Close machine: %v", err)
	}

	// Closing again is a no-op.
	before := len(fake.eventLog())
	if err := vcpu.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if after := len(fake.eventLog()); after != before {
		t.Errorf("second Close touched the native layer")
	}
}

func TestVcpuCloseDestroyFailurePanics(t *testing.T) {
	_, vcpu, fake := newTestVcpu(t)

	fake.failVcpuDestroy = bindings.HV_ERROR
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on vcpu destroy failure")
		}
	}()
	_ = vcpu.Close()
}

func TestVirtualMachineCloseRefusesWhileVcpuLive(t *testing.T) {
	vm, vcpu, _ := newTestVcpu(t)

	if err := vm.Close(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Close with live vcpu = %v, want ErrBusy", err)
	}
	if err := vcpu.Close(); err != nil {
		t.Fatalf("Close vcpu: %v", err)
	}
	if err := vm.Close(); err != nil {
		t.Fatalf("Close machine: %v", err)
	}
}

func TestVcpuRegisterAccessors(t *testing.T) {
	_, vcpu, _ := newTestVcpu(t)

	if err := vcpu.SetRegister(RegisterX5, 0xDEAD_BEEF_CAFE); err != nil {
		t.Fatalf("SetRegister: %v", err)
	}
	got, err := vcpu.GetRegister(RegisterX5)
	if err != nil {
		t.Fatalf("GetRegister: %v", err)
	}
	if got != 0xDEAD_BEEF_CAFE {
		t.Errorf("x5 = %#x", got)
	}

	// fp writes land in the x29 slot.
	if err := vcpu.SetRegister(RegisterFP, 0x1000); err != nil {
		t.Fatalf("SetRegister(fp): %v", err)
	}
	got, err = vcpu.GetRegister(RegisterX29)
	if err != nil {
		t.Fatalf("GetRegister(x29): %v", err)
	}
	if got != 0x1000 {
		t.Errorf("x29 after fp write = %#x, want 0x1000", got)
	}

	if err := vcpu.SetSystemRegister(SystemRegisterTPIDREL0, 0x7777); err != nil {
		t.Fatalf("SetSystemRegister: %v", err)
	}
	sys, err := vcpu.GetSystemRegister(SystemRegisterTPIDREL0)
	if err != nil {
		t.Fatalf("GetSystemRegister: %v", err)
	}
	if sys != 0x7777 {
		t.Errorf("TPIDR_EL0 = %#x", sys)
	}
}

func TestVcpuSIMDFPRegisterRoundTrip(t *testing.T) {
	_, vcpu, fake := newTestVcpu(t)
	id := vcpu.id

	var value [16]byte
	for i := range value {
		value[i] = byte(i + 1)
	}
	if err := vcpu.SetSIMDFPRegister(SIMDFPRegisterQ7, value); err != nil {
		t.Fatalf("SetSIMDFPRegister: %v", err)
	}

	// Byte 0 is the lowest lane: the native value splits little-endian.
	fake.mu.Lock()
	stored := fake.vcpus[id].simdRegs[bindings.HV_SIMD_FP_REG_Q7]
	fake.mu.Unlock()
	if stored.Low() != 0x0807060504030201 {
		t.Errorf("native low = %#x", stored.Low())
	}
	if stored.High() != 0x100f0e0d0c0b0a09 {
		t.Errorf("native high = %#x", stored.High())
	}

	got, err := vcpu.GetSIMDFPRegister(SIMDFPRegisterQ7)
	if err != nil {
		t.Fatalf("GetSIMDFPRegister: %v", err)
	}
	if got != value {
		t.Errorf("roundtrip = %v, want %v", got, value)
	}
}

func TestVcpuInterruptAndTrapAccessors(t *testing.T) {
	_, vcpu, _ := newTestVcpu(t)

	if err := vcpu.SetPendingInterrupt(InterruptIRQ, true); err != nil {
		t.Fatalf("SetPendingInterrupt: %v", err)
	}
	irq, err := vcpu.GetPendingInterrupt(InterruptIRQ)
	if err != nil {
		t.Fatalf("GetPendingInterrupt: %v", err)
	}
	fiq, err := vcpu.GetPendingInterrupt(InterruptFIQ)
	if err != nil {
		t.Fatalf("GetPendingInterrupt: %v", err)
	}
	if !irq || fiq {
		t.Errorf("pending = irq %v fiq %v, want irq only", irq, fiq)
	}

	if err := vcpu.SetTrapDebugExceptions(true); err != nil {
		t.Fatalf("SetTrapDebugExceptions: %v", err)
	}
	trap, err := vcpu.GetTrapDebugExceptions()
	if err != nil {
		t.Fatalf("GetTrapDebugExceptions: %v", err)
	}
	if !trap {
		t.Errorf("debug exceptions not trapped after set")
	}

	if err := vcpu.SetTrapDebugRegisterAccesses(true); err != nil {
		t.Fatalf("SetTrapDebugRegisterAccesses: %v", err)
	}
	trap, err = vcpu.GetTrapDebugRegisterAccesses()
	if err != nil {
		t.Fatalf("GetTrapDebugRegisterAccesses: %v", err)
	}
	if !trap {
		t.Errorf("debug register accesses not trapped after set")
	}
}

func TestVcpuTimerAccessors(t *testing.T) {
	_, vcpu, fake := newTestVcpu(t)
	id := vcpu.id

	fake.mu.Lock()
	fake.vcpus[id].execTime = uint64(1500 * time.Millisecond)
	fake.mu.Unlock()
	execTime, err := vcpu.ExecTime()
	if err != nil {
		t.Fatalf("ExecTime: %v", err)
	}
	if execTime != 1500*time.Millisecond {
		t.Errorf("exec time = %v, want 1.5s", execTime)
	}

	if err := vcpu.SetVTimerMask(true); err != nil {
		t.Fatalf("SetVTimerMask: %v", err)
	}
	masked, err := vcpu.GetVTimerMask()
	if err != nil {
		t.Fatalf("GetVTimerMask: %v", err)
	}
	if !masked {
		t.Errorf("vtimer not masked after set")
	}

	if err := vcpu.SetVTimerOffset(0x1234_5678); err != nil {
		t.Fatalf("SetVTimerOffset: %v", err)
	}
	offset, err := vcpu.GetVTimerOffset()
	if err != nil {
		t.Fatalf("GetVTimerOffset: %v", err)
	}
	if offset != 0x1234_5678 {
		t.Errorf("vtimer offset = %#x", offset)
	}
}

func TestVcpuAccessorsRejectUnknownSelectors(t *testing.T) {
	_, vcpu, _ := newTestVcpu(t)

	if _, err := vcpu.GetRegister(Register(999)); !errors.Is(err, ErrBadArgument) {
		t.Errorf("GetRegister(999) = %v, want ErrBadArgument", err)
	}
	if err := vcpu.SetSystemRegister(SystemRegister(-1), 0); !errors.Is(err, ErrBadArgument) {
		t.Errorf("SetSystemRegister(-1) = %v, want ErrBadArgument", err)
	}
	if _, err := vcpu.GetSIMDFPRegister(SIMDFPRegister(32)); !errors.Is(err, ErrBadArgument) {
		t.Errorf("GetSIMDFPRegister(32) = %v, want ErrBadArgument", err)
	}
	if err := vcpu.SetPendingInterrupt(InterruptType(9), true); !errors.Is(err, ErrBadArgument) {
		t.Errorf("SetPendingInterrupt(9) = %v, want ErrBadArgument", err)
	}
}

func TestVcpuAccessorsAfterClose(t *testing.T) {
	_, vcpu, _ := newTestVcpu(t)
	if err := vcpu.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ops := []struct {
		name string
		op   func() error
	}{
		{"GetRegister", func() error { _, err := vcpu.GetRegister(RegisterX0); return err }},
		{"SetRegister", func() error { return vcpu.SetRegister(RegisterX0, 0) }},
		{"GetSystemRegister", func() error { _, err := vcpu.GetSystemRegister(SystemRegisterSCTLREL1); return err }},
		{"SetSystemRegister", func() error { return vcpu.SetSystemRegister(SystemRegisterSCTLREL1, 0) }},
		{"GetSIMDFPRegister", func() error { _, err := vcpu.GetSIMDFPRegister(SIMDFPRegisterQ0); return err }},
		{"SetSIMDFPRegister", func() error { return vcpu.SetSIMDFPRegister(SIMDFPRegisterQ0, [16]byte{}) }},
		{"GetPendingInterrupt", func() error { _, err := vcpu.GetPendingInterrupt(InterruptIRQ); return err }},
		{"SetPendingInterrupt", func() error { return vcpu.SetPendingInterrupt(InterruptIRQ, true) }},
		{"GetTrapDebugExceptions", func() error { _, err := vcpu.GetTrapDebugExceptions(); return err }},
		{"SetTrapDebugExceptions", func() error { return vcpu.SetTrapDebugExceptions(true) }},
		{"GetTrapDebugRegisterAccesses", func() error { _, err := vcpu.GetTrapDebugRegisterAccesses(); return err }},
		{"SetTrapDebugRegisterAccesses", func() error { return vcpu.SetTrapDebugRegisterAccesses(true) }},
		{"ExecTime", func() error { _, err := vcpu.ExecTime(); return err }},
		{"GetVTimerMask", func() error { _, err := vcpu.GetVTimerMask(); return err }},
		{"SetVTimerMask", func() error { return vcpu.SetVTimerMask(true) }},
		{"GetVTimerOffset", func() error { _, err := vcpu.GetVTimerOffset(); return err }},
		{"SetVTimerOffset", func() error { return vcpu.SetVTimerOffset(0) }},
	}
	for _, tc := range ops {
		if err := tc.op(); !errors.Is(err, ErrClosed) {
			t.Errorf("%s = %v, want ErrClosed", tc.name, err)
		}
	}
}

func TestInterruptTypeString(t *testing.T) {
	if InterruptIRQ.String() != "IRQ" || InterruptFIQ.String() != "FIQ" {
		t.Errorf("interrupt names = %q, %q", InterruptIRQ, InterruptFIQ)
	}
	if got := InterruptType(5).String(); got != "InterruptType(5)" {
		t.Errorf("unknown interrupt name = %q", got)
	}
}
