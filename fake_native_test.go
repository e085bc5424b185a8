package vmm

import (
	"fmt"
	"sync"
	"testing"
	"unsafe"

	"github.com/tinyrange/vmm/internal/bindings"
)

// fakeNative is a scripted native layer. A fresh fake answers success to
// everything and keeps enough state to serve the get calls; tests set the
// fail* fields to inject specific status codes. Exit requests may arrive
// from other goroutines while a run is blocked, so the mutable state is
// behind a mutex and the hooks run outside it.
type fakeNative struct {
	mu sync.Mutex

	failVMCreate    bindings.Return
	failVMDestroy   bindings.Return
	failMap         bindings.Return
	failUnmap       bindings.Return
	failProtect     bindings.Return
	failVcpuCreate  bindings.Return
	failVcpuDestroy bindings.Return
	failRun         bindings.Return
	failExit        bindings.Return
	failAccess      bindings.Return

	configCreateFails bool

	// runHook runs inside vcpuRun before the exit record is produced, so a
	// test can park a vCPU "in the guest". exitHook runs on every exit
	// request, protectHook after a successful protect.
	runHook     func(bindings.VCPU)
	exitHook    func([]bindings.VCPU)
	protectHook func()

	events []string

	vmLive bool
	mapped map[bindings.IPA]fakeMapping

	nextVcpu bindings.VCPU
	vcpus    map[bindings.VCPU]*fakeVcpuState

	configSeq   bindings.VcpuConfig
	released    []uintptr
	featureRegs map[bindings.FeatureReg]uint64
	ccsidr      map[bindings.CacheType][8]uint64
}

type fakeMapping struct {
	addr  unsafe.Pointer
	size  uintptr
	flags bindings.MemoryFlags
}

type fakeVcpuState struct {
	exit *bindings.VcpuExit

	// script holds the exits the next runs produce, in order. An empty
	// script yields a cancellation exit, which is what the real hypervisor
	// reports when an exit request beats the run.
	script []bindings.VcpuExit

	regs     map[bindings.Reg]uint64
	sysRegs  map[bindings.SysReg]uint64
	simdRegs map[bindings.SIMDReg]bindings.SimdFP
	pending  map[bindings.InterruptType]bool

	trapDebugExceptions  bool
	trapDebugRegAccesses bool
	execTime             uint64
	vtimerMasked         bool
	vtimerOffset         uint64

	exitRequests int
}

func newFakeNative() *fakeNative {
	return &fakeNative{
		mapped:      make(map[bindings.IPA]fakeMapping),
		vcpus:       make(map[bindings.VCPU]*fakeVcpuState),
		featureRegs: make(map[bindings.FeatureReg]uint64),
		ccsidr:      make(map[bindings.CacheType][8]uint64),
	}
}

// installFake swaps the scripted native layer in for one test. The real
// bindings come back and the process VM slot is cleared when the test
// finishes.
func installFake(t *testing.T) *fakeNative {
	t.Helper()
	fake := newFakeNative()
	prev := native
	native = fake
	globalVM.Store(nil)
	t.Cleanup(func() {
		native = prev
		globalVM.Store(nil)
	})
	return fake
}

// newTestVM builds a VirtualMachine on a fresh fake. Its cleanup clears any
// scripted teardown failures before closing, so a test that injected one
// does not blow up again on the way out.
func newTestVM(t *testing.T) (*VirtualMachine, *fakeNative) {
	t.Helper()
	fake := installFake(t)
	vm, err := NewVirtualMachine(nil)
	if err != nil {
		t.Fatalf("NewVirtualMachine: %v", err)
	}
	t.Cleanup(func() {
		fake.mu.Lock()
		fake.failVMDestroy, fake.failUnmap, fake.failVcpuDestroy = 0, 0, 0
		fake.mu.Unlock()
		_ = vm.Close()
	})
	return vm, fake
}

// record appends one line to the call log. Callers hold mu.
func (f *fakeNative) record(format string, args ...any) {
	f.events = append(f.events, fmt.Sprintf(format, args...))
}

// eventLog returns a copy of the native call log.
func (f *fakeNative) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeNative) mappingAt(guestAddress uint64) (fakeMapping, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mapped[bindings.IPA(guestAddress)]
	return m, ok
}

func (f *fakeNative) scriptExits(vcpu bindings.VCPU, exits ...bindings.VcpuExit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.vcpus[vcpu]; ok {
		st.script = append(st.script, exits...)
	}
}

func (f *fakeNative) exitRequestCount(vcpu bindings.VCPU) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.vcpus[vcpu]; ok {
		return st.exitRequests
	}
	return 0
}

func (f *fakeNative) vmCreate(config bindings.VMConfig) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failVMCreate != 0 {
		return f.failVMCreate
	}
	f.vmLive = true
	f.record("vm create")
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vmDestroy() bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failVMDestroy != 0 {
		return f.failVMDestroy
	}
	f.vmLive = false
	f.record("vm destroy")
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vmMap(addr unsafe.Pointer, ipa bindings.IPA, size uintptr, flags bindings.MemoryFlags) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMap != 0 {
		return f.failMap
	}
	f.mapped[ipa] = fakeMapping{addr: addr, size: size, flags: flags}
	f.record("map 0x%x", uint64(ipa))
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vmUnmap(ipa bindings.IPA, size uintptr) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUnmap != 0 {
		return f.failUnmap
	}
	if _, ok := f.mapped[ipa]; !ok {
		return bindings.HV_BAD_ARGUMENT
	}
	delete(f.mapped, ipa)
	f.record("unmap 0x%x", uint64(ipa))
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vmProtect(ipa bindings.IPA, size uintptr, flags bindings.MemoryFlags) bindings.Return {
	f.mu.Lock()
	if f.failProtect != 0 {
		ret := f.failProtect
		f.mu.Unlock()
		return ret
	}
	m, ok := f.mapped[ipa]
	if !ok {
		f.mu.Unlock()
		return bindings.HV_BAD_ARGUMENT
	}
	m.flags = flags
	f.mapped[ipa] = m
	f.record("protect 0x%x", uint64(ipa))
	hook := f.protectHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuConfigCreate() bindings.VcpuConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configCreateFails {
		return 0
	}
	f.configSeq++
	return f.configSeq
}

func (f *fakeNative) vcpuConfigGetFeatureReg(config bindings.VcpuConfig, reg bindings.FeatureReg, value *uint64) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAccess != 0 {
		return f.failAccess
	}
	*value = f.featureRegs[reg]
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuConfigGetCcsidr(config bindings.VcpuConfig, cacheType bindings.CacheType, values *[8]uint64) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAccess != 0 {
		return f.failAccess
	}
	*values = f.ccsidr[cacheType]
	return bindings.HV_SUCCESS
}

func (f *fakeNative) osRelease(object uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, object)
}

func (f *fakeNative) vcpuCreate(vcpu *bindings.VCPU, exit **bindings.VcpuExit, config bindings.VcpuConfig) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failVcpuCreate != 0 {
		return f.failVcpuCreate
	}
	id := f.nextVcpu
	f.nextVcpu++
	st := &fakeVcpuState{
		exit:     new(bindings.VcpuExit),
		regs:     make(map[bindings.Reg]uint64),
		sysRegs:  make(map[bindings.SysReg]uint64),
		simdRegs: make(map[bindings.SIMDReg]bindings.SimdFP),
		pending:  make(map[bindings.InterruptType]bool),
	}
	f.vcpus[id] = st
	*vcpu = id
	*exit = st.exit
	f.record("vcpu create %d", uint64(id))
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuDestroy(vcpu bindings.VCPU) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failVcpuDestroy != 0 {
		return f.failVcpuDestroy
	}
	if _, ok := f.vcpus[vcpu]; !ok {
		return bindings.HV_BAD_ARGUMENT
	}
	delete(f.vcpus, vcpu)
	f.record("vcpu destroy %d", uint64(vcpu))
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuRun(vcpu bindings.VCPU) bindings.Return {
	f.mu.Lock()
	if f.failRun != 0 {
		ret := f.failRun
		f.mu.Unlock()
		return ret
	}
	st, ok := f.vcpus[vcpu]
	hook := f.runHook
	f.mu.Unlock()
	if !ok {
		return bindings.HV_BAD_ARGUMENT
	}
	if hook != nil {
		hook(vcpu)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(st.script) > 0 {
		*st.exit = st.script[0]
		st.script = st.script[1:]
	} else {
		*st.exit = bindings.VcpuExit{Reason: bindings.HV_EXIT_REASON_CANCELED}
	}
	f.record("run %d", uint64(vcpu))
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpusExit(vcpus []bindings.VCPU) bindings.Return {
	f.mu.Lock()
	if f.failExit != 0 {
		ret := f.failExit
		f.mu.Unlock()
		return ret
	}
	for _, id := range vcpus {
		if st, ok := f.vcpus[id]; ok {
			st.exitRequests++
		}
	}
	f.record("exit %v", vcpus)
	hook := f.exitHook
	f.mu.Unlock()
	if hook != nil {
		hook(vcpus)
	}
	return bindings.HV_SUCCESS
}

// state looks a vCPU up for an accessor. Callers hold mu.
func (f *fakeNative) state(vcpu bindings.VCPU) (*fakeVcpuState, bindings.Return) {
	if f.failAccess != 0 {
		return nil, f.failAccess
	}
	st, ok := f.vcpus[vcpu]
	if !ok {
		return nil, bindings.HV_BAD_ARGUMENT
	}
	return st, bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuGetReg(vcpu bindings.VCPU, reg bindings.Reg, value *uint64) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	*value = st.regs[reg]
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuSetReg(vcpu bindings.VCPU, reg bindings.Reg, value uint64) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	st.regs[reg] = value
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuGetSysReg(vcpu bindings.VCPU, reg bindings.SysReg, value *uint64) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	*value = st.sysRegs[reg]
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuSetSysReg(vcpu bindings.VCPU, reg bindings.SysReg, value uint64) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	st.sysRegs[reg] = value
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuGetSimdFpReg(vcpu bindings.VCPU, reg bindings.SIMDReg, value *bindings.SimdFP) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	*value = st.simdRegs[reg]
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuSetSimdFpReg(vcpu bindings.VCPU, reg bindings.SIMDReg, value bindings.SimdFP) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	st.simdRegs[reg] = value
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuGetPendingInterrupt(vcpu bindings.VCPU, typ bindings.InterruptType, pending *bool) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	*pending = st.pending[typ]
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuSetPendingInterrupt(vcpu bindings.VCPU, typ bindings.InterruptType, pending bool) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	st.pending[typ] = pending
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuGetTrapDebugExceptions(vcpu bindings.VCPU, value *bool) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	*value = st.trapDebugExceptions
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuSetTrapDebugExceptions(vcpu bindings.VCPU, value bool) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	st.trapDebugExceptions = value
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuGetTrapDebugRegAccesses(vcpu bindings.VCPU, value *bool) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	*value = st.trapDebugRegAccesses
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuSetTrapDebugRegAccesses(vcpu bindings.VCPU, value bool) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	st.trapDebugRegAccesses = value
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuGetExecTime(vcpu bindings.VCPU, time *uint64) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	*time = st.execTime
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuGetVtimerMask(vcpu bindings.VCPU, masked *bool) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	*masked = st.vtimerMasked
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuSetVtimerMask(vcpu bindings.VCPU, masked bool) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	st.vtimerMasked = masked
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuGetVtimerOffset(vcpu bindings.VCPU, offset *uint64) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	*offset = st.vtimerOffset
	return bindings.HV_SUCCESS
}

func (f *fakeNative) vcpuSetVtimerOffset(vcpu bindings.VCPU, offset uint64) bindings.Return {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ret := f.state(vcpu)
	if ret != bindings.HV_SUCCESS {
		return ret
	}
	st.vtimerOffset = offset
	return bindings.HV_SUCCESS
}
