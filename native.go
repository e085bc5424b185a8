package vmm

import (
	"unsafe"

	"github.com/tinyrange/vmm/internal/bindings"
)

// nativeAPI is the hypervisor call surface the trackers and vCPUs run on.
// The native layer is process-global state, so the binding lives in a
// package-level variable rather than on any one object; tests swap in a
// scripted fake.
type nativeAPI interface {
	vmCreate(config bindings.VMConfig) bindings.Return
	vmDestroy() bindings.Return
	vmMap(addr unsafe.Pointer, ipa bindings.IPA, size uintptr, flags bindings.MemoryFlags) bindings.Return
	vmUnmap(ipa bindings.IPA, size uintptr) bindings.Return
	vmProtect(ipa bindings.IPA, size uintptr, flags bindings.MemoryFlags) bindings.Return

	vcpuConfigCreate() bindings.VcpuConfig
	vcpuConfigGetFeatureReg(config bindings.VcpuConfig, reg bindings.FeatureReg, value *uint64) bindings.Return
	vcpuConfigGetCcsidr(config bindings.VcpuConfig, cacheType bindings.CacheType, values *[8]uint64) bindings.Return
	osRelease(object uintptr)

	vcpuCreate(vcpu *bindings.VCPU, exit **bindings.VcpuExit, config bindings.VcpuConfig) bindings.Return
	vcpuDestroy(vcpu bindings.VCPU) bindings.Return
	vcpuRun(vcpu bindings.VCPU) bindings.Return
	vcpusExit(vcpus []bindings.VCPU) bindings.Return

	vcpuGetReg(vcpu bindings.VCPU, reg bindings.Reg, value *uint64) bindings.Return
	vcpuSetReg(vcpu bindings.VCPU, reg bindings.Reg, value uint64) bindings.Return
	vcpuGetSysReg(vcpu bindings.VCPU, reg bindings.SysReg, value *uint64) bindings.Return
	vcpuSetSysReg(vcpu bindings.VCPU, reg bindings.SysReg, value uint64) bindings.Return
	vcpuGetSimdFpReg(vcpu bindings.VCPU, reg bindings.SIMDReg, value *bindings.SimdFP) bindings.Return
	vcpuSetSimdFpReg(vcpu bindings.VCPU, reg bindings.SIMDReg, value bindings.SimdFP) bindings.Return
	vcpuGetPendingInterrupt(vcpu bindings.VCPU, typ bindings.InterruptType, pending *bool) bindings.Return
	vcpuSetPendingInterrupt(vcpu bindings.VCPU, typ bindings.InterruptType, pending bool) bindings.Return
	vcpuGetTrapDebugExceptions(vcpu bindings.VCPU, value *bool) bindings.Return
	vcpuSetTrapDebugExceptions(vcpu bindings.VCPU, value bool) bindings.Return
	vcpuGetTrapDebugRegAccesses(vcpu bindings.VCPU, value *bool) bindings.Return
	vcpuSetTrapDebugRegAccesses(vcpu bindings.VCPU, value bool) bindings.Return
	vcpuGetExecTime(vcpu bindings.VCPU, time *uint64) bindings.Return
	vcpuGetVtimerMask(vcpu bindings.VCPU, masked *bool) bindings.Return
	vcpuSetVtimerMask(vcpu bindings.VCPU, masked bool) bindings.Return
	vcpuGetVtimerOffset(vcpu bindings.VCPU, offset *uint64) bindings.Return
	vcpuSetVtimerOffset(vcpu bindings.VCPU, offset uint64) bindings.Return
}

var native nativeAPI = hvNative{}

// hvNative forwards to Hypervisor.framework through internal/bindings. Off
// darwin/arm64 the bindings report HV_UNSUPPORTED, so this package builds and
// fails cleanly everywhere.
type hvNative struct{}

func (hvNative) vmCreate(config bindings.VMConfig) bindings.Return {
	return bindings.HvVmCreate(config)
}

func (hvNative) vmDestroy() bindings.Return {
	return bindings.HvVmDestroy()
}

func (hvNative) vmMap(addr unsafe.Pointer, ipa bindings.IPA, size uintptr, flags bindings.MemoryFlags) bindings.Return {
	return bindings.HvVmMap(addr, ipa, size, flags)
}

func (hvNative) vmUnmap(ipa bindings.IPA, size uintptr) bindings.Return {
	return bindings.HvVmUnmap(ipa, size)
}

func (hvNative) vmProtect(ipa bindings.IPA, size uintptr, flags bindings.MemoryFlags) bindings.Return {
	return bindings.HvVmProtect(ipa, size, flags)
}

func (hvNative) vcpuConfigCreate() bindings.VcpuConfig {
	return bindings.HvVcpuConfigCreate()
}

func (hvNative) vcpuConfigGetFeatureReg(config bindings.VcpuConfig, reg bindings.FeatureReg, value *uint64) bindings.Return {
	return bindings.HvVcpuConfigGetFeatureReg(config, reg, value)
}

func (hvNative) vcpuConfigGetCcsidr(config bindings.VcpuConfig, cacheType bindings.CacheType, values *[8]uint64) bindings.Return {
	return bindings.HvVcpuConfigGetCcsidrEl1SysRegValues(config, cacheType, values)
}

func (hvNative) osRelease(object uintptr) {
	bindings.OSRelease(object)
}

func (hvNative) vcpuCreate(vcpu *bindings.VCPU, exit **bindings.VcpuExit, config bindings.VcpuConfig) bindings.Return {
	return bindings.HvVcpuCreate(vcpu, exit, config)
}

func (hvNative) vcpuDestroy(vcpu bindings.VCPU) bindings.Return {
	return bindings.HvVcpuDestroy(vcpu)
}

func (hvNative) vcpuRun(vcpu bindings.VCPU) bindings.Return {
	return bindings.HvVcpuRun(vcpu)
}

func (hvNative) vcpusExit(vcpus []bindings.VCPU) bindings.Return {
	if len(vcpus) == 0 {
		return bindings.HV_SUCCESS
	}
	return bindings.HvVcpusExit(&vcpus[0], uint32(len(vcpus)))
}

func (hvNative) vcpuGetReg(vcpu bindings.VCPU, reg bindings.Reg, value *uint64) bindings.Return {
	return bindings.HvVcpuGetReg(vcpu, reg, value)
}

func (hvNative) vcpuSetReg(vcpu bindings.VCPU, reg bindings.Reg, value uint64) bindings.Return {
	return bindings.HvVcpuSetReg(vcpu, reg, value)
}

func (hvNative) vcpuGetSysReg(vcpu bindings.VCPU, reg bindings.SysReg, value *uint64) bindings.Return {
	return bindings.HvVcpuGetSysReg(vcpu, reg, value)
}

func (hvNative) vcpuSetSysReg(vcpu bindings.VCPU, reg bindings.SysReg, value uint64) bindings.Return {
	return bindings.HvVcpuSetSysReg(vcpu, reg, value)
}

func (hvNative) vcpuGetSimdFpReg(vcpu bindings.VCPU, reg bindings.SIMDReg, value *bindings.SimdFP) bindings.Return {
	return bindings.HvVcpuGetSimdFpReg(vcpu, reg, value)
}

func (hvNative) vcpuSetSimdFpReg(vcpu bindings.VCPU, reg bindings.SIMDReg, value bindings.SimdFP) bindings.Return {
	return bindings.HvVcpuSetSimdFpReg(vcpu, reg, value)
}

func (hvNative) vcpuGetPendingInterrupt(vcpu bindings.VCPU, typ bindings.InterruptType, pending *bool) bindings.Return {
	return bindings.HvVcpuGetPendingInterrupt(vcpu, typ, pending)
}

func (hvNative) vcpuSetPendingInterrupt(vcpu bindings.VCPU, typ bindings.InterruptType, pending bool) bindings.Return {
	return bindings.HvVcpuSetPendingInterrupt(vcpu, typ, pending)
}

func (hvNative) vcpuGetTrapDebugExceptions(vcpu bindings.VCPU, value *bool) bindings.Return {
	return bindings.HvVcpuGetTrapDebugExceptions(vcpu, value)
}

func (hvNative) vcpuSetTrapDebugExceptions(vcpu bindings.VCPU, value bool) bindings.Return {
	return bindings.HvVcpuSetTrapDebugExceptions(vcpu, value)
}

func (hvNative) vcpuGetTrapDebugRegAccesses(vcpu bindings.VCPU, value *bool) bindings.Return {
	return bindings.HvVcpuGetTrapDebugRegAccesses(vcpu, value)
}

func (hvNative) vcpuSetTrapDebugRegAccesses(vcpu bindings.VCPU, value bool) bindings.Return {
	return bindings.HvVcpuSetTrapDebugRegAccesses(vcpu, value)
}

func (hvNative) vcpuGetExecTime(vcpu bindings.VCPU, time *uint64) bindings.Return {
	return bindings.HvVcpuGetExecTime(vcpu, time)
}

func (hvNative) vcpuGetVtimerMask(vcpu bindings.VCPU, masked *bool) bindings.Return {
	return bindings.HvVcpuGetVtimerMask(vcpu, masked)
}

func (hvNative) vcpuSetVtimerMask(vcpu bindings.VCPU, masked bool) bindings.Return {
	return bindings.HvVcpuSetVtimerMask(vcpu, masked)
}

func (hvNative) vcpuGetVtimerOffset(vcpu bindings.VCPU, offset *uint64) bindings.Return {
	return bindings.HvVcpuGetVtimerOffset(vcpu, offset)
}

func (hvNative) vcpuSetVtimerOffset(vcpu bindings.VCPU, offset uint64) bindings.Return {
	return bindings.HvVcpuSetVtimerOffset(vcpu, offset)
}
