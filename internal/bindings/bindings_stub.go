//go:build !darwin || !arm64

package bindings

import (
	"errors"
	"unsafe"
)

// Hypervisor.framework only exists on darwin/arm64. The stubs keep importers
// buildable everywhere; every call reports HV_UNSUPPORTED.

var errUnsupportedHost = errors.New("bindings: Hypervisor.framework requires darwin/arm64")

func Load() error { return errUnsupportedHost }

func MustLoad() {
	panic(errUnsupportedHost)
}

func HvVmCreate(config VMConfig) Return { return HV_UNSUPPORTED }

func HvVmDestroy() Return { return HV_UNSUPPORTED }

func HvVmMap(addr unsafe.Pointer, ipa IPA, size uintptr, flags MemoryFlags) Return {
	return HV_UNSUPPORTED
}

func HvVmUnmap(ipa IPA, size uintptr) Return { return HV_UNSUPPORTED }

func HvVmProtect(ipa IPA, size uintptr, flags MemoryFlags) Return { return HV_UNSUPPORTED }

func HvVcpuConfigCreate() VcpuConfig { return 0 }

func HvVcpuConfigGetFeatureReg(config VcpuConfig, featureReg FeatureReg, value *uint64) Return {
	return HV_UNSUPPORTED
}

func HvVcpuConfigGetCcsidrEl1SysRegValues(config VcpuConfig, cacheType CacheType, values *[8]uint64) Return {
	return HV_UNSUPPORTED
}

func HvVcpuCreate(vcpu *VCPU, exit **VcpuExit, config VcpuConfig) Return { return HV_UNSUPPORTED }

func HvVcpuDestroy(vcpu VCPU) Return { return HV_UNSUPPORTED }

func HvVcpuGetReg(vcpu VCPU, reg Reg, value *uint64) Return { return HV_UNSUPPORTED }

func HvVcpuSetReg(vcpu VCPU, reg Reg, value uint64) Return { return HV_UNSUPPORTED }

func HvVcpuGetSimdFpReg(vcpu VCPU, reg SIMDReg, value *SimdFP) Return { return HV_UNSUPPORTED }

func HvVcpuSetSimdFpReg(vcpu VCPU, reg SIMDReg, value SimdFP) Return { return HV_UNSUPPORTED }

func HvVcpuGetSysReg(vcpu VCPU, reg SysReg, value *uint64) Return { return HV_UNSUPPORTED }

func HvVcpuSetSysReg(vcpu VCPU, reg SysReg, value uint64) Return { return HV_UNSUPPORTED }

func HvVcpuGetPendingInterrupt(vcpu VCPU, typ InterruptType, pending *bool) Return {
	return HV_UNSUPPORTED
}

func HvVcpuSetPendingInterrupt(vcpu VCPU, typ InterruptType, pending bool) Return {
	return HV_UNSUPPORTED
}

func HvVcpuGetTrapDebugExceptions(vcpu VCPU, value *bool) Return { return HV_UNSUPPORTED }

func HvVcpuSetTrapDebugExceptions(vcpu VCPU, value bool) Return { return HV_UNSUPPORTED }

func HvVcpuGetTrapDebugRegAccesses(vcpu VCPU, value *bool) Return { return HV_UNSUPPORTED }

func HvVcpuSetTrapDebugRegAccesses(vcpu VCPU, value bool) Return { return HV_UNSUPPORTED }

func HvVcpuRun(vcpu VCPU) Return { return HV_UNSUPPORTED }

func HvVcpusExit(vcpus *VCPU, vcpuCount uint32) Return { return HV_UNSUPPORTED }

func HvVcpuGetExecTime(vcpu VCPU, time *uint64) Return { return HV_UNSUPPORTED }

func HvVcpuGetVtimerMask(vcpu VCPU, masked *bool) Return { return HV_UNSUPPORTED }

func HvVcpuSetVtimerMask(vcpu VCPU, masked bool) Return { return HV_UNSUPPORTED }

func HvVcpuGetVtimerOffset(vcpu VCPU, offset *uint64) Return { return HV_UNSUPPORTED }

func HvVcpuSetVtimerOffset(vcpu VCPU, offset uint64) Return { return HV_UNSUPPORTED }

func OSRelease(object uintptr) {}
