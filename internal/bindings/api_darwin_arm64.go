//go:build darwin && arm64

package bindings

import "unsafe"

// This file exposes the bound symbols as regular Go functions.
// All functions call MustLoad() before invoking the underlying symbol.

// ---- VM ----

func HvVmCreate(config VMConfig) Return {
	MustLoad()
	return hv_vm_create(config)
}

func HvVmDestroy() Return {
	MustLoad()
	return hv_vm_destroy()
}

func HvVmMap(addr unsafe.Pointer, ipa IPA, size uintptr, flags MemoryFlags) Return {
	MustLoad()
	return hv_vm_map(addr, ipa, size, flags)
}

func HvVmUnmap(ipa IPA, size uintptr) Return {
	MustLoad()
	return hv_vm_unmap(ipa, size)
}

func HvVmProtect(ipa IPA, size uintptr, flags MemoryFlags) Return {
	MustLoad()
	return hv_vm_protect(ipa, size, flags)
}

// ---- vCPU config ----

func HvVcpuConfigCreate() VcpuConfig {
	MustLoad()
	return hv_vcpu_config_create()
}

func HvVcpuConfigGetFeatureReg(config VcpuConfig, featureReg FeatureReg, value *uint64) Return {
	MustLoad()
	return hv_vcpu_config_get_feature_reg(config, featureReg, value)
}

func HvVcpuConfigGetCcsidrEl1SysRegValues(config VcpuConfig, cacheType CacheType, values *[8]uint64) Return {
	MustLoad()
	return hv_vcpu_config_get_ccsidr_el1_sys_reg_values(config, cacheType, values)
}

// ---- vCPU ----

func HvVcpuCreate(vcpu *VCPU, exit **VcpuExit, config VcpuConfig) Return {
	MustLoad()
	return hv_vcpu_create(vcpu, exit, config)
}

func HvVcpuDestroy(vcpu VCPU) Return {
	MustLoad()
	return hv_vcpu_destroy(vcpu)
}

func HvVcpuGetReg(vcpu VCPU, reg Reg, value *uint64) Return {
	MustLoad()
	return hv_vcpu_get_reg(vcpu, reg, value)
}

func HvVcpuSetReg(vcpu VCPU, reg Reg, value uint64) Return {
	MustLoad()
	return hv_vcpu_set_reg(vcpu, reg, value)
}

func HvVcpuGetSimdFpReg(vcpu VCPU, reg SIMDReg, value *SimdFP) Return {
	MustLoad()
	return hv_vcpu_get_simd_fp_reg(vcpu, reg, value)
}

func HvVcpuSetSimdFpReg(vcpu VCPU, reg SIMDReg, value SimdFP) Return {
	MustLoad()
	return hv_vcpu_set_simd_fp_reg(vcpu, reg, value)
}

func HvVcpuGetSysReg(vcpu VCPU, reg SysReg, value *uint64) Return {
	MustLoad()
	return hv_vcpu_get_sys_reg(vcpu, reg, value)
}

func HvVcpuSetSysReg(vcpu VCPU, reg SysReg, value uint64) Return {
	MustLoad()
	return hv_vcpu_set_sys_reg(vcpu, reg, value)
}

func HvVcpuGetPendingInterrupt(vcpu VCPU, typ InterruptType, pending *bool) Return {
	MustLoad()
	return hv_vcpu_get_pending_interrupt(vcpu, typ, pending)
}

func HvVcpuSetPendingInterrupt(vcpu VCPU, typ InterruptType, pending bool) Return {
	MustLoad()
	return hv_vcpu_set_pending_interrupt(vcpu, typ, pending)
}

func HvVcpuGetTrapDebugExceptions(vcpu VCPU, value *bool) Return {
	MustLoad()
	return hv_vcpu_get_trap_debug_exceptions(vcpu, value)
}

func HvVcpuSetTrapDebugExceptions(vcpu VCPU, value bool) Return {
	MustLoad()
	return hv_vcpu_set_trap_debug_exceptions(vcpu, value)
}

func HvVcpuGetTrapDebugRegAccesses(vcpu VCPU, value *bool) Return {
	MustLoad()
	return hv_vcpu_get_trap_debug_reg_accesses(vcpu, value)
}

func HvVcpuSetTrapDebugRegAccesses(vcpu VCPU, value bool) Return {
	MustLoad()
	return hv_vcpu_set_trap_debug_reg_accesses(vcpu, value)
}

func HvVcpuRun(vcpu VCPU) Return {
	MustLoad()
	return hv_vcpu_run(vcpu)
}

func HvVcpusExit(vcpus *VCPU, vcpuCount uint32) Return {
	MustLoad()
	return hv_vcpus_exit(vcpus, vcpuCount)
}

func HvVcpuGetExecTime(vcpu VCPU, time *uint64) Return {
	MustLoad()
	return hv_vcpu_get_exec_time(vcpu, time)
}

func HvVcpuGetVtimerMask(vcpu VCPU, masked *bool) Return {
	MustLoad()
	return hv_vcpu_get_vtimer_mask(vcpu, masked)
}

func HvVcpuSetVtimerMask(vcpu VCPU, masked bool) Return {
	MustLoad()
	return hv_vcpu_set_vtimer_mask(vcpu, masked)
}

func HvVcpuGetVtimerOffset(vcpu VCPU, offset *uint64) Return {
	MustLoad()
	return hv_vcpu_get_vtimer_offset(vcpu, offset)
}

func HvVcpuSetVtimerOffset(vcpu VCPU, offset uint64) Return {
	MustLoad()
	return hv_vcpu_set_vtimer_offset(vcpu, offset)
}

// ---- libSystem ----

// OSRelease releases an os_object reference (os_release from libSystem).
func OSRelease(object uintptr) {
	MustLoad()
	os_release(object)
}
