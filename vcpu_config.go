package vmm

import (
	"fmt"

	"github.com/tinyrange/vmm/internal/bindings"
)

// CacheType selects a cache level class for CCSIDR geometry queries.
type CacheType uint32

const (
	CacheTypeData CacheType = iota
	CacheTypeInstruction
)

func (t CacheType) String() string {
	switch t {
	case CacheTypeData:
		return "data"
	case CacheTypeInstruction:
		return "instruction"
	default:
		return fmt.Sprintf("CacheType(%d)", uint32(t))
	}
}

func (t CacheType) native() (bindings.CacheType, bool) {
	switch t {
	case CacheTypeData:
		return bindings.HV_CACHE_TYPE_DATA, true
	case CacheTypeInstruction:
		return bindings.HV_CACHE_TYPE_INSTRUCTION, true
	default:
		return 0, false
	}
}

// VirtualCpuConfiguration holds vCPU feature settings and answers host
// capability queries. It works standalone; no virtual machine needs to
// exist. Pass one to CreateVirtualCpu or close it after querying.
type VirtualCpuConfiguration struct {
	handle bindings.VcpuConfig
	closed bool
}

// NewVirtualCpuConfiguration creates a vCPU configuration with default
// settings.
func NewVirtualCpuConfiguration() (*VirtualCpuConfiguration, error) {
	handle := native.vcpuConfigCreate()
	if handle == 0 {
		return nil, fmt.Errorf("vmm: create vcpu configuration: %w", ErrUnsupported)
	}
	return &VirtualCpuConfiguration{handle: handle}, nil
}

// FeatureRegister returns the host value of an ARM ID register as the guest
// will observe it.
func (c *VirtualCpuConfiguration) FeatureRegister(reg FeatureRegister) (uint64, error) {
	if c.closed {
		return 0, fmt.Errorf("vmm: get feature register %v: %w", reg, ErrClosed)
	}
	nativeReg, ok := reg.native()
	if !ok {
		return 0, fmt.Errorf("vmm: get feature register: unknown register %d: %w", int(reg), ErrBadArgument)
	}
	var value uint64
	if ret := native.vcpuConfigGetFeatureReg(c.handle, nativeReg, &value); ret != bindings.HV_SUCCESS {
		return 0, fmt.Errorf("vmm: get feature register %v: %w", reg, hvError(ret))
	}
	return value, nil
}

// CCSIDRValues returns the CCSIDR_EL1 values for every cache level of the
// given type, indexed by CSSELR level selector.
func (c *VirtualCpuConfiguration) CCSIDRValues(typ CacheType) ([8]uint64, error) {
	var values [8]uint64
	if c.closed {
		return values, fmt.Errorf("vmm: get ccsidr values: %w", ErrClosed)
	}
	nativeType, ok := typ.native()
	if !ok {
		return values, fmt.Errorf("vmm: get ccsidr values: unknown cache type %d: %w", uint32(typ), ErrBadArgument)
	}
	if ret := native.vcpuConfigGetCcsidr(c.handle, nativeType, &values); ret != bindings.HV_SUCCESS {
		return values, fmt.Errorf("vmm: get ccsidr values for %v cache: %w", typ, hvError(ret))
	}
	return values, nil
}

// Close releases the native configuration object. Closing twice is a
// no-op. A configuration already handed to CreateVirtualCpu can be closed
// as soon as that call returns.
func (c *VirtualCpuConfiguration) Close() error {
	if c.closed {
		return nil
	}
	native.osRelease(uintptr(c.handle))
	c.handle = 0
	c.closed = true
	return nil
}
