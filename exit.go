package vmm

import (
	"fmt"

	"github.com/tinyrange/vmm/internal/bindings"
)

// ExitReason says why a vCPU run returned to the host.
type ExitReason uint32

const (
	// ExitReasonCancelled reports an exit request from ExitVirtualCpus or a
	// cancelled run context. No guest state is implied; the vCPU can run
	// again immediately.
	ExitReasonCancelled ExitReason = iota
	// ExitReasonException reports a guest exception or trap. The syndrome
	// and fault addresses are in the Exception field.
	ExitReasonException
	// ExitReasonVTimerActivated reports that the virtual timer fired. The
	// timer is masked on delivery; unmask it with SetVTimerMask(false) once
	// the interrupt has been handled.
	ExitReasonVTimerActivated
	// ExitReasonUnknown reports a native exit reason this package does not
	// recognize. The raw value is preserved in VirtualCpuExit.RawReason.
	ExitReasonUnknown
)

func (r ExitReason) String() string {
	switch r {
	case ExitReasonCancelled:
		return "cancelled"
	case ExitReasonException:
		return "exception"
	case ExitReasonVTimerActivated:
		return "vtimer activated"
	case ExitReasonUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("ExitReason(%d)", uint32(r))
	}
}

// ExceptionInfo carries the fault description of an exception exit. The
// syndrome is the raw ESR_EL2 value; decoding the exception class and ISS
// fields is left to the caller.
type ExceptionInfo struct {
	Syndrome        uint64
	VirtualAddress  uint64
	PhysicalAddress uint64
}

func (e ExceptionInfo) String() string {
	return fmt.Sprintf("syndrome=0x%x va=0x%x pa=0x%x", e.Syndrome, e.VirtualAddress, e.PhysicalAddress)
}

// VirtualCpuExit is the decoded result of one vCPU run. Exception is only
// meaningful for ExitReasonException and RawReason only for
// ExitReasonUnknown.
type VirtualCpuExit struct {
	Reason    ExitReason
	Exception ExceptionInfo
	RawReason uint32
}

func (e *VirtualCpuExit) String() string {
	switch e.Reason {
	case ExitReasonException:
		return fmt.Sprintf("exception (%v)", e.Exception)
	case ExitReasonUnknown:
		return fmt.Sprintf("unknown (raw=0x%x)", e.RawReason)
	default:
		return e.Reason.String()
	}
}

// decodeExit snapshots the native exit record into a stable value. The
// native record lives in memory owned by the hypervisor and is rewritten on
// the next run, so the copy must happen before control returns to the
// caller.
func decodeExit(raw *bindings.VcpuExit) *VirtualCpuExit {
	switch raw.Reason {
	case bindings.HV_EXIT_REASON_CANCELED:
		return &VirtualCpuExit{Reason: ExitReasonCancelled}
	case bindings.HV_EXIT_REASON_EXCEPTION:
		return &VirtualCpuExit{
			Reason: ExitReasonException,
			Exception: ExceptionInfo{
				Syndrome:        uint64(raw.Exception.Syndrome),
				VirtualAddress:  uint64(raw.Exception.VirtualAddress),
				PhysicalAddress: uint64(raw.Exception.PhysicalAddress),
			},
		}
	case bindings.HV_EXIT_REASON_VTIMER_ACTIVATED:
		return &VirtualCpuExit{Reason: ExitReasonVTimerActivated}
	default:
		return &VirtualCpuExit{Reason: ExitReasonUnknown, RawReason: uint32(raw.Reason)}
	}
}
