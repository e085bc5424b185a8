package vmm

import (
	"errors"
	"fmt"

	"github.com/tinyrange/vmm/internal/bindings"
)

// The error taxonomy is closed: native statuses map onto the sentinels below
// or an UnknownReturnError carrying the raw code, and tracker-synthesized
// failures use their own sentinels. Callers match with errors.Is and
// errors.As.
var (
	// ErrHypervisor is the native layer's generic failure status.
	ErrHypervisor = errors.New("hypervisor failure")
	// ErrBusy reports that the hypervisor (or the process-wide virtual
	// machine slot) is busy.
	ErrBusy = errors.New("hypervisor busy")
	// ErrBadArgument reports an argument the native layer rejected.
	ErrBadArgument = errors.New("bad argument")
	// ErrIllegalGuestState reports that guest state does not permit the
	// requested operation.
	ErrIllegalGuestState = errors.New("illegal guest state")
	// ErrNoResources reports native resource exhaustion.
	ErrNoResources = errors.New("no resources")
	// ErrNoDevice reports a missing device.
	ErrNoDevice = errors.New("no device")
	// ErrDenied reports that the operation was denied by the OS, usually a
	// missing com.apple.security.hypervisor entitlement.
	ErrDenied = errors.New("operation denied")
	// ErrUnsupported reports an operation the host cannot perform.
	ErrUnsupported = errors.New("operation unsupported")

	// ErrInvalidHandle reports an allocation or mapping handle with no live
	// record. Synthesized by the trackers, never by the native layer.
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrAllocationStillMapped blocks deallocation while any mapping still
	// references the allocation. Synthesized by the trackers.
	ErrAllocationStillMapped = errors.New("allocation is still mapped")
	// ErrMisalignedAddress reports a guest address that is not a PageSize
	// multiple. Synthesized by the trackers before any native call.
	ErrMisalignedAddress = errors.New("misaligned guest address")
)

// ErrClosed reports use of a VirtualMachine, VirtualCpu or configuration
// object after it was closed.
var ErrClosed = errors.New("resource has been closed")

// UnknownReturnError is a native status outside the known code set. The code
// is preserved so it can be reported upstream.
type UnknownReturnError struct {
	Code uint32
}

func (e *UnknownReturnError) Error() string {
	return fmt.Sprintf("unknown hypervisor status 0x%08x", e.Code)
}

// hvError converts a native status into the taxonomy. Callers check for
// HV_SUCCESS before converting; a success status reaching this function is a
// programming fault, not a recoverable condition.
func hvError(ret bindings.Return) error {
	switch ret {
	case bindings.HV_SUCCESS:
		panic("vmm: success status converted to error")
	case bindings.HV_ERROR:
		return ErrHypervisor
	case bindings.HV_BUSY:
		return ErrBusy
	case bindings.HV_BAD_ARGUMENT:
		return ErrBadArgument
	case bindings.HV_ILLEGAL_GUEST_STATE:
		return ErrIllegalGuestState
	case bindings.HV_NO_RESOURCES:
		return ErrNoResources
	case bindings.HV_NO_DEVICE:
		return ErrNoDevice
	case bindings.HV_DENIED:
		return ErrDenied
	case bindings.HV_UNSUPPORTED:
		return ErrUnsupported
	default:
		return &UnknownReturnError{Code: uint32(ret)}
	}
}
