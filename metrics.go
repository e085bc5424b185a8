package vmm

import "sync/atomic"

// metricsState holds process-wide lifecycle counters. Counters only grow;
// read them through Metrics.
type metricsState struct {
	vmCreates      atomic.Uint64
	vmCloses       atomic.Uint64
	vcpuCreates    atomic.Uint64
	vcpuCloses     atomic.Uint64
	runs           atomic.Uint64
	cancellations  atomic.Uint64
	bytesAllocated atomic.Uint64
}

var metrics metricsState

// MetricsSnapshot is a point-in-time copy of the package counters.
type MetricsSnapshot struct {
	VMCreates      uint64
	VMCloses       uint64
	VcpuCreates    uint64
	VcpuCloses     uint64
	Runs           uint64
	Cancellations  uint64
	BytesAllocated uint64
}

// Metrics returns a copy of the process-wide counters: virtual machine and
// vCPU lifecycle events, vCPU runs, runs that ended in cancellation, and the
// total guest memory allocated since process start.
func Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		VMCreates:      metrics.vmCreates.Load(),
		VMCloses:       metrics.vmCloses.Load(),
		VcpuCreates:    metrics.vcpuCreates.Load(),
		VcpuCloses:     metrics.vcpuCloses.Load(),
		Runs:           metrics.runs.Load(),
		Cancellations:  metrics.cancellations.Load(),
		BytesAllocated: metrics.bytesAllocated.Load(),
	}
}
