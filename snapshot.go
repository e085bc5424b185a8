package vmm

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/tinyrange/vmm/internal/bindings"
)

// Snapshot file format constants
const (
	snapshotMagic   uint32 = 0x564d5353 // "VMSS"
	snapshotVersion uint32 = 1
)

// VirtualCpuState is a full copy of one vCPU's register file plus its
// virtual timer offset. The maps are keyed by the public selectors; aliases
// are folded, so x29/x30 appear once and fp/lr never do.
type VirtualCpuState struct {
	Registers       map[Register]uint64
	SystemRegisters map[SystemRegister]uint64
	SIMDFPRegisters map[SIMDFPRegister][16]byte
	VTimerOffset    uint64
}

// CaptureState reads the whole register file off the vCPU. Must run on the
// owning thread with the vCPU out of the guest.
func (v *VirtualCpu) CaptureState() (*VirtualCpuState, error) {
	state := &VirtualCpuState{
		Registers:       make(map[Register]uint64),
		SystemRegisters: make(map[SystemRegister]uint64),
		SIMDFPRegisters: make(map[SIMDFPRegister][16]byte),
	}
	for _, reg := range Registers() {
		// fp and lr alias x29 and x30; capture each slot once.
		if reg == RegisterFP || reg == RegisterLR {
			continue
		}
		value, err := v.GetRegister(reg)
		if err != nil {
			return nil, err
		}
		state.Registers[reg] = value
	}
	for _, reg := range SystemRegisters() {
		value, err := v.GetSystemRegister(reg)
		if err != nil {
			return nil, err
		}
		state.SystemRegisters[reg] = value
	}
	for _, reg := range SIMDFPRegisters() {
		value, err := v.GetSIMDFPRegister(reg)
		if err != nil {
			return nil, err
		}
		state.SIMDFPRegisters[reg] = value
	}
	offset, err := v.GetVTimerOffset()
	if err != nil {
		return nil, err
	}
	state.VTimerOffset = offset
	return state, nil
}

// RestoreState writes a captured register file back onto the vCPU. Must run
// on the owning thread. Registers absent from the state are left alone; a
// write failure stops the restore with the vCPU partially updated.
func (v *VirtualCpu) RestoreState(state *VirtualCpuState) error {
	regs := make([]Register, 0, len(state.Registers))
	for reg := range state.Registers {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })
	for _, reg := range regs {
		if err := v.SetRegister(reg, state.Registers[reg]); err != nil {
			return err
		}
	}

	sysRegs := make([]SystemRegister, 0, len(state.SystemRegisters))
	for reg := range state.SystemRegisters {
		sysRegs = append(sysRegs, reg)
	}
	sort.Slice(sysRegs, func(i, j int) bool { return sysRegs[i] < sysRegs[j] })
	for _, reg := range sysRegs {
		if err := v.SetSystemRegister(reg, state.SystemRegisters[reg]); err != nil {
			return err
		}
	}

	simdRegs := make([]SIMDFPRegister, 0, len(state.SIMDFPRegisters))
	for reg := range state.SIMDFPRegisters {
		simdRegs = append(simdRegs, reg)
	}
	sort.Slice(simdRegs, func(i, j int) bool { return simdRegs[i] < simdRegs[j] })
	for _, reg := range simdRegs {
		if err := v.SetSIMDFPRegister(reg, state.SIMDFPRegisters[reg]); err != nil {
			return err
		}
	}

	return v.SetVTimerOffset(state.VTimerOffset)
}

// MemorySegment is one allocation's content inside a snapshot. The content
// length is the rounded allocation size.
type MemorySegment struct {
	Handle  AllocationHandle
	Content []byte
}

// MappingRecord re-creates one guest mapping on restore. Mapping handles
// are not preserved; restored mappings get fresh ones.
type MappingRecord struct {
	Allocation   AllocationHandle
	GuestAddress uint64
	Permission   MemoryPermission
}

// Snapshot is an offline copy of a machine: optional vCPU register state,
// every allocation's content, and the mapping layout.
type Snapshot struct {
	Cpu      *VirtualCpuState
	Memory   []MemorySegment
	Mappings []MappingRecord
}

// CaptureSnapshot copies the machine into a Snapshot. Pass the vCPU to
// include its register state, or nil for a memory-only snapshot. Capture
// with the guest stopped; a vCPU in the guest would keep writing the memory
// being copied.
func (vm *VirtualMachine) CaptureSnapshot(vcpu *VirtualCpu) (*Snapshot, error) {
	if vm.closed {
		return nil, fmt.Errorf("vmm: capture snapshot: %w", ErrClosed)
	}
	snap := &Snapshot{}
	if vcpu != nil {
		state, err := vcpu.CaptureState()
		if err != nil {
			return nil, fmt.Errorf("vmm: capture snapshot: %w", err)
		}
		snap.Cpu = state
	}

	handles := make([]AllocationHandle, 0, len(vm.allocations))
	for handle := range vm.allocations {
		handles = append(handles, handle)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	for _, handle := range handles {
		content := bytes.Clone(vm.allocations[handle].buf.slice())
		snap.Memory = append(snap.Memory, MemorySegment{Handle: handle, Content: content})
	}

	for _, m := range vm.Mappings() {
		snap.Mappings = append(snap.Mappings, MappingRecord{
			Allocation:   m.Allocation,
			GuestAddress: m.GuestAddress,
			Permission:   m.Permission,
		})
	}
	return snap, nil
}

// RestoreSnapshot loads a Snapshot into an empty machine: allocations are
// re-created under their recorded handles, the allocation counter advances
// past the largest one, and mappings are re-established through the normal
// map path with fresh handles. Pass the vCPU to restore register state onto
// it, or nil to restore memory only. The machine must hold no allocations;
// a machine that already has memory fails with ErrBusy. A failed restore
// leaves the machine partially restored, so close it rather than reuse it.
func (vm *VirtualMachine) RestoreSnapshot(snap *Snapshot, vcpu *VirtualCpu) error {
	if vm.closed {
		return fmt.Errorf("vmm: restore snapshot: %w", ErrClosed)
	}
	if len(vm.allocations) != 0 || len(vm.mappings) != 0 {
		return fmt.Errorf("vmm: restore snapshot: machine already holds memory: %w", ErrBusy)
	}

	for _, seg := range snap.Memory {
		if seg.Handle == 0 {
			return fmt.Errorf("vmm: restore snapshot: zero allocation handle: %w", ErrInvalidHandle)
		}
		if _, exists := vm.allocations[seg.Handle]; exists {
			return fmt.Errorf("vmm: restore snapshot: duplicate allocation handle %d: %w", uint64(seg.Handle), ErrInvalidHandle)
		}
		rounded := alignUp(uint64(len(seg.Content)), PageSize)
		buf, err := allocateBuffer(rounded)
		if err != nil {
			return fmt.Errorf("vmm: restore snapshot: %w", err)
		}
		copy(buf.slice(), seg.Content)
		vm.allocations[seg.Handle] = &allocation{handle: seg.Handle, buf: buf}
		if uint64(seg.Handle) > uint64(vm.allocCounter) {
			vm.allocCounter = handleCounter(seg.Handle)
		}
		metrics.bytesAllocated.Add(rounded)
	}

	for _, rec := range snap.Mappings {
		if _, err := vm.Map(rec.Allocation, rec.GuestAddress, rec.Permission); err != nil {
			return fmt.Errorf("vmm: restore snapshot: %w", err)
		}
	}

	if snap.Cpu != nil && vcpu != nil {
		if err := vcpu.RestoreState(snap.Cpu); err != nil {
			return fmt.Errorf("vmm: restore snapshot: %w", err)
		}
	}
	return nil
}

// SaveSnapshot writes a snapshot to the specified file path.
func SaveSnapshot(path string, snap *Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("vmm: save snapshot: %w", err)
	}
	defer f.Close()

	if err := WriteSnapshot(f, snap); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("vmm: save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot from the specified file path.
func LoadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vmm: load snapshot: %w", err)
	}
	defer f.Close()

	return ReadSnapshot(f)
}

// WriteSnapshot writes a snapshot to a writer. The format is versioned and
// deterministic: little-endian sections, sorted keys, gzip compressed
// memory.
func WriteSnapshot(w io.Writer, snap *Snapshot) error {
	if err := writeSnapshot(w, snap); err != nil {
		return fmt.Errorf("vmm: write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot reads a snapshot from a reader.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	snap, err := readSnapshot(r)
	if err != nil {
		return nil, fmt.Errorf("vmm: read snapshot: %w", err)
	}
	return snap, nil
}

func writeSnapshot(w io.Writer, snap *Snapshot) error {
	if err := binary.Write(w, binary.LittleEndian, snapshotMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, snapshotVersion); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(0)); err != nil { // flags
		return fmt.Errorf("write flags: %w", err)
	}

	var cpuCount uint32
	if snap.Cpu != nil {
		cpuCount = 1
	}
	if err := binary.Write(w, binary.LittleEndian, cpuCount); err != nil {
		return fmt.Errorf("write vcpu count: %w", err)
	}
	if snap.Cpu != nil {
		if err := writeCpuState(w, snap.Cpu); err != nil {
			return fmt.Errorf("write vcpu state: %w", err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(snap.Memory))); err != nil {
		return fmt.Errorf("write segment count: %w", err)
	}
	for _, seg := range snap.Memory {
		if err := writeMemorySegment(w, seg); err != nil {
			return fmt.Errorf("write segment %d: %w", uint64(seg.Handle), err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(snap.Mappings))); err != nil {
		return fmt.Errorf("write mapping count: %w", err)
	}
	for i, rec := range snap.Mappings {
		if err := binary.Write(w, binary.LittleEndian, uint64(rec.Allocation)); err != nil {
			return fmt.Errorf("write mapping %d allocation: %w", i, err)
		}
		if err := binary.Write(w, binary.LittleEndian, rec.GuestAddress); err != nil {
			return fmt.Errorf("write mapping %d address: %w", i, err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint8(rec.Permission)); err != nil {
			return fmt.Errorf("write mapping %d permission: %w", i, err)
		}
	}

	return nil
}

func readSnapshot(r io.Reader) (*Snapshot, error) {
	var magic, version, flags uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, fmt.Errorf("read flags: %w", err)
	}
	if magic != snapshotMagic {
		return nil, fmt.Errorf("invalid magic: expected %#x, got %#x", snapshotMagic, magic)
	}
	if version != snapshotVersion {
		return nil, fmt.Errorf("unsupported version: %d", version)
	}
	_ = flags // reserved

	snap := &Snapshot{}

	var cpuCount uint32
	if err := binary.Read(r, binary.LittleEndian, &cpuCount); err != nil {
		return nil, fmt.Errorf("read vcpu count: %w", err)
	}
	if cpuCount > 1 {
		return nil, fmt.Errorf("unsupported vcpu count: %d", cpuCount)
	}
	if cpuCount == 1 {
		state, err := readCpuState(r)
		if err != nil {
			return nil, fmt.Errorf("read vcpu state: %w", err)
		}
		snap.Cpu = state
	}

	var segmentCount uint32
	if err := binary.Read(r, binary.LittleEndian, &segmentCount); err != nil {
		return nil, fmt.Errorf("read segment count: %w", err)
	}
	for i := uint32(0); i < segmentCount; i++ {
		seg, err := readMemorySegment(r)
		if err != nil {
			return nil, fmt.Errorf("read segment %d: %w", i, err)
		}
		snap.Memory = append(snap.Memory, seg)
	}

	var mappingCount uint32
	if err := binary.Read(r, binary.LittleEndian, &mappingCount); err != nil {
		return nil, fmt.Errorf("read mapping count: %w", err)
	}
	for i := uint32(0); i < mappingCount; i++ {
		var rec MappingRecord
		var alloc uint64
		var perm uint8
		if err := binary.Read(r, binary.LittleEndian, &alloc); err != nil {
			return nil, fmt.Errorf("read mapping %d allocation: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &rec.GuestAddress); err != nil {
			return nil, fmt.Errorf("read mapping %d address: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &perm); err != nil {
			return nil, fmt.Errorf("read mapping %d permission: %w", i, err)
		}
		rec.Allocation = AllocationHandle(alloc)
		rec.Permission = MemoryPermission(perm)
		snap.Mappings = append(snap.Mappings, rec)
	}

	return snap, nil
}

func writeCpuState(w io.Writer, state *VirtualCpuState) error {
	// Keys go to the wire as native selectors so the format does not depend
	// on the Go enum order. Sorted for determinism.
	if err := binary.Write(w, binary.LittleEndian, uint32(len(state.Registers))); err != nil {
		return fmt.Errorf("write gp count: %w", err)
	}
	gpKeys := make([]bindings.Reg, 0, len(state.Registers))
	gpValues := make(map[bindings.Reg]uint64, len(state.Registers))
	for reg, value := range state.Registers {
		nativeReg, ok := reg.native()
		if !ok {
			return fmt.Errorf("unknown register %d", int(reg))
		}
		gpKeys = append(gpKeys, nativeReg)
		gpValues[nativeReg] = value
	}
	sort.Slice(gpKeys, func(i, j int) bool { return gpKeys[i] < gpKeys[j] })
	for _, k := range gpKeys {
		if err := binary.Write(w, binary.LittleEndian, uint32(k)); err != nil {
			return fmt.Errorf("write gp key: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, gpValues[k]); err != nil {
			return fmt.Errorf("write gp value: %w", err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(state.SystemRegisters))); err != nil {
		return fmt.Errorf("write sys count: %w", err)
	}
	sysKeys := make([]bindings.SysReg, 0, len(state.SystemRegisters))
	sysValues := make(map[bindings.SysReg]uint64, len(state.SystemRegisters))
	for reg, value := range state.SystemRegisters {
		nativeReg, ok := reg.native()
		if !ok {
			return fmt.Errorf("unknown system register %d", int(reg))
		}
		sysKeys = append(sysKeys, nativeReg)
		sysValues[nativeReg] = value
	}
	sort.Slice(sysKeys, func(i, j int) bool { return sysKeys[i] < sysKeys[j] })
	for _, k := range sysKeys {
		if err := binary.Write(w, binary.LittleEndian, uint16(k)); err != nil {
			return fmt.Errorf("write sys key: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, sysValues[k]); err != nil {
			return fmt.Errorf("write sys value: %w", err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(state.SIMDFPRegisters))); err != nil {
		return fmt.Errorf("write simd count: %w", err)
	}
	simdKeys := make([]bindings.SIMDReg, 0, len(state.SIMDFPRegisters))
	simdValues := make(map[bindings.SIMDReg][16]byte, len(state.SIMDFPRegisters))
	for reg, value := range state.SIMDFPRegisters {
		nativeReg, ok := reg.native()
		if !ok {
			return fmt.Errorf("unknown simd register %d", int(reg))
		}
		simdKeys = append(simdKeys, nativeReg)
		simdValues[nativeReg] = value
	}
	sort.Slice(simdKeys, func(i, j int) bool { return simdKeys[i] < simdKeys[j] })
	for _, k := range simdKeys {
		if err := binary.Write(w, binary.LittleEndian, uint32(k)); err != nil {
			return fmt.Errorf("write simd key: %w", err)
		}
		value := simdValues[k]
		if err := binary.Write(w, binary.LittleEndian, binary.LittleEndian.Uint64(value[0:8])); err != nil {
			return fmt.Errorf("write simd low: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, binary.LittleEndian.Uint64(value[8:16])); err != nil {
			return fmt.Errorf("write simd high: %w", err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, state.VTimerOffset); err != nil {
		return fmt.Errorf("write vtimer offset: %w", err)
	}

	return nil
}

func readCpuState(r io.Reader) (*VirtualCpuState, error) {
	state := &VirtualCpuState{}

	var gpCount uint32
	if err := binary.Read(r, binary.LittleEndian, &gpCount); err != nil {
		return nil, fmt.Errorf("read gp count: %w", err)
	}
	state.Registers = make(map[Register]uint64, gpCount)
	for i := uint32(0); i < gpCount; i++ {
		var k uint32
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &k); err != nil {
			return nil, fmt.Errorf("read gp key: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, fmt.Errorf("read gp value: %w", err)
		}
		reg, ok := registerFromNative(bindings.Reg(k))
		if !ok {
			return nil, fmt.Errorf("unknown gp selector %#x", k)
		}
		state.Registers[reg] = v
	}

	var sysCount uint32
	if err := binary.Read(r, binary.LittleEndian, &sysCount); err != nil {
		return nil, fmt.Errorf("read sys count: %w", err)
	}
	state.SystemRegisters = make(map[SystemRegister]uint64, sysCount)
	for i := uint32(0); i < sysCount; i++ {
		var k uint16
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &k); err != nil {
			return nil, fmt.Errorf("read sys key: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, fmt.Errorf("read sys value: %w", err)
		}
		reg, ok := sysRegisterFromNative(bindings.SysReg(k))
		if !ok {
			return nil, fmt.Errorf("unknown sys selector %#x", k)
		}
		state.SystemRegisters[reg] = v
	}

	var simdCount uint32
	if err := binary.Read(r, binary.LittleEndian, &simdCount); err != nil {
		return nil, fmt.Errorf("read simd count: %w", err)
	}
	state.SIMDFPRegisters = make(map[SIMDFPRegister][16]byte, simdCount)
	for i := uint32(0); i < simdCount; i++ {
		var k uint32
		var low, high uint64
		if err := binary.Read(r, binary.LittleEndian, &k); err != nil {
			return nil, fmt.Errorf("read simd key: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &low); err != nil {
			return nil, fmt.Errorf("read simd low: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &high); err != nil {
			return nil, fmt.Errorf("read simd high: %w", err)
		}
		reg, ok := simdFPRegisterFromNative(bindings.SIMDReg(k))
		if !ok {
			return nil, fmt.Errorf("unknown simd selector %#x", k)
		}
		var value [16]byte
		binary.LittleEndian.PutUint64(value[0:8], low)
		binary.LittleEndian.PutUint64(value[8:16], high)
		state.SIMDFPRegisters[reg] = value
	}

	if err := binary.Read(r, binary.LittleEndian, &state.VTimerOffset); err != nil {
		return nil, fmt.Errorf("read vtimer offset: %w", err)
	}

	return state, nil
}

func writeMemorySegment(w io.Writer, seg MemorySegment) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(seg.Handle)); err != nil {
		return fmt.Errorf("write handle: %w", err)
	}

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(seg.Content); err != nil {
		gzw.Close()
		return fmt.Errorf("compress content: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("close gzip compressor: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(seg.Content))); err != nil {
		return fmt.Errorf("write uncompressed length: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(compressed.Len())); err != nil {
		return fmt.Errorf("write compressed length: %w", err)
	}
	if _, err := w.Write(compressed.Bytes()); err != nil {
		return fmt.Errorf("write content: %w", err)
	}

	return nil
}

func readMemorySegment(r io.Reader) (MemorySegment, error) {
	var seg MemorySegment

	var handle uint64
	if err := binary.Read(r, binary.LittleEndian, &handle); err != nil {
		return seg, fmt.Errorf("read handle: %w", err)
	}
	seg.Handle = AllocationHandle(handle)

	var rawLen, compressedLen uint64
	if err := binary.Read(r, binary.LittleEndian, &rawLen); err != nil {
		return seg, fmt.Errorf("read uncompressed length: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &compressedLen); err != nil {
		return seg, fmt.Errorf("read compressed length: %w", err)
	}

	compressed := make([]byte, compressedLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return seg, fmt.Errorf("read compressed content: %w", err)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return seg, fmt.Errorf("create gzip reader: %w", err)
	}
	seg.Content = make([]byte, rawLen)
	if _, err := io.ReadFull(gzr, seg.Content); err != nil {
		gzr.Close()
		return seg, fmt.Errorf("decompress content: %w", err)
	}
	if err := gzr.Close(); err != nil {
		return seg, fmt.Errorf("close gzip reader: %w", err)
	}

	return seg, nil
}
