// Command vmmrun boots a bare-metal guest program described by a YAML
// machine spec and runs it until it raises an exception or the timeout
// expires. It is a harness for trying out guest code without writing a host
// program first.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/tinyrange/vmm"
	"golang.org/x/term"
)

const (
	pstateModeEL1h    = 0x5
	pstateDF          = 0x200
	pstateAF          = 0x100
	pstateIF          = 0x80
	pstateFF          = 0x40
	defaultPstateBits = pstateModeEL1h | pstateDF | pstateAF | pstateIF | pstateFF
)

type exceptionClass uint64

const (
	exceptionClassHvc            exceptionClass = 0x16
	exceptionClassSmc            exceptionClass = 0x17
	exceptionClassInsnAbortLower exceptionClass = 0x20
	exceptionClassDataAbortLower exceptionClass = 0x24
	exceptionClassBrk            exceptionClass = 0x3c
)

const (
	exceptionClassMask  = 0x3f
	exceptionClassShift = 26
)

func (ec exceptionClass) String() string {
	switch ec {
	case exceptionClassHvc:
		return "HVC"
	case exceptionClassSmc:
		return "SMC"
	case exceptionClassInsnAbortLower:
		return "instruction abort"
	case exceptionClassDataAbortLower:
		return "data abort"
	case exceptionClassBrk:
		return "BRK"
	default:
		return fmt.Sprintf("class %#x", uint64(ec))
	}
}

func main() {
	specPath := flag.String("spec", "", "path to the machine spec YAML file")
	timeout := flag.Duration("timeout", 0, "override the spec timeout")
	dumpRegs := flag.Bool("dump-regs", false, "print the register file after the run")
	verbose := flag.Bool("v", false, "enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s -spec machine.yaml [flags]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	setupLogging(*verbose)

	if *specPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*specPath, *timeout, *dumpRegs); err != nil {
		slog.Error("vmmrun failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	}
}

func run(specPath string, timeoutOverride time.Duration, dumpRegs bool) error {
	ok, err := vmm.Supported()
	if err != nil {
		return fmt.Errorf("probe hypervisor support: %w", err)
	}
	if !ok {
		return fmt.Errorf("this host cannot run guests (need an Apple Silicon mac with hypervisor support)")
	}
	if err := vmm.EnsureEntitled(); err != nil {
		return err
	}

	spec, err := LoadMachineSpec(specPath)
	if err != nil {
		return err
	}
	timeout := spec.Timeout.Duration()
	if timeoutOverride > 0 {
		timeout = timeoutOverride
	}

	// The vCPU lives on this thread for its whole life.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	vm, err := vmm.NewVirtualMachine(nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := vm.Close(); err != nil {
			slog.Error("close virtual machine", "error", err)
		}
	}()

	for i, region := range spec.Memory {
		handle, err := loadRegion(vm, region)
		if err != nil {
			return fmt.Errorf("memory region %d: %w", i, err)
		}
		if _, err := vm.Map(handle, region.GuestAddress, vmm.MemoryPermission(region.Permission)); err != nil {
			return fmt.Errorf("memory region %d: %w", i, err)
		}
		slog.Debug("mapped memory region",
			"guest_address", fmt.Sprintf("%#x", region.GuestAddress),
			"permission", vmm.MemoryPermission(region.Permission).String(),
			"file", region.File)
	}

	vcpu, err := vm.CreateVirtualCpu(nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := vcpu.Close(); err != nil {
			slog.Error("close vcpu", "error", err)
		}
	}()

	if err := configureVcpu(vcpu, spec); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	err = runGuest(ctx, vcpu)
	elapsed := time.Since(start)

	if execTime, timeErr := vcpu.ExecTime(); timeErr == nil {
		slog.Info("guest finished", "wall", elapsed, "guest", execTime)
	}
	if dumpRegs {
		if dumpErr := dumpRegisters(vcpu); dumpErr != nil && err == nil {
			err = dumpErr
		}
	}
	return err
}

// loadRegion allocates guest memory for one region and seeds it from the
// image file when one is named.
func loadRegion(vm *vmm.VirtualMachine, region MemoryRegion) (vmm.AllocationHandle, error) {
	size := region.Size
	var imageSize uint64
	if region.File != "" {
		info, err := os.Stat(region.File)
		if err != nil {
			return 0, fmt.Errorf("stat image: %w", err)
		}
		imageSize = uint64(info.Size())
		if size < imageSize {
			size = imageSize
		}
	}

	handle, err := vm.Allocate(size)
	if err != nil {
		return 0, err
	}
	if region.File == "" {
		return handle, nil
	}

	buf, err := vm.AllocationSlice(handle)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(region.File)
	if err != nil {
		return 0, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar := progressbar.DefaultBytes(int64(imageSize), fmt.Sprintf("load %s", filepath.Base(region.File)))
		defer bar.Close()
		reader = io.TeeReader(f, bar)
	}
	if _, err := io.ReadFull(reader, buf[:imageSize]); err != nil {
		return 0, fmt.Errorf("read image %s: %w", region.File, err)
	}
	return handle, nil
}

// configureVcpu applies the spec's initial register file: the listed
// registers first, then pstate and the entry point. Entry always wins over
// a pc entry in the register map.
func configureVcpu(vcpu *vmm.VirtualCpu, spec *MachineSpec) error {
	cpsrSet := false
	for name, value := range spec.Registers {
		reg, ok := registerByName(name)
		if !ok {
			return fmt.Errorf("unknown register %q", name)
		}
		if reg == vmm.RegisterCPSR {
			cpsrSet = true
		}
		if err := vcpu.SetRegister(reg, value); err != nil {
			return err
		}
	}
	if !cpsrSet {
		if err := vcpu.SetRegister(vmm.RegisterCPSR, defaultPstateBits); err != nil {
			return err
		}
	}
	return vcpu.SetRegister(vmm.RegisterPC, spec.Entry)
}

// runGuest runs the vCPU until an exception, the timeout, or an exit
// request. HVC from the guest counts as a requested stop and is not an
// error; every other exception fails the run.
func runGuest(ctx context.Context, vcpu *vmm.VirtualCpu) error {
	for {
		exit, err := vcpu.Run(ctx)
		if err != nil {
			return err
		}

		switch exit.Reason {
		case vmm.ExitReasonCancelled:
			if ctxErr := ctx.Err(); ctxErr != nil {
				if errors.Is(ctxErr, context.DeadlineExceeded) {
					return fmt.Errorf("guest timed out")
				}
				return ctxErr
			}
			return fmt.Errorf("guest run cancelled")

		case vmm.ExitReasonVTimerActivated:
			slog.Debug("virtual timer fired")
			if err := vcpu.SetVTimerMask(false); err != nil {
				return err
			}

		case vmm.ExitReasonException:
			ec := exceptionClass((exit.Exception.Syndrome >> exceptionClassShift) & exceptionClassMask)
			if ec == exceptionClassHvc {
				code, err := vcpu.GetRegister(vmm.RegisterX0)
				if err != nil {
					return err
				}
				slog.Info("guest requested stop", "code", code)
				if code != 0 {
					return fmt.Errorf("guest stopped with code %d", code)
				}
				return nil
			}
			return fmt.Errorf("guest raised %v (syndrome=%#x va=%#x pa=%#x)",
				ec, exit.Exception.Syndrome, exit.Exception.VirtualAddress, exit.Exception.PhysicalAddress)

		default:
			return fmt.Errorf("unexpected exit %v", exit)
		}
	}
}

// dumpRegisters prints the general purpose register file to stdout.
func dumpRegisters(vcpu *vmm.VirtualCpu) error {
	for _, reg := range vmm.Registers() {
		// Skip the aliases so each slot prints once.
		if reg == vmm.RegisterFP || reg == vmm.RegisterLR {
			continue
		}
		value, err := vcpu.GetRegister(reg)
		if err != nil {
			return err
		}
		fmt.Printf("%-5s %#018x\n", reg, value)
	}
	return nil
}
