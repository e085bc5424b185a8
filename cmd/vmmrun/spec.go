package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tinyrange/vmm"
	"gopkg.in/yaml.v3"
)

// MachineSpec describes the guest machine vmmrun boots: a set of memory
// regions, the entry point and initial register values, and how long the
// guest may run.
type MachineSpec struct {
	Memory    []MemoryRegion    `yaml:"memory"`
	Entry     uint64            `yaml:"entry"`
	Registers map[string]uint64 `yaml:"registers"`
	Timeout   Duration          `yaml:"timeout"`
}

// MemoryRegion describes one guest memory region. Size may be omitted when
// File is given; the region is then sized to the image. When both are given
// the region is the larger of the two, with the bytes past the image zero.
type MemoryRegion struct {
	GuestAddress uint64     `yaml:"guest_address"`
	Size         uint64     `yaml:"size"`
	File         string     `yaml:"file"`
	Permission   Permission `yaml:"permission"`
}

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Permission wraps vmm.MemoryPermission for YAML unmarshaling from "rwx"
// subset strings such as "rx" or "rw-".
type Permission vmm.MemoryPermission

// UnmarshalYAML implements yaml.Unmarshaler for Permission.
func (p *Permission) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := parsePermission(s)
	if err != nil {
		return err
	}
	*p = Permission(parsed)
	return nil
}

func parsePermission(s string) (vmm.MemoryPermission, error) {
	var perm vmm.MemoryPermission
	for _, c := range s {
		switch c {
		case 'r':
			perm |= vmm.MemoryRead
		case 'w':
			perm |= vmm.MemoryWrite
		case 'x':
			perm |= vmm.MemoryExec
		case '-':
		default:
			return 0, fmt.Errorf("invalid permission %q: unknown flag %q", s, string(c))
		}
	}
	return perm, nil
}

// registerByName resolves names like "x0", "lr" or "pc" to a register
// selector. Matching is case insensitive.
func registerByName(name string) (vmm.Register, bool) {
	lower := strings.ToLower(name)
	for _, reg := range vmm.Registers() {
		if reg.String() == lower {
			return reg, true
		}
	}
	return 0, false
}

// LoadMachineSpec loads and validates a machine specification from a YAML
// file.
func LoadMachineSpec(path string) (*MachineSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spec file: %w", err)
	}

	var spec MachineSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing spec file: %w", err)
	}

	// Apply defaults
	if spec.Timeout == 0 {
		spec.Timeout = Duration(10 * time.Second)
	}
	for i := range spec.Memory {
		if spec.Memory[i].Permission == 0 {
			spec.Memory[i].Permission = Permission(vmm.MemoryReadWriteExec)
		}
	}

	if err := spec.validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *MachineSpec) validate() error {
	if len(s.Memory) == 0 {
		return fmt.Errorf("spec has no memory regions")
	}
	for i, region := range s.Memory {
		if region.GuestAddress%vmm.PageSize != 0 {
			return fmt.Errorf("memory region %d: guest_address %#x is not a multiple of %#x", i, region.GuestAddress, uint64(vmm.PageSize))
		}
		if region.Size == 0 && region.File == "" {
			return fmt.Errorf("memory region %d: needs a size or a file", i)
		}
	}
	for name := range s.Registers {
		if _, ok := registerByName(name); !ok {
			return fmt.Errorf("unknown register %q", name)
		}
	}
	return nil
}
