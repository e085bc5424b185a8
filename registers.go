package vmm

import (
	"fmt"

	"github.com/tinyrange/vmm/internal/bindings"
)

// Register selects an ARM general purpose or basic control register. FP and
// LR are architectural aliases of X29 and X30 and translate to the same
// native selector.
type Register int

const (
	RegisterX0 Register = iota
	RegisterX1
	RegisterX2
	RegisterX3
	RegisterX4
	RegisterX5
	RegisterX6
	RegisterX7
	RegisterX8
	RegisterX9
	RegisterX10
	RegisterX11
	RegisterX12
	RegisterX13
	RegisterX14
	RegisterX15
	RegisterX16
	RegisterX17
	RegisterX18
	RegisterX19
	RegisterX20
	RegisterX21
	RegisterX22
	RegisterX23
	RegisterX24
	RegisterX25
	RegisterX26
	RegisterX27
	RegisterX28
	RegisterX29
	RegisterFP
	RegisterX30
	RegisterLR
	RegisterPC
	RegisterFPCR
	RegisterFPSR
	RegisterCPSR
)

var registerInfo = [...]struct {
	name string
	reg  bindings.Reg
}{
	RegisterX0:   {"x0", bindings.HV_REG_X0},
	RegisterX1:   {"x1", bindings.HV_REG_X1},
	RegisterX2:   {"x2", bindings.HV_REG_X2},
	RegisterX3:   {"x3", bindings.HV_REG_X3},
	RegisterX4:   {"x4", bindings.HV_REG_X4},
	RegisterX5:   {"x5", bindings.HV_REG_X5},
	RegisterX6:   {"x6", bindings.HV_REG_X6},
	RegisterX7:   {"x7", bindings.HV_REG_X7},
	RegisterX8:   {"x8", bindings.HV_REG_X8},
	RegisterX9:   {"x9", bindings.HV_REG_X9},
	RegisterX10:  {"x10", bindings.HV_REG_X10},
	RegisterX11:  {"x11", bindings.HV_REG_X11},
	RegisterX12:  {"x12", bindings.HV_REG_X12},
	RegisterX13:  {"x13", bindings.HV_REG_X13},
	RegisterX14:  {"x14", bindings.HV_REG_X14},
	RegisterX15:  {"x15", bindings.HV_REG_X15},
	RegisterX16:  {"x16", bindings.HV_REG_X16},
	RegisterX17:  {"x17", bindings.HV_REG_X17},
	RegisterX18:  {"x18", bindings.HV_REG_X18},
	RegisterX19:  {"x19", bindings.HV_REG_X19},
	RegisterX20:  {"x20", bindings.HV_REG_X20},
	RegisterX21:  {"x21", bindings.HV_REG_X21},
	RegisterX22:  {"x22", bindings.HV_REG_X22},
	RegisterX23:  {"x23", bindings.HV_REG_X23},
	RegisterX24:  {"x24", bindings.HV_REG_X24},
	RegisterX25:  {"x25", bindings.HV_REG_X25},
	RegisterX26:  {"x26", bindings.HV_REG_X26},
	RegisterX27:  {"x27", bindings.HV_REG_X27},
	RegisterX28:  {"x28", bindings.HV_REG_X28},
	RegisterX29:  {"x29", bindings.HV_REG_X29},
	RegisterFP:   {"fp", bindings.HV_REG_FP},
	RegisterX30:  {"x30", bindings.HV_REG_X30},
	RegisterLR:   {"lr", bindings.HV_REG_LR},
	RegisterPC:   {"pc", bindings.HV_REG_PC},
	RegisterFPCR: {"fpcr", bindings.HV_REG_FPCR},
	RegisterFPSR: {"fpsr", bindings.HV_REG_FPSR},
	RegisterCPSR: {"cpsr", bindings.HV_REG_CPSR},
}

func (r Register) String() string {
	if r >= 0 && int(r) < len(registerInfo) {
		return registerInfo[r].name
	}
	return fmt.Sprintf("register(%d)", int(r))
}

func (r Register) native() (bindings.Reg, bool) {
	if r < 0 || int(r) >= len(registerInfo) {
		return 0, false
	}
	return registerInfo[r].reg, true
}

// SystemRegister selects an EL1-visible ARM system register. The set matches
// what the native layer exposes through hv_vcpu_get_sys_reg.
type SystemRegister int

const (
	SystemRegisterDBGBVR0EL1 SystemRegister = iota
	SystemRegisterDBGBCR0EL1
	SystemRegisterDBGWVR0EL1
	SystemRegisterDBGWCR0EL1
	SystemRegisterDBGBVR1EL1
	SystemRegisterDBGBCR1EL1
	SystemRegisterDBGWVR1EL1
	SystemRegisterDBGWCR1EL1
	SystemRegisterMDCCINTEL1
	SystemRegisterMDSCREL1
	SystemRegisterDBGBVR2EL1
	SystemRegisterDBGBCR2EL1
	SystemRegisterDBGWVR2EL1
	SystemRegisterDBGWCR2EL1
	SystemRegisterDBGBVR3EL1
	SystemRegisterDBGBCR3EL1
	SystemRegisterDBGWVR3EL1
	SystemRegisterDBGWCR3EL1
	SystemRegisterDBGBVR4EL1
	SystemRegisterDBGBCR4EL1
	SystemRegisterDBGWVR4EL1
	SystemRegisterDBGWCR4EL1
	SystemRegisterDBGBVR5EL1
	SystemRegisterDBGBCR5EL1
	SystemRegisterDBGWVR5EL1
	SystemRegisterDBGWCR5EL1
	SystemRegisterDBGBVR6EL1
	SystemRegisterDBGBCR6EL1
	SystemRegisterDBGWVR6EL1
	SystemRegisterDBGWCR6EL1
	SystemRegisterDBGBVR7EL1
	SystemRegisterDBGBCR7EL1
	SystemRegisterDBGWVR7EL1
	SystemRegisterDBGWCR7EL1
	SystemRegisterDBGBVR8EL1
	SystemRegisterDBGBCR8EL1
	SystemRegisterDBGWVR8EL1
	SystemRegisterDBGWCR8EL1
	SystemRegisterDBGBVR9EL1
	SystemRegisterDBGBCR9EL1
	SystemRegisterDBGWVR9EL1
	SystemRegisterDBGWCR9EL1
	SystemRegisterDBGBVR10EL1
	SystemRegisterDBGBCR10EL1
	SystemRegisterDBGWVR10EL1
	SystemRegisterDBGWCR10EL1
	SystemRegisterDBGBVR11EL1
	SystemRegisterDBGBCR11EL1
	SystemRegisterDBGWVR11EL1
	SystemRegisterDBGWCR11EL1
	SystemRegisterDBGBVR12EL1
	SystemRegisterDBGBCR12EL1
	SystemRegisterDBGWVR12EL1
	SystemRegisterDBGWCR12EL1
	SystemRegisterDBGBVR13EL1
	SystemRegisterDBGBCR13EL1
	SystemRegisterDBGWVR13EL1
	SystemRegisterDBGWCR13EL1
	SystemRegisterDBGBVR14EL1
	SystemRegisterDBGBCR14EL1
	SystemRegisterDBGWVR14EL1
	SystemRegisterDBGWCR14EL1
	SystemRegisterDBGBVR15EL1
	SystemRegisterDBGBCR15EL1
	SystemRegisterDBGWVR15EL1
	SystemRegisterDBGWCR15EL1
	SystemRegisterMIDREL1
	SystemRegisterMPIDREL1
	SystemRegisterIDAA64PFR0EL1
	SystemRegisterIDAA64PFR1EL1
	SystemRegisterIDAA64DFR0EL1
	SystemRegisterIDAA64DFR1EL1
	SystemRegisterIDAA64ISAR0EL1
	SystemRegisterIDAA64ISAR1EL1
	SystemRegisterIDAA64MMFR0EL1
	SystemRegisterIDAA64MMFR1EL1
	SystemRegisterIDAA64MMFR2EL1
	SystemRegisterSCTLREL1
	SystemRegisterCPACREL1
	SystemRegisterTTBR0EL1
	SystemRegisterTTBR1EL1
	SystemRegisterTCREL1
	SystemRegisterAPIAKeyLoEL1
	SystemRegisterAPIAKeyHiEL1
	SystemRegisterAPIBKeyLoEL1
	SystemRegisterAPIBKeyHiEL1
	SystemRegisterAPDAKeyLoEL1
	SystemRegisterAPDAKeyHiEL1
	SystemRegisterAPDBKeyLoEL1
	SystemRegisterAPDBKeyHiEL1
	SystemRegisterAPGAKeyLoEL1
	SystemRegisterAPGAKeyHiEL1
	SystemRegisterSPSREL1
	SystemRegisterELREL1
	SystemRegisterSPEL0
	SystemRegisterAFSR0EL1
	SystemRegisterAFSR1EL1
	SystemRegisterESREL1
	SystemRegisterFAREL1
	SystemRegisterPAREL1
	SystemRegisterMAIREL1
	SystemRegisterAMAIREL1
	SystemRegisterVBAREL1
	SystemRegisterCONTEXTIDREL1
	SystemRegisterTPIDREL1
	SystemRegisterCNTKCTLEL1
	SystemRegisterCSSELREL1
	SystemRegisterTPIDREL0
	SystemRegisterTPIDRROEL0
	SystemRegisterCNTVCTLEL0
	SystemRegisterCNTVCVALEL0
	SystemRegisterSPEL1
)

var sysRegisterInfo = [...]struct {
	name string
	reg  bindings.SysReg
}{
	SystemRegisterDBGBVR0EL1:     {"DBGBVR0_EL1", bindings.HV_SYS_REG_DBGBVR0_EL1},
	SystemRegisterDBGBCR0EL1:     {"DBGBCR0_EL1", bindings.HV_SYS_REG_DBGBCR0_EL1},
	SystemRegisterDBGWVR0EL1:     {"DBGWVR0_EL1", bindings.HV_SYS_REG_DBGWVR0_EL1},
	SystemRegisterDBGWCR0EL1:     {"DBGWCR0_EL1", bindings.HV_SYS_REG_DBGWCR0_EL1},
	SystemRegisterDBGBVR1EL1:     {"DBGBVR1_EL1", bindings.HV_SYS_REG_DBGBVR1_EL1},
	SystemRegisterDBGBCR1EL1:     {"DBGBCR1_EL1", bindings.HV_SYS_REG_DBGBCR1_EL1},
	SystemRegisterDBGWVR1EL1:     {"DBGWVR1_EL1", bindings.HV_SYS_REG_DBGWVR1_EL1},
	SystemRegisterDBGWCR1EL1:     {"DBGWCR1_EL1", bindings.HV_SYS_REG_DBGWCR1_EL1},
	SystemRegisterMDCCINTEL1:     {"MDCCINT_EL1", bindings.HV_SYS_REG_MDCCINT_EL1},
	SystemRegisterMDSCREL1:       {"MDSCR_EL1", bindings.HV_SYS_REG_MDSCR_EL1},
	SystemRegisterDBGBVR2EL1:     {"DBGBVR2_EL1", bindings.HV_SYS_REG_DBGBVR2_EL1},
	SystemRegisterDBGBCR2EL1:     {"DBGBCR2_EL1", bindings.HV_SYS_REG_DBGBCR2_EL1},
	SystemRegisterDBGWVR2EL1:     {"DBGWVR2_EL1", bindings.HV_SYS_REG_DBGWVR2_EL1},
	SystemRegisterDBGWCR2EL1:     {"DBGWCR2_EL1", bindings.HV_SYS_REG_DBGWCR2_EL1},
	SystemRegisterDBGBVR3EL1:     {"DBGBVR3_EL1", bindings.HV_SYS_REG_DBGBVR3_EL1},
	SystemRegisterDBGBCR3EL1:     {"DBGBCR3_EL1", bindings.HV_SYS_REG_DBGBCR3_EL1},
	SystemRegisterDBGWVR3EL1:     {"DBGWVR3_EL1", bindings.HV_SYS_REG_DBGWVR3_EL1},
	SystemRegisterDBGWCR3EL1:     {"DBGWCR3_EL1", bindings.HV_SYS_REG_DBGWCR3_EL1},
	SystemRegisterDBGBVR4EL1:     {"DBGBVR4_EL1", bindings.HV_SYS_REG_DBGBVR4_EL1},
	SystemRegisterDBGBCR4EL1:     {"DBGBCR4_EL1", bindings.HV_SYS_REG_DBGBCR4_EL1},
	SystemRegisterDBGWVR4EL1:     {"DBGWVR4_EL1", bindings.HV_SYS_REG_DBGWVR4_EL1},
	SystemRegisterDBGWCR4EL1:     {"DBGWCR4_EL1", bindings.HV_SYS_REG_DBGWCR4_EL1},
	SystemRegisterDBGBVR5EL1:     {"DBGBVR5_EL1", bindings.HV_SYS_REG_DBGBVR5_EL1},
	SystemRegisterDBGBCR5EL1:     {"DBGBCR5_EL1", bindings.HV_SYS_REG_DBGBCR5_EL1},
	SystemRegisterDBGWVR5EL1:     {"DBGWVR5_EL1", bindings.HV_SYS_REG_DBGWVR5_EL1},
	SystemRegisterDBGWCR5EL1:     {"DBGWCR5_EL1", bindings.HV_SYS_REG_DBGWCR5_EL1},
	SystemRegisterDBGBVR6EL1:     {"DBGBVR6_EL1", bindings.HV_SYS_REG_DBGBVR6_EL1},
	SystemRegisterDBGBCR6EL1:     {"DBGBCR6_EL1", bindings.HV_SYS_REG_DBGBCR6_EL1},
	SystemRegisterDBGWVR6EL1:     {"DBGWVR6_EL1", bindings.HV_SYS_REG_DBGWVR6_EL1},
	SystemRegisterDBGWCR6EL1:     {"DBGWCR6_EL1", bindings.HV_SYS_REG_DBGWCR6_EL1},
	SystemRegisterDBGBVR7EL1:     {"DBGBVR7_EL1", bindings.HV_SYS_REG_DBGBVR7_EL1},
	SystemRegisterDBGBCR7EL1:     {"DBGBCR7_EL1", bindings.HV_SYS_REG_DBGBCR7_EL1},
	SystemRegisterDBGWVR7EL1:     {"DBGWVR7_EL1", bindings.HV_SYS_REG_DBGWVR7_EL1},
	SystemRegisterDBGWCR7EL1:     {"DBGWCR7_EL1", bindings.HV_SYS_REG_DBGWCR7_EL1},
	SystemRegisterDBGBVR8EL1:     {"DBGBVR8_EL1", bindings.HV_SYS_REG_DBGBVR8_EL1},
	SystemRegisterDBGBCR8EL1:     {"DBGBCR8_EL1", bindings.HV_SYS_REG_DBGBCR8_EL1},
	SystemRegisterDBGWVR8EL1:     {"DBGWVR8_EL1", bindings.HV_SYS_REG_DBGWVR8_EL1},
	SystemRegisterDBGWCR8EL1:     {"DBGWCR8_EL1", bindings.HV_SYS_REG_DBGWCR8_EL1},
	SystemRegisterDBGBVR9EL1:     {"DBGBVR9_EL1", bindings.HV_SYS_REG_DBGBVR9_EL1},
	SystemRegisterDBGBCR9EL1:     {"DBGBCR9_EL1", bindings.HV_SYS_REG_DBGBCR9_EL1},
	SystemRegisterDBGWVR9EL1:     {"DBGWVR9_EL1", bindings.HV_SYS_REG_DBGWVR9_EL1},
	SystemRegisterDBGWCR9EL1:     {"DBGWCR9_EL1", bindings.HV_SYS_REG_DBGWCR9_EL1},
	SystemRegisterDBGBVR10EL1:    {"DBGBVR10_EL1", bindings.HV_SYS_REG_DBGBVR10_EL1},
	SystemRegisterDBGBCR10EL1:    {"DBGBCR10_EL1", bindings.HV_SYS_REG_DBGBCR10_EL1},
	SystemRegisterDBGWVR10EL1:    {"DBGWVR10_EL1", bindings.HV_SYS_REG_DBGWVR10_EL1},
	SystemRegisterDBGWCR10EL1:    {"DBGWCR10_EL1", bindings.HV_SYS_REG_DBGWCR10_EL1},
	SystemRegisterDBGBVR11EL1:    {"DBGBVR11_EL1", bindings.HV_SYS_REG_DBGBVR11_EL1},
	SystemRegisterDBGBCR11EL1:    {"DBGBCR11_EL1", bindings.HV_SYS_REG_DBGBCR11_EL1},
	SystemRegisterDBGWVR11EL1:    {"DBGWVR11_EL1", bindings.HV_SYS_REG_DBGWVR11_EL1},
	SystemRegisterDBGWCR11EL1:    {"DBGWCR11_EL1", bindings.HV_SYS_REG_DBGWCR11_EL1},
	SystemRegisterDBGBVR12EL1:    {"DBGBVR12_EL1", bindings.HV_SYS_REG_DBGBVR12_EL1},
	SystemRegisterDBGBCR12EL1:    {"DBGBCR12_EL1", bindings.HV_SYS_REG_DBGBCR12_EL1},
	SystemRegisterDBGWVR12EL1:    {"DBGWVR12_EL1", bindings.HV_SYS_REG_DBGWVR12_EL1},
	SystemRegisterDBGWCR12EL1:    {"DBGWCR12_EL1", bindings.HV_SYS_REG_DBGWCR12_EL1},
	SystemRegisterDBGBVR13EL1:    {"DBGBVR13_EL1", bindings.HV_SYS_REG_DBGBVR13_EL1},
	SystemRegisterDBGBCR13EL1:    {"DBGBCR13_EL1", bindings.HV_SYS_REG_DBGBCR13_EL1},
	SystemRegisterDBGWVR13EL1:    {"DBGWVR13_EL1", bindings.HV_SYS_REG_DBGWVR13_EL1},
	SystemRegisterDBGWCR13EL1:    {"DBGWCR13_EL1", bindings.HV_SYS_REG_DBGWCR13_EL1},
	SystemRegisterDBGBVR14EL1:    {"DBGBVR14_EL1", bindings.HV_SYS_REG_DBGBVR14_EL1},
	SystemRegisterDBGBCR14EL1:    {"DBGBCR14_EL1", bindings.HV_SYS_REG_DBGBCR14_EL1},
	SystemRegisterDBGWVR14EL1:    {"DBGWVR14_EL1", bindings.HV_SYS_REG_DBGWVR14_EL1},
	SystemRegisterDBGWCR14EL1:    {"DBGWCR14_EL1", bindings.HV_SYS_REG_DBGWCR14_EL1},
	SystemRegisterDBGBVR15EL1:    {"DBGBVR15_EL1", bindings.HV_SYS_REG_DBGBVR15_EL1},
	SystemRegisterDBGBCR15EL1:    {"DBGBCR15_EL1", bindings.HV_SYS_REG_DBGBCR15_EL1},
	SystemRegisterDBGWVR15EL1:    {"DBGWVR15_EL1", bindings.HV_SYS_REG_DBGWVR15_EL1},
	SystemRegisterDBGWCR15EL1:    {"DBGWCR15_EL1", bindings.HV_SYS_REG_DBGWCR15_EL1},
	SystemRegisterMIDREL1:        {"MIDR_EL1", bindings.HV_SYS_REG_MIDR_EL1},
	SystemRegisterMPIDREL1:       {"MPIDR_EL1", bindings.HV_SYS_REG_MPIDR_EL1},
	SystemRegisterIDAA64PFR0EL1:  {"ID_AA64PFR0_EL1", bindings.HV_SYS_REG_ID_AA64PFR0_EL1},
	SystemRegisterIDAA64PFR1EL1:  {"ID_AA64PFR1_EL1", bindings.HV_SYS_REG_ID_AA64PFR1_EL1},
	SystemRegisterIDAA64DFR0EL1:  {"ID_AA64DFR0_EL1", bindings.HV_SYS_REG_ID_AA64DFR0_EL1},
	SystemRegisterIDAA64DFR1EL1:  {"ID_AA64DFR1_EL1", bindings.HV_SYS_REG_ID_AA64DFR1_EL1},
	SystemRegisterIDAA64ISAR0EL1: {"ID_AA64ISAR0_EL1", bindings.HV_SYS_REG_ID_AA64ISAR0_EL1},
	SystemRegisterIDAA64ISAR1EL1: {"ID_AA64ISAR1_EL1", bindings.HV_SYS_REG_ID_AA64ISAR1_EL1},
	SystemRegisterIDAA64MMFR0EL1: {"ID_AA64MMFR0_EL1", bindings.HV_SYS_REG_ID_AA64MMFR0_EL1},
	SystemRegisterIDAA64MMFR1EL1: {"ID_AA64MMFR1_EL1", bindings.HV_SYS_REG_ID_AA64MMFR1_EL1},
	SystemRegisterIDAA64MMFR2EL1: {"ID_AA64MMFR2_EL1", bindings.HV_SYS_REG_ID_AA64MMFR2_EL1},
	SystemRegisterSCTLREL1:       {"SCTLR_EL1", bindings.HV_SYS_REG_SCTLR_EL1},
	SystemRegisterCPACREL1:       {"CPACR_EL1", bindings.HV_SYS_REG_CPACR_EL1},
	SystemRegisterTTBR0EL1:       {"TTBR0_EL1", bindings.HV_SYS_REG_TTBR0_EL1},
	SystemRegisterTTBR1EL1:       {"TTBR1_EL1", bindings.HV_SYS_REG_TTBR1_EL1},
	SystemRegisterTCREL1:         {"TCR_EL1", bindings.HV_SYS_REG_TCR_EL1},
	SystemRegisterAPIAKeyLoEL1:   {"APIAKEYLO_EL1", bindings.HV_SYS_REG_APIAKEYLO_EL1},
	SystemRegisterAPIAKeyHiEL1:   {"APIAKEYHI_EL1", bindings.HV_SYS_REG_APIAKEYHI_EL1},
	SystemRegisterAPIBKeyLoEL1:   {"APIBKEYLO_EL1", bindings.HV_SYS_REG_APIBKEYLO_EL1},
	SystemRegisterAPIBKeyHiEL1:   {"APIBKEYHI_EL1", bindings.HV_SYS_REG_APIBKEYHI_EL1},
	SystemRegisterAPDAKeyLoEL1:   {"APDAKEYLO_EL1", bindings.HV_SYS_REG_APDAKEYLO_EL1},
	SystemRegisterAPDAKeyHiEL1:   {"APDAKEYHI_EL1", bindings.HV_SYS_REG_APDAKEYHI_EL1},
	SystemRegisterAPDBKeyLoEL1:   {"APDBKEYLO_EL1", bindings.HV_SYS_REG_APDBKEYLO_EL1},
	SystemRegisterAPDBKeyHiEL1:   {"APDBKEYHI_EL1", bindings.HV_SYS_REG_APDBKEYHI_EL1},
	SystemRegisterAPGAKeyLoEL1:   {"APGAKEYLO_EL1", bindings.HV_SYS_REG_APGAKEYLO_EL1},
	SystemRegisterAPGAKeyHiEL1:   {"APGAKEYHI_EL1", bindings.HV_SYS_REG_APGAKEYHI_EL1},
	SystemRegisterSPSREL1:        {"SPSR_EL1", bindings.HV_SYS_REG_SPSR_EL1},
	SystemRegisterELREL1:         {"ELR_EL1", bindings.HV_SYS_REG_ELR_EL1},
	SystemRegisterSPEL0:          {"SP_EL0", bindings.HV_SYS_REG_SP_EL0},
	SystemRegisterAFSR0EL1:       {"AFSR0_EL1", bindings.HV_SYS_REG_AFSR0_EL1},
	SystemRegisterAFSR1EL1:       {"AFSR1_EL1", bindings.HV_SYS_REG_AFSR1_EL1},
	SystemRegisterESREL1:         {"ESR_EL1", bindings.HV_SYS_REG_ESR_EL1},
	SystemRegisterFAREL1:         {"FAR_EL1", bindings.HV_SYS_REG_FAR_EL1},
	SystemRegisterPAREL1:         {"PAR_EL1", bindings.HV_SYS_REG_PAR_EL1},
	SystemRegisterMAIREL1:        {"MAIR_EL1", bindings.HV_SYS_REG_MAIR_EL1},
	SystemRegisterAMAIREL1:       {"AMAIR_EL1", bindings.HV_SYS_REG_AMAIR_EL1},
	SystemRegisterVBAREL1:        {"VBAR_EL1", bindings.HV_SYS_REG_VBAR_EL1},
	SystemRegisterCONTEXTIDREL1:  {"CONTEXTIDR_EL1", bindings.HV_SYS_REG_CONTEXTIDR_EL1},
	SystemRegisterTPIDREL1:       {"TPIDR_EL1", bindings.HV_SYS_REG_TPIDR_EL1},
	SystemRegisterCNTKCTLEL1:     {"CNTKCTL_EL1", bindings.HV_SYS_REG_CNTKCTL_EL1},
	SystemRegisterCSSELREL1:      {"CSSELR_EL1", bindings.HV_SYS_REG_CSSELR_EL1},
	SystemRegisterTPIDREL0:       {"TPIDR_EL0", bindings.HV_SYS_REG_TPIDR_EL0},
	SystemRegisterTPIDRROEL0:     {"TPIDRRO_EL0", bindings.HV_SYS_REG_TPIDRRO_EL0},
	SystemRegisterCNTVCTLEL0:     {"CNTV_CTL_EL0", bindings.HV_SYS_REG_CNTV_CTL_EL0},
	SystemRegisterCNTVCVALEL0:    {"CNTV_CVAL_EL0", bindings.HV_SYS_REG_CNTV_CVAL_EL0},
	SystemRegisterSPEL1:          {"SP_EL1", bindings.HV_SYS_REG_SP_EL1},
}

func (r SystemRegister) String() string {
	if r >= 0 && int(r) < len(sysRegisterInfo) {
		return sysRegisterInfo[r].name
	}
	return fmt.Sprintf("sysreg(%d)", int(r))
}

func (r SystemRegister) native() (bindings.SysReg, bool) {
	if r < 0 || int(r) >= len(sysRegisterInfo) {
		return 0, false
	}
	return sysRegisterInfo[r].reg, true
}

// SIMDFPRegister selects one of the ARM SIMD&FP registers Q0 through Q31.
type SIMDFPRegister int

const (
	SIMDFPRegisterQ0 SIMDFPRegister = iota
	SIMDFPRegisterQ1
	SIMDFPRegisterQ2
	SIMDFPRegisterQ3
	SIMDFPRegisterQ4
	SIMDFPRegisterQ5
	SIMDFPRegisterQ6
	SIMDFPRegisterQ7
	SIMDFPRegisterQ8
	SIMDFPRegisterQ9
	SIMDFPRegisterQ10
	SIMDFPRegisterQ11
	SIMDFPRegisterQ12
	SIMDFPRegisterQ13
	SIMDFPRegisterQ14
	SIMDFPRegisterQ15
	SIMDFPRegisterQ16
	SIMDFPRegisterQ17
	SIMDFPRegisterQ18
	SIMDFPRegisterQ19
	SIMDFPRegisterQ20
	SIMDFPRegisterQ21
	SIMDFPRegisterQ22
	SIMDFPRegisterQ23
	SIMDFPRegisterQ24
	SIMDFPRegisterQ25
	SIMDFPRegisterQ26
	SIMDFPRegisterQ27
	SIMDFPRegisterQ28
	SIMDFPRegisterQ29
	SIMDFPRegisterQ30
	SIMDFPRegisterQ31
)

func (r SIMDFPRegister) String() string {
	if r >= SIMDFPRegisterQ0 && r <= SIMDFPRegisterQ31 {
		return fmt.Sprintf("q%d", int(r))
	}
	return fmt.Sprintf("simdreg(%d)", int(r))
}

func (r SIMDFPRegister) native() (bindings.SIMDReg, bool) {
	if r < SIMDFPRegisterQ0 || r > SIMDFPRegisterQ31 {
		return 0, false
	}
	return bindings.SIMDReg(r), true
}

// FeatureRegister selects a host CPU feature register readable through a
// VirtualCpuConfiguration.
type FeatureRegister int

const (
	FeatureRegisterIDAA64DFR0EL1 FeatureRegister = iota
	FeatureRegisterIDAA64DFR1EL1
	FeatureRegisterIDAA64ISAR0EL1
	FeatureRegisterIDAA64ISAR1EL1
	FeatureRegisterIDAA64MMFR0EL1
	FeatureRegisterIDAA64MMFR1EL1
	FeatureRegisterIDAA64MMFR2EL1
	FeatureRegisterIDAA64PFR0EL1
	FeatureRegisterIDAA64PFR1EL1
	FeatureRegisterCTREL0
	FeatureRegisterCLIDREL1
	FeatureRegisterDCZIDEL0
)

var featureRegisterInfo = [...]struct {
	name string
	reg  bindings.FeatureReg
}{
	FeatureRegisterIDAA64DFR0EL1:  {"ID_AA64DFR0_EL1", bindings.HV_FEATURE_REG_ID_AA64DFR0_EL1},
	FeatureRegisterIDAA64DFR1EL1:  {"ID_AA64DFR1_EL1", bindings.HV_FEATURE_REG_ID_AA64DFR1_EL1},
	FeatureRegisterIDAA64ISAR0EL1: {"ID_AA64ISAR0_EL1", bindings.HV_FEATURE_REG_ID_AA64ISAR0_EL1},
	FeatureRegisterIDAA64ISAR1EL1: {"ID_AA64ISAR1_EL1", bindings.HV_FEATURE_REG_ID_AA64ISAR1_EL1},
	FeatureRegisterIDAA64MMFR0EL1: {"ID_AA64MMFR0_EL1", bindings.HV_FEATURE_REG_ID_AA64MMFR0_EL1},
	FeatureRegisterIDAA64MMFR1EL1: {"ID_AA64MMFR1_EL1", bindings.HV_FEATURE_REG_ID_AA64MMFR1_EL1},
	FeatureRegisterIDAA64MMFR2EL1: {"ID_AA64MMFR2_EL1", bindings.HV_FEATURE_REG_ID_AA64MMFR2_EL1},
	FeatureRegisterIDAA64PFR0EL1:  {"ID_AA64PFR0_EL1", bindings.HV_FEATURE_REG_ID_AA64PFR0_EL1},
	FeatureRegisterIDAA64PFR1EL1:  {"ID_AA64PFR1_EL1", bindings.HV_FEATURE_REG_ID_AA64PFR1_EL1},
	FeatureRegisterCTREL0:         {"CTR_EL0", bindings.HV_FEATURE_REG_CTR_EL0},
	FeatureRegisterCLIDREL1:       {"CLIDR_EL1", bindings.HV_FEATURE_REG_CLIDR_EL1},
	FeatureRegisterDCZIDEL0:       {"DCZID_EL0", bindings.HV_FEATURE_REG_DCZID_EL0},
}

func (r FeatureRegister) String() string {
	if r >= 0 && int(r) < len(featureRegisterInfo) {
		return featureRegisterInfo[r].name
	}
	return fmt.Sprintf("featurereg(%d)", int(r))
}

func (r FeatureRegister) native() (bindings.FeatureReg, bool) {
	if r < 0 || int(r) >= len(featureRegisterInfo) {
		return 0, false
	}
	return featureRegisterInfo[r].reg, true
}

// Registers returns every Register selector, in table order. The slice is
// fresh on each call.
func Registers() []Register {
	out := make([]Register, len(registerInfo))
	for i := range out {
		out[i] = Register(i)
	}
	return out
}

// SystemRegisters returns every SystemRegister selector, in table order.
func SystemRegisters() []SystemRegister {
	out := make([]SystemRegister, len(sysRegisterInfo))
	for i := range out {
		out[i] = SystemRegister(i)
	}
	return out
}

// SIMDFPRegisters returns Q0 through Q31.
func SIMDFPRegisters() []SIMDFPRegister {
	out := make([]SIMDFPRegister, 32)
	for i := range out {
		out[i] = SIMDFPRegister(i)
	}
	return out
}

// FeatureRegisters returns every FeatureRegister selector, in table order.
func FeatureRegisters() []FeatureRegister {
	out := make([]FeatureRegister, len(featureRegisterInfo))
	for i := range out {
		out[i] = FeatureRegister(i)
	}
	return out
}

// registerFromNative resolves a native selector back to the canonical
// Register. Aliased selectors resolve to their first table entry, so
// HV_REG_X29 comes back as RegisterX29 rather than RegisterFP.
func registerFromNative(reg bindings.Reg) (Register, bool) {
	for r := range registerInfo {
		if registerInfo[r].reg == reg {
			return Register(r), true
		}
	}
	return 0, false
}

func sysRegisterFromNative(reg bindings.SysReg) (SystemRegister, bool) {
	for r := range sysRegisterInfo {
		if sysRegisterInfo[r].reg == reg {
			return SystemRegister(r), true
		}
	}
	return 0, false
}

func simdFPRegisterFromNative(reg bindings.SIMDReg) (SIMDFPRegister, bool) {
	if reg > bindings.HV_SIMD_FP_REG_Q31 {
		return 0, false
	}
	return SIMDFPRegister(reg), true
}
