//go:build darwin

package vmm

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

const entitledEnvVar = "VMM_HYPERVISOR_SIGNED"

// hypervisorEntitlements is the plist granting hypervisor access.
const hypervisorEntitlements = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>com.apple.security.hypervisor</key>
	<true/>
</dict>
</plist>
`

// EnsureEntitled makes sure the current executable carries the
// com.apple.security.hypervisor entitlement. When it is missing the
// executable is re-signed ad hoc with the entitlement embedded and the
// process re-execs itself; in that case EnsureEntitled does not return. An
// environment marker stops a second re-exec if the check itself is broken.
//
// Call it at the top of main or TestMain before creating a virtual
// machine. Binaries signed through a regular release pipeline already carry
// the entitlement and fall straight through.
func EnsureEntitled() error {
	if os.Getenv(entitledEnvVar) == "1" {
		return nil
	}
	if entitled() {
		return nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("vmm: ensure entitled: %w", err)
	}
	exePath, err = filepath.EvalSymlinks(exePath)
	if err != nil {
		return fmt.Errorf("vmm: ensure entitled: %w", err)
	}

	if err := signSelf(exePath); err != nil {
		return fmt.Errorf("vmm: ensure entitled: %w", err)
	}

	env := append(os.Environ(), entitledEnvVar+"=1")
	return syscall.Exec(exePath, os.Args, env)
}

// entitled reports whether the current executable's signature contains the
// hypervisor entitlement.
func entitled() bool {
	exePath, err := os.Executable()
	if err != nil {
		return false
	}
	out, err := exec.Command("codesign", "-d", "--entitlements", "-", "--xml", exePath).Output()
	if err != nil {
		return false
	}
	return bytes.Contains(out, []byte("com.apple.security.hypervisor"))
}

// signSelf re-signs the executable ad hoc with the hypervisor entitlement
// embedded.
func signSelf(exePath string) error {
	tmp, err := os.CreateTemp("", "entitlements-*.plist")
	if err != nil {
		return fmt.Errorf("create entitlements file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(hypervisorEntitlements); err != nil {
		tmp.Close()
		return fmt.Errorf("write entitlements: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write entitlements: %w", err)
	}

	cmd := exec.Command("codesign", "-f", "-s", "-", "--entitlements", tmp.Name(), exePath)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("codesign: %w", err)
	}
	return nil
}
