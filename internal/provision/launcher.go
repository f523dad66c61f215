// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"debug/elf"
	"fmt"
	"runtime"
	"strings"
)

// machines maps a GOARCH to the ELF machine a linux launcher for it carries.
var machines = map[string]elf.Machine{
	"amd64":   elf.EM_X86_64,
	"arm64":   elf.EM_AARCH64,
	"386":     elf.EM_386,
	"arm":     elf.EM_ARM,
	"ppc64le": elf.EM_PPC64,
	"s390x":   elf.EM_S390,
	"riscv64": elf.EM_RISCV,
}

// targetArch returns the architecture of an os/arch[/variant] platform.
// Empty means the engine's default, which is linux on the host architecture.
func targetArch(platform string) (string, error) {
	if platform == "" {
		return runtime.GOARCH, nil
	}
	osName, rest, ok := strings.Cut(platform, "/")
	if !ok || osName != "linux" || rest == "" {
		return "", fmt.Errorf("unsupported build platform %q (want linux/<arch>)", platform)
	}
	arch, _, _ := strings.Cut(rest, "/")
	return arch, nil
}

// checkLauncher verifies that path is a linux executable the runner stage
// can run on platform.
func checkLauncher(path, platform string) error {
	arch, err := targetArch(platform)
	if err != nil {
		return &MissingArtifactError{Pattern: path, Reason: err.Error()}
	}
	want, ok := machines[arch]
	if !ok {
		return &MissingArtifactError{Pattern: path, Reason: "no launcher machine type known for architecture " + arch}
	}

	f, err := elf.Open(path)
	if err != nil {
		return &MissingArtifactError{Pattern: path, Reason: "launcher is not a linux ELF binary; set build.launcher_binary"}
	}
	defer func() { _ = f.Close() }() // Read-only; close error non-critical

	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return &MissingArtifactError{Pattern: path, Reason: "launcher is not an executable (" + f.Type.String() + ")"}
	}
	if f.Machine != want {
		return &MissingArtifactError{
			Pattern: path,
			Reason:  fmt.Sprintf("launcher is built for %s, the image targets linux/%s", f.Machine, arch),
		}
	}
	return nil
}
