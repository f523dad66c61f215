// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"
)

// ELFExecutable writes a header-only 64-bit little-endian ELF executable for
// machine to dir/name and returns its path. debug/elf parses it; it cannot run.
func ELFExecutable(t testing.TB, dir, name string, machine elf.Machine) string {
	t.Helper()
	hdr := elf.Header64{
		Type:    uint16(elf.ET_EXEC),
		Machine: uint16(machine),
		Version: uint32(elf.EV_CURRENT),
		Ehsize:  uint16(binary.Size(elf.Header64{})),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("encode ELF header: %v", err)
	}
	return MustWriteFile(t, dir, name, buf.Bytes())
}
