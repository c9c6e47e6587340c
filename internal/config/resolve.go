package config

import (
	"fmt"
	"path/filepath"

	"github.com/tinyrange/bootimg/internal/disk"
	"github.com/tinyrange/bootimg/internal/elfload"
	"github.com/tinyrange/bootimg/internal/gdt"
	"github.com/tinyrange/bootimg/internal/toolchain"
	"github.com/tinyrange/bootimg/internal/vectors"
	"github.com/tinyrange/bootimg/internal/verify"
)

// Dir is the directory relative paths are resolved against.
func (m *Manifest) Dir() string { return m.dir }

func (m *Manifest) resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	if !filepath.IsAbs(base) {
		base = filepath.Join(m.dir, base)
	}
	return filepath.Join(base, p)
}

// AsmPath resolves a file in the assembly directory.
func (m *Manifest) AsmPath(name string) string {
	return m.resolve(m.Paths.AsmDir, name)
}

// BuildPath resolves a file in the build directory.
func (m *Manifest) BuildPath(name string) string {
	return m.resolve(m.Paths.BuildDir, name)
}

func (m *Manifest) ImagePath() string { return m.BuildPath(m.Paths.Image) }

// ELF returns the extractor configuration.
func (m *Manifest) ELF() elfload.Config {
	return elfload.Config{LinkBase: uint32(m.LinkBase)}
}

func (m *Manifest) GDTLayout() gdt.Layout {
	return gdt.Layout{
		Offset:   m.GDT.Offset,
		Entries:  m.GDT.Entries,
		CodeSlot: m.GDT.CodeSlot,
		DataSlot: m.GDT.DataSlot,
	}
}

// Descriptors returns the code and data descriptors to patch into the loader.
// Omitted descriptors default to flat 4 GiB kernel segments.
func (m *Manifest) Descriptors() (code, data gdt.Descriptor, err error) {
	code = gdt.FlatCode(gdt.PrivilegeKernel)
	data = gdt.FlatData(gdt.PrivilegeKernel)
	if m.GDT.Code != nil {
		if code, err = m.GDT.Code.Descriptor(); err != nil {
			return code, data, fmt.Errorf("gdt.code: %w", err)
		}
	}
	if m.GDT.Data != nil {
		if data, err = m.GDT.Data.Descriptor(); err != nil {
			return code, data, fmt.Errorf("gdt.data: %w", err)
		}
	}
	return code, data, nil
}

// Descriptor converts the declarative form. Limits above 20 bits are rejected
// later by the encoder rather than truncated here.
func (s DescriptorSpec) Descriptor() (gdt.Descriptor, error) {
	d := gdt.Descriptor{
		Base:       uint32(s.Base),
		Limit:      uint32(s.Limit),
		ReadWrite:  s.ReadWrite,
		Executable: s.Executable,
		System:     s.System,
		Conforming: s.Conforming,
		GrowDown:   s.GrowDown,
	}
	if s.Base > 0xFFFFFFFF {
		return d, fmt.Errorf("base %#x does not fit in 32 bits", uint64(s.Base))
	}
	if s.Limit > 0xFFFFFFFF {
		return d, fmt.Errorf("limit %#x does not fit in 32 bits", uint64(s.Limit))
	}

	switch s.Privilege {
	case "", "kernel":
		d.Privilege = gdt.PrivilegeKernel
	case "user":
		d.Privilege = gdt.PrivilegeUser
	default:
		return d, fmt.Errorf("unknown privilege %q (want kernel or user)", s.Privilege)
	}

	switch s.Granularity {
	case "", "page", "4k":
		d.Granularity = gdt.GranularityPage
	case "byte":
		d.Granularity = gdt.GranularityByte
	default:
		return d, fmt.Errorf("unknown granularity %q (want byte or page)", s.Granularity)
	}

	switch s.Mode {
	case "", "protected":
		d.Mode = gdt.ModeProtected
	case "real":
		d.Mode = gdt.ModeReal
	case "long":
		d.Mode = gdt.ModeLong
	default:
		return d, fmt.Errorf("unknown mode %q (want real, protected or long)", s.Mode)
	}
	return d, nil
}

func (m *Manifest) VectorOptions() vectors.Options {
	return vectors.Options{
		Marker:        m.Vectors.Marker,
		EntriesLabel:  m.Vectors.EntriesLabel,
		DispatchLabel: m.Vectors.DispatchLabel,
	}
}

func (m *Manifest) IncludeLines() disk.IncludeLines {
	return disk.IncludeLines{
		LoaderSectors: m.Include.LoaderSectorsLine,
		KernelSectors: m.Include.KernelSectorsLine,
	}
}

func (m *Manifest) DiskOptions(progress bool) disk.Options {
	return disk.Options{Zero: m.Disk.Zero, Progress: progress}
}

// VerifyConfig returns the verifier configuration. The link base is shared with the
// extractor so both agree on where byte 0 of the flat image belongs.
func (m *Manifest) VerifyConfig() verify.Config {
	cfg := verify.Config{
		LinkBase:   uint32(m.LinkBase),
		AddrOffset: uint32(m.Verify.AddrOffset),
	}
	if m.Verify.ImageBase != nil {
		base := uint64(*m.Verify.ImageBase)
		cfg.ImageBase = &base
	}
	return cfg
}

// Tools returns the process-backed toolchain with paths resolved.
func (m *Manifest) Tools() *toolchain.Exec {
	tc := m.Toolchain
	return &toolchain.Exec{
		Compiler: toolchain.CompilerConfig{
			Command: tc.Compiler.Command,
			Dir:     m.resolve(m.dir, tc.Compiler.Dir),
			Output:  tc.Compiler.Output,
			Env:     tc.Compiler.Env,
		},
		Assembler:     tc.Assembler,
		AssemblerArgs: tc.AssemblerArgs,
	}
}
