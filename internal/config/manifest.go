// Package config loads the bootimg.yaml build manifest.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v3"
)

const ManifestFilename = "bootimg.yaml"

// Hex is an integer that may be written in YAML as decimal or 0x-prefixed hex.
type Hex uint64

// UnmarshalYAML implements yaml.Unmarshaler for Hex.
func (h *Hex) UnmarshalYAML(value *yaml.Node) error {
	v, err := strconv.ParseUint(value.Value, 0, 64)
	if err != nil {
		return fmt.Errorf("line %d: invalid number %q", value.Line, value.Value)
	}
	*h = Hex(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Hex.
func (h Hex) MarshalYAML() (any, error) {
	return fmt.Sprintf("%#x", uint64(h)), nil
}

// Manifest describes one boot image build. Relative paths are resolved
// against the directory holding the manifest.
type Manifest struct {
	// LinkBase is the load origin the kernel is linked at.
	LinkBase Hex `yaml:"link_base"`

	Paths     Paths         `yaml:"paths"`
	Toolchain ToolchainSpec `yaml:"toolchain"`
	GDT       GDTSpec       `yaml:"gdt"`
	Vectors   VectorSpec    `yaml:"vectors"`
	Include   IncludeSpec   `yaml:"include"`
	Disk      DiskSpec      `yaml:"disk"`
	Emulator  EmulatorSpec  `yaml:"emulator,omitempty"`
	Verify    VerifySpec    `yaml:"verify,omitempty"`

	dir string
}

type Paths struct {
	// AsmDir holds the loader template, boot sector source and include file.
	AsmDir string `yaml:"asm_dir"`
	// LoaderTemplate is the hand-written loader containing the marker line.
	LoaderTemplate string `yaml:"loader_template"`
	// LoaderSource is where the generated loader is written.
	LoaderSource string `yaml:"loader_source"`
	BootSource   string `yaml:"boot_source"`
	Include      string `yaml:"include"`
	BuildDir     string `yaml:"build_dir"`
	Image        string `yaml:"image"`
}

type CompilerSpec struct {
	Command []string `yaml:"command"`
	Dir     string   `yaml:"dir"`
	Output  string   `yaml:"output"`
	Env     []string `yaml:"env,omitempty"`
}

type ToolchainSpec struct {
	Compiler            CompilerSpec `yaml:"compiler"`
	Assembler           string       `yaml:"assembler"`
	AssemblerArgs       []string     `yaml:"assembler_args"`
	MinAssemblerVersion string       `yaml:"min_assembler_version,omitempty"`
}

type DescriptorSpec struct {
	Base        Hex    `yaml:"base"`
	Limit       Hex    `yaml:"limit"`
	ReadWrite   bool   `yaml:"rw"`
	Executable  bool   `yaml:"executable"`
	System      bool   `yaml:"system,omitempty"`
	Privilege   string `yaml:"privilege"`
	Granularity string `yaml:"granularity"`
	Mode        string `yaml:"mode"`
	Conforming  bool   `yaml:"conforming,omitempty"`
	GrowDown    bool   `yaml:"grow_down,omitempty"`
}

type GDTSpec struct {
	Offset   int             `yaml:"offset"`
	Entries  int             `yaml:"entries"`
	CodeSlot int             `yaml:"code_slot"`
	DataSlot int             `yaml:"data_slot"`
	Code     *DescriptorSpec `yaml:"code,omitempty"`
	Data     *DescriptorSpec `yaml:"data,omitempty"`
}

type VectorSpec struct {
	Marker        string `yaml:"marker"`
	EntriesLabel  string `yaml:"entries_label"`
	DispatchLabel string `yaml:"dispatch_label"`
}

type IncludeSpec struct {
	LoaderSectorsLine int `yaml:"loader_sectors_line"`
	KernelSectorsLine int `yaml:"kernel_sectors_line"`
}

type DiskSpec struct {
	// Zero clears the image before writing. Defaults to true.
	Zero           bool `yaml:"zero"`
	SignBootSector bool `yaml:"sign_boot_sector,omitempty"`
}

type EmulatorSpec struct {
	// Bochsrc is patched with a host-specific display library when set.
	Bochsrc     string `yaml:"bochsrc,omitempty"`
	DisplayLine int    `yaml:"display_line,omitempty"`
}

type VerifySpec struct {
	// AddrOffset is subtracted from each segment's virtual address to find it
	// in a memory snapshot, e.g. a higher-half base.
	AddrOffset Hex `yaml:"addr_offset,omitempty"`
	// ImageBase, when set, is where the whole flat kernel image should sit in
	// the snapshot.
	ImageBase *Hex `yaml:"image_base,omitempty"`
}

// Default returns the manifest used when fields are omitted. Parse decodes
// on top of it, so only keys missing from the file keep these values.
func Default() Manifest {
	return Manifest{
		LinkBase: 0x100000,
		Paths: Paths{
			AsmDir:         "asm",
			LoaderTemplate: "loader.S",
			LoaderSource:   "loader.gen.S",
			BootSource:     "mbr.S",
			Include:        "boot.inc",
			BuildDir:       "build",
			Image:          "disk.img",
		},
		Toolchain: ToolchainSpec{
			Compiler: CompilerSpec{
				Command: []string{"cargo", "build", "--release"},
				Dir:     "kernel",
				Output:  "target/release/kernel",
			},
			Assembler:     "nasm",
			AssemblerArgs: []string{"-f", "bin"},
		},
		GDT: GDTSpec{
			Offset:   8,
			Entries:  4,
			CodeSlot: 1,
			DataSlot: 2,
		},
		Vectors: VectorSpec{
			Marker:        ";;; IDT_CODE",
			EntriesLabel:  "int_entries",
			DispatchLabel: "int_dispatch",
		},
		Include: IncludeSpec{
			LoaderSectorsLine: 3,
			KernelSectorsLine: 4,
		},
		Disk:     DiskSpec{Zero: true},
		Emulator: EmulatorSpec{DisplayLine: 92},
	}
}

// normalize restores defaults for fields a file set to an empty value that
// has no meaning of its own. Numeric fields are left alone: zero is a valid
// link base, table offset or line number.
func (m *Manifest) normalize() {
	def := Default()
	p, dp := &m.Paths, def.Paths
	for _, f := range []struct {
		v *string
		d string
	}{
		{&p.AsmDir, dp.AsmDir},
		{&p.LoaderTemplate, dp.LoaderTemplate},
		{&p.LoaderSource, dp.LoaderSource},
		{&p.BootSource, dp.BootSource},
		{&p.Include, dp.Include},
		{&p.BuildDir, dp.BuildDir},
		{&p.Image, dp.Image},
		{&m.Toolchain.Compiler.Dir, def.Toolchain.Compiler.Dir},
		{&m.Toolchain.Compiler.Output, def.Toolchain.Compiler.Output},
		{&m.Toolchain.Assembler, def.Toolchain.Assembler},
		{&m.Vectors.Marker, def.Vectors.Marker},
		{&m.Vectors.EntriesLabel, def.Vectors.EntriesLabel},
		{&m.Vectors.DispatchLabel, def.Vectors.DispatchLabel},
	} {
		if *f.v == "" {
			*f.v = f.d
		}
	}
	if len(m.Toolchain.Compiler.Command) == 0 {
		m.Toolchain.Compiler.Command = def.Toolchain.Compiler.Command
	}
	if m.Toolchain.AssemblerArgs == nil {
		m.Toolchain.AssemblerArgs = def.Toolchain.AssemblerArgs
	}
}

// applyEnv lets the environment override host-specific settings.
func (m *Manifest) applyEnv() error {
	m.Toolchain.Assembler = env.Str("BOOTIMG_NASM", m.Toolchain.Assembler)
	m.Paths.BuildDir = env.Str("BOOTIMG_BUILD_DIR", m.Paths.BuildDir)
	if s := env.Str("BOOTIMG_LINK_BASE"); s != "" {
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return fmt.Errorf("BOOTIMG_LINK_BASE: invalid number %q", s)
		}
		m.LinkBase = Hex(v)
	}
	return nil
}

func (m *Manifest) validate() error {
	if m.LinkBase > math.MaxUint32 {
		return fmt.Errorf("link_base %#x does not fit in 32 bits", uint64(m.LinkBase))
	}
	if err := m.GDTLayout().Validate(); err != nil {
		return fmt.Errorf("gdt: %w", err)
	}
	inc := m.Include
	if inc.LoaderSectorsLine < 0 || inc.KernelSectorsLine < 0 {
		return fmt.Errorf("include: negative line number (loader %d, kernel %d)", inc.LoaderSectorsLine, inc.KernelSectorsLine)
	}
	if inc.LoaderSectorsLine == inc.KernelSectorsLine {
		return fmt.Errorf("include: loader and kernel sector constants share line %d", inc.LoaderSectorsLine)
	}
	if m.Emulator.DisplayLine < 0 {
		return fmt.Errorf("emulator.display_line %d is negative", m.Emulator.DisplayLine)
	}
	if m.Verify.AddrOffset > math.MaxUint32 {
		return fmt.Errorf("verify.addr_offset %#x does not fit in 32 bits", uint64(m.Verify.AddrOffset))
	}
	return nil
}

// Parse decodes a manifest. dir is used to resolve relative paths.
func Parse(data []byte, dir string) (*Manifest, error) {
	m := Default()
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m.normalize()
	if err := m.applyEnv(); err != nil {
		return nil, err
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	m.dir = dir
	return &m, nil
}

// Load reads path, or ManifestFilename inside path when it is a directory.
func Load(path string) (*Manifest, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, ManifestFilename)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return Parse(data, abs)
}

// WriteTemplate writes the default manifest into dir.
func WriteTemplate(dir string) (string, error) {
	m := Default()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create project dir: %w", err)
	}
	path := filepath.Join(dir, ManifestFilename)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", ManifestFilename, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&m); err != nil {
		return "", fmt.Errorf("encode %s: %w", ManifestFilename, err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", ManifestFilename, err)
	}
	return path, nil
}
