// Package build runs the boot image pipeline: generate the loader source,
// build and flatten the kernel, size both, back-patch the sector counts,
// assemble, patch the GDT and write the disk.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tinyrange/bootimg/internal/config"
	"github.com/tinyrange/bootimg/internal/disk"
	"github.com/tinyrange/bootimg/internal/elfload"
	"github.com/tinyrange/bootimg/internal/emulator"
	"github.com/tinyrange/bootimg/internal/gdt"
	"github.com/tinyrange/bootimg/internal/toolchain"
	"github.com/tinyrange/bootimg/internal/vectors"
)

// Artifact names inside the build directory.
const (
	KernelImageName = "kernel.bin"
	LoaderName      = "loader.bin"
	BootName        = "mbr.bin"
)

// ErrLayoutUnstable means the loader changed sector count after its own size
// was patched into the include file, so one correction pass was not enough.
var ErrLayoutUnstable = errors.New("loader size changed after sector count was patched")

// StepError names the pipeline step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// Paths are the absolute locations the pipeline reads and writes.
type Paths struct {
	LoaderTemplate string
	LoaderSource   string
	BootSource     string
	Include        string
	BuildDir       string
	Image          string

	// Bochsrc is optional.
	Bochsrc     string
	DisplayLine int
}

// Pipeline holds everything one build needs. It is not modified by Run.
type Pipeline struct {
	Tools toolchain.Toolchain
	Paths Paths

	ELF        elfload.Config
	GDT        gdt.Layout
	Code       gdt.Descriptor
	Data       gdt.Descriptor
	Vectors    vectors.Options
	Include    disk.IncludeLines
	Disk       disk.Options
	SignBoot   bool
	HostOS     string
	CheckTools func(ctx context.Context) error
}

// FromManifest builds a pipeline backed by the real toolchain.
func FromManifest(m *config.Manifest, progress bool) (*Pipeline, error) {
	code, data, err := m.Descriptors()
	if err != nil {
		return nil, err
	}
	tools := m.Tools()
	p := &Pipeline{
		Tools: tools,
		Paths: Paths{
			LoaderTemplate: m.AsmPath(m.Paths.LoaderTemplate),
			LoaderSource:   m.AsmPath(m.Paths.LoaderSource),
			BootSource:     m.AsmPath(m.Paths.BootSource),
			Include:        m.AsmPath(m.Paths.Include),
			BuildDir:       m.BuildPath(""),
			Image:          m.ImagePath(),
		},
		ELF:      m.ELF(),
		GDT:      m.GDTLayout(),
		Code:     code,
		Data:     data,
		Vectors:  m.VectorOptions(),
		Include:  m.IncludeLines(),
		Disk:     m.DiskOptions(progress),
		SignBoot: m.Disk.SignBootSector,
		HostOS:   runtime.GOOS,
	}
	if m.Emulator.Bochsrc != "" {
		p.Paths.Bochsrc = filepath.Join(m.Dir(), m.Emulator.Bochsrc)
		if filepath.IsAbs(m.Emulator.Bochsrc) {
			p.Paths.Bochsrc = m.Emulator.Bochsrc
		}
		p.Paths.DisplayLine = m.Emulator.DisplayLine
	}
	if min := m.Toolchain.MinAssemblerVersion; min != "" {
		p.CheckTools = func(ctx context.Context) error {
			v, err := tools.CheckAssembler(ctx, min)
			if err == nil {
				slog.Info("assembler version ok", "version", v, "min", min)
			}
			return err
		}
	}
	return p, nil
}

// Measurement is the output of the first stage: the flattened kernel and a
// layout whose loader size comes from a provisional assemble.
type Measurement struct {
	KernelImage []byte
	Layout      disk.Layout
}

// Result is what a completed build wrote.
type Result struct {
	Layout disk.Layout
	Boot   []byte
	Loader []byte
	Kernel []byte
	Image  string
}

func step(name string, fn func() error) error {
	slog.Info("build step", "step", name)
	if err := fn(); err != nil {
		return &StepError{Step: name, Err: err}
	}
	return nil
}

// Run performs the whole build. The disk image is only written by the final
// step, so a failed run never leaves a freshly written partial image.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if err := os.MkdirAll(p.Paths.BuildDir, 0o755); err != nil {
		return nil, fmt.Errorf("create build dir: %w", err)
	}
	if p.CheckTools != nil {
		if err := step("check-assembler", func() error { return p.CheckTools(ctx) }); err != nil {
			return nil, err
		}
	}
	if p.Paths.Bochsrc != "" {
		if err := step("emulator-config", p.patchEmulator); err != nil {
			return nil, err
		}
	}

	m, err := p.Measure(ctx)
	if err != nil {
		return nil, err
	}
	return p.Finalize(ctx, m)
}

func (p *Pipeline) patchEmulator() error {
	changed, err := emulator.PatchDisplay(p.Paths.Bochsrc, p.Paths.DisplayLine, p.HostOS)
	if err != nil {
		return err
	}
	if changed {
		slog.Info("patched emulator display library", "file", p.Paths.Bochsrc, "os", p.HostOS)
	}
	return nil
}
