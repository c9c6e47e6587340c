package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tinyrange/bootimg/internal/disk"
	"github.com/tinyrange/bootimg/internal/elfload"
	"github.com/tinyrange/bootimg/internal/gdt"
	"github.com/tinyrange/bootimg/internal/vectors"
)

// Measure generates the loader source, builds and flattens the kernel,
// records the kernel's sector count in the include file and assembles the
// loader once to learn its size.
func (p *Pipeline) Measure(ctx context.Context) (*Measurement, error) {
	if err := step("generate-vectors", p.generateLoader); err != nil {
		return nil, err
	}

	var kernel []byte
	if err := step("compile-kernel", func() error {
		elfBin, err := p.Tools.Compile(ctx)
		if err != nil {
			return err
		}
		kernel, err = elfload.Extract(p.ELF, elfBin)
		if err != nil {
			return err
		}
		return p.writeArtifact(KernelImageName, kernel)
	}); err != nil {
		return nil, err
	}
	kernelSectors := disk.SectorsOf(len(kernel))
	slog.Info("kernel image", "bytes", len(kernel), "sectors", kernelSectors)

	if err := step("patch-kernel-sectors", func() error {
		return p.patchInclude(p.Include.KernelSectorsPatch(kernelSectors))
	}); err != nil {
		return nil, err
	}

	var loader []byte
	if err := step("assemble-loader", func() error {
		var err error
		loader, err = p.Tools.Assemble(ctx, p.Paths.LoaderSource)
		return err
	}); err != nil {
		return nil, err
	}

	layout := disk.NewLayout(len(loader), len(kernel))
	slog.Info("provisional layout", "layout", layout.String())
	return &Measurement{KernelImage: kernel, Layout: layout}, nil
}

// Finalize records the loader's sector count, reassembles it against the
// final constants, patches the GDT, assembles the boot sector and writes the
// disk image.
func (p *Pipeline) Finalize(ctx context.Context, m *Measurement) (*Result, error) {
	layout := m.Layout

	if err := step("patch-loader-sectors", func() error {
		return p.patchInclude(p.Include.LoaderSectorsPatch(layout.LoaderSectors))
	}); err != nil {
		return nil, err
	}

	var loader []byte
	if err := step("reassemble-loader", func() error {
		var err error
		loader, err = p.Tools.Assemble(ctx, p.Paths.LoaderSource)
		if err != nil {
			return err
		}
		if got := disk.SectorsOf(len(loader)); got != layout.LoaderSectors {
			return fmt.Errorf("%w: %d sectors, include file says %d", ErrLayoutUnstable, got, layout.LoaderSectors)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := step("patch-gdt", func() error {
		var err error
		loader, err = gdt.Patch(p.GDT, loader, p.Code, p.Data)
		if err != nil {
			return err
		}
		return p.writeArtifact(LoaderName, loader)
	}); err != nil {
		return nil, err
	}

	var boot []byte
	if err := step("assemble-boot-sector", func() error {
		var err error
		boot, err = p.Tools.Assemble(ctx, p.Paths.BootSource)
		if err != nil {
			return err
		}
		if p.SignBoot {
			if boot, err = disk.SignBootSector(boot); err != nil {
				return err
			}
		} else if !disk.HasBootSignature(boot) {
			slog.Warn("boot sector has no 0x55AA signature", "bytes", len(boot))
		}
		return p.writeArtifact(BootName, boot)
	}); err != nil {
		return nil, err
	}

	if err := step("compose-disk", func() error {
		return disk.Compose(p.Paths.Image, layout, disk.Parts{
			Boot:   boot,
			Loader: loader,
			Kernel: m.KernelImage,
		}, p.Disk)
	}); err != nil {
		return nil, err
	}

	slog.Info("disk image written", "path", p.Paths.Image, "layout", layout.String())
	return &Result{
		Layout: layout,
		Boot:   boot,
		Loader: loader,
		Kernel: m.KernelImage,
		Image:  p.Paths.Image,
	}, nil
}

func (p *Pipeline) generateLoader() error {
	tmpl, err := os.ReadFile(p.Paths.LoaderTemplate)
	if err != nil {
		return fmt.Errorf("read loader template: %w", err)
	}
	out, err := vectors.Generate(p.Vectors, string(tmpl))
	if err != nil {
		return err
	}
	if err := os.WriteFile(p.Paths.LoaderSource, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write loader source: %w", err)
	}
	return nil
}

func (p *Pipeline) patchInclude(patch disk.LinePatch) error {
	data, err := os.ReadFile(p.Paths.Include)
	if err != nil {
		return fmt.Errorf("read include file: %w", err)
	}
	out, err := disk.ReplaceLines(data, patch)
	if err != nil {
		return fmt.Errorf("%s: %w", p.Paths.Include, err)
	}
	slog.Debug("patched include file", "line", patch.Line, "text", patch.Text)
	return os.WriteFile(p.Paths.Include, out, 0o644)
}

func (p *Pipeline) writeArtifact(name string, data []byte) error {
	path := filepath.Join(p.Paths.BuildDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
