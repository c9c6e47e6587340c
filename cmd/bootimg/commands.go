package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/tinyrange/bootimg/internal/build"
	"github.com/tinyrange/bootimg/internal/config"
	"github.com/tinyrange/bootimg/internal/disk"
	"github.com/tinyrange/bootimg/internal/elfload"
	"github.com/tinyrange/bootimg/internal/gdt"
	"github.com/tinyrange/bootimg/internal/vectors"
	"github.com/tinyrange/bootimg/internal/verify"
)

const defaultHDSize = 67092480

func runBuild(args []string) error {
	fs, debug := newFlagSet("build", "")
	manifest := fs.String("manifest", ".", "Manifest file or project directory")
	noProgress := fs.Bool("no-progress", false, "Never draw a progress bar")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogging(*debug)

	m, err := config.Load(*manifest)
	if err != nil {
		return err
	}
	p, err := build.FromManifest(m, !*noProgress && disk.InteractiveStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := p.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", res.Image, res.Layout)
	return nil
}

func runExtract(args []string) error {
	fs, debug := newFlagSet("extract", "<kernel.elf> <kernel.bin>")
	base := fs.String("base", "0x100000", "Link base address; byte 0 of the output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogging(*debug)
	if fs.NArg() != 2 {
		fs.Usage()
		return fmt.Errorf("input and output paths required")
	}

	linkBase, err := parseAddr("base", *base)
	if err != nil {
		return err
	}
	if linkBase > 0xFFFFFFFF {
		return fmt.Errorf("-base %#x does not fit in 32 bits", linkBase)
	}
	bin, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read kernel: %w", err)
	}
	img, err := elfload.Extract(elfload.Config{LinkBase: uint32(linkBase)}, bin)
	if err != nil {
		return fmt.Errorf("extract %s: %w", fs.Arg(0), err)
	}
	if err := os.WriteFile(fs.Arg(1), img, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	slog.Info("kernel image written", "path", fs.Arg(1), "bytes", len(img), "sectors", disk.SectorsOf(len(img)))
	return nil
}

func runGDT(args []string) error {
	fs, debug := newFlagSet("gdt", "[loader.bin]")
	manifest := fs.String("manifest", "", "Take layout and descriptors from this manifest")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogging(*debug)

	layout := gdt.DefaultLayout
	code, data := gdt.FlatCode(gdt.PrivilegeKernel), gdt.FlatData(gdt.PrivilegeKernel)
	if *manifest != "" {
		m, err := config.Load(*manifest)
		if err != nil {
			return err
		}
		layout = m.GDTLayout()
		if code, data, err = m.Descriptors(); err != nil {
			return err
		}
	}

	if fs.NArg() == 0 {
		for _, p := range []struct {
			name string
			d    gdt.Descriptor
		}{
			{"code", code},
			{"data", data},
			{"user-code", gdt.UserCode()},
			{"user-data", gdt.UserData()},
		} {
			v, err := p.d.Encode()
			if err != nil {
				return fmt.Errorf("%s: %w", p.name, err)
			}
			fmt.Printf("%-10s %#016x  %s\n", p.name, v, gdt.Decode(v))
		}
		return nil
	}

	path := fs.Arg(0)
	bin, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read loader: %w", err)
	}
	out, err := gdt.Patch(layout, bin, code, data)
	if err != nil {
		return fmt.Errorf("patch %s: %w", path, err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write loader: %w", err)
	}
	slog.Info("patched descriptor table", "path", path, "offset", layout.Offset, "entries", layout.Entries)
	return nil
}

func runGenvec(args []string) error {
	fs, debug := newFlagSet("genvec", "<template> <output>")
	marker := fs.String("marker", vectors.DefaultOptions.Marker, "Line prefix the block is inserted before")
	entries := fs.String("entries-label", vectors.DefaultOptions.EntriesLabel, "Label of the entry table")
	dispatch := fs.String("dispatch-label", vectors.DefaultOptions.DispatchLabel, "Label of the dispatch slot")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogging(*debug)
	if fs.NArg() != 2 {
		fs.Usage()
		return fmt.Errorf("template and output paths required")
	}

	tmpl, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	out, err := vectors.Generate(vectors.Options{
		Marker:        *marker,
		EntriesLabel:  *entries,
		DispatchLabel: *dispatch,
	}, string(tmpl))
	if err != nil {
		return fmt.Errorf("%s: %w", fs.Arg(0), err)
	}
	return os.WriteFile(fs.Arg(1), []byte(out), 0o644)
}

func runVerify(args []string) error {
	fs, debug := newFlagSet("verify", "<snapshot> <kernel.elf>")
	manifest := fs.String("manifest", "", "Take link base and offsets from this manifest")
	base := fs.String("base", "0x100000", "Link base address")
	offset := fs.String("offset", "0", "Subtracted from each segment address to get its snapshot offset")
	imageBase := fs.String("image-base", "", "Also check the whole flat image at this snapshot offset")
	report := fs.Bool("report", false, "Print the program header table first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogging(*debug)
	if fs.NArg() != 2 {
		fs.Usage()
		return fmt.Errorf("snapshot and kernel paths required")
	}

	var cfg verify.Config
	if *manifest != "" {
		m, err := config.Load(*manifest)
		if err != nil {
			return err
		}
		cfg = m.VerifyConfig()
	} else {
		lb, err := parseAddr("base", *base)
		if err != nil {
			return err
		}
		off, err := parseAddr("offset", *offset)
		if err != nil {
			return err
		}
		if lb > 0xFFFFFFFF || off > 0xFFFFFFFF {
			return fmt.Errorf("-base and -offset must fit in 32 bits")
		}
		cfg.LinkBase = uint32(lb)
		cfg.AddrOffset = uint32(off)
	}
	if *imageBase != "" {
		ib, err := parseAddr("image-base", *imageBase)
		if err != nil {
			return err
		}
		cfg.ImageBase = &ib
	}

	snapshot, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	elfBin, err := os.ReadFile(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("read kernel: %w", err)
	}
	if *report {
		if err := verify.Report(os.Stdout, elfBin); err != nil {
			return err
		}
	}
	if err := verify.Run(cfg, snapshot, elfBin); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func runHD(args []string) error {
	fs, debug := newFlagSet("hd", "<output>")
	size := fs.Int64("size", defaultHDSize, "Image size in bytes")
	prefix := fs.String("prefix", "", "File written at offset 0, typically a partition table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogging(*debug)
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("output path required")
	}

	var head []byte
	if *prefix != "" {
		var err error
		if head, err = os.ReadFile(*prefix); err != nil {
			return fmt.Errorf("read prefix: %w", err)
		}
	}
	if err := disk.WriteBlank(fs.Arg(0), *size, head); err != nil {
		return err
	}
	slog.Info("blank disk written", "path", fs.Arg(0), "bytes", *size, "prefix", len(head))
	return nil
}

func runInit(args []string) error {
	fs, debug := newFlagSet("init", "[dir]")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogging(*debug)

	dir := "."
	if fs.NArg() > 0 {
		dir = fs.Arg(0)
	}
	path, err := config.WriteTemplate(dir)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
