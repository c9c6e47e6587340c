package disk

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Parts are the three binaries placed on the disk.
type Parts struct {
	Boot   []byte
	Loader []byte
	Kernel []byte
}

// Options controls how Compose treats the destination file.
type Options struct {
	// Zero truncates the image and resizes it to the layout's size before
	// writing, so bytes past each region's data are zero. Without it the
	// bytes already in the file are kept.
	Zero bool
	// Progress draws a progress bar on stderr.
	Progress bool
}

// InteractiveStderr reports whether stderr is a terminal.
func InteractiveStderr() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

type region struct {
	name    string
	lba     int
	sectors int
	data    []byte
}

// clipped returns the bytes that fit into the region's sector count.
func (r region) clipped() []byte {
	limit := r.sectors * SectorSize
	if len(r.data) > limit {
		return r.data[:limit]
	}
	return r.data
}

func regions(layout Layout, parts Parts) []region {
	return []region{
		{name: "boot", lba: 0, sectors: 1, data: parts.Boot},
		{name: "loader", lba: layout.LoaderLBA(), sectors: layout.LoaderSectors, data: parts.Loader},
		{name: "kernel", lba: layout.KernelLBA(), sectors: layout.KernelSectors, data: parts.Kernel},
	}
}

// Compose writes the boot sector, loader and kernel into the image at path
// at their layout offsets. Each region receives at most its sector count
// worth of bytes and the file is never truncated unless opts.Zero is set.
func Compose(path string, layout Layout, parts Parts, opts Options) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open disk image: %w", err)
	}
	defer f.Close()

	if opts.Zero {
		if err := zeroFile(f, layout.Size()); err != nil {
			return fmt.Errorf("zero disk image: %w", err)
		}
	}

	rs := regions(layout, parts)
	var total int64
	for _, r := range rs {
		total += int64(len(r.clipped()))
	}

	bar := newProgress(total, opts.Progress)
	defer bar.Close()

	for _, r := range rs {
		data := r.clipped()
		if len(data) < len(r.data) {
			slog.Warn("region truncated to its sector count",
				"region", r.name,
				"size", len(r.data),
				"sectors", r.sectors,
			)
		}
		off := int64(r.lba) * SectorSize
		if _, err := f.WriteAt(data, off); err != nil {
			return fmt.Errorf("write %s at sector %d: %w", r.name, r.lba, err)
		}
		_ = bar.Add(len(data))
		slog.Debug("wrote region", "region", r.name, "lba", r.lba, "bytes", len(data))
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync disk image: %w", err)
	}
	return f.Close()
}

// WriteBlank creates a zero-filled image of size bytes with prefix written at
// offset 0, typically a partition table.
func WriteBlank(path string, size int64, prefix []byte) error {
	if int64(len(prefix)) > size {
		return fmt.Errorf("prefix of %d bytes does not fit in %d byte image", len(prefix), size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open disk image: %w", err)
	}
	defer f.Close()

	if err := zeroFile(f, size); err != nil {
		return fmt.Errorf("zero disk image: %w", err)
	}
	if _, err := f.WriteAt(prefix, 0); err != nil {
		return fmt.Errorf("write prefix: %w", err)
	}
	return f.Close()
}

func zeroFile(f *os.File, size int64) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		return err
	}
	return preallocate(f, size)
}

func newProgress(total int64, show bool) *progressbar.ProgressBar {
	if show {
		return progressbar.DefaultBytes(total, "writing disk image")
	}
	return progressbar.DefaultBytesSilent(total, "writing disk image")
}
