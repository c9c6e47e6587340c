// Package verify checks a memory snapshot taken after boot against the kernel
// ELF the image was built from.
package verify

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"log/slog"

	"github.com/tinyrange/bootimg/internal/elfload"
)

// Config must agree with the link base used to build the image.
type Config struct {
	LinkBase uint32
	// AddrOffset is subtracted from a segment's virtual address to get its
	// offset in the snapshot. Zero for identity-mapped kernels.
	AddrOffset uint32
	// ImageBase, if set, is the snapshot offset the flat image was loaded at.
	ImageBase *uint64
}

// WholeImage marks a MismatchError from the flat image check.
const WholeImage = -1

// MismatchError describes the first byte that did not land where expected.
type MismatchError struct {
	Segment int
	// Offset is relative to the start of the segment (or image).
	Offset uint64
	Addr   uint64
	Want   byte
	Got    byte
	// Truncated is set when Addr lies past the end of the snapshot.
	Truncated bool
}

func (e *MismatchError) Error() string {
	what := fmt.Sprintf("segment %d", e.Segment)
	if e.Segment == WholeImage {
		what = "kernel image"
	}
	if e.Truncated {
		return fmt.Sprintf("%s: address %#x (offset %#x) is past the end of the snapshot", what, e.Addr, e.Offset)
	}
	return fmt.Sprintf("%s: byte at %#x (offset %#x) is %#02x, want %#02x", what, e.Addr, e.Offset, e.Got, e.Want)
}

// compare checks want against snapshot[addr:]. It returns nil or the first
// divergence.
func compare(segment int, snapshot []byte, addr uint64, want []byte) *MismatchError {
	if addr <= uint64(len(snapshot)) {
		avail := snapshot[addr:]
		n := min(len(avail), len(want))
		if bytes.Equal(avail[:n], want[:n]) {
			if n == len(want) {
				return nil
			}
		} else {
			for j := 0; j < n; j++ {
				if avail[j] != want[j] {
					return &MismatchError{Segment: segment, Offset: uint64(j), Addr: addr + uint64(j), Want: want[j], Got: avail[j]}
				}
			}
		}
		return &MismatchError{Segment: segment, Offset: uint64(n), Addr: addr + uint64(n), Want: want[n], Truncated: true}
	}
	return &MismatchError{Segment: segment, Addr: addr, Want: want[0], Truncated: true}
}

// Segments confirms every PT_LOAD segment of elfBin is present in snapshot at
// its translated address. It stops at the first failing segment.
func Segments(cfg Config, snapshot, elfBin []byte) error {
	segments, err := elfload.LoadSegments(elfBin)
	if err != nil {
		return err
	}
	for _, seg := range segments {
		if seg.Filesz == 0 {
			continue
		}
		if seg.Vaddr < cfg.AddrOffset {
			return fmt.Errorf("segment %d: vaddr %#x below address offset %#x", seg.Index, seg.Vaddr, cfg.AddrOffset)
		}
		addr := uint64(seg.Vaddr - cfg.AddrOffset)
		if m := compare(seg.Index, snapshot, addr, seg.Data(elfBin)); m != nil {
			return m
		}
		slog.Debug("segment verified", "index", seg.Index, "addr", fmt.Sprintf("%#x", addr), "bytes", seg.Filesz)
	}
	return nil
}

// Image confirms the flat kernel image sits at base in snapshot.
func Image(snapshot, image []byte, base uint64) error {
	if len(image) == 0 {
		return nil
	}
	if m := compare(WholeImage, snapshot, base, image); m != nil {
		return m
	}
	return nil
}

// Run performs the segment check and, when cfg.ImageBase is set, the flat
// image check against the image extracted with cfg.LinkBase.
func Run(cfg Config, snapshot, elfBin []byte) error {
	if err := Segments(cfg, snapshot, elfBin); err != nil {
		return err
	}
	if cfg.ImageBase == nil {
		return nil
	}
	image, err := elfload.Extract(elfload.Config{LinkBase: cfg.LinkBase}, elfBin)
	if err != nil {
		return fmt.Errorf("extract kernel image: %w", err)
	}
	return Image(snapshot, image, *cfg.ImageBase)
}

// Report writes one line per program header of elfBin.
func Report(w io.Writer, elfBin []byte) error {
	headers, err := elfload.ProgramHeaders(elfBin)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%-3s %-14s %-10s %-10s %-10s %-10s %-10s\n", "idx", "type", "offset", "vaddr", "paddr", "filesz", "memsz")
	for i, ph := range headers {
		fmt.Fprintf(w, "%-3d %-14s %#-10x %#-10x %#-10x %#-10x %#-10x\n",
			i, elf.ProgType(ph.Type), ph.Offset, ph.Vaddr, ph.Paddr, ph.Filesz, ph.Memsz)
	}
	return nil
}
