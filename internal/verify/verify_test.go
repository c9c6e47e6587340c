package verify

import (
	"bytes"
	"debug/elf"
	"errors"
	"strings"
	"testing"

	"github.com/tinyrange/bootimg/internal/elfload"
	"github.com/tinyrange/bootimg/internal/elfload/elftest"
)

const linkBase = 0x100000

func kernelFixture() []byte {
	text := bytes.Repeat([]byte{0x90}, 200)
	text[0] = 0xFA
	data := []byte("kernel data segment")
	return elftest.Build(
		elftest.Segment{Type: elf.PT_LOAD, Vaddr: linkBase, Data: text},
		elftest.Segment{Type: elf.PT_LOAD, Vaddr: linkBase + 0x1000, Data: data, Memsz: 0x100},
		elftest.Segment{Type: elf.PT_GNU_STACK},
	)
}

// snapshotFor loads the kernel the way a correct loader would, with the flat
// image placed so that link base lands at physical address phys.
func snapshotFor(t *testing.T, bin []byte, phys uint64, size int) []byte {
	t.Helper()
	img, err := elfload.Extract(elfload.Config{LinkBase: linkBase}, bin)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	mem := make([]byte, size)
	copy(mem[phys:], img)
	return mem
}

func TestSegmentsIdentityMapped(t *testing.T) {
	bin := kernelFixture()
	mem := snapshotFor(t, bin, linkBase, linkBase+0x4000)

	if err := Segments(Config{LinkBase: linkBase}, mem, bin); err != nil {
		t.Fatalf("Segments: %v", err)
	}
}

func TestSegmentsHigherHalf(t *testing.T) {
	bin := kernelFixture()
	// Kernel linked at 1 MiB but loaded at 0x70000: the mode offset maps one to
	// the other.
	mem := snapshotFor(t, bin, 0x70000, 0x80000)
	cfg := Config{LinkBase: linkBase, AddrOffset: linkBase - 0x70000}

	if err := Segments(cfg, mem, bin); err != nil {
		t.Fatalf("Segments: %v", err)
	}
	// Without the offset the segments are looked up in the wrong place.
	if err := Segments(Config{LinkBase: linkBase}, mem, bin); err == nil {
		t.Fatalf("expected failure without address offset")
	}
}

func TestSegmentsReportsFirstMismatch(t *testing.T) {
	bin := kernelFixture()
	mem := snapshotFor(t, bin, linkBase, linkBase+0x4000)
	mem[linkBase+0x1000+3] ^= 0xFF

	err := Segments(Config{LinkBase: linkBase}, mem, bin)
	var m *MismatchError
	if !errors.As(err, &m) {
		t.Fatalf("err=%v, want *MismatchError", err)
	}
	if m.Segment != 1 {
		t.Fatalf("segment=%d, want 1", m.Segment)
	}
	if m.Offset != 3 {
		t.Fatalf("offset=%d, want 3", m.Offset)
	}
	if m.Addr != linkBase+0x1003 {
		t.Fatalf("addr=%#x", m.Addr)
	}
	if m.Want != 'n' || m.Got != 'n'^0xFF {
		t.Fatalf("want=%#x got=%#x", m.Want, m.Got)
	}
	if !strings.Contains(m.Error(), "segment 1") {
		t.Fatalf("Error()=%q", m.Error())
	}
}

func TestSegmentsTruncatedSnapshot(t *testing.T) {
	bin := kernelFixture()
	mem := snapshotFor(t, bin, linkBase, linkBase+0x1000+5)

	err := Segments(Config{LinkBase: linkBase}, mem, bin)
	var m *MismatchError
	if !errors.As(err, &m) {
		t.Fatalf("err=%v, want *MismatchError", err)
	}
	if !m.Truncated || m.Segment != 1 || m.Offset != 5 {
		t.Fatalf("mismatch=%+v", m)
	}

	err = Segments(Config{LinkBase: linkBase}, make([]byte, 16), bin)
	if !errors.As(err, &m) || !m.Truncated || m.Segment != 0 {
		t.Fatalf("err=%v", err)
	}
}

func TestRunChecksWholeImage(t *testing.T) {
	bin := kernelFixture()
	mem := snapshotFor(t, bin, linkBase, linkBase+0x4000)
	base := uint64(linkBase)
	cfg := Config{LinkBase: linkBase, ImageBase: &base}

	if err := Run(cfg, mem, bin); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// A stray write into the zero gap between segments is only caught by the
	// whole-image check.
	mem[linkBase+0x800] = 0xAB
	if err := Segments(cfg, mem, bin); err != nil {
		t.Fatalf("Segments: %v", err)
	}
	err := Run(cfg, mem, bin)
	var m *MismatchError
	if !errors.As(err, &m) {
		t.Fatalf("err=%v, want *MismatchError", err)
	}
	if m.Segment != WholeImage || m.Offset != 0x800 || m.Got != 0xAB || m.Want != 0 {
		t.Fatalf("mismatch=%+v", m)
	}
}

func TestSegmentsNoLoadSegments(t *testing.T) {
	bin := elftest.Build(elftest.Segment{Type: elf.PT_NOTE, Data: []byte{1}})
	if err := Segments(Config{}, make([]byte, 64), bin); !errors.Is(err, elfload.ErrNoLoadSegments) {
		t.Fatalf("err=%v, want %v", err, elfload.ErrNoLoadSegments)
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	if err := Report(&buf, kernelFixture()); err != nil {
		t.Fatalf("Report: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"PT_LOAD", "PT_GNU_STACK", "0x100000", "0x101000"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	if got := strings.Count(out, "\n"); got != 4 {
		t.Fatalf("report lines=%d, want 4", got)
	}
}
