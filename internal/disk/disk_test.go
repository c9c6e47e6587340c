package disk

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func fill(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestSectorsOf(t *testing.T) {
	tests := []struct{ n, want int }{
		{0, 0},
		{1, 1},
		{511, 1},
		{512, 1},
		{513, 2},
		{5000, 10},
	}
	for _, tt := range tests {
		if got := SectorsOf(tt.n); got != tt.want {
			t.Errorf("SectorsOf(%d)=%d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestLayoutPlacesKernelAfterLoader(t *testing.T) {
	l := NewLayout(512, 5000)
	if l.LoaderSectors != 1 {
		t.Fatalf("loader sectors=%d, want 1", l.LoaderSectors)
	}
	if l.KernelSectors != 10 {
		t.Fatalf("kernel sectors=%d, want 10", l.KernelSectors)
	}
	if got, want := l.KernelOffset(), int64(1024); got != want {
		t.Fatalf("kernel offset=%d, want %d", got, want)
	}
	if got, want := l.Size(), int64(12*SectorSize); got != want {
		t.Fatalf("size=%d, want %d", got, want)
	}
}

func TestComposeEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	parts := Parts{
		Boot:   fill(SectorSize, 0xB0),
		Loader: fill(512, 0x10),
		Kernel: fill(5000, 0x4B),
	}
	parts.Kernel[0] = 0xEE
	layout := NewLayout(len(parts.Loader), len(parts.Kernel))

	if err := Compose(path, layout, parts, Options{Zero: true}); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	img, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if int64(len(img)) != layout.Size() {
		t.Fatalf("image size=%d, want %d", len(img), layout.Size())
	}
	if !bytes.Equal(img[:512], parts.Boot) {
		t.Fatalf("boot sector mismatch")
	}
	if !bytes.Equal(img[512:1024], parts.Loader) {
		t.Fatalf("loader mismatch")
	}
	if img[1024] != 0xEE {
		t.Fatalf("kernel first byte at 1024=%#x, want 0xee", img[1024])
	}
	if !bytes.Equal(img[1024:1024+5000], parts.Kernel) {
		t.Fatalf("kernel mismatch")
	}
	for i, b := range img[1024+5000:] {
		if b != 0 {
			t.Fatalf("padding byte %d=%#x, want 0", i, b)
		}
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	parts := Parts{Boot: fill(300, 1), Loader: fill(700, 2), Kernel: fill(1500, 3)}
	layout := NewLayout(len(parts.Loader), len(parts.Kernel))

	var images [][]byte
	for _, name := range []string{"a.img", "b.img"} {
		path := filepath.Join(dir, name)
		// Leave garbage behind to make sure Zero clears it.
		if err := os.WriteFile(path, fill(int(layout.Size())*2, 0xFF), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := Compose(path, layout, parts, Options{Zero: true}); err != nil {
			t.Fatalf("Compose: %v", err)
		}
		img, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		images = append(images, img)
	}
	if !bytes.Equal(images[0], images[1]) {
		t.Fatalf("images differ")
	}
}

func TestComposeWithoutZeroKeepsExistingBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	existing := fill(8*SectorSize, 0xCC)
	if err := os.WriteFile(path, existing, 0o644); err != nil {
		t.Fatal(err)
	}
	parts := Parts{Boot: fill(100, 1), Loader: fill(600, 2), Kernel: fill(10, 3)}
	layout := NewLayout(len(parts.Loader), len(parts.Kernel))

	if err := Compose(path, layout, parts, Options{}); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	img, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(img) != len(existing) {
		t.Fatalf("image length=%d, want untruncated %d", len(img), len(existing))
	}
	if img[100] != 0xCC {
		t.Fatalf("byte after boot code=%#x, want preserved 0xcc", img[100])
	}
	if img[512+600] != 0xCC {
		t.Fatalf("byte after loader=%#x, want preserved 0xcc", img[512+600])
	}
	if img[layout.KernelOffset()] != 3 {
		t.Fatalf("kernel byte=%#x, want 3", img[layout.KernelOffset()])
	}
}

func TestComposeClipsToSectorCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	parts := Parts{Boot: fill(700, 0xB0), Loader: fill(1024, 0x10), Kernel: fill(100, 0x4B)}
	layout := Layout{LoaderSectors: 1, KernelSectors: 1}

	if err := Compose(path, layout, parts, Options{Zero: true}); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	img, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if img[511] != 0xB0 || img[512] != 0x10 {
		t.Fatalf("boot sector not clipped at 512 bytes")
	}
	if img[1024] != 0x4B {
		t.Fatalf("loader overflowed into kernel region")
	}
}

func TestReplaceLines(t *testing.T) {
	inc := []byte("; boot.inc\nLOADER_BASE equ 0x900\n\nLOADER_SECTORS equ 0\nKERNEL_SECTORS equ 0\n")
	lines := DefaultIncludeLines

	out, err := ReplaceLines(inc, lines.KernelSectorsPatch(10), lines.LoaderSectorsPatch(3))
	if err != nil {
		t.Fatalf("ReplaceLines: %v", err)
	}
	want := "; boot.inc\nLOADER_BASE equ 0x900\n\nLOADER_SECTORS equ 3\nKERNEL_SECTORS equ 10\n"
	if string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}
	if string(inc) == want {
		t.Fatalf("input was modified")
	}
}

func TestReplaceLinesKeepsCRLF(t *testing.T) {
	inc := []byte("; boot.inc\r\nLOADER_BASE equ 0x900\r\n\r\nLOADER_SECTORS equ 0\r\nKERNEL_SECTORS equ 0\r\n")
	lines := DefaultIncludeLines

	out, err := ReplaceLines(inc, lines.KernelSectorsPatch(10), lines.LoaderSectorsPatch(3))
	if err != nil {
		t.Fatalf("ReplaceLines: %v", err)
	}
	want := "; boot.inc\r\nLOADER_BASE equ 0x900\r\n\r\nLOADER_SECTORS equ 3\r\nKERNEL_SECTORS equ 10\r\n"
	if string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}

	// Patching again with the same values is a no-op.
	again, err := ReplaceLines(out, lines.KernelSectorsPatch(10), lines.LoaderSectorsPatch(3))
	if err != nil {
		t.Fatalf("ReplaceLines: %v", err)
	}
	if string(again) != want {
		t.Fatalf("second patch got %q, want %q", again, want)
	}

	// An LF line in a mixed file stays LF.
	mixed, err := ReplaceLines([]byte("a\r\nb\nc"), LinePatch{Line: 1, Text: "x"})
	if err != nil {
		t.Fatalf("ReplaceLines: %v", err)
	}
	if string(mixed) != "a\r\nx\nc" {
		t.Fatalf("mixed got %q", mixed)
	}
}

func TestReplaceLinesErrors(t *testing.T) {
	if _, err := ReplaceLines([]byte("a\nb"), LinePatch{Line: 5, Text: "x"}); !errors.Is(err, ErrNoSuchLine) {
		t.Fatalf("err=%v, want %v", err, ErrNoSuchLine)
	}
	if _, err := ReplaceLines([]byte("a\nb"), LinePatch{Line: 0, Text: "x\ny"}); err == nil {
		t.Fatalf("expected error for multi-line replacement")
	}
}

func TestSignBootSector(t *testing.T) {
	code := fill(446, 0x90)
	signed, err := SignBootSector(code)
	if err != nil {
		t.Fatalf("SignBootSector: %v", err)
	}
	if len(signed) != SectorSize {
		t.Fatalf("len=%d, want %d", len(signed), SectorSize)
	}
	if !HasBootSignature(signed) {
		t.Fatalf("signature missing")
	}
	if signed[446] != 0 || signed[509] != 0 {
		t.Fatalf("padding not zero")
	}

	again, err := SignBootSector(signed)
	if err != nil || !bytes.Equal(again, signed) {
		t.Fatalf("re-signing a signed sector: %v", err)
	}

	if _, err := SignBootSector(fill(511, 0)); err == nil {
		t.Fatalf("expected error for oversized boot code")
	}
	if HasBootSignature(fill(100, 0x55)) {
		t.Fatalf("short buffer reported as signed")
	}
}

func TestWriteBlank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hd.img")
	prefix := fill(512, 0x7A)
	if err := WriteBlank(path, 64*SectorSize, prefix); err != nil {
		t.Fatalf("WriteBlank: %v", err)
	}
	img, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(img) != 64*SectorSize {
		t.Fatalf("size=%d", len(img))
	}
	if !bytes.Equal(img[:512], prefix) {
		t.Fatalf("prefix mismatch")
	}
	if !bytes.Equal(img[512:], make([]byte, 63*SectorSize)) {
		t.Fatalf("tail not zero")
	}

	if err := WriteBlank(path, 10, prefix); err == nil {
		t.Fatalf("expected error for oversized prefix")
	}
}
