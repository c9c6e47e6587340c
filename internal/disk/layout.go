// Package disk computes the boot disk's sector layout and writes the image.
package disk

import "fmt"

const SectorSize = 512

// SectorsOf returns the number of sectors needed to hold n bytes.
func SectorsOf(n int) int {
	return (n + SectorSize - 1) / SectorSize
}

// Layout is the three-region map of the boot disk: one boot sector, then the
// loader, then the kernel.
type Layout struct {
	LoaderSectors int
	KernelSectors int
}

// NewLayout sizes both regions from the binaries' byte lengths.
func NewLayout(loaderLen, kernelLen int) Layout {
	return Layout{
		LoaderSectors: SectorsOf(loaderLen),
		KernelSectors: SectorsOf(kernelLen),
	}
}

func (l Layout) LoaderLBA() int { return 1 }

func (l Layout) KernelLBA() int { return 1 + l.LoaderSectors }

func (l Layout) TotalSectors() int { return 1 + l.LoaderSectors + l.KernelSectors }

// KernelOffset is the byte offset of the kernel's first byte in the image.
func (l Layout) KernelOffset() int64 {
	return int64(l.KernelLBA()) * SectorSize
}

// Size is the byte length of an image holding every region.
func (l Layout) Size() int64 {
	return int64(l.TotalSectors()) * SectorSize
}

func (l Layout) String() string {
	return fmt.Sprintf("boot@0 loader@%d+%d kernel@%d+%d", l.LoaderLBA(), l.LoaderSectors, l.KernelLBA(), l.KernelSectors)
}
