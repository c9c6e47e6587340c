package elfload

import (
	"fmt"
	"log/slog"
)

// Config controls relocation of the flat image.
type Config struct {
	// LinkBase is the address the kernel was linked to run at. Byte 0 of the
	// flat image corresponds to this address.
	LinkBase uint32
}

// Extract copies every PT_LOAD segment of bin into a zero-filled buffer the size
// of bin, at Vaddr-LinkBase. Bytes covered only by Memsz stay zero.
func Extract(cfg Config, bin []byte) ([]byte, error) {
	segments, err := LoadSegments(bin)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(bin))
	for _, seg := range segments {
		if seg.Vaddr < cfg.LinkBase {
			return nil, &SegmentError{
				Index: seg.Index,
				Err:   fmt.Errorf("%w: vaddr %#x < link base %#x", ErrBelowLinkBase, seg.Vaddr, cfg.LinkBase),
			}
		}
		dst := uint64(seg.Vaddr - cfg.LinkBase)
		if end := dst + uint64(seg.Filesz); end > uint64(len(out)) {
			return nil, &SegmentError{
				Index: seg.Index,
				Err:   fmt.Errorf("%w: [%#x, %#x) exceeds image size %#x", ErrSegmentBounds, dst, end, len(out)),
			}
		}
		copy(out[dst:], seg.Data(bin))

		slog.Debug("extracted segment",
			"index", seg.Index,
			"vaddr", fmt.Sprintf("%#x", seg.Vaddr),
			"dst", fmt.Sprintf("%#x", dst),
			"filesz", seg.Filesz,
			"memsz", seg.Memsz,
		)
	}
	return out, nil
}
