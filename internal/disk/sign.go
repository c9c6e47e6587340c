package disk

import "fmt"

const (
	maxBootCode = 510

	bootSignature0 = 0x55
	bootSignature1 = 0xAA
)

// HasBootSignature reports whether the first sector of b ends in 0x55AA.
func HasBootSignature(b []byte) bool {
	return len(b) >= SectorSize && b[510] == bootSignature0 && b[511] == bootSignature1
}

// SignBootSector pads boot code to a full sector and stamps the BIOS boot
// signature. A sector that is already signed is returned unchanged.
func SignBootSector(code []byte) ([]byte, error) {
	if len(code) == SectorSize && HasBootSignature(code) {
		return append([]byte(nil), code...), nil
	}
	if len(code) > maxBootCode {
		return nil, fmt.Errorf("boot sector too large: %d bytes (max %d)", len(code), maxBootCode)
	}
	buf := make([]byte, SectorSize)
	copy(buf, code)
	buf[510] = bootSignature0
	buf[511] = bootSignature1
	return buf, nil
}
