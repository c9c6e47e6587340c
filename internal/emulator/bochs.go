// Package emulator adjusts the downstream emulator's configuration for the
// host it runs on.
package emulator

import (
	"fmt"
	"os"

	"github.com/tinyrange/bootimg/internal/disk"
)

// DisplayLibrary returns the bochsrc display_library line for goos, or ""
// when the file's default should be kept.
func DisplayLibrary(goos string) string {
	switch goos {
	case "darwin":
		return "display_library: sdl2"
	case "windows":
		return `display_library: win32, options = "gui_debug"`
	default:
		return ""
	}
}

// PatchDisplay rewrites the 0-based line of bochsrc with the display library
// for goos. It reports whether the file changed.
func PatchDisplay(path string, line int, goos string) (bool, error) {
	text := DisplayLibrary(goos)
	if text == "" {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read bochsrc: %w", err)
	}
	out, err := disk.ReplaceLines(data, disk.LinePatch{Line: line, Text: text})
	if err != nil {
		return false, fmt.Errorf("patch bochsrc: %w", err)
	}
	if string(out) == string(data) {
		return false, nil
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return false, fmt.Errorf("write bochsrc: %w", err)
	}
	return true, nil
}
