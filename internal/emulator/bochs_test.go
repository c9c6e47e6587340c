package emulator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPatchDisplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bochsrc.txt")
	orig := "megs: 32\nboot: disk\ndisplay_library: x\nlog: bochsout.txt\n"
	if err := os.WriteFile(path, []byte(orig), 0o644); err != nil {
		t.Fatal(err)
	}

	changed, err := PatchDisplay(path, 2, "linux")
	if err != nil || changed {
		t.Fatalf("linux: changed=%v err=%v", changed, err)
	}

	changed, err = PatchDisplay(path, 2, "darwin")
	if err != nil || !changed {
		t.Fatalf("darwin: changed=%v err=%v", changed, err)
	}
	data, _ := os.ReadFile(path)
	if got := strings.Split(string(data), "\n")[2]; got != "display_library: sdl2" {
		t.Fatalf("line 2=%q", got)
	}

	changed, err = PatchDisplay(path, 2, "darwin")
	if err != nil || changed {
		t.Fatalf("second darwin patch: changed=%v err=%v", changed, err)
	}

	if _, err := PatchDisplay(path, 40, "windows"); err == nil {
		t.Fatalf("expected error for missing line")
	}
}
