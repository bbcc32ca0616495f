package slicer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/folletto95/3d-Site/internal/profiles"
)

func testProfiles() ProfileSet {
	return ProfileSet{
		Print:    profiles.Resolution{Kind: profiles.KindPrint, Requested: "0.20mm Standard", Path: "/p/print.ini", Found: true},
		Filament: profiles.Resolution{Kind: profiles.KindFilament, Requested: "Generic PLA", Path: "/p/filament.ini", Found: true},
		Printer:  profiles.Resolution{Kind: profiles.KindPrinter, Requested: "X1C", Path: "/p/printer.ini", Found: true},
	}
}

func TestBuildArgs_NoOverrides(t *testing.T) {
	args := buildArgs("/work/part.stl", "/work/part__x.gcode", testProfiles(), Overrides{}, true)

	want := []string{
		"--no-gui",
		"--export-gcode",
		"--load", "/p/print.ini",
		"--load", "/p/filament.ini",
		"--load", "/p/printer.ini",
		"-o", "/work/part__x.gcode",
		"/work/part.stl",
	}
	if len(args) != len(want) {
		t.Fatalf("args = %q, want %q", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestBuildArgs_OverridesFormatting(t *testing.T) {
	lh, fill, speed := 0.2, 15.0, 120.0
	args := buildArgs("/work/part.stl", "/out.gcode", testProfiles(), Overrides{
		LayerHeightMM: &lh,
		InfillPercent: &fill,
		PrintSpeed:    &speed,
	}, false)

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--set layer_height=0.2",
		"--set fill_density=15",
		"--set perimeter_speed=120",
		"--set infill_speed=120",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
	if strings.Contains(joined, "--no-gui") {
		t.Fatal("GUI toggle must be absent on retry")
	}
	if strings.Contains(joined, "nozzle_diameter") || strings.Contains(joined, "travel_speed") {
		t.Fatalf("nil overrides leaked into args: %q", joined)
	}
	if args[len(args)-1] != "/work/part.stl" {
		t.Fatalf("model must be the final argument, got %q", args[len(args)-1])
	}
}

func TestOutputPath_SlugsPresetNames(t *testing.T) {
	got := outputPath("/work/job/Benchy v2.stl", testProfiles())
	want := filepath.Join("/work/job", "Benchy v2__0-20mm-standard-generic-pla-x1c.gcode")
	if got != want {
		t.Fatalf("outputPath = %q, want %q", got, want)
	}
}

func TestSlug(t *testing.T) {
	cases := []struct{ in, want string }{
		{"0.20mm Standard", "0-20mm-standard"},
		{"Generic PLA", "generic-pla"},
		{"  ", "default"},
		{"", "default"},
		{"---", "default"},
	}
	for _, c := range cases {
		if got := slug(c.in); got != c.want {
			t.Fatalf("slug(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRejectsNoGUI(t *testing.T) {
	if !rejectsNoGUI("error: Unknown option --no-gui") {
		t.Fatal("unknown-option message must trigger the retry")
	}
	if rejectsNoGUI("slicing failed: mesh is not manifold") {
		t.Fatal("unrelated failures must not trigger the retry")
	}
	if rejectsNoGUI("running with --no-gui") {
		t.Fatal("a mere mention of the flag must not trigger the retry")
	}
}

// writeFakeEngine installs a shell script standing in for the slicing engine.
func writeFakeEngine(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-slicer.sh")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInvoke_WritesAndReadsGCode(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeEngine(t, dir, `
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
printf '; TIME:60\nG1 E5\n' > "$out"
`)
	model := filepath.Join(dir, "part.stl")
	if err := os.WriteFile(model, []byte("solid"), 0o644); err != nil {
		t.Fatal(err)
	}

	inv := New(bin, 10*time.Second)
	res, err := inv.Invoke(context.Background(), model, testProfiles(), Overrides{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(res.GCode, "; TIME:60") {
		t.Fatalf("unexpected G-code %q", res.GCode)
	}
	if filepath.Dir(res.OutputPath) != dir {
		t.Fatalf("output landed outside the model dir: %q", res.OutputPath)
	}
}

func TestInvoke_NonzeroExitIsSlicerFailed(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeEngine(t, dir, `echo "mesh error" >&2
exit 3
`)

	inv := New(bin, 10*time.Second)
	_, err := inv.Invoke(context.Background(), filepath.Join(dir, "part.stl"), testProfiles(), Overrides{})
	if !errors.Is(err, ErrSlicerFailed) {
		t.Fatalf("err = %v, want ErrSlicerFailed", err)
	}
	if !strings.Contains(err.Error(), "mesh error") {
		t.Fatalf("stderr tail missing from %v", err)
	}
}

func TestInvoke_MissingOutputIsSlicerFailed(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeEngine(t, dir, "exit 0\n")

	inv := New(bin, 10*time.Second)
	_, err := inv.Invoke(context.Background(), filepath.Join(dir, "part.stl"), testProfiles(), Overrides{})
	if !errors.Is(err, ErrSlicerFailed) {
		t.Fatalf("err = %v, want ErrSlicerFailed", err)
	}
}

func TestInvoke_Timeout(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeEngine(t, dir, "exec sleep 5\n")

	inv := New(bin, 100*time.Millisecond)
	_, err := inv.Invoke(context.Background(), filepath.Join(dir, "part.stl"), testProfiles(), Overrides{})
	if !errors.Is(err, ErrSlicerTimeout) {
		t.Fatalf("err = %v, want ErrSlicerTimeout", err)
	}
}

func TestInvoke_CanceledContextIsNotSlicerFailed(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeEngine(t, dir, "exec sleep 5\n")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	inv := New(bin, 10*time.Second)
	_, err := inv.Invoke(ctx, filepath.Join(dir, "part.stl"), testProfiles(), Overrides{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrSlicerFailed) || errors.Is(err, ErrSlicerTimeout) {
		t.Fatalf("cancellation must not masquerade as an engine error, got %v", err)
	}
}

func TestInvoke_RetriesWithoutNoGUI(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeEngine(t, dir, `
for a in "$@"; do
  if [ "$a" = "--no-gui" ]; then
    echo "Unknown option --no-gui" >&2
    exit 2
  fi
done
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
printf '; TIME:30\n' > "$out"
`)
	model := filepath.Join(dir, "part.stl")
	if err := os.WriteFile(model, []byte("solid"), 0o644); err != nil {
		t.Fatal(err)
	}

	inv := New(bin, 10*time.Second)
	res, err := inv.Invoke(context.Background(), model, testProfiles(), Overrides{})
	if err != nil {
		t.Fatalf("Invoke after retry: %v", err)
	}
	if !strings.Contains(res.GCode, "; TIME:30") {
		t.Fatalf("unexpected G-code %q", res.GCode)
	}
}
