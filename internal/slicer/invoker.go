// Package slicer drives the external slicing engine and captures its G-code
// output.
package slicer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/folletto95/3d-Site/internal/profiles"
)

var (
	// ErrSlicerFailed means the engine exited nonzero or produced no G-code.
	ErrSlicerFailed = errors.New("slicer failed")
	// ErrSlicerTimeout means the wall-clock budget was exceeded. Distinct
	// from ErrSlicerFailed so callers can report it separately.
	ErrSlicerTimeout = errors.New("slicer timed out")
)

// stderr is truncated to this many bytes in failure details.
const stderrTailLimit = 4000

// Overrides carries the numeric settings a caller explicitly supplied.
// Nil fields are omitted from the command line so the engine defaults apply.
type Overrides struct {
	LayerHeightMM *float64
	InfillPercent *float64
	NozzleMM      *float64
	TravelSpeed   *float64
	PrintSpeed    *float64
}

// ProfileSet bundles the three resolved profile files for one invocation.
type ProfileSet struct {
	Print    profiles.Resolution
	Filament profiles.Resolution
	Printer  profiles.Resolution
}

// Result is the raw outcome of a successful slicing run.
type Result struct {
	GCode      string
	OutputPath string
	Stdout     string
	Stderr     string
}

// Invoker executes the slicing engine under a timeout. The engine binary is
// resolved once and cached; tests inject their own resolver.
type Invoker struct {
	timeout    time.Duration
	resolveBin func() (string, error)

	once   sync.Once
	bin    string
	binErr error
}

// New builds an Invoker. binOverride, when non-empty, skips discovery.
func New(binOverride string, timeout time.Duration) *Invoker {
	inv := &Invoker{timeout: timeout, resolveBin: resolveEngineBinary}
	if binOverride != "" {
		inv.resolveBin = func() (string, error) { return binOverride, nil }
	}
	return inv
}

func (inv *Invoker) binary() (string, error) {
	inv.once.Do(func() {
		inv.bin, inv.binErr = inv.resolveBin()
	})
	return inv.bin, inv.binErr
}

// Invoke slices modelPath with the given profiles and overrides and returns
// the engine's G-code output. The output path is derived from the model base
// name plus a slug of the three requested preset names, so runs with
// different presets do not collide; any stale output is removed first.
func (inv *Invoker) Invoke(ctx context.Context, modelPath string, set ProfileSet, ov Overrides) (Result, error) {
	bin, err := inv.binary()
	if err != nil {
		return Result{}, err
	}

	outPath := outputPath(modelPath, set)
	_ = os.Remove(outPath)

	args := buildArgs(modelPath, outPath, set, ov, true)
	res, err := inv.run(ctx, bin, args)
	if err != nil && rejectsNoGUI(res.Stderr) {
		// Some engine builds do not know the GUI toggle; retry without it.
		args = buildArgs(modelPath, outPath, set, ov, false)
		res, err = inv.run(ctx, bin, args)
	}
	if err != nil {
		return res, err
	}

	gcode, err := os.ReadFile(outPath)
	if err != nil {
		return res, fmt.Errorf("%w: engine exited 0 but produced no G-code at %s", ErrSlicerFailed, outPath)
	}
	res.GCode = string(gcode)
	res.OutputPath = outPath
	return res, nil
}

func (inv *Invoker) run(ctx context.Context, bin string, args []string) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return res, fmt.Errorf("%w after %s", ErrSlicerTimeout, inv.timeout)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		// Caller gave up; that is not an engine failure.
		return res, ctxErr
	}
	if err != nil {
		return res, fmt.Errorf("%w: %v\n%s", ErrSlicerFailed, err, tail(res.Stderr, stderrTailLimit))
	}
	return res, nil
}

// buildArgs assembles the engine command line: GUI toggle, profile loads,
// output path, explicit overrides, and the model as the final positional
// argument.
func buildArgs(modelPath, outPath string, set ProfileSet, ov Overrides, noGUI bool) []string {
	args := make([]string, 0, 16)
	if noGUI {
		args = append(args, "--no-gui")
	}
	args = append(args,
		"--export-gcode",
		"--load", set.Print.Path,
		"--load", set.Filament.Path,
		"--load", set.Printer.Path,
		"-o", outPath,
	)

	setArg := func(key string, value *float64) {
		if value != nil {
			args = append(args, "--set", fmt.Sprintf("%s=%g", key, *value))
		}
	}
	setArg("layer_height", ov.LayerHeightMM)
	setArg("fill_density", ov.InfillPercent)
	setArg("nozzle_diameter", ov.NozzleMM)
	setArg("travel_speed", ov.TravelSpeed)
	setArg("perimeter_speed", ov.PrintSpeed)
	setArg("infill_speed", ov.PrintSpeed)

	return append(args, modelPath)
}

func outputPath(modelPath string, set ProfileSet) string {
	base := strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath))
	tag := strings.Join([]string{
		slug(set.Print.Requested),
		slug(set.Filament.Requested),
		slug(set.Printer.Requested),
	}, "-")
	return filepath.Join(filepath.Dir(modelPath), base+"__"+tag+".gcode")
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

func slug(name string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(name), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "default"
	}
	return s
}

// rejectsNoGUI detects builds that treat --no-gui as an unknown flag, so the
// retry does not mask genuine failures.
func rejectsNoGUI(stderr string) bool {
	lower := strings.ToLower(stderr)
	if !strings.Contains(lower, "no-gui") {
		return false
	}
	return strings.Contains(lower, "unknown option") ||
		strings.Contains(lower, "unrecognized option") ||
		strings.Contains(lower, "unknown argument")
}

func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}
