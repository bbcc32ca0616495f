package slicer

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrEngineNotFound means no slicing engine binary could be located.
var ErrEngineNotFound = errors.New("slicing engine binary not found")

// wellKnownBinaries are checked first, in order, before falling back to PATH
// lookup and a bounded filesystem search.
var wellKnownBinaries = []string{
	"/usr/bin/prusa-slicer",
	"/usr/local/bin/prusa-slicer",
	"/usr/local/bin/ps-headless",
	"/var/lib/flatpak/exports/bin/com.prusa3d.PrusaSlicer",
	"/Applications/Original Prusa Drivers/PrusaSlicer.app/Contents/MacOS/PrusaSlicer",
}

var pathNames = []string{"prusa-slicer", "PrusaSlicer", "prusaslicer", "ps-headless"}

var searchRoots = []string{"/opt", "/Applications"}

// searchEntryBudget bounds the filesystem search so a huge /opt cannot stall
// startup.
const searchEntryBudget = 4000

// resolveEngineBinary finds the slicing engine: well-known install locations,
// then PATH, then a bounded walk of common install roots.
func resolveEngineBinary() (string, error) {
	for _, path := range wellKnownBinaries {
		if isExecutable(path) {
			return path, nil
		}
	}

	for _, name := range pathNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	budget := searchEntryBudget
	for _, root := range searchRoots {
		if path := searchUnder(root, &budget); path != "" {
			return path, nil
		}
	}

	return "", ErrEngineNotFound
}

func searchUnder(root string, budget *int) string {
	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		*budget--
		if *budget <= 0 {
			return fs.SkipAll
		}
		if d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		if (name == "prusa-slicer" || name == "prusaslicer") && isExecutable(path) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	return found
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode()&0o111 != 0
}
