// Package profiles maps requested preset names to concrete slicer profile
// files on disk.
package profiles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind selects which family of profiles a preset name refers to.
type Kind string

const (
	KindPrint    Kind = "print"
	KindFilament Kind = "filament"
	KindPrinter  Kind = "printer"
)

var (
	// ErrPresetRequired is returned when no preset name was supplied at all.
	ErrPresetRequired = errors.New("preset name required")
	// ErrProfileNotFound is returned when neither the requested preset nor
	// the kind's default profile resolves to a file.
	ErrProfileNotFound = errors.New("profile not found")
)

// Resolution records which profile file a preset name resolved to. Found is
// false when the resolver fell back to the kind's default file; callers keep
// the triple through to the cost result so a silent fallback stays visible.
type Resolution struct {
	Kind      Kind   `json:"kind"`
	Requested string `json:"requested"`
	Path      string `json:"path"`
	Found     bool   `json:"found"`
}

// printAliases maps the human preset labels shown in the UI to canonical
// profile filenames. Keys are normalized (lowercased, whitespace collapsed).
var printAliases = map[string]string{
	"0.20mm standard":  "x1c_standard_020.ini",
	"standard":         "x1c_standard_020.ini",
	"0.16mm quality":   "x1c_quality_016.ini",
	"quality":          "x1c_quality_016.ini",
	"0.12mm fine":      "x1c_fine_012.ini",
	"fine":             "x1c_fine_012.ini",
	"0.28mm draft":     "x1c_draft_028.ini",
	"draft":            "x1c_draft_028.ini",
	"0.20mm strength":  "x1c_strength_020.ini",
	"strength":         "x1c_strength_020.ini",
	"0.20mm lightning": "x1c_lightning_020.ini",
	"lightning":        "x1c_lightning_020.ini",
	"0.08mm ultrafine": "x1c_ultrafine_008.ini",
	"ultrafine":        "x1c_ultrafine_008.ini",
}

var defaultFiles = map[Kind]string{
	KindPrint:    "print.ini",
	KindFilament: "filament.ini",
	KindPrinter:  "printer.ini",
}

// Resolver locates profile files under a configured directory with a bundled
// fallback directory.
type Resolver struct {
	profilesDir string
	bundledDir  string
}

func NewResolver(profilesDir, bundledDir string) *Resolver {
	return &Resolver{profilesDir: profilesDir, bundledDir: bundledDir}
}

// Resolve maps a preset name to a profile file. An empty name is a
// configuration error: callers must supply at least a preset token, even one
// that maps to the bundled default. When the requested name matches no file
// but the kind's default does, the default is returned with Found=false.
func (r *Resolver) Resolve(kind Kind, requestedName string) (Resolution, error) {
	requested := strings.TrimSpace(requestedName)
	if requested == "" {
		return Resolution{}, fmt.Errorf("%w for kind %q", ErrPresetRequired, kind)
	}

	key := normalizeKey(requested)

	var filenames []string
	if kind == KindPrint {
		if alias, ok := printAliases[key]; ok {
			filenames = append(filenames, alias)
		}
	}
	filenames = append(filenames, key+".ini")

	for _, filename := range filenames {
		if path, ok := r.find(kind, filename); ok {
			return Resolution{Kind: kind, Requested: requested, Path: path, Found: true}, nil
		}
	}

	if path, ok := r.find(kind, defaultFiles[kind]); ok {
		return Resolution{Kind: kind, Requested: requested, Path: path, Found: false}, nil
	}

	return Resolution{}, fmt.Errorf("%w: %s preset %q (searched %s)",
		ErrProfileNotFound, kind, requested, strings.Join(r.searchRoots(kind), ", "))
}

// find walks the candidate directories in precedence order and returns the
// first existing regular file.
func (r *Resolver) find(kind Kind, filename string) (string, bool) {
	for _, dir := range r.searchRoots(kind) {
		path := filepath.Join(dir, filename)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

func (r *Resolver) searchRoots(kind Kind) []string {
	return []string{
		filepath.Join(r.profilesDir, string(kind)),
		filepath.Join(r.bundledDir, string(kind)),
		r.profilesDir,
		r.bundledDir,
	}
}

// normalizeKey canonicalizes a preset token: trim, lowercase, collapse
// internal whitespace, drop a trailing ".ini".
func normalizeKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.Join(strings.Fields(key), " ")
	key = strings.TrimSuffix(key, ".ini")
	return key
}
