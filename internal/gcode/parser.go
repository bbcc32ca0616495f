// Package gcode extracts print duration and filament consumption from slicer
// output. Engines disagree on summary comment formats and units, so the
// parser accepts every spelling seen in the wild and, when an engine emits no
// summary at all, falls back to integrating extrusion-axis deltas directly
// from the motion commands.
package gcode

import (
	"bufio"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrMetricsUnavailable means the slicer run produced output, but neither
// summary comments nor the extrusion fallback yielded any usable value.
// Callers must treat this as a hard error, never as a zero-cost estimate.
var ErrMetricsUnavailable = errors.New("no usable print metrics in G-code output")

// Metrics is the parse result. Nil fields mean the value could not be
// determined from the G-code text.
type Metrics struct {
	TimeS      *float64
	FilamentG  *float64
	FilamentMM *float64
}

// densityTable maps material-name substrings to g/cm³. Checked in order:
// PETG must match before PET, PET before the bare PA of nylon blends.
var densityTable = []struct {
	substr  string
	density float64
}{
	{"petg", 1.27},
	{"pla", 1.24},
	{"abs", 1.04},
	{"asa", 1.07},
	{"tpu", 1.21},
	{"nylon", 1.14},
	{"pet", 1.38},
	{"pc", 1.20},
	{"pa", 1.14},
}

const defaultDensity = 1.24

// DensityFor returns the material density in g/cm³ for a material name,
// matched by case-insensitive substring, defaulting to PLA's density.
func DensityFor(material string) float64 {
	lower := strings.ToLower(material)
	for _, entry := range densityTable {
		if strings.Contains(lower, entry.substr) {
			return entry.density
		}
	}
	return defaultDensity
}

// Parse extracts time and filament usage from G-code text. diameterMM is the
// filament diameter used for length/volume conversions (pass 1.75 when
// unknown); material selects the density for volume-to-mass conversion.
func Parse(text string, diameterMM float64, material string) Metrics {
	m := Metrics{TimeS: parseTime(text)}

	density := DensityFor(material)
	grams, lengthMM, found := parseSummary(text, diameterMM, density)
	if !found {
		if total := extrudedLength(text); total > 0 {
			lengthMM = &total
			grams = gramsFromLength(total, diameterMM, density)
		}
	}
	m.FilamentG = grams
	m.FilamentMM = lengthMM
	return m
}

var (
	// ;TIME:1234 (Cura and friends)
	timeSecondsRe = regexp.MustCompile(`(?mi)^;\s*TIME\s*:\s*(\d+)`)
	// ; estimated printing time (normal mode) = 1h 32m 12s (PrusaSlicer)
	timeEstimateRe = regexp.MustCompile(`(?mi)estimated printing time[^=\n]*=\s*([0-9dhms: ]+)`)

	durationTokensRe = regexp.MustCompile(`(?i)(?:(\d+)\s*d)?\s*(?:(\d+)\s*h)?\s*(?:(\d+)\s*m)?\s*(?:(\d+)\s*s)?`)
	durationColonRe  = regexp.MustCompile(`^(\d+):(\d{1,2})(?::(\d{1,2}))?$`)
)

func parseTime(text string) *float64 {
	if m := timeSecondsRe.FindStringSubmatch(text); m != nil {
		if sec, err := strconv.ParseFloat(m[1], 64); err == nil {
			return &sec
		}
	}
	if m := timeEstimateRe.FindStringSubmatch(text); m != nil {
		if sec, ok := parseDuration(strings.TrimSpace(m[1])); ok {
			return &sec
		}
	}
	return nil
}

// parseDuration understands "1d 2h 3m 4s" token forms (any subset, in order)
// and "HH:MM:SS" / "MM:SS" colon forms.
func parseDuration(s string) (float64, bool) {
	if m := durationColonRe.FindStringSubmatch(s); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		if m[3] != "" {
			c, _ := strconv.Atoi(m[3])
			return float64(a*3600 + b*60 + c), true
		}
		return float64(a*60 + b), true
	}

	m := durationTokensRe.FindStringSubmatch(s)
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "" && m[4] == "") {
		return 0, false
	}
	toInt := func(v string) int {
		n, _ := strconv.Atoi(v)
		return n
	}
	seconds := toInt(m[1])*86400 + toInt(m[2])*3600 + toInt(m[3])*60 + toInt(m[4])
	return float64(seconds), true
}

var (
	// ;Filament used [g]: 12.3   /   ; filament used [mm] = 1234.5
	bracketUsageRe = regexp.MustCompile(`(?i)^;\s*(?:filament|material)\s+used\s*\[\s*([a-z0-9^]+)\s*\]\s*[:=]\s*([0-9]+(?:\.[0-9]+)?)`)
	// ;Filament used: 0.84918m
	inlineUsageRe = regexp.MustCompile(`(?i)^;\s*filament\s+used\s*[:=]\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z0-9^]+)`)
)

// parseSummary scans comment lines for filament-usage summaries, summing
// every match within its unit family (multi-extruder jobs emit one line per
// tool). When several families are present: explicit grams win over explicit
// volume, volume over length. Returns found=false only when no summary
// comment matched at all.
func parseSummary(text string, diameterMM, density float64) (grams, lengthMM *float64, found bool) {
	var sumG, sumVolMM3, sumLenMM float64
	var haveG, haveVol, haveLen bool

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, ";") {
			continue
		}

		var unit, value string
		if m := bracketUsageRe.FindStringSubmatch(line); m != nil {
			unit, value = m[1], m[2]
		} else if m := inlineUsageRe.FindStringSubmatch(line); m != nil {
			value, unit = m[1], m[2]
		} else {
			continue
		}

		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(unit) {
		case "g":
			sumG += v
			haveG = true
		case "kg":
			sumG += v * 1000
			haveG = true
		case "mm":
			sumLenMM += v
			haveLen = true
		case "cm":
			sumLenMM += v * 10
			haveLen = true
		case "m":
			sumLenMM += v * 1000
			haveLen = true
		case "mm3", "mm^3":
			sumVolMM3 += v
			haveVol = true
		case "cm3", "cm^3":
			sumVolMM3 += v * 1000
			haveVol = true
		}
	}

	if !haveG && !haveVol && !haveLen {
		return nil, nil, false
	}

	area := crossSectionMM2(diameterMM)

	switch {
	case haveG:
		grams = &sumG
	case haveVol:
		g := sumVolMM3 / 1000.0 * density
		grams = &g
	case haveLen:
		grams = gramsFromLength(sumLenMM, diameterMM, density)
	}

	switch {
	case haveLen:
		lengthMM = &sumLenMM
	case haveVol && area > 0:
		l := sumVolMM3 / area
		lengthMM = &l
	case haveG && area > 0 && density > 0:
		l := (sumG / density) * 1000.0 / area
		lengthMM = &l
	}

	return grams, lengthMM, true
}

func crossSectionMM2(diameterMM float64) float64 {
	if diameterMM <= 0 {
		return 0
	}
	r := diameterMM / 2.0
	return math.Pi * r * r
}

func gramsFromLength(lengthMM, diameterMM, density float64) *float64 {
	area := crossSectionMM2(diameterMM)
	if area <= 0 {
		return nil
	}
	g := lengthMM * area / 1000.0 * density
	return &g
}

// maxSaneDeltaMM discards single extrusion deltas beyond this as sensor or
// format anomalies.
const maxSaneDeltaMM = 1000.0

var (
	toolRe  = regexp.MustCompile(`^T(\d+)\b`)
	moveRe  = regexp.MustCompile(`^G[01]\b`)
	modeRe  = regexp.MustCompile(`^M8([23])\b`)
	eAxisRe = regexp.MustCompile(`(?i)\bE(-?[0-9]+(?:\.[0-9]+)?)`)
	resetRe = regexp.MustCompile(`(?i)^(?:G92|M92)\b`)
)

// extrudedLength integrates E-axis deltas over the motion commands, per tool,
// and sums across tools. Retraction deltas are dropped, not netted, so the
// result carries a deliberate one-sided overestimate; that bias is inherited
// behavior the cost model is calibrated against, not a bug.
func extrudedLength(text string) float64 {
	perTool := map[int]float64{}
	lastE := map[int]float64{}
	relative := false
	tool := 0

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}

		if m := toolRe.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				tool = n
			}
			continue
		}

		upper := strings.ToUpper(line)
		if m := modeRe.FindStringSubmatch(upper); m != nil {
			relative = m[1] == "3"
			continue
		}

		if resetRe.MatchString(upper) {
			if m := eAxisRe.FindStringSubmatch(line); m != nil {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					lastE[tool] = v
				}
			}
			continue
		}

		if !moveRe.MatchString(upper) {
			continue
		}
		m := eAxisRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		e, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}

		if relative {
			if e > 0 && e <= maxSaneDeltaMM {
				perTool[tool] += e
			}
			continue
		}

		delta := e - lastE[tool]
		lastE[tool] = e
		if delta > 0 && delta <= maxSaneDeltaMM {
			perTool[tool] += delta
		}
	}

	var total float64
	for _, length := range perTool {
		total += length
	}
	return total
}
