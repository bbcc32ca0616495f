package gcode

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nearlyEqual(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 0.01 {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

func TestParse_TimeComment(t *testing.T) {
	m := Parse(";TIME:3665\n", 1.75, "PLA")
	require.NotNil(t, m.TimeS)
	nearlyEqual(t, "time_s", *m.TimeS, 3665)
}

func TestParse_EstimatedPrintingTimeForms(t *testing.T) {
	cases := map[string]float64{
		"; estimated printing time (normal mode) = 1h 32m 12s\n": 5532,
		"; estimated printing time = 45m 10s\n":                  2710,
		"; estimated printing time = 2h\n":                       7200,
		"; estimated printing time = 01:32:12\n":                 5532,
		"; estimated printing time = 45:10\n":                    2710,
	}
	for text, want := range cases {
		m := Parse(text, 1.75, "PLA")
		require.NotNil(t, m.TimeS, "input %q", text)
		nearlyEqual(t, "time_s", *m.TimeS, want)
	}
}

func TestParse_NoTime(t *testing.T) {
	m := Parse("G1 X0 Y0\n", 1.75, "PLA")
	assert.Nil(t, m.TimeS)
}

func TestParse_FilamentGramsDirect(t *testing.T) {
	m := Parse("; filament used [g] = 12.5\n", 1.75, "PLA")
	require.NotNil(t, m.FilamentG)
	nearlyEqual(t, "filament_g", *m.FilamentG, 12.5)
}

func TestParse_FilamentVolumeRoundTrip(t *testing.T) {
	m := Parse(";Filament used [cm3]: 10\n", 1.75, "PLA")
	require.NotNil(t, m.FilamentG)
	nearlyEqual(t, "filament_g", *m.FilamentG, 12.4)
}

func TestParse_FilamentLengthConversion(t *testing.T) {
	// 1000 mm of 1.75 mm filament: pi * 0.875^2 * 1000 / 1000 cm3 * 1.24
	m := Parse("; filament used [mm] = 1000\n", 1.75, "PLA")
	require.NotNil(t, m.FilamentG)
	nearlyEqual(t, "filament_g", *m.FilamentG, 2.982)
	require.NotNil(t, m.FilamentMM)
	nearlyEqual(t, "filament_mm", *m.FilamentMM, 1000)
}

func TestParse_InlineUnitSuffix(t *testing.T) {
	m := Parse(";Filament used: 2.5m\n", 1.75, "PLA")
	require.NotNil(t, m.FilamentMM)
	nearlyEqual(t, "filament_mm", *m.FilamentMM, 2500)
}

func TestParse_MultiExtruderLinesSum(t *testing.T) {
	text := ";Filament used: 1.2m\n;Filament used: 0.8m\n"
	m := Parse(text, 1.75, "PLA")
	require.NotNil(t, m.FilamentMM)
	nearlyEqual(t, "filament_mm", *m.FilamentMM, 2000)
}

func TestParse_GramsBeatVolumeBeatLength(t *testing.T) {
	text := "; filament used [mm] = 99999\n" +
		"; filament used [cm3] = 10\n" +
		"; filament used [g] = 5\n"
	m := Parse(text, 1.75, "PLA")
	require.NotNil(t, m.FilamentG)
	nearlyEqual(t, "filament_g", *m.FilamentG, 5)

	text = "; filament used [mm] = 99999\n; filament used [cm3] = 10\n"
	m = Parse(text, 1.75, "PLA")
	require.NotNil(t, m.FilamentG)
	nearlyEqual(t, "filament_g", *m.FilamentG, 12.4)
}

func TestParse_MaterialUsedSpelling(t *testing.T) {
	m := Parse(";Material used [kg]: 0.0125\n", 1.75, "PLA")
	require.NotNil(t, m.FilamentG)
	nearlyEqual(t, "filament_g", *m.FilamentG, 12.5)
}

func TestDensityFor(t *testing.T) {
	nearlyEqual(t, "PLA", DensityFor("Generic PLA"), 1.24)
	nearlyEqual(t, "PETG", DensityFor("petg translucent"), 1.27)
	nearlyEqual(t, "PET", DensityFor("PET bottle grade"), 1.38)
	nearlyEqual(t, "ASA", DensityFor("ASA-X"), 1.07)
	nearlyEqual(t, "nylon", DensityFor("Nylon CF"), 1.14)
	nearlyEqual(t, "default", DensityFor("unobtainium"), 1.24)
}

func TestExtrusionFallback_AbsoluteMode(t *testing.T) {
	text := "G92 E0\nG1 X1 E5\nG1 X2 E12\nG1 X3 E8\n"
	m := Parse(text, 1.75, "PLA")
	require.NotNil(t, m.FilamentMM)
	// 5 + 7; the retraction back to E8 contributes nothing.
	nearlyEqual(t, "filament_mm", *m.FilamentMM, 12)
}

func TestExtrusionFallback_ResetRestartsAccounting(t *testing.T) {
	text := "G92 E0\nG1 E10\nG92 E0\nG1 E3\n"
	m := Parse(text, 1.75, "PLA")
	require.NotNil(t, m.FilamentMM)
	nearlyEqual(t, "filament_mm", *m.FilamentMM, 13)
}

func TestExtrusionFallback_RelativeMode(t *testing.T) {
	text := "M83\nG1 E2\nG1 E3\nG1 E-1\nG1 E4\n"
	m := Parse(text, 1.75, "PLA")
	require.NotNil(t, m.FilamentMM)
	nearlyEqual(t, "filament_mm", *m.FilamentMM, 9)
}

func TestExtrusionFallback_ModeCommandsNeedExactCode(t *testing.T) {
	// M830 is not M83: mode stays absolute and the deltas are 5 + 3.
	text := "G92 E0\nM830 X1\nG1 E5\nG1 E8\n"
	m := Parse(text, 1.75, "PLA")
	require.NotNil(t, m.FilamentMM)
	nearlyEqual(t, "filament_mm", *m.FilamentMM, 8)

	// M821 is not M82: relative mode survives.
	text = "M83\nG1 E2\nM821 S0\nG1 E3\n"
	m = Parse(text, 1.75, "PLA")
	require.NotNil(t, m.FilamentMM)
	nearlyEqual(t, "filament_mm", *m.FilamentMM, 5)
}

func TestExtrusionFallback_AnomalousDeltaDiscarded(t *testing.T) {
	text := "G92 E0\nG1 E5\nG1 E2000\nG1 E2005\n"
	m := Parse(text, 1.75, "PLA")
	require.NotNil(t, m.FilamentMM)
	// 5, then the 1995 mm jump is discarded, then 5 more.
	nearlyEqual(t, "filament_mm", *m.FilamentMM, 10)
}

func TestExtrusionFallback_PerToolTracking(t *testing.T) {
	text := "T0\nG92 E0\nG1 E5\nT1\nG92 E0\nG1 E7\nT0\nG1 E9\n"
	m := Parse(text, 1.75, "PLA")
	require.NotNil(t, m.FilamentMM)
	// Tool 0: 5 then 4 more; tool 1: 7.
	nearlyEqual(t, "filament_mm", *m.FilamentMM, 16)
}

func TestExtrusionFallback_SummaryCommentDisablesFallback(t *testing.T) {
	text := "; filament used [g] = 3\nG92 E0\nG1 E500\n"
	m := Parse(text, 1.75, "PLA")
	require.NotNil(t, m.FilamentG)
	nearlyEqual(t, "filament_g", *m.FilamentG, 3)
}

func TestParse_NothingUsable(t *testing.T) {
	m := Parse("; just a comment\nM104 S200\n", 1.75, "PLA")
	assert.Nil(t, m.TimeS)
	assert.Nil(t, m.FilamentG)
	assert.Nil(t, m.FilamentMM)
}

func TestParse_FallbackDerivesGrams(t *testing.T) {
	text := "G92 E0\nG1 E1000\n"
	m := Parse(text, 1.75, "PLA")
	require.NotNil(t, m.FilamentG)
	nearlyEqual(t, "filament_g", *m.FilamentG, 2.982)
}
