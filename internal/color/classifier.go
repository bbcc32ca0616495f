// Package color turns the loosely-labelled color data carried by spools
// (hex strings in half a dozen spellings, free-text product names) into a
// normalized hex plus a stable human color name.
package color

import (
	"regexp"
	"strings"
)

// FallbackHex is used when a spool carries no parseable color at all.
const FallbackHex = "#777777"

// transparentPattern covers the transparency vocabulary seen in the wild,
// including the Italian stems vendors use (natura, traspar, trasluc, neutro).
var transparentPattern = regexp.MustCompile(`(?i)(transparent|translucent|clear|crystal|glass|natural|natura|smoke|traspar|trasluc|neutro)`)

var hexDigits = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// bareHexPattern matches "names" that are really just a hex code in disguise.
var bareHexPattern = regexp.MustCompile(`^#?(?:0x)?[0-9a-fA-F]{3,8}$`)

// Labels for hexes whose heuristic bucket is known to be wrong or ambiguous.
// File-cache entries take precedence so operators can override these too.
var knownHexNames = map[string]string{
	"#FFFFFF": "White",
	"#000000": "Black",
	"#020000": "Black",
	"#A6A9AA": "Gray",
	"#E4BD68": "Gold",
	"#FF9016": "Orange",
	"#F4EE2A": "Yellow",
	"#0A2989": "Blue",
	"#5E43B7": "Violet",
	"#00AE42": "Green",
	"#EC008C": "Pink",
	"#F5547C": "Pink",
	"#C12E1F": "Red",
	"#9D432C": "Brown",
	"#F7E6DE": "White",
}

// NormalizeHex canonicalizes a raw color string to "#RRGGBB" (uppercase).
// Accepted inputs: with or without a leading "#", with or without a "0x"
// prefix, 3/4/6/8 hex digits. Shorthand digits are doubled; alpha digits are
// dropped. Anything else returns "".
func NormalizeHex(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "#")
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if !hexDigits.MatchString(s) {
		return ""
	}

	switch len(s) {
	case 4:
		s = s[:3]
		fallthrough
	case 3:
		var b strings.Builder
		for _, c := range s {
			b.WriteRune(c)
			b.WriteRune(c)
		}
		s = b.String()
	case 8:
		s = s[:6]
	case 6:
		// already canonical length
	default:
		return ""
	}

	return "#" + strings.ToUpper(s)
}

// IsTransparent reports whether a spool should be treated as transparent
// filament, from its free-text blob (name, product, material, color label)
// and its normalized hex.
func IsTransparent(textBlob, hex string) bool {
	if transparentPattern.MatchString(textBlob) {
		return true
	}
	lower := strings.ToLower(textBlob)
	if strings.Contains(lower, "petg") && strings.Contains(lower, "transl") {
		return true
	}
	// A near-white hex alone is not a signal: plenty of opaque white
	// filament is #FFFFFF. Only the text vocabulary decides.
	return false
}

// Classifier resolves human color names, backed by the persistent name cache.
type Classifier struct {
	cache *Store
}

func NewClassifier(cache *Store) *Classifier {
	return &Classifier{cache: cache}
}

// Name resolves a human color name for hex. Resolution order: the
// "Transparent" label always wins; then the persistent cache; then a
// human-supplied name (unless it is itself a bare hex string); then heuristic
// bucketing by hue. It never returns an empty string. Newly resolved names
// are registered in the cache, except for transparent hexes which are never
// cached under a color name.
func (c *Classifier) Name(hex, declaredName string, transparent bool) string {
	if transparent {
		return "Transparent"
	}

	normalized := NormalizeHex(hex)
	if normalized == "" {
		// Malformed hex degrades to the neutral gray bucket.
		normalized = FallbackHex
	}

	if c.cache != nil {
		if name, ok := c.cache.Get(normalized); ok {
			return name
		}
	}
	if name, ok := knownHexNames[normalized]; ok {
		return name
	}

	declared := strings.TrimSpace(declaredName)
	if declared != "" && !bareHexPattern.MatchString(declared) {
		c.register(normalized, declared)
		return declared
	}

	name := bucketName(normalized)
	if name != "N/D" {
		c.register(normalized, name)
	}
	return name
}

func (c *Classifier) register(hex, name string) {
	if c.cache != nil {
		c.cache.RegisterIfAbsent(hex, name)
	}
}

// bucketName maps a normalized hex to a fixed palette by hue band, with
// saturation/value carve-outs for white/black/gray, brown, gold and pastel
// pink.
func bucketName(hex string) string {
	r, g, b, ok := rgb(hex)
	if !ok {
		return "Gray"
	}
	h, s, v := hsv(r, g, b)

	if s < 0.1 {
		switch {
		case v > 0.9:
			return "White"
		case v < 0.15:
			return "Black"
		default:
			return "Gray"
		}
	}

	if h >= 15 && h < 40 && v < 0.6 {
		return "Brown"
	}
	if h >= 40 && h < 55 && s > 0.4 && v > 0.6 {
		return "Gold"
	}

	switch {
	case h < 15 || h >= 345:
		// Pastel reds read as pink.
		if s < 0.35 && v > 0.8 {
			return "Pink"
		}
		return "Red"
	case h < 40:
		return "Orange"
	case h < 75:
		return "Yellow"
	case h < 160:
		return "Green"
	case h < 190:
		return "Cyan"
	case h < 255:
		return "Blue"
	case h < 295:
		return "Violet"
	case h < 345:
		return "Pink"
	}
	return "N/D"
}

// rgb decodes a "#RRGGBB" hex into channels scaled to [0,1].
func rgb(hex string) (r, g, b float64, ok bool) {
	normalized := NormalizeHex(hex)
	if normalized == "" {
		return 0, 0, 0, false
	}
	parse := func(s string) float64 {
		var v int
		for _, c := range s {
			v <<= 4
			switch {
			case c >= '0' && c <= '9':
				v |= int(c - '0')
			case c >= 'A' && c <= 'F':
				v |= int(c-'A') + 10
			}
		}
		return float64(v) / 255.0
	}
	return parse(normalized[1:3]), parse(normalized[3:5]), parse(normalized[5:7]), true
}

func hsv(r, g, b float64) (h, s, v float64) {
	max := r
	if g > max {
		max = g
	}
	if b > max {
		max = b
	}
	min := r
	if g < min {
		min = g
	}
	if b < min {
		min = b
	}
	delta := max - min

	if delta != 0 {
		switch max {
		case r:
			h = (g - b) / delta
			if g < b {
				h += 6
			}
		case g:
			h = (b-r)/delta + 2
		default:
			h = (r-g)/delta + 4
		}
		h *= 60
	}
	if max > 0 {
		s = delta / max
	}
	return h, s, max
}
