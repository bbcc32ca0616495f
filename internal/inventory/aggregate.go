// Package inventory groups normalized spools into deduplicated,
// price-bearing buckets for the UI and for price lookup during estimation.
package inventory

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/folletto95/3d-Site/internal/color"
	"github.com/folletto95/3d-Site/internal/spoolman"
)

// Bucket aggregates every spool sharing (color, material, diameter,
// transparency). Buckets are rebuilt on every request and carry no identity
// across fetches.
type Bucket struct {
	Key            string   `json:"key"`
	ColorHex       string   `json:"color_hex"`
	ColorName      string   `json:"color_name"`
	Material       string   `json:"material"`
	Diameter       string   `json:"diameter"`
	DiameterMM     *float64 `json:"diameter_mm"`
	Count          int      `json:"count"`
	RemainingG     float64  `json:"remaining_g"`
	HasKnownWeight bool     `json:"has_known_weight"`
	PricePerKg     *float64 `json:"price_per_kg"`
	Currency       string   `json:"currency"`
	Transparent    bool     `json:"is_transparent"`
}

// Aggregate buckets spools by (color hex, material, diameter, transparency).
// Remaining weight sums the known values; the bucket price is the minimum
// known per-kg price among members, nil only when no member has one. Spools
// without usable filament detail still bucket under material "N/A" so totals
// stay reconcilable against the raw fetch count. Output order is a stable
// case-insensitive sort by (material, color name, hex).
func Aggregate(spools []spoolman.Spool, currency string) []Bucket {
	buckets := make(map[string]*Bucket)
	order := make([]string, 0)

	for _, s := range spools {
		hex := s.ColorHex
		if hex == "" {
			hex = color.FallbackHex
		}
		material := s.Material
		if material == "" {
			material = "N/A"
		}
		diameter := ""
		if s.DiameterMM != nil {
			diameter = fmt.Sprintf("%g", *s.DiameterMM)
		}

		key := bucketKey(hex, material, diameter, s.Transparent)
		b, ok := buckets[key]
		if !ok {
			b = &Bucket{
				Key:         key,
				ColorHex:    hex,
				ColorName:   s.ColorName,
				Material:    material,
				Diameter:    diameter,
				DiameterMM:  s.DiameterMM,
				Currency:    currency,
				Transparent: s.Transparent,
			}
			buckets[key] = b
			order = append(order, key)
		}

		b.Count++
		if s.RemainingG != nil {
			b.RemainingG += *s.RemainingG
			b.HasKnownWeight = true
		}
		if s.PricePerKg != nil {
			if b.PricePerKg == nil || *s.PricePerKg < *b.PricePerKg {
				v := *s.PricePerKg
				b.PricePerKg = &v
			}
		}
	}

	items := make([]Bucket, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		b.RemainingG = math.Round(b.RemainingG*10) / 10
		items = append(items, *b)
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if m := strings.Compare(strings.ToLower(a.Material), strings.ToLower(b.Material)); m != 0 {
			return m < 0
		}
		if n := strings.Compare(strings.ToLower(a.ColorName), strings.ToLower(b.ColorName)); n != 0 {
			return n < 0
		}
		return strings.Compare(strings.ToLower(a.ColorHex), strings.ToLower(b.ColorHex)) < 0
	})

	return items
}

func bucketKey(hex, material, diameter string, transparent bool) string {
	flag := "N"
	if transparent {
		flag = "T"
	}
	return strings.Join([]string{hex, material, diameter, flag}, "|")
}
