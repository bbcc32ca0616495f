package spoolman

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/folletto95/3d-Site/internal/color"
)

// Spool is the canonical internal view of one upstream spool record.
// Pointer fields are nil when the upstream simply does not know the value.
type Spool struct {
	ID            int64    `json:"id"`
	Product       string   `json:"product"`
	Material      string   `json:"material"`
	DiameterMM    *float64 `json:"diameter_mm"`
	ColorHex      string   `json:"color_hex"`
	ColorName     string   `json:"color_name"`
	Transparent   bool     `json:"is_transparent"`
	RemainingG    *float64 `json:"remaining_weight_g"`
	RemainingLenM *float64 `json:"remaining_length_m"`
	PricePerKg    *float64 `json:"price_per_kg"`
	SpoolPrice    *float64 `json:"spool_price"`
	Currency      string   `json:"currency"`
	Archived      bool     `json:"archived"`
}

// legacy top-level aliases used by old inventory-service versions that carry
// filament detail directly on the spool.
var legacyFilamentAliases = map[string][]string{
	"name":      {"filament_name", "name", "product"},
	"material":  {"filament_material", "material"},
	"diameter":  {"filament_diameter", "diameter", "diameter_mm"},
	"color_hex": {"filament_color_hex", "color_hex"},
	"price":     {"filament_price", "price"},
	"weight":    {"filament_weight", "weight_g", "weight"},
}

var spoolPriceKeys = []string{"purchase_price", "price", "spool_price", "cost_eur", "cost"}

// FilamentLookup resolves a filament record referenced by id. Nil disables
// the lookup tier.
type FilamentLookup interface {
	FetchFilament(ctx context.Context, id string) (gjson.Result, error)
}

// Normalizer converts raw spool records into canonical Spool values.
type Normalizer struct {
	filaments  FilamentLookup
	classifier *color.Classifier
	currency   string
}

func NewNormalizer(filaments FilamentLookup, classifier *color.Classifier, currency string) *Normalizer {
	return &Normalizer{filaments: filaments, classifier: classifier, currency: currency}
}

// Normalize maps one raw spool record into the canonical view. Field gaps are
// recovered locally and never abort the fetch.
func (n *Normalizer) Normalize(ctx context.Context, raw gjson.Result) Spool {
	filament := n.ExtractFilament(ctx, raw)

	hexRaw := firstOf(raw, "color_hex")
	if !hexRaw.Exists() {
		hexRaw = firstOf(filament, "color_hex")
	}
	hex := color.NormalizeHex(hexRaw.String())

	blob := strings.Join([]string{
		raw.Get("name").String(),
		raw.Get("product").String(),
		raw.Get("color").String(),
		filament.Get("name").String(),
		filament.Get("material").String(),
	}, " ")
	transparent := color.IsTransparent(blob, hex)

	declared := firstOf(raw, "color_name")
	if !declared.Exists() {
		declared = firstOf(filament, "color_name")
	}
	colorName := n.classifier.Name(hex, declared.String(), transparent)

	var remainingLenM *float64
	if lengthMM := safeFloat(firstOf(raw, "remaining_length")); lengthMM != nil {
		v := *lengthMM / 1000.0
		remainingLenM = &v
	}

	return Spool{
		ID:            raw.Get("id").Int(),
		Product:       filament.Get("name").String(),
		Material:      filament.Get("material").String(),
		DiameterMM:    safeFloat(filament.Get("diameter")),
		ColorHex:      hex,
		ColorName:     colorName,
		Transparent:   transparent,
		RemainingG:    safeFloat(firstOf(raw, "remaining_weight", "remaining_weight_g")),
		RemainingLenM: remainingLenM,
		PricePerKg:    ResolvePricePerKg(raw, filament),
		SpoolPrice:    safeFloat(firstOf(raw, spoolPriceKeys...)),
		Currency:      n.currency,
		Archived:      raw.Get("archived").Bool(),
	}
}

// ExtractFilament returns the filament detail for a spool: an embedded
// filament object when present, else a lookup by referenced id, else the
// legacy flat fields flattened into an equivalent view. An empty result is
// fine; absence of filament detail must not abort the inventory fetch.
func (n *Normalizer) ExtractFilament(ctx context.Context, spool gjson.Result) gjson.Result {
	if f := spool.Get("filament"); f.IsObject() && len(f.Map()) > 0 {
		return f
	}

	if id := firstOf(spool, "filament_id", "filamentId"); id.Exists() && n.filaments != nil {
		if f, err := n.filaments.FetchFilament(ctx, id.String()); err == nil && f.IsObject() {
			return f
		}
	}

	legacy := make(map[string]any)
	for field, aliases := range legacyFilamentAliases {
		if v := firstOf(spool, aliases...); v.Exists() {
			legacy[field] = v.Value()
		}
	}
	if len(legacy) == 0 {
		return gjson.Parse("{}")
	}
	encoded, err := json.Marshal(legacy)
	if err != nil {
		return gjson.Parse("{}")
	}
	return gjson.ParseBytes(encoded)
}

// ResolvePricePerKg derives a per-kilogram price. The spool purchase price
// divided by the filament's nominal weight wins when both are known (that is
// what the operator actually paid); the filament-level list price is the
// fallback.
func ResolvePricePerKg(spool, filament gjson.Result) *float64 {
	weightG := safeFloat(firstOf(filament, "weight", "weight_g"))

	if spoolPrice := safeFloat(firstOf(spool, spoolPriceKeys...)); spoolPrice != nil {
		if weightG != nil && *weightG > 0 {
			v := *spoolPrice / (*weightG / 1000.0)
			return &v
		}
	}

	if perKg := safeFloat(firstOf(filament, "price_per_kg", "cost_per_kg")); perKg != nil {
		return perKg
	}
	if price := safeFloat(filament.Get("price")); price != nil && weightG != nil && *weightG > 0 {
		v := *price / (*weightG / 1000.0)
		return &v
	}
	return nil
}

// firstOf returns the first existing, non-null value among keys.
func firstOf(obj gjson.Result, keys ...string) gjson.Result {
	for _, key := range keys {
		if v := obj.Get(key); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

// safeFloat parses a number or numeric string (comma decimal separators
// tolerated), rejecting NaN and infinities.
func safeFloat(v gjson.Result) *float64 {
	switch v.Type {
	case gjson.Number:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return &f
	case gjson.String:
		text := strings.ReplaceAll(strings.TrimSpace(v.String()), ",", ".")
		if text == "" {
			return nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return &f
	default:
		return nil
	}
}
