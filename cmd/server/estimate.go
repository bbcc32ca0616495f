package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/folletto95/3d-Site/internal/gcode"
	"github.com/folletto95/3d-Site/internal/inventory"
	"github.com/folletto95/3d-Site/internal/pricing"
	"github.com/folletto95/3d-Site/internal/profiles"
	"github.com/folletto95/3d-Site/internal/slicer"
)

const defaultDiameterMM = 1.75

type estimateRequest struct {
	ModelURL       string   `json:"model_url"`
	PresetPrint    string   `json:"preset_print"`
	PresetFilament string   `json:"preset_filament"`
	PresetPrinter  string   `json:"preset_printer"`
	LayerHeightMM  *float64 `json:"layer_height"`
	InfillPercent  *float64 `json:"infill"`
	NozzleMM       *float64 `json:"nozzle_diameter"`
	TravelSpeed    *float64 `json:"travel_speed"`
	PrintSpeed     *float64 `json:"print_speed"`
	Material       string   `json:"material"`
	DiameterMM     *float64 `json:"diameter_mm"`
	PricePerKg     *float64 `json:"price_per_kg"`
}

type estimateResponse struct {
	FilamentG      *float64              `json:"filament_g"`
	FilamentMM     *float64              `json:"filament_mm"`
	TimeS          *float64              `json:"time_s"`
	PricePerKg     *float64              `json:"price_per_kg"`
	HourlyRate     float64               `json:"hourly_rate"`
	CostMaterial   *float64              `json:"cost_material"`
	CostMachine    *float64              `json:"cost_machine"`
	CostTotal      *float64              `json:"cost_total"`
	Currency       string                `json:"currency"`
	Profiles       []profiles.Resolution `json:"profiles"`
	PresetsHonored bool                  `json:"presets_honored"`
}

// handleEstimate runs the whole pipeline: resolve model and profiles, slice,
// parse metrics, look up a price, and compute the cost breakdown.
func (s *server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	req, modelPath, err := s.parseEstimateRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	set, err := s.resolveProfiles(req)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.invoker.Invoke(r.Context(), modelPath, set, slicer.Overrides{
		LayerHeightMM: req.LayerHeightMM,
		InfillPercent: req.InfillPercent,
		NozzleMM:      req.NozzleMM,
		TravelSpeed:   req.TravelSpeed,
		PrintSpeed:    req.PrintSpeed,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	diameter := defaultDiameterMM
	if req.DiameterMM != nil && *req.DiameterMM > 0 {
		diameter = *req.DiameterMM
	}
	metrics := gcode.Parse(result.GCode, diameter, req.Material)
	if metrics.FilamentG == nil && metrics.TimeS == nil {
		writeError(w, gcode.ErrMetricsUnavailable)
		return
	}

	pricePerKg := req.PricePerKg
	if pricePerKg == nil {
		pricePerKg = s.lookupPrice(r.Context(), req.Material, req.DiameterMM)
	}

	hourlyRate := s.cfg.HourlyRate
	breakdown := pricing.Estimate(pricing.Input{
		FilamentG:  metrics.FilamentG,
		PricePerKg: pricePerKg,
		TimeS:      metrics.TimeS,
		HourlyRate: &hourlyRate,
	})

	writeNoCacheJSON(w, http.StatusOK, estimateResponse{
		FilamentG:      metrics.FilamentG,
		FilamentMM:     metrics.FilamentMM,
		TimeS:          metrics.TimeS,
		PricePerKg:     pricePerKg,
		HourlyRate:     hourlyRate,
		CostMaterial:   breakdown.MaterialCost,
		CostMachine:    breakdown.MachineCost,
		CostTotal:      breakdown.Total,
		Currency:       s.cfg.Currency,
		Profiles:       []profiles.Resolution{set.Print, set.Filament, set.Printer},
		PresetsHonored: set.Print.Found && set.Filament.Found && set.Printer.Found,
	})
}

// parseEstimateRequest accepts either a multipart form (with an optional
// model file) or a JSON body referencing a previously uploaded model, and
// returns the request plus the on-disk model path to slice.
func (s *server) parseEstimateRequest(w http.ResponseWriter, r *http.Request) (estimateRequest, string, error) {
	var req estimateRequest

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, "", badRequestf("invalid JSON body: %v", err)
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return req, "", badRequestf("invalid form: %v", err)
		}
		req = estimateRequest{
			ModelURL:       r.FormValue("model_url"),
			PresetPrint:    r.FormValue("preset_print"),
			PresetFilament: r.FormValue("preset_filament"),
			PresetPrinter:  r.FormValue("preset_printer"),
			LayerHeightMM:  formFloat(r, "layer_height"),
			InfillPercent:  formFloat(r, "infill"),
			NozzleMM:       formFloat(r, "nozzle_diameter"),
			TravelSpeed:    formFloat(r, "travel_speed"),
			PrintSpeed:     formFloat(r, "print_speed"),
			Material:       r.FormValue("material"),
			DiameterMM:     formFloat(r, "diameter_mm"),
			PricePerKg:     formFloat(r, "price_per_kg"),
		}

		if file, header, err := r.FormFile("model"); err == nil {
			defer file.Close()
			saved, err := s.uploads.Save(header.Filename, file)
			if err != nil {
				return req, "", err
			}
			return req, saved.Path, nil
		}
	}

	if req.ModelURL == "" {
		return req, "", badRequestf("missing model: upload a file or pass model_url")
	}
	path, err := s.uploads.Resolve(req.ModelURL)
	if err != nil {
		return req, "", badRequestf("%v", err)
	}
	return req, path, nil
}

// resolveProfiles maps the requested presets to concrete files, defaulting
// absent preset tokens to each kind's default profile name so the resolver's
// empty-name check stays meaningful for explicit callers.
func (s *server) resolveProfiles(req estimateRequest) (slicer.ProfileSet, error) {
	var set slicer.ProfileSet
	var err error

	set.Print, err = s.resolver.Resolve(profiles.KindPrint, orDefault(req.PresetPrint, "print"))
	if err != nil {
		return set, err
	}
	set.Filament, err = s.resolver.Resolve(profiles.KindFilament, orDefault(req.PresetFilament, "filament"))
	if err != nil {
		return set, err
	}
	set.Printer, err = s.resolver.Resolve(profiles.KindPrinter, orDefault(req.PresetPrinter, "printer"))
	if err != nil {
		return set, err
	}
	return set, nil
}

// lookupPrice finds the cheapest matching inventory bucket for a material
// (and diameter, when given). Inventory trouble only costs us the price, not
// the whole estimate: a nil price propagates as a null material cost.
func (s *server) lookupPrice(ctx context.Context, material string, diameterMM *float64) *float64 {
	if material == "" {
		return nil
	}
	spools, err := s.fetchNormalizedSpools(ctx)
	if err != nil {
		log.Printf("warning: price lookup skipped, inventory fetch failed: %v", err)
		return nil
	}

	var best *float64
	for _, b := range inventory.Aggregate(spools, s.cfg.Currency) {
		if b.PricePerKg == nil || !strings.EqualFold(b.Material, material) {
			continue
		}
		if diameterMM != nil && b.DiameterMM != nil && *b.DiameterMM != *diameterMM {
			continue
		}
		if best == nil || *b.PricePerKg < *best {
			v := *b.PricePerKg
			best = &v
		}
	}
	return best
}

func formFloat(r *http.Request, field string) *float64 {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return nil
	}
	return &v
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
