package pricing

// Input carries the resolved quantities feeding a cost estimate. Nil fields
// mean the value is unknown; unknown inputs must never be defaulted to zero,
// or the quote would come out misleadingly low.
type Input struct {
	FilamentG  *float64
	PricePerKg *float64
	TimeS      *float64
	HourlyRate *float64
}

// Breakdown contains the cost components of an estimate. A nil component
// means a required input was missing; a nil total means at least one
// component could not be resolved.
type Breakdown struct {
	MaterialCost *float64
	MachineCost  *float64
	Total        *float64
}

// Estimate computes material and machine costs. Each component resolves only
// when both of its operands are known, and the total only when both
// components resolved. Nil propagates; nothing is silently treated as free.
func Estimate(in Input) Breakdown {
	var out Breakdown

	if in.FilamentG != nil && in.PricePerKg != nil {
		v := *in.PricePerKg * (*in.FilamentG / 1000.0)
		out.MaterialCost = &v
	}
	if in.TimeS != nil && in.HourlyRate != nil {
		v := *in.HourlyRate * (*in.TimeS / 3600.0)
		out.MachineCost = &v
	}
	if out.MaterialCost != nil && out.MachineCost != nil {
		v := *out.MaterialCost + *out.MachineCost
		out.Total = &v
	}

	return out
}
