// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import "math"

// tenthsThreshold: a temperature above this was entered without its decimal
// point (365 for 36.5 °C).
const tenthsThreshold = 80.0

// NormalizeVitals returns a copy of v with unit and range fixes applied.
//
// Description:
//
//	NaN and infinite readings become unknown (nil). Negative readings are
//	floored at zero so an implausibly low value still compares as low.
//	Temperatures above 80 are divided by ten. SpO2 is clamped to [0, 100]
//	and GCS to [3, 15] (rounded to a whole score). Unknown values stay
//	unknown.
//
// Inputs:
//   - v: Vitals as measured at intake.
//
// Outputs:
//   - Vitals: Normalized copy. The input is not modified.
//
// Thread Safety: This function is safe for concurrent use.
func NormalizeVitals(v Vitals) Vitals {
	out := Vitals{
		HR:   sanitize(v.HR),
		SBP:  sanitize(v.SBP),
		DBP:  sanitize(v.DBP),
		Temp: sanitize(v.Temp),
		SpO2: sanitize(v.SpO2),
		RR:   sanitize(v.RR),
		GCS:  sanitize(v.GCS),
	}
	if out.Temp != nil && *out.Temp > tenthsThreshold {
		*out.Temp = *out.Temp / 10
	}
	if out.SpO2 != nil {
		*out.SpO2 = clamp(*out.SpO2, 0, 100)
	}
	if out.GCS != nil {
		*out.GCS = clamp(math.Round(*out.GCS), 3, 15)
	}
	return out
}

// sanitize copies a reading. Non-finite values become unknown and negative
// ones are floored at zero.
func sanitize(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	v = math.Max(0, v)
	return &v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
