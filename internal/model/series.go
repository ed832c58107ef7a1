package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Point is one observation of a time series. A nil Value is an absent
// observation (missing tick) that keeps its position for timestamp alignment.
type Point struct {
	Time  time.Time `json:"ts"`
	Value *float64  `json:"value"`
}

// Float returns a pointer to v, or nil when v is NaN or infinite.
func Float(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Finite returns the present values of points, in order.
func Finite(points []Point) []float64 {
	out := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Value != nil {
			out = append(out, *p.Value)
		}
	}
	return out
}

// Record is the latest output of one calculator for one symbol.
//
// Series is the history produced by the last full pass. LastValue may be
// newer than the final entry of Series when an incremental pass patched it.
type Record struct {
	ID         string   `json:"-"`
	Series     []Point  `json:"-"`
	LastValue  *float64 `json:"-"`
	LastZScore *float64 `json:"-"`

	// Appended marks a LastValue that follows the final Series point
	// instead of replacing it. Set when the full pass had no current value.
	Appended bool `json:"-"`
}

// WithLatest returns a copy of r sharing its history, with the latest
// value and z-score replaced.
func (r Record) WithLatest(value, z *float64) Record {
	r.LastValue = value
	r.LastZScore = z
	return r
}

// LastKey is the JSON key of the latest value, e.g. "last_rsi".
func (r Record) LastKey() string {
	return "last_" + r.ID
}

// MarshalJSON encodes {"time_series": [...], "last_<id>": v, "last_z_score": z}.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("record: missing calculator id")
	}
	m := map[string]any{
		"time_series":  r.Series,
		r.LastKey():    r.LastValue,
		"last_z_score": r.LastZScore,
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes a record written by MarshalJSON. The ID must be
// set on the receiver beforehand, or exactly one "last_*" key besides
// "last_z_score" must be present.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if ts, ok := raw["time_series"]; ok {
		if err := json.Unmarshal(ts, &r.Series); err != nil {
			return fmt.Errorf("record time_series: %w", err)
		}
	}
	if z, ok := raw["last_z_score"]; ok {
		if err := json.Unmarshal(z, &r.LastZScore); err != nil {
			return fmt.Errorf("record last_z_score: %w", err)
		}
	}
	if r.ID == "" {
		for k := range raw {
			if k != "last_z_score" && len(k) > 5 && k[:5] == "last_" {
				r.ID = k[5:]
				break
			}
		}
	}
	if v, ok := raw[r.LastKey()]; ok {
		if err := json.Unmarshal(v, &r.LastValue); err != nil {
			return fmt.Errorf("record %s: %w", r.LastKey(), err)
		}
	}
	return nil
}
