package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Mode tells whether an output was produced by a full or incremental pass.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// SymbolOutput is the per-symbol slice of an engine output.
type SymbolOutput struct {
	Name        string
	Records     map[string]Record // keyed by calculator id
	TotalZScore float64
}

// TotalZScore sums |LastZScore| over records, counting nil as zero.
// Records are summed in id order so equal inputs give identical totals.
func TotalZScore(records map[string]Record) float64 {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := 0.0
	for _, id := range ids {
		if z := records[id].LastZScore; z != nil {
			total += math.Abs(*z)
		}
	}
	return total
}

// MarshalJSON flattens the symbol into {"name":..., "<id>": {...}, "total_z_score": x}.
func (s SymbolOutput) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.Records)+2)
	for id, r := range s.Records {
		if id == "name" || id == "total_z_score" {
			return nil, fmt.Errorf("symbol output: reserved calculator id %q", id)
		}
		m[id] = r
	}
	m["name"] = s.Name
	m["total_z_score"] = s.TotalZScore
	return json.Marshal(m)
}

func (s *SymbolOutput) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Records = make(map[string]Record, len(raw))
	for k, v := range raw {
		switch k {
		case "name":
			if err := json.Unmarshal(v, &s.Name); err != nil {
				return err
			}
		case "total_z_score":
			if err := json.Unmarshal(v, &s.TotalZScore); err != nil {
				return err
			}
		default:
			r := Record{ID: k}
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("symbol output %s: %w", k, err)
			}
			s.Records[k] = r
		}
	}
	return nil
}

// Output is one published engine snapshot. Once published it is never
// mutated; a new cycle builds a new Output and swaps it in.
type Output struct {
	Version     uint64                  `json:"version"`
	CycleID     string                  `json:"cycle_id"`
	Mode        Mode                    `json:"mode"`
	UpdatedAt   time.Time               `json:"updated_at"`
	LastFetched time.Time               `json:"last_fetched"`
	Symbols     map[string]SymbolOutput `json:"analytics"`
}

// Symbol returns the output for code.
func (o *Output) Symbol(code string) (SymbolOutput, bool) {
	if o == nil {
		return SymbolOutput{}, false
	}
	s, ok := o.Symbols[code]
	return s, ok
}

// Codes returns the symbol codes present in the output, sorted.
func (o *Output) Codes() []string {
	codes := make([]string, 0, len(o.Symbols))
	for c := range o.Symbols {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// JSON returns the encoded output, ignoring errors for logging paths.
func (o *Output) JSON() []byte {
	b, _ := json.Marshal(o)
	return b
}
