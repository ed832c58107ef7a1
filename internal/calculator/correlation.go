package calculator

import (
	"coinarius-analytics/internal/model"
	"coinarius-analytics/internal/stats"
)

// Correlation is the Pearson correlation of a symbol's returns with a
// partner series. It reports a single value with no time series and no
// z-score.
type Correlation struct {
	id ID
	// partner names the symbol correlated against; empty means the
	// symbol's own returns shifted by one step.
	partner string
	ready   bool
}

// NewBTCCorrelation correlates every symbol's returns with BTC's.
func NewBTCCorrelation() *Correlation { return &Correlation{id: BTCCorrelation, partner: "BTC"} }

// NewETHCorrelation correlates every symbol's returns with ETH's.
func NewETHCorrelation() *Correlation { return &Correlation{id: ETHCorrelation, partner: "ETH"} }

// NewAutocorrelation correlates each return with the one before it.
func NewAutocorrelation() *Correlation { return &Correlation{id: Autocorrelation} }

func (c *Correlation) ID() ID          { return c.id }
func (c *Correlation) Kind() Kind      { return KindCorrelation }
func (c *Correlation) DependsOn() []ID { return []ID{Return} }

func (c *Correlation) Calculate(in Inputs) (Result, error) {
	res, err := c.compute(in)
	if err != nil {
		return nil, err
	}
	c.ready = true
	return res, nil
}

// CalculateLatest recomputes the correlation with each return series'
// newest point taken from the return calculator's latest value.
func (c *Correlation) CalculateLatest(in Inputs) (Result, error) {
	if !c.ready {
		return nil, &UninitializedStateError{Calculator: c.id}
	}
	return c.compute(in)
}

func (c *Correlation) compute(in Inputs) (Result, error) {
	ret, err := requireResult(in, c.id, Return)
	if err != nil {
		return nil, err
	}
	returns := make(map[string][]float64, len(ret))
	for sym, rec := range ret {
		returns[sym] = latestReturns(rec)
	}

	res := make(Result, len(ret))
	for sym, r := range returns {
		rec := model.Record{ID: string(c.id)}
		var x, y []float64
		if c.partner == "" {
			if len(r) > 1 {
				x, y = r[:len(r)-1], r[1:]
			}
		} else if p, ok := returns[c.partner]; ok {
			x, y = stats.TailAlign(r, p)
		}
		if v, ok := stats.Pearson(x, y); ok {
			rec.LastValue = model.Float(v)
		}
		res[sym] = rec
	}
	return res, nil
}

// Checkpoint and Restore only track whether a full pass has run; the
// calculator keeps no per-symbol cache.
func (c *Correlation) Checkpoint() any { return c.ready }

func (c *Correlation) Restore(state any) {
	c.ready, _ = state.(bool)
}

// latestReturns is the finite return history with the newest point
// replaced by the record's latest value, or extended by it when the
// value was appended.
func latestReturns(rec model.Record) []float64 {
	hist := rec.Series
	if !rec.Appended {
		hist = committed(hist)
	}
	out := model.Finite(hist)
	if rec.LastValue != nil {
		out = append(out, *rec.LastValue)
	}
	return out
}
