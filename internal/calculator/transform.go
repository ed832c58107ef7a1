package calculator

import "math"

// transform maps a cleaned value series to a derived series. Undefined
// outputs are NaN.
type transform interface {
	// window is the number of input values one output consumes.
	window() int

	// apply returns one output per input from index window()-1 on.
	apply(vals []float64) []float64

	// prepare builds running state over the committed values, or nil.
	prepare(committed []float64) any

	// last returns the output for the final element of vals, given the
	// state prepare built over every value but that one. len(vals) >= window().
	last(vals []float64, state any) float64
}

// pctChange is the percent change against the value lag points earlier.
type pctChange struct{ lag int }

func (t pctChange) window() int { return t.lag + 1 }

func (t pctChange) apply(vals []float64) []float64 {
	if len(vals) <= t.lag {
		return nil
	}
	out := make([]float64, len(vals)-t.lag)
	for i := t.lag; i < len(vals); i++ {
		out[i-t.lag] = percent(vals[i-t.lag], vals[i])
	}
	return out
}

func (t pctChange) prepare([]float64) any { return nil }

func (t pctChange) last(vals []float64, _ any) float64 {
	n := len(vals)
	return percent(vals[n-1-t.lag], vals[n-1])
}

func percent(base, v float64) float64 {
	return (v - base) / base * 100
}

// difference is the absolute change against the previous value.
type difference struct{}

func (difference) window() int { return 2 }

func (difference) apply(vals []float64) []float64 {
	if len(vals) < 2 {
		return nil
	}
	out := make([]float64, len(vals)-1)
	for i := 1; i < len(vals); i++ {
		out[i-1] = vals[i] - vals[i-1]
	}
	return out
}

func (difference) prepare([]float64) any { return nil }

func (difference) last(vals []float64, _ any) float64 {
	n := len(vals)
	return vals[n-1] - vals[n-2]
}

// movingAverage is the simple mean of the trailing n values.
type movingAverage struct{ n int }

func (t movingAverage) window() int { return t.n }

func (t movingAverage) apply(vals []float64) []float64 {
	if len(vals) < t.n {
		return nil
	}
	cum := prefixSums(vals)
	out := make([]float64, len(vals)-t.n+1)
	for i := range out {
		out[i] = (cum[i+t.n] - cum[i]) / float64(t.n)
	}
	return out
}

// prepare keeps the prefix sums of the committed values so last repeats
// the exact operations of apply.
func (t movingAverage) prepare(committed []float64) any { return prefixSums(committed) }

func (t movingAverage) last(vals []float64, state any) float64 {
	cum, ok := state.([]float64)
	if !ok || len(cum) < t.n {
		cum = prefixSums(vals[:len(vals)-1])
	}
	k := len(cum) - 1
	return ((cum[k] + vals[len(vals)-1]) - cum[k+1-t.n]) / float64(t.n)
}

func prefixSums(vals []float64) []float64 {
	cum := make([]float64, len(vals)+1)
	for i, v := range vals {
		cum[i+1] = cum[i] + v
	}
	return cum
}

// rsi is the relative strength index over exponentially weighted average
// gains and losses with span-adjusted weights: the change k steps back
// carries weight (1-1/periods)^k and the averages are normalised by the
// sum of weights. Defined once periods changes have been seen.
type rsi struct{ periods int }

// ewm is the running weighted sums of gains and losses.
type ewm struct {
	gain    float64
	loss    float64
	weight  float64
	changes int
	prev    float64
	started bool
}

func (t rsi) decay() float64 { return 1 - 1/float64(t.periods) }

func (t rsi) window() int { return t.periods + 1 }

func (t rsi) fold(s ewm, v float64) ewm {
	if !s.started {
		s.prev, s.started = v, true
		return s
	}
	d := v - s.prev
	s.prev = v
	beta := t.decay()
	s.gain = math.Max(d, 0) + beta*s.gain
	s.loss = math.Max(-d, 0) + beta*s.loss
	s.weight = 1 + beta*s.weight
	s.changes++
	return s
}

func (t rsi) value(s ewm) float64 {
	if s.changes < t.periods {
		return math.NaN()
	}
	rs := (s.gain / s.weight) / (s.loss / s.weight)
	return 100 - 100/(1+rs)
}

func (t rsi) apply(vals []float64) []float64 {
	if len(vals) < t.window() {
		return nil
	}
	out := make([]float64, 0, len(vals)-t.periods)
	var s ewm
	for i, v := range vals {
		s = t.fold(s, v)
		if i >= t.periods {
			out = append(out, t.value(s))
		}
	}
	return out
}

func (t rsi) prepare(committed []float64) any {
	var s ewm
	for _, v := range committed {
		s = t.fold(s, v)
	}
	return s
}

func (t rsi) last(vals []float64, state any) float64 {
	s, ok := state.(ewm)
	if !ok {
		s = t.prepare(vals[:len(vals)-1]).(ewm)
	}
	return t.value(t.fold(s, vals[len(vals)-1]))
}
