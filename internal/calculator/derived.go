package calculator

import (
	"time"

	"coinarius-analytics/internal/model"
)

// Derived applies a transform to a fundamental series per symbol.
type Derived struct {
	id     ID
	source ID
	t      transform
	cache  map[string]derivedState
}

// derivedState is what the incremental path needs for one symbol.
type derivedState struct {
	record model.Record
	// committed are the cleaned source values before the newest point.
	committed []float64
	// current is the newest source value seen by the last full pass.
	current *float64
	// history holds the finite outputs computable from committed alone.
	history []float64
	state   any
}

func newDerived(id, source ID, t transform) *Derived {
	return &Derived{id: id, source: source, t: t}
}

// NewReturn is the one-step percent change of price.
func NewReturn() *Derived { return newDerived(Return, Price, pctChange{lag: 1}) }

// NewPriceDiff is the one-step absolute change of price.
func NewPriceDiff() *Derived { return newDerived(PriceDiff, Price, difference{}) }

// NewVolumeDiff is the one-step absolute change of volume.
func NewVolumeDiff() *Derived { return newDerived(VolumeDiff, Volume, difference{}) }

// NewReturn30d is the percent change from the first to the last price of
// a 30-point window, i.e. against the price 29 points back.
func NewReturn30d() *Derived { return newDerived(Return30d, Price, pctChange{lag: 29}) }

// NewMovingAverage30d is the 30-point simple moving average of price.
func NewMovingAverage30d() *Derived {
	return newDerived(MovingAverage30d, Price, movingAverage{n: 30})
}

// NewRSI is the 14-period relative strength index of price.
func NewRSI() *Derived { return newDerived(RSI, Price, rsi{periods: 14}) }

func (d *Derived) ID() ID          { return d.id }
func (d *Derived) Kind() Kind      { return KindDerived }
func (d *Derived) DependsOn() []ID { return []ID{d.source} }

// MinPoints is the shortest source series the incremental path accepts.
func (d *Derived) MinPoints() int { return d.t.window() }

func (d *Derived) Calculate(in Inputs) (Result, error) {
	src, err := requireResult(in, d.id, d.source)
	if err != nil {
		return nil, err
	}
	cache := make(map[string]derivedState, len(src))
	res := make(Result, len(src))
	for sym, rec := range src {
		st := d.build(rec.Series)
		cache[sym] = st
		res[sym] = st.record
	}
	d.cache = cache
	return res, nil
}

func (d *Derived) build(series []model.Point) derivedState {
	times, vals := clean(committed(series))
	st := derivedState{
		committed: append([]float64(nil), vals...),
	}
	st.state = d.t.prepare(st.committed)

	if n := len(series); n > 0 && series[n-1].Value != nil {
		st.current = series[n-1].Value
		times = append(times, series[n-1].Time)
		vals = append(vals, *st.current)
	}

	out := d.t.apply(vals)
	offset := len(vals) - len(out)
	points := make([]model.Point, len(out))
	for i, v := range out {
		points[i] = model.Point{Time: times[offset+i], Value: model.Float(v)}
	}

	hist := out
	if st.current != nil && len(out) > 0 {
		hist = out[:len(out)-1]
	}
	st.history = finite(hist)

	st.record = model.Record{ID: string(d.id), Series: points}
	if len(out) > 0 {
		st.record.LastValue = model.Float(out[len(out)-1])
		if st.record.LastValue != nil {
			st.record.LastZScore = zPtr(finite(out))
		}
	}
	return st
}

// CalculateLatest recomputes the newest output from the cached lookback
// window and the source's latest value.
func (d *Derived) CalculateLatest(in Inputs) (Result, error) {
	if d.cache == nil {
		return nil, &UninitializedStateError{Calculator: d.id}
	}
	src, err := requireResult(in, d.id, d.source)
	if err != nil {
		return nil, err
	}
	w := d.t.window()
	res := make(Result, len(d.cache))
	for sym, st := range d.cache {
		v := st.current
		if rec, ok := src[sym]; ok && rec.LastValue != nil {
			v = rec.LastValue
		}
		if v == nil {
			res[sym] = st.record
			continue
		}
		have := len(st.committed) + 1
		if have < w {
			return nil, &InsufficientHistoryError{Calculator: d.id, Symbol: sym, Have: have, Need: w}
		}
		vals := make([]float64, 0, w)
		vals = append(vals, st.committed[len(st.committed)-(w-1):]...)
		vals = append(vals, *v)

		value := model.Float(d.t.last(vals, st.state))
		var z *float64
		if value != nil {
			pop := make([]float64, len(st.history), len(st.history)+1)
			copy(pop, st.history)
			z = zPtr(append(pop, *value))
		}
		rec := st.record.WithLatest(value, z)
		rec.Appended = st.current == nil
		res[sym] = rec
	}
	return res, nil
}

func (d *Derived) Checkpoint() any { return d.cache }

func (d *Derived) Restore(state any) {
	d.cache, _ = state.(map[string]derivedState)
}

// clean drops absent points, keeping timestamps aligned with values.
func clean(points []model.Point) ([]time.Time, []float64) {
	times := make([]time.Time, 0, len(points))
	vals := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Value == nil {
			continue
		}
		times = append(times, p.Time)
		vals = append(vals, *p.Value)
	}
	return times, vals
}

func finite(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if model.Float(x) != nil {
			out = append(out, x)
		}
	}
	return out
}
