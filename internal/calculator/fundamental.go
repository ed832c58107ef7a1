package calculator

import (
	"coinarius-analytics/internal/feed"
	"coinarius-analytics/internal/model"
	"coinarius-analytics/internal/stats"
)

// Fundamental reports a raw feed quantity (price or volume) per symbol.
// The asset's current value is the newest point of the series and
// overwrites the value of the final historical bar.
type Fundamental struct {
	id    ID
	field feed.Field
	cache Result
}

// NewPrice returns the price calculator.
func NewPrice() *Fundamental {
	return &Fundamental{id: Price, field: feed.FieldPrice}
}

// NewVolume returns the volume calculator.
func NewVolume() *Fundamental {
	return &Fundamental{id: Volume, field: feed.FieldVolume}
}

func (f *Fundamental) ID() ID          { return f.id }
func (f *Fundamental) Kind() Kind      { return KindFundamental }
func (f *Fundamental) DependsOn() []ID { return nil }

func (f *Fundamental) Calculate(in Inputs) (Result, error) {
	snap := in.Snapshot()
	res := make(Result, len(snap.Assets))
	for _, a := range snap.Assets {
		res[a.Symbol] = f.build(a, snap)
	}
	f.cache = res
	return res, nil
}

func (f *Fundamental) build(a feed.Asset, snap feed.Snapshot) model.Record {
	points := make([]model.Point, len(a.Series))
	for i, o := range a.Series {
		points[i] = model.Point{Time: o.Time, Value: o.Value(f.field)}
	}

	current := a.Current(f.field)
	if current != nil {
		if n := len(points); n > 0 {
			points[n-1].Value = current
		} else {
			points = append(points, model.Point{Time: snap.FetchedAt, Value: current})
		}
	}

	rec := model.Record{ID: string(f.id), Series: points}
	n := len(points)
	if n == 0 {
		return rec
	}
	rec.LastValue = points[n-1].Value
	if rec.LastValue == nil {
		return rec
	}
	if z, ok := stats.LastZScore(model.Finite(points)); ok {
		rec.LastZScore = &z
	}
	return rec
}

// CalculateLatest replaces each symbol's newest point with the tick's
// current value. Symbols absent from the tick keep their cached record.
func (f *Fundamental) CalculateLatest(in Inputs) (Result, error) {
	if f.cache == nil {
		return nil, &UninitializedStateError{Calculator: f.id}
	}
	snap := in.Snapshot()
	res := make(Result, len(f.cache))
	for sym, rec := range f.cache {
		v := rec.LastValue
		if a, ok := snap.Asset(sym); ok {
			if cur := a.Current(f.field); cur != nil {
				v = cur
			}
		}
		if v == nil {
			res[sym] = rec
			continue
		}
		pop := model.Finite(committed(rec.Series))
		pop = append(pop, *v)
		res[sym] = rec.WithLatest(v, zPtr(pop))
	}
	return res, nil
}

func (f *Fundamental) Checkpoint() any { return f.cache }

func (f *Fundamental) Restore(state any) {
	f.cache, _ = state.(Result)
}

// committed returns every point before the newest one.
func committed(points []model.Point) []model.Point {
	if len(points) == 0 {
		return nil
	}
	return points[:len(points)-1]
}

// zPtr is the z-score of the last element of pop, or nil when undefined.
func zPtr(pop []float64) *float64 {
	z, ok := stats.LastZScore(pop)
	if !ok {
		return nil
	}
	return model.Float(z)
}
