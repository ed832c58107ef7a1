// Package feed defines the market-data snapshot consumed by the engine and
// the client that fetches it from the upstream API.
package feed

import (
	"context"
	"time"
)

// Field selects a fundamental quantity of an asset.
type Field string

const (
	FieldPrice  Field = "price"
	FieldVolume Field = "volume"
)

// Observation is one historical bar. Absent values are nil.
type Observation struct {
	Time   time.Time
	Close  *float64
	Volume *float64
}

// Value returns the observation's value for f.
func (o Observation) Value(f Field) *float64 {
	if f == FieldVolume {
		return o.Volume
	}
	return o.Close
}

// Asset is one symbol's history plus its authoritative current values.
type Asset struct {
	Symbol string
	Name   string
	Series []Observation
	Price  *float64
	Volume *float64
}

// Current returns the asset's current value for f.
func (a Asset) Current(f Field) *float64 {
	if f == FieldVolume {
		return a.Volume
	}
	return a.Price
}

// Snapshot is one fetch of the feed. For latest-tick fetches only the
// current values of each asset are meaningful.
type Snapshot struct {
	FetchedAt time.Time
	Assets    []Asset
}

// Asset returns the asset for symbol.
func (s Snapshot) Asset(symbol string) (Asset, bool) {
	for _, a := range s.Assets {
		if a.Symbol == symbol {
			return a, true
		}
	}
	return Asset{}, false
}

// LatestTime returns the newest bar timestamp across all assets.
func (s Snapshot) LatestTime() time.Time {
	var latest time.Time
	for _, a := range s.Assets {
		if n := len(a.Series); n > 0 && a.Series[n-1].Time.After(latest) {
			latest = a.Series[n-1].Time
		}
	}
	return latest
}

// Client fetches snapshots with the given number of historical points per asset.
type Client interface {
	FetchSnapshot(ctx context.Context, points int) (Snapshot, error)
}
