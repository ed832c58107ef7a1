package feed

import "sort"

// Merge folds fresh into prev. Bars are keyed by timestamp: a fresh bar
// replaces a cached one with the same timestamp and newer bars are appended.
// Each asset keeps at most max bars (the most recent). Current values come
// from fresh; assets missing from fresh are carried over unchanged.
func Merge(prev, fresh Snapshot, max int) Snapshot {
	out := Snapshot{FetchedAt: fresh.FetchedAt}
	seen := make(map[string]bool, len(fresh.Assets))

	for _, fa := range fresh.Assets {
		seen[fa.Symbol] = true
		pa, ok := prev.Asset(fa.Symbol)
		if !ok {
			out.Assets = append(out.Assets, trim(fa, max))
			continue
		}
		merged := fa
		merged.Series = mergeSeries(pa.Series, fa.Series)
		if merged.Name == "" {
			merged.Name = pa.Name
		}
		out.Assets = append(out.Assets, trim(merged, max))
	}
	for _, pa := range prev.Assets {
		if !seen[pa.Symbol] {
			out.Assets = append(out.Assets, pa)
		}
	}
	return out
}

func mergeSeries(old, fresh []Observation) []Observation {
	byTime := make(map[int64]int, len(old)+len(fresh))
	out := make([]Observation, 0, len(old)+len(fresh))
	for _, o := range old {
		byTime[o.Time.UnixNano()] = len(out)
		out = append(out, o)
	}
	for _, o := range fresh {
		if i, ok := byTime[o.Time.UnixNano()]; ok {
			out[i] = o
			continue
		}
		byTime[o.Time.UnixNano()] = len(out)
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func trim(a Asset, max int) Asset {
	if max > 0 && len(a.Series) > max {
		s := make([]Observation, max)
		copy(s, a.Series[len(a.Series)-max:])
		a.Series = s
	}
	return a
}
