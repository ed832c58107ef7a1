// Package calculator provides the technical-analysis calculators and the
// registry that orders them.
//
// Every calculator has two paths. Calculate rebuilds the whole series for
// every symbol and replaces the calculator's cache. CalculateLatest takes
// only the newest observation per symbol and must agree with what
// Calculate would produce for that point, touching nothing but the
// calculator's own lookback window.
package calculator

import (
	"fmt"

	"coinarius-analytics/internal/feed"
	"coinarius-analytics/internal/model"
)

// ID identifies a calculator. It is also the calculator's key in the
// engine output and the suffix of its "last_<id>" field.
type ID string

const (
	Price            ID = "price"
	Volume           ID = "volume"
	Return           ID = "return"
	PriceDiff        ID = "price_diff"
	VolumeDiff       ID = "volume_diff"
	Return30d        ID = "return_30d"
	MovingAverage30d ID = "moving_average_30d"
	RSI              ID = "rsi"
	BTCCorrelation   ID = "btc_correlation"
	ETHCorrelation   ID = "eth_correlation"
	Autocorrelation  ID = "autocorrelation"
)

// AllIDs lists every known calculator in canonical order.
var AllIDs = []ID{
	Price, Volume,
	Return, PriceDiff, VolumeDiff, Return30d, MovingAverage30d, RSI,
	BTCCorrelation, ETHCorrelation, Autocorrelation,
}

// ParseID validates s as a calculator id.
func ParseID(s string) (ID, error) {
	for _, id := range AllIDs {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown calculator %q", s)
}

// Kind groups calculators by what they consume. Execution order respects
// fundamentals before derived before correlation.
type Kind int

const (
	KindFundamental Kind = iota
	KindDerived
	KindCorrelation
)

func (k Kind) String() string {
	switch k {
	case KindFundamental:
		return "fundamental"
	case KindDerived:
		return "derived"
	case KindCorrelation:
		return "correlation"
	default:
		return "unknown"
	}
}

// Result maps symbol code to that symbol's record.
type Result map[string]model.Record

// Inputs is what a calculator sees during one engine pass: the feed
// snapshot of the pass and the results of calculators that already ran.
type Inputs interface {
	Snapshot() feed.Snapshot
	Result(id ID) (Result, bool)
}

// Calculator is the contract shared by every calculator.
type Calculator interface {
	ID() ID
	Kind() Kind

	// DependsOn lists calculators whose results must be present in Inputs.
	DependsOn() []ID

	// Calculate runs the full path and replaces the cache.
	Calculate(in Inputs) (Result, error)

	// CalculateLatest runs the incremental path. It never modifies the cache.
	CalculateLatest(in Inputs) (Result, error)
}

// Checkpointer is implemented by calculators whose cache can be captured
// before a full pass and put back if the pass fails.
type Checkpointer interface {
	Checkpoint() any
	Restore(state any)
}

// Cycle is the Inputs of one engine pass. Results accumulate as the
// calculators run in order.
type Cycle struct {
	snap    feed.Snapshot
	results map[ID]Result
}

// NewCycle starts a pass over snap.
func NewCycle(snap feed.Snapshot) *Cycle {
	return &Cycle{snap: snap, results: make(map[ID]Result)}
}

func (c *Cycle) Snapshot() feed.Snapshot { return c.snap }

func (c *Cycle) Result(id ID) (Result, bool) {
	r, ok := c.results[id]
	return r, ok
}

// Set records the result of id for the calculators that follow.
func (c *Cycle) Set(id ID, r Result) {
	c.results[id] = r
}

// Results returns every result recorded so far.
func (c *Cycle) Results() map[ID]Result {
	return c.results
}

// requireResult fetches dependency dep for calculator id.
func requireResult(in Inputs, id, dep ID) (Result, error) {
	r, ok := in.Result(dep)
	if !ok {
		return nil, &DependencyNotReadyError{Calculator: id, Dependency: dep}
	}
	return r, nil
}
