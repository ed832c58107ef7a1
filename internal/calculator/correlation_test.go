package calculator

import (
	"testing"
)

func TestCorrelation_PartnerReturns(t *testing.T) {
	// BTC returns: +10, -10, +10
	// ETH is BTC at half price: identical returns → +1
	// LTC returns: -10, +10, -10 → -1
	btc := []float64{100, 110, 99, 108.9}
	eth := []float64{50, 55, 49.5, 54.45}
	ltc := []float64{100, 90, 99, 89.1}
	reg := mustBuild(t, BTCCorrelation, ETHCorrelation)
	res := runFull(t, reg, snapshot(asset("BTC", btc), asset("ETH", eth), asset("LTC", ltc)))

	assertPtr(t, "BTC~BTC", res[BTCCorrelation]["BTC"].LastValue, 1, 1e-9)
	assertPtr(t, "ETH~BTC", res[BTCCorrelation]["ETH"].LastValue, 1, 1e-9)
	assertPtr(t, "LTC~BTC", res[BTCCorrelation]["LTC"].LastValue, -1, 1e-9)
	assertPtr(t, "LTC~ETH", res[ETHCorrelation]["LTC"].LastValue, -1, 1e-9)

	for sym, rec := range res[BTCCorrelation] {
		if rec.Series != nil || rec.LastZScore != nil {
			t.Errorf("%s: correlation carries series=%v z=%v, want neither", sym, rec.Series, rec.LastZScore)
		}
		if rec.ID != string(BTCCorrelation) {
			t.Errorf("%s: record id = %q", sym, rec.ID)
		}
	}
}

func TestCorrelation_TailAlignsUnequalHistories(t *testing.T) {
	// DOGE only has the last three BTC returns' worth of prices
	btc := []float64{100, 120, 110, 121, 108.9}
	doge := []float64{1, 1.1, 0.99}
	res := runFull(t, mustBuild(t, BTCCorrelation), snapshot(asset("BTC", btc), asset("DOGE", doge)))
	// DOGE returns {+10, -10} against BTC's last two {+10, -10}
	assertPtr(t, "DOGE~BTC", res[BTCCorrelation]["DOGE"].LastValue, 1, 1e-9)
}

func TestCorrelation_MissingPartnerIsAbsent(t *testing.T) {
	res := runFull(t, mustBuild(t, BTCCorrelation), snapshot(asset("ETH", []float64{1, 2, 3, 5})))
	rec, ok := res[BTCCorrelation]["ETH"]
	if !ok {
		t.Fatal("ETH missing from result")
	}
	if rec.LastValue != nil {
		t.Errorf("correlation without BTC = %v, want absent", *rec.LastValue)
	}
}

func TestCorrelation_ConstantReturnsAreAbsent(t *testing.T) {
	// doubling every step: returns are all 100 with no variance
	res := runFull(t, mustBuild(t, Autocorrelation), snapshot(asset("BTC", []float64{1, 2, 4, 8, 16})))
	if v := res[Autocorrelation]["BTC"].LastValue; v != nil {
		t.Errorf("autocorrelation of constant returns = %v, want absent", *v)
	}
}

func TestAutocorrelation_Correctness(t *testing.T) {
	// returns +10, -10, +10 → pairs (10,-10), (-10,10) → -1
	res := runFull(t, mustBuild(t, Autocorrelation), snapshot(asset("BTC", []float64{100, 110, 99, 108.9})))
	assertPtr(t, "autocorrelation", res[Autocorrelation]["BTC"].LastValue, -1, 1e-9)
}

func TestAutocorrelation_Incremental(t *testing.T) {
	reg := mustBuild(t, Autocorrelation)
	runFull(t, reg, snapshot(asset("BTC", []float64{100, 110, 99, 108.9})))

	// replacing the newest price with 89.1 turns the last return into -10:
	// returns +10, -10, -10 → pairs (10,-10), (-10,-10)
	// x = {10,-10}, y = {-10,-10} has no variance in y beyond rounding → absent
	latest := runLatest(t, reg, tick(map[string]float64{"BTC": 89.1}))
	if v := latest[Autocorrelation]["BTC"].LastValue; v != nil {
		t.Errorf("autocorrelation = %v, want absent", *v)
	}

	// 118.8 gives a last return of +20: pairs (10,-10), (-10,20) → -1
	latest = runLatest(t, reg, tick(map[string]float64{"BTC": 118.8}))
	assertPtr(t, "autocorrelation", latest[Autocorrelation]["BTC"].LastValue, -1, 1e-9)
}

func TestAutocorrelation_TickExtendsHistoryWithoutCurrent(t *testing.T) {
	// the newest bar has no price: returns +10, -10 are both history
	a := asset("BTC", []float64{100, 110, 99, 0})
	a.Series[3].Close = nil
	a.Price = nil

	reg := mustBuild(t, Autocorrelation)
	full := runFull(t, reg, snapshot(a))
	if v := full[Autocorrelation]["BTC"].LastValue; v != nil {
		t.Errorf("autocorrelation of one pair = %v, want absent", *v)
	}

	// 108.9 appends a +10 return: pairs (10,-10), (-10,10) → -1
	latest := runLatest(t, reg, tick(map[string]float64{"BTC": 108.9}))
	if !latest[Return]["BTC"].Appended {
		t.Error("return without a current price was not marked appended")
	}
	assertPtr(t, "autocorrelation", latest[Autocorrelation]["BTC"].LastValue, -1, 1e-9)
}
