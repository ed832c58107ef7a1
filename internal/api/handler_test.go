package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"coinarius-analytics/internal/model"
)

type fixedSource struct{ out *model.Output }

func (s *fixedSource) Output() *model.Output { return s.out }

type fakeFallback struct {
	out *model.Output
	err error
}

func (f *fakeFallback) Latest(context.Context) (*model.Output, error) { return f.out, f.err }

type fakeHistory struct {
	outs  []*model.Output
	err   error
	limit int
}

func (f *fakeHistory) SaveOutput(context.Context, *model.Output) error { return nil }
func (f *fakeHistory) Close() error                                    { return nil }
func (f *fakeHistory) LatestOutputs(_ context.Context, limit int) ([]*model.Output, error) {
	f.limit = limit
	return f.outs, f.err
}

func universe(t *testing.T) *model.Universe {
	t.Helper()
	u, err := model.NewUniverse([]model.Symbol{{Code: "BTC", Name: "Bitcoin"}, {Code: "ETH", Name: "Ethereum"}})
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func btcOutput(version uint64) *model.Output {
	v, z := 42000.0, 1.25
	return &model.Output{
		Version:   version,
		CycleID:   "c1",
		Mode:      model.ModeFull,
		UpdatedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Symbols: map[string]model.SymbolOutput{
			"BTC": {
				Name:        "Bitcoin",
				Records:     map[string]model.Record{"price": {ID: "price", LastValue: &v, LastZScore: &z}},
				TotalZScore: 1.25,
			},
		},
	}
}

type testResponse struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, d Deps, target string) (*httptest.ResponseRecorder, testResponse) {
	t.Helper()
	s := NewServer(NewHandler(d), nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var resp testResponse
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("body is not JSON: %v\n%s", err, rec.Body)
		}
	}
	return rec, resp
}

// ────────────────────────────────────────────────────────────────────────────
// /api/analytics
// ────────────────────────────────────────────────────────────────────────────

func TestAnalytics_NotReady(t *testing.T) {
	rec, resp := do(t, Deps{Source: &fixedSource{}, Universe: universe(t)}, "/api/analytics")
	if rec.Code != http.StatusServiceUnavailable || resp.Status != http.StatusServiceUnavailable {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestAnalytics_ServesOutput(t *testing.T) {
	rec, resp := do(t, Deps{Source: &fixedSource{out: btcOutput(3)}, Universe: universe(t)}, "/api/analytics")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var out model.Output
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Version != 3 || out.Symbols["BTC"].TotalZScore != 1.25 {
		t.Errorf("output = %+v", out)
	}
	if rec.Header().Get("X-Analytics-Source") != "" {
		t.Error("live output marked as cached")
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Error("missing request id header")
	}
}

func TestAnalytics_Fallback(t *testing.T) {
	d := Deps{
		Source:   &fixedSource{},
		Universe: universe(t),
		Fallback: &fakeFallback{out: btcOutput(7)},
	}
	rec, resp := do(t, d, "/api/analytics")
	if rec.Code != http.StatusOK || rec.Header().Get("X-Analytics-Source") != "cache" {
		t.Fatalf("code = %d source = %q", rec.Code, rec.Header().Get("X-Analytics-Source"))
	}
	var out model.Output
	json.Unmarshal(resp.Data, &out)
	if out.Version != 7 {
		t.Errorf("version = %d, want 7", out.Version)
	}

	d.Fallback = &fakeFallback{err: errors.New("redis down")}
	if rec, _ := do(t, d, "/api/analytics"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("failing fallback: code = %d", rec.Code)
	}
}

// ────────────────────────────────────────────────────────────────────────────
// /api/analytics/:symbol
// ────────────────────────────────────────────────────────────────────────────

func TestSymbolAnalytics(t *testing.T) {
	d := Deps{Source: &fixedSource{out: btcOutput(2)}, Universe: universe(t)}

	rec, resp := do(t, d, "/api/analytics/btc")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var view struct {
		Symbol    string `json:"symbol"`
		Version   uint64 `json:"version"`
		Analytics struct {
			Name  string `json:"name"`
			Price struct {
				Last float64 `json:"last_price"`
			} `json:"price"`
		} `json:"analytics"`
	}
	if err := json.Unmarshal(resp.Data, &view); err != nil {
		t.Fatal(err)
	}
	if view.Symbol != "BTC" || view.Version != 2 || view.Analytics.Name != "Bitcoin" || view.Analytics.Price.Last != 42000 {
		t.Errorf("view = %+v", view)
	}
}

func TestSymbolAnalytics_NotFound(t *testing.T) {
	d := Deps{Source: &fixedSource{out: btcOutput(2)}, Universe: universe(t)}

	tests := []struct {
		target string
		code   int
	}{
		{"/api/analytics/XRP", http.StatusNotFound},
		{"/api/analytics/ETH", http.StatusNotFound}, // in universe, absent from output
	}
	for _, tt := range tests {
		if rec, _ := do(t, d, tt.target); rec.Code != tt.code {
			t.Errorf("%s: code = %d, want %d", tt.target, rec.Code, tt.code)
		}
	}
}

// ────────────────────────────────────────────────────────────────────────────
// /api/symbols, /api/history
// ────────────────────────────────────────────────────────────────────────────

func TestSymbols(t *testing.T) {
	_, resp := do(t, Deps{Source: &fixedSource{}, Universe: universe(t)}, "/api/symbols")
	var syms []model.Symbol
	json.Unmarshal(resp.Data, &syms)
	if len(syms) != 2 || syms[0].Code != "BTC" || syms[1].Name != "Ethereum" {
		t.Errorf("symbols = %+v", syms)
	}
}

func TestHistory(t *testing.T) {
	hist := &fakeHistory{outs: []*model.Output{btcOutput(5), btcOutput(4)}}
	d := Deps{Source: &fixedSource{}, Universe: universe(t), History: hist}

	rec, resp := do(t, d, "/api/history")
	if rec.Code != http.StatusOK || hist.limit != 20 {
		t.Fatalf("code = %d limit = %d", rec.Code, hist.limit)
	}
	var outs []model.Output
	json.Unmarshal(resp.Data, &outs)
	if len(outs) != 2 || outs[0].Version != 5 {
		t.Errorf("history = %d outputs", len(outs))
	}

	do(t, d, "/api/history?limit=3")
	if hist.limit != 3 {
		t.Errorf("limit = %d, want 3", hist.limit)
	}
}

func TestHistory_Errors(t *testing.T) {
	u := universe(t)
	tests := []struct {
		name   string
		d      Deps
		target string
		code   int
	}{
		{"disabled", Deps{Source: &fixedSource{}, Universe: u}, "/api/history", http.StatusNotImplemented},
		{"limit too large", Deps{Source: &fixedSource{}, Universe: u, History: &fakeHistory{}}, "/api/history?limit=501", http.StatusBadRequest},
		{"limit not a number", Deps{Source: &fixedSource{}, Universe: u, History: &fakeHistory{}}, "/api/history?limit=x", http.StatusBadRequest},
		{"store error", Deps{Source: &fixedSource{}, Universe: u, History: &fakeHistory{err: errors.New("locked")}}, "/api/history", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec, _ := do(t, tt.d, tt.target); rec.Code != tt.code {
				t.Errorf("code = %d, want %d", rec.Code, tt.code)
			}
		})
	}
}

func TestHistory_EmptyIsArray(t *testing.T) {
	d := Deps{Source: &fixedSource{}, Universe: universe(t), History: &fakeHistory{}}
	_, resp := do(t, d, "/api/history")
	if string(resp.Data) != "[]" {
		t.Errorf("data = %s, want []", resp.Data)
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Mounted handlers and middleware
// ────────────────────────────────────────────────────────────────────────────

func TestMountedHandlers(t *testing.T) {
	mark := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(name))
		})
	}
	d := Deps{
		Source:   &fixedSource{},
		Universe: universe(t),
		Health:   mark("health"),
		Metrics:  mark("metrics"),
		Stream:   mark("ws"),
	}
	for target, want := range map[string]string{"/healthz": "health", "/metrics": "metrics", "/ws": "ws"} {
		rec, _ := do(t, d, target)
		if rec.Body.String() != want {
			t.Errorf("%s served %q", target, rec.Body.String())
		}
	}
}

func TestRecover(t *testing.T) {
	s := NewServer(NewHandler(Deps{Source: &fixedSource{}, Universe: universe(t)}), nil)
	s.Echo().GET("/boom", func(echo.Context) error { panic("boom") })

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", rec.Code)
	}
}
