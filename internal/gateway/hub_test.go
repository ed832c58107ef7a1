package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"coinarius-analytics/internal/model"
)

// wireFrame is the parsed fresh_analytics frame.
type wireFrame struct {
	Event     string       `json:"event"`
	Seq       int64        `json:"seq"`
	TS        string       `json:"ts"`
	Analytics model.Output `json:"analytics"`
}

func testOutput(version uint64, codes ...string) *model.Output {
	out := &model.Output{
		Version:   version,
		CycleID:   "cycle",
		Mode:      model.ModeIncremental,
		UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Symbols:   make(map[string]model.SymbolOutput, len(codes)),
	}
	for i, c := range codes {
		v := float64(i + 1)
		out.Symbols[c] = model.SymbolOutput{
			Name:        c + " coin",
			Records:     map[string]model.Record{"price": {ID: "price", LastValue: &v}},
			TotalZScore: v,
		}
	}
	return out
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	h := NewHub(nil, 8)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, h *Hub, url string) *websocket.Conn {
	t.Helper()
	before := h.ClientCount()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() <= before {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f wireFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("frame is not valid JSON: %v\nraw: %s", err, raw)
	}
	return f
}

// ────────────────────────────────────────────────────────────────────────────
// Frame encoding
// ────────────────────────────────────────────────────────────────────────────

func TestFrame_Encoding(t *testing.T) {
	ts := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)
	f, err := newFrame(42, ts, testOutput(3, "BTC", "ETH"))
	if err != nil {
		t.Fatal(err)
	}

	var w wireFrame
	if err := json.Unmarshal(f.Bytes(nil), &w); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if w.Event != "fresh_analytics" || w.Seq != 42 || w.Analytics.Version != 3 {
		t.Errorf("frame = %+v", w)
	}
	parsed, err := time.Parse(time.RFC3339Nano, w.TS)
	if err != nil || !parsed.Equal(ts) {
		t.Errorf("ts = %q (%v)", w.TS, err)
	}
	if len(w.Analytics.Symbols) != 2 {
		t.Errorf("symbols = %v", w.Analytics.Codes())
	}
}

func TestFrame_FilteredBytesAreCached(t *testing.T) {
	f, _ := newFrame(1, time.Now(), testOutput(1, "BTC", "ETH", "LTC"))

	a := f.Bytes([]string{"ETH"})
	b := f.Bytes([]string{"ETH"})
	if &a[0] != &b[0] {
		t.Error("filtered encoding should be cached")
	}

	var w wireFrame
	json.Unmarshal(a, &w)
	if codes := w.Analytics.Codes(); len(codes) != 1 || codes[0] != "ETH" {
		t.Errorf("filtered codes = %v", codes)
	}
	if len(f.Output.Symbols) != 3 {
		t.Error("filtering mutated the source output")
	}
}

func TestNormaliseSymbols(t *testing.T) {
	got := normaliseSymbols([]string{" eth", "BTC", "", "btc"})
	if strings.Join(got, ",") != "BTC,ETH" {
		t.Errorf("got %v", got)
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Hub over a real socket
// ────────────────────────────────────────────────────────────────────────────

func TestHub_PublishReachesClient(t *testing.T) {
	h, url := startHub(t)
	conn := dial(t, h, url)

	if err := h.Publish(context.Background(), testOutput(1, "BTC", "ETH")); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, conn)
	if f.Seq != 1 || f.Analytics.Version != 1 || len(f.Analytics.Symbols) != 2 {
		t.Errorf("frame = %+v", f)
	}
	if h.Name() != "websocket" || h.Seq() != 1 {
		t.Errorf("name=%q seq=%d", h.Name(), h.Seq())
	}
}

func TestHub_NewClientGetsLatest(t *testing.T) {
	h, url := startHub(t)
	h.Publish(context.Background(), testOutput(1, "BTC"))
	h.Publish(context.Background(), testOutput(2, "BTC"))

	conn := dial(t, h, url)
	if f := readFrame(t, conn); f.Analytics.Version != 2 {
		t.Errorf("initial version = %d, want 2", f.Analytics.Version)
	}
}

func TestHub_ReplaySince(t *testing.T) {
	h, url := startHub(t)
	for v := uint64(1); v <= 4; v++ {
		h.Publish(context.Background(), testOutput(v, "BTC"))
	}

	conn := dial(t, h, url+"?since=2")
	for _, want := range []int64{3, 4} {
		if f := readFrame(t, conn); f.Seq != want {
			t.Errorf("replayed seq = %d, want %d", f.Seq, want)
		}
	}
}

func TestHub_SymbolFilter(t *testing.T) {
	h, url := startHub(t)
	conn := dial(t, h, url+"?symbols=eth")

	h.Publish(context.Background(), testOutput(1, "BTC", "ETH"))
	f := readFrame(t, conn)
	if codes := f.Analytics.Codes(); len(codes) != 1 || codes[0] != "ETH" {
		t.Errorf("codes = %v, want [ETH]", codes)
	}
}

func TestHub_SubscribeMessage(t *testing.T) {
	h, url := startHub(t)
	conn := dial(t, h, url)

	conn.WriteJSON(map[string]any{"type": "SUBSCRIBE", "symbols": []string{"BTC"}})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack struct {
		Type    string   `json:"type"`
		Symbols []string `json:"symbols"`
	}
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != "subscribed" || len(ack.Symbols) != 1 || ack.Symbols[0] != "BTC" {
		t.Fatalf("ack = %+v", ack)
	}

	h.Publish(context.Background(), testOutput(1, "BTC", "ETH"))
	f := readFrame(t, conn)
	if codes := f.Analytics.Codes(); len(codes) != 1 || codes[0] != "BTC" {
		t.Errorf("codes = %v, want [BTC]", codes)
	}
}

func TestHub_Ping(t *testing.T) {
	h, url := startHub(t)
	conn := dial(t, h, url)

	conn.WriteJSON(map[string]any{"ping": 123})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong struct {
		Type string `json:"type"`
		Ping int64  `json:"ping"`
	}
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatal(err)
	}
	if pong.Type != "pong" || pong.Ping != 123 {
		t.Errorf("pong = %+v", pong)
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	h, url := startHub(t)
	counts := make(chan int, 4)
	h.OnClients = func(n int) { counts <- n }

	conn := dial(t, h, url)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not removed after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if first := <-counts; first != 1 {
		t.Errorf("first OnClients = %d, want 1", first)
	}
}
