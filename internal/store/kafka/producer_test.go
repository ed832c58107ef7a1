package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"coinarius-analytics/internal/model"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func twoSymbols() *model.Output {
	v := 1.0
	return &model.Output{
		Version: 12,
		CycleID: "abc",
		Mode:    model.ModeFull,
		Symbols: map[string]model.SymbolOutput{
			"ETH": {Name: "Ethereum", Records: map[string]model.Record{"price": {ID: "price", LastValue: &v}}},
			"BTC": {Name: "Bitcoin", Records: map[string]model.Record{"price": {ID: "price", LastValue: &v}}},
		},
	}
}

func TestProducer_OneMessagePerSymbol(t *testing.T) {
	w := &captureWriter{}
	p := newProducer(w, "analytics.fresh")
	p.now = func() time.Time { return time.Unix(100, 0) }

	if err := p.Publish(context.Background(), twoSymbols()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "BTC" || string(w.msgs[1].Key) != "ETH" {
		t.Errorf("keys = %s, %s", w.msgs[0].Key, w.msgs[1].Key)
	}

	var m Message
	if err := json.Unmarshal(w.msgs[1].Value, &m); err != nil {
		t.Fatal(err)
	}
	if m.Symbol != "ETH" || m.Version != 12 || m.Analytics.Name != "Ethereum" || m.Event != "fresh_analytics" {
		t.Errorf("message = %+v", m)
	}
	if got := string(w.msgs[0].Headers[0].Value); got != "12" {
		t.Errorf("version header = %q", got)
	}
}

func TestProducer_WrapsWriteError(t *testing.T) {
	w := &captureWriter{err: errors.New("leader not available")}
	p := newProducer(w, "analytics.fresh")
	err := p.Publish(context.Background(), twoSymbols())
	if err == nil || !strings.Contains(err.Error(), "version 12") {
		t.Errorf("err = %v", err)
	}
}

func TestProducer_EmptyOutputWritesNothing(t *testing.T) {
	w := &captureWriter{}
	p := newProducer(w, "t")
	if err := p.Publish(context.Background(), &model.Output{Version: 1}); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 0 {
		t.Errorf("wrote %d messages", len(w.msgs))
	}
	p.Close()
	if !w.closed {
		t.Error("Close did not close the writer")
	}
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	if _, err := NewProducer(WithTopic("x")); err == nil {
		t.Error("expected error without brokers")
	}
	p, err := NewProducer(WithBrokers("localhost:9092"), WithCompression("zstd"))
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "kafka" || p.topic != "analytics.fresh" {
		t.Errorf("producer = %+v", p)
	}
	p.Close()
}
