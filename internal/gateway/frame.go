package gateway

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"coinarius-analytics/internal/model"
)

// Frame is one broadcast output. The full encoding is built once; filtered
// encodings are built on first use and cached per symbol set.
type Frame struct {
	Seq    int64
	TS     time.Time
	Output *model.Output

	full []byte

	mu       sync.Mutex
	filtered map[string][]byte
}

func newFrame(seq int64, ts time.Time, out *model.Output) (*Frame, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return &Frame{Seq: seq, TS: ts, Output: out, full: encodeFrame(seq, ts, data)}, nil
}

// Bytes returns the frame restricted to symbols; nil or empty means all.
func (f *Frame) Bytes(symbols []string) []byte {
	if len(symbols) == 0 {
		return f.full
	}
	key := strings.Join(symbols, ",")

	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.filtered[key]; ok {
		return b
	}

	sub := *f.Output
	sub.Symbols = make(map[string]model.SymbolOutput, len(symbols))
	for _, code := range symbols {
		if so, ok := f.Output.Symbols[code]; ok {
			sub.Symbols[code] = so
		}
	}
	data, err := json.Marshal(&sub)
	if err != nil {
		return nil
	}
	b := encodeFrame(f.Seq, f.TS, data)
	if f.filtered == nil {
		f.filtered = make(map[string][]byte)
	}
	f.filtered[key] = b
	return b
}

// encodeFrame writes {"event":"fresh_analytics","seq":N,"ts":"...","analytics":...}
// without a second marshal of the payload.
func encodeFrame(seq int64, ts time.Time, analytics []byte) []byte {
	buf := make([]byte, 0, len(analytics)+96)
	buf = append(buf, `{"event":"fresh_analytics","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","analytics":`...)
	buf = append(buf, analytics...)
	buf = append(buf, '}')
	return buf
}

// normaliseSymbols upper-cases, dedupes and sorts codes.
func normaliseSymbols(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
