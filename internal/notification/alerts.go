package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coinarius-analytics/internal/model"
)

// AlertSink is an OutputSink that raises an alert when a symbol's total
// z-score reaches the threshold. Each symbol is alerted at most once per
// cooldown.
type AlertSink struct {
	notifier  Notifier
	threshold float64
	cooldown  time.Duration
	now       func() time.Time

	mu   sync.Mutex
	last map[string]time.Time

	// OnAlert is called for every alert sent.
	OnAlert func(symbol string)
}

func NewAlertSink(n Notifier, threshold float64, cooldown time.Duration) *AlertSink {
	return &AlertSink{
		notifier:  n,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		last:      make(map[string]time.Time),
	}
}

func (s *AlertSink) Name() string { return "alerts" }

// Publish checks every symbol in out, in code order.
func (s *AlertSink) Publish(ctx context.Context, out *model.Output) error {
	var firstErr error
	for _, a := range s.evaluate(out) {
		if err := s.notifier.Send(ctx, a); err != nil {
			s.forget(a.Symbol)
			if firstErr == nil {
				firstErr = fmt.Errorf("alert %s: %w", a.Symbol, err)
			}
			continue
		}
		if s.OnAlert != nil {
			s.OnAlert(a.Symbol)
		}
	}
	return firstErr
}

// evaluate returns the alerts due for out and marks them sent.
func (s *AlertSink) evaluate(out *model.Output) []Alert {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var alerts []Alert
	for _, code := range out.Codes() {
		so := out.Symbols[code]
		if so.TotalZScore < s.threshold {
			continue
		}
		if t, ok := s.last[code]; ok && now.Sub(t) < s.cooldown {
			continue
		}
		s.last[code] = now

		level := AlertWarning
		if so.TotalZScore >= 2*s.threshold {
			level = AlertCritical
		}
		alerts = append(alerts, Alert{
			Level:     level,
			Title:     fmt.Sprintf("%s unusual activity", code),
			Message:   fmt.Sprintf("%s (%s) total z-score %.2f reached threshold %.2f", so.Name, code, so.TotalZScore, s.threshold),
			Symbol:    code,
			Score:     so.TotalZScore,
			Threshold: s.threshold,
			Version:   out.Version,
			At:        now.UTC(),
		})
	}
	return alerts
}

// forget clears the cooldown so a failed alert is retried next cycle.
func (s *AlertSink) forget(code string) {
	s.mu.Lock()
	delete(s.last, code)
	s.mu.Unlock()
}
