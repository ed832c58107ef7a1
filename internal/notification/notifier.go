// Package notification delivers z-score alerts to external channels.
package notification

import (
	"context"
	"errors"
	"time"

	"coinarius-analytics/internal/logger"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one notification about a symbol whose total z-score crossed
// the threshold.
type Alert struct {
	Level     AlertLevel `json:"level"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Symbol    string     `json:"symbol"`
	Score     float64    `json:"score"`
	Threshold float64    `json:"threshold"`
	Version   uint64     `json:"version"`
	At        time.Time  `json:"ts"`
}

// Notifier is implemented by every delivery backend.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the service log.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &LogNotifier{log: log.With(logger.String("component", "notify"))}
}

func (n *LogNotifier) Send(_ context.Context, a Alert) error {
	n.log.Warn(a.Title,
		logger.String("level", string(a.Level)),
		logger.String("symbol", a.Symbol),
		logger.Float64("score", a.Score),
		logger.Float64("threshold", a.Threshold),
		logger.Uint64("version", a.Version),
	)
	return nil
}

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
