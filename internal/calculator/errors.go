package calculator

import "fmt"

// UninitializedStateError is returned by CalculateLatest when no full
// calculation has populated the cache yet.
type UninitializedStateError struct {
	Calculator ID
}

func (e *UninitializedStateError) Error() string {
	return fmt.Sprintf("calculator %s: incremental update before any full calculation", e.Calculator)
}

// InsufficientHistoryError is returned when a symbol's cached series is
// shorter than the calculator's lookback window.
type InsufficientHistoryError struct {
	Calculator ID
	Symbol     string
	Have       int
	Need       int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("calculator %s: %s has %d points, needs %d", e.Calculator, e.Symbol, e.Have, e.Need)
}

// DependencyNotReadyError is returned when a calculator runs before a
// calculator it depends on has produced a result in the same pass.
type DependencyNotReadyError struct {
	Calculator ID
	Dependency ID
}

func (e *DependencyNotReadyError) Error() string {
	return fmt.Sprintf("calculator %s: dependency %s has not run", e.Calculator, e.Dependency)
}
