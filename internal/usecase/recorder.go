package usecase

import "time"

// MetricsRecorder receives engine counters. The prometheus adapter implements it.
type MetricsRecorder interface {
	ScanCompleted(symbols int, took time.Duration)
	FetchFailed(reason string)
	DetectionResult(result DetectionResult)
	LeadResolved(result string)
	PositionOpened(side string)
	PositionClosed(reason string, profitLoss float64)
	LevelExecuted()
	BreakEvenPromoted()
	WatchlistSize(n int)
	OpenPositions(n int)
	PersistFailed(collection string)
	NotificationDropped()
	SymbolHalted()
}

type nopRecorder struct{}

func (nopRecorder) ScanCompleted(int, time.Duration) {}
func (nopRecorder) FetchFailed(string)               {}
func (nopRecorder) DetectionResult(DetectionResult)  {}
func (nopRecorder) LeadResolved(string)              {}
func (nopRecorder) PositionOpened(string)            {}
func (nopRecorder) PositionClosed(string, float64)   {}
func (nopRecorder) LevelExecuted()                   {}
func (nopRecorder) BreakEvenPromoted()               {}
func (nopRecorder) WatchlistSize(int)                {}
func (nopRecorder) OpenPositions(int)                {}
func (nopRecorder) PersistFailed(string)             {}
func (nopRecorder) NotificationDropped()             {}
func (nopRecorder) SymbolHalted()                    {}

// NopMetrics discards everything.
func NopMetrics() MetricsRecorder { return nopRecorder{} }
