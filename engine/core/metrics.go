package core

import "sync"

// SyncStats accumulates constant-synchronization counters for a single
// frame: how many constant groups were uploaded, how many bindings were
// (re)issued and how many groups were skipped because they were clean.
type SyncStats struct {
	Uploads      uint32
	Binds        uint32
	SkippedClean uint32
}

type MetricsState struct {
	Frame      SyncStats
	Total      SyncStats
	FrameCount uint64
}

var onceMetrics sync.Once
var metricsState *MetricsState = nil

func MetricsInitialize() error {
	onceMetrics.Do(func() {
		metricsState = &MetricsState{}
	})
	return nil
}

// MetricsFrameReset rolls the current frame's counters into the running
// totals and starts a fresh frame. Called once per BeginFrame.
func MetricsFrameReset() {
	if metricsState == nil {
		return
	}
	metricsState.Total.Uploads += metricsState.Frame.Uploads
	metricsState.Total.Binds += metricsState.Frame.Binds
	metricsState.Total.SkippedClean += metricsState.Frame.SkippedClean
	metricsState.Frame = SyncStats{}
	metricsState.FrameCount++
}

func MetricsCountUpload() {
	if metricsState != nil {
		metricsState.Frame.Uploads++
	}
}

func MetricsCountBind() {
	if metricsState != nil {
		metricsState.Frame.Binds++
	}
}

func MetricsCountSkipped() {
	if metricsState != nil {
		metricsState.Frame.SkippedClean++
	}
}

func MetricsFrameStats() SyncStats {
	if metricsState == nil {
		return SyncStats{}
	}
	return metricsState.Frame
}

func MetricsTotals() (SyncStats, uint64) {
	if metricsState == nil {
		return SyncStats{}, 0
	}
	return metricsState.Total, metricsState.FrameCount
}
