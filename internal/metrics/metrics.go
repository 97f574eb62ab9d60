package metrics

import "expvar"

var (
	AnchorRuns         = expvar.NewInt("anchor_runs")
	TimelinesPruned    = expvar.NewInt("timelines_pruned")
	PrecomputeHits     = expvar.NewInt("precompute_hits")
	PrecomputeMisses   = expvar.NewInt("precompute_misses")
	PredictionsEvicted = expvar.NewInt("predictions_evicted")
	BroadcastsTotal    = expvar.NewInt("broadcasts_total")
	FrameOverruns      = expvar.NewInt("frame_overruns")
)
