package models

// MetricStats holds the pooled (aggregate) statistics the runner reports for
// one discovered metric.
type MetricStats struct {
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	HarmonicMean float64 `json:"harmonic_mean"`
}

// FrameScore is one frame of the per-frame series. Metrics holds only the
// discovered metrics actually present in that frame; absent metrics are
// omitted, never defaulted to zero.
type FrameScore struct {
	Frame   int                `json:"frame"`
	Metrics map[string]float64 `json:"metrics"`
}

// Report is the normalized form of a raw VMAF report document.
type Report struct {
	PrimaryMetric string                 `json:"primary_metric,omitempty"`
	PrimaryScore  float64                `json:"primary_score"`
	Pooled        map[string]MetricStats `json:"pooled_metrics"`
	Frames        []FrameScore           `json:"frames"`
}
