// Package vmaf parses the raw report documents produced by the remote
// comparison runner into normalized score data.
package vmaf

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/calebsch/vqhub/pkg/models"
)

// metricPrefix is the naming convention the runner uses for quality metrics
// in the pooled_metrics map. Keys outside this prefix (psnr, ssim timing
// counters and the like) are ignored.
const metricPrefix = "vmaf"

// preferredMetric is selected as primary whenever the report contains it.
const preferredMetric = "vmaf_hd"

type rawReport struct {
	PooledMetrics map[string]models.MetricStats `json:"pooled_metrics"`
	Frames        []rawFrame                    `json:"frames"`
}

type rawFrame struct {
	FrameNum int                `json:"frameNum"`
	Metrics  map[string]float64 `json:"metrics"`
}

// ParseReport extracts pooled statistics and the per-frame series for every
// metric matching the vmaf naming convention. A structurally valid document
// with no recognized metrics yields a zero primary score and empty maps; that
// is a degraded result, not an error. Only malformed JSON fails.
func ParseReport(raw []byte) (*models.Report, error) {
	var doc rawReport
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}

	names := discoverMetrics(doc.PooledMetrics)

	report := &models.Report{
		Pooled: make(map[string]models.MetricStats, len(names)),
		Frames: make([]models.FrameScore, 0, len(doc.Frames)),
	}

	if len(names) == 0 {
		return report, nil
	}

	for _, name := range names {
		report.Pooled[name] = doc.PooledMetrics[name]
	}

	report.PrimaryMetric = names[0]
	for _, name := range names {
		if name == preferredMetric {
			report.PrimaryMetric = name
			break
		}
	}
	report.PrimaryScore = report.Pooled[report.PrimaryMetric].Mean

	for _, frame := range doc.Frames {
		fs := models.FrameScore{
			Frame:   frame.FrameNum,
			Metrics: make(map[string]float64),
		}
		for _, name := range names {
			if v, ok := frame.Metrics[name]; ok {
				fs.Metrics[name] = v
			}
		}
		report.Frames = append(report.Frames, fs)
	}

	return report, nil
}

// discoverMetrics returns the pooled metric names matching the naming
// convention, sorted lexicographically so discovery order is deterministic.
func discoverMetrics(pooled map[string]models.MetricStats) []string {
	var names []string
	for name := range pooled {
		if len(name) >= len(metricPrefix) && name[:len(metricPrefix)] == metricPrefix {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
