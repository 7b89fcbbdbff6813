package extractor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/visionstream/metric"
	"github.com/c360/visionstream/pkg/queue"
)

// extractorMetrics holds the stage-specific Prometheus collectors. All
// record methods are nil-receiver safe so the stage runs without a metrics
// registry in tests.
type extractorMetrics struct {
	dropped   *prometheus.CounterVec
	errors    *prometheus.CounterVec
	keypoints prometheus.Histogram
}

func newExtractorMetrics(
	reg *metric.Registry,
	workQueue *queue.Queue[workItem],
	resultQueue *queue.Queue[resultItem],
) (*extractorMetrics, error) {
	m := &extractorMetrics{
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "visionstream",
				Subsystem: "extractor",
				Name:      "messages_dropped_total",
				Help:      "Messages dropped by the extractor, by reason",
			},
			[]string{"reason"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "visionstream",
				Subsystem: "extractor",
				Name:      "stage_errors_total",
				Help:      "Extractor errors by stage",
			},
			[]string{"stage"},
		),
		keypoints: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "visionstream",
				Subsystem: "extractor",
				Name:      "keypoints_per_image",
				Help:      "Keypoints detected per image",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
	}

	workDepth := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "visionstream",
			Subsystem: "extractor",
			Name:      "work_queue_depth",
			Help:      "Items waiting for a detection worker",
		},
		func() float64 { return float64(workQueue.Len()) },
	)
	resultDepth := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "visionstream",
			Subsystem: "extractor",
			Name:      "result_queue_depth",
			Help:      "Results waiting for the publisher",
		},
		func() float64 { return float64(resultQueue.Len()) },
	)

	collectors := map[string]prometheus.Collector{
		"messages_dropped":    m.dropped,
		"stage_errors":        m.errors,
		"keypoints_per_image": m.keypoints,
		"work_queue_depth":    workDepth,
		"result_queue_depth":  resultDepth,
	}
	for name, collector := range collectors {
		if err := reg.Register(componentName, name, collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *extractorMetrics) recordDrop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *extractorMetrics) recordError(stage string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(stage).Inc()
}

func (m *extractorMetrics) recordKeypoints(n int) {
	if m == nil {
		return
	}
	m.keypoints.Observe(float64(n))
}
