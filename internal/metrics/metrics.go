// Package metrics collects Prometheus metrics for a deblur run. A batch job
// has no scrape endpoint, so the metrics are exported once at the end of the
// run in the node_exporter textfile format.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ImagesProcessed  prometheus.Counter   // Images reconstructed and written
	ImageFailures    prometheus.Counter   // Images that aborted the run
	InferenceSeconds prometheus.Histogram // Predict latency per image
	ImagePixels      prometheus.Histogram // Input size in pixels
	RunDuration      prometheus.Gauge     // Wall time of the whole batch

	registry *prometheus.Registry
}

// New creates metrics on a private registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

func NewWithRegistry(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		ImagesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "deblur_images_processed_total",
			Help: "Total number of images reconstructed and written",
		}),
		ImageFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "deblur_image_failures_total",
			Help: "Total number of images that failed to process",
		}),
		InferenceSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "deblur_inference_seconds",
			Help:    "Predict latency per image in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		ImagePixels: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "deblur_image_pixels",
			Help:    "Input image size in pixels",
			Buckets: prometheus.ExponentialBuckets(1<<12, 4, 8),
		}),
		RunDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "deblur_run_duration_seconds",
			Help: "Wall time of the last batch run in seconds",
		}),
		registry: registry,
	}
}

// WriteTextfile writes all metrics to path, replacing it atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
