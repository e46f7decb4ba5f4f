package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Image outcomes recorded by ImagesTotal.
const (
	OutcomeSummarized = "summarized"
	OutcomeNoSummary  = "no_summary"
	OutcomeScheme     = "skipped_scheme"
	OutcomeFetch      = "fetch_failed"
	OutcomeNormalize  = "normalize_failed"
	OutcomeSummarize  = "summarize_failed"
	OutcomeCancelled  = "cancelled"
)

type Metrics struct {
	ImagesLocated    prometheus.Counter
	ImagesTotal      *prometheus.CounterVec
	ImagesResized    prometheus.Counter
	SummarizeRetries prometheus.Counter
	PageDuration     prometheus.Histogram
}

// New registers the pipeline metrics with reg. A nil reg leaves them
// unregistered, which is handy in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ImagesLocated: f.NewCounter(prometheus.CounterOpts{
			Name: "imgsum_images_located_total",
			Help: "Total number of qualifying images found in page bodies.",
		}),
		ImagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgsum_images_total",
				Help: "Total number of processed images by outcome.",
			},
			[]string{"outcome"},
		),
		ImagesResized: f.NewCounter(prometheus.CounterOpts{
			Name: "imgsum_images_resized_total",
			Help: "Total number of images downscaled to fit the payload bound.",
		}),
		SummarizeRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "imgsum_summarize_retries_total",
			Help: "Total number of summarization retries after rate limiting.",
		}),
		PageDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "imgsum_page_duration_seconds",
			Help:    "Duration of processing all images of a page.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
	}
}
