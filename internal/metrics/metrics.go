// Package metrics exposes Prometheus instrumentation for the HTTP layer,
// the embedding model, ingestion and search.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Recorder interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
	ObserveEmbedding(kind string, items int, d time.Duration, err error)
	ObserveIngestion(added int, err error)
	ObserveSearch(ranker string, d time.Duration, err error)
	ObserveFeedback(isGood bool)
}

// Prometheus records into its own registry so tests can create as many
// instances as they like.
type Prometheus struct {
	registry *prometheus.Registry

	httpDuration  *prometheus.HistogramVec
	embedDuration *prometheus.HistogramVec
	embedItems    *prometheus.CounterVec
	embedErrors   *prometheus.CounterVec
	ingestRuns    *prometheus.CounterVec
	ingestImages  prometheus.Counter
	searchLatency *prometheus.HistogramVec
	searchErrors  *prometheus.CounterVec
	feedback      *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagesearch_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		embedDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagesearch_embedding_duration_seconds",
			Help:    "Time spent running the embedding model per call.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"kind"}),
		embedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagesearch_embedded_items_total",
			Help: "Number of images or queries embedded.",
		}, []string{"kind"}),
		embedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagesearch_embedding_errors_total",
			Help: "Embedding calls that failed.",
		}, []string{"kind"}),
		ingestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagesearch_ingestions_total",
			Help: "Ingestion runs by outcome.",
		}, []string{"outcome"}),
		ingestImages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagesearch_ingested_images_total",
			Help: "Images added to the collection.",
		}),
		searchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagesearch_search_duration_seconds",
			Help:    "End-to-end search latency by ranking backend.",
			Buckets: prometheus.DefBuckets,
		}, []string{"ranker"}),
		searchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagesearch_search_errors_total",
			Help: "Searches that failed.",
		}, []string{"ranker"}),
		feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagesearch_feedback_total",
			Help: "Relevance judgments recorded.",
		}, []string{"judgment"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.httpDuration,
		p.embedDuration,
		p.embedItems,
		p.embedErrors,
		p.ingestRuns,
		p.ingestImages,
		p.searchLatency,
		p.searchErrors,
		p.feedback,
	)
	return p
}

func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) ObserveHTTP(method, route string, status int, d time.Duration) {
	p.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func (p *Prometheus) ObserveEmbedding(kind string, items int, d time.Duration, err error) {
	if err != nil {
		p.embedErrors.WithLabelValues(kind).Inc()
		return
	}
	p.embedDuration.WithLabelValues(kind).Observe(d.Seconds())
	p.embedItems.WithLabelValues(kind).Add(float64(items))
}

func (p *Prometheus) ObserveIngestion(added int, err error) {
	if err != nil {
		p.ingestRuns.WithLabelValues("error").Inc()
		return
	}
	p.ingestRuns.WithLabelValues("ok").Inc()
	p.ingestImages.Add(float64(added))
}

func (p *Prometheus) ObserveSearch(ranker string, d time.Duration, err error) {
	if err != nil {
		p.searchErrors.WithLabelValues(ranker).Inc()
		return
	}
	p.searchLatency.WithLabelValues(ranker).Observe(d.Seconds())
}

func (p *Prometheus) ObserveFeedback(isGood bool) {
	judgment := "bad"
	if isGood {
		judgment = "good"
	}
	p.feedback.WithLabelValues(judgment).Inc()
}

// Noop discards every observation.
type Noop struct{}

func (Noop) ObserveHTTP(string, string, int, time.Duration)     {}
func (Noop) ObserveEmbedding(string, int, time.Duration, error) {}
func (Noop) ObserveIngestion(int, error)                        {}
func (Noop) ObserveSearch(string, time.Duration, error)         {}
func (Noop) ObserveFeedback(bool)                               {}

var (
	_ Recorder = (*Prometheus)(nil)
	_ Recorder = Noop{}
)
