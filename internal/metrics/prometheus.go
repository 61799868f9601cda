package metrics

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finreport_http_requests_total",
			Help: "Total HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finreport_cache_hits_total",
			Help: "Total external data cache hits",
		},
		[]string{"source", "tier"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finreport_cache_misses_total",
			Help: "Total external data cache misses",
		},
		[]string{"source"},
	)

	CacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "finreport_cache_evictions_total",
			Help: "Expired cache rows removed",
		},
	)

	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finreport_fetch_duration_seconds",
			Help:    "External data fetch duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source", "status"},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finreport_llm_requests_total",
			Help: "Total LLM gateway calls",
		},
		[]string{"model", "status"},
	)

	LLMDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finreport_llm_duration_seconds",
			Help:    "LLM call duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	PromptTruncations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "finreport_prompt_truncations_total",
			Help: "Prompts truncated to fit the model window",
		},
	)

	SearchTriggered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "finreport_web_search_triggered_total",
			Help: "Chat requests that bound the web search tool",
		},
	)

	FilesUploaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "finreport_files_uploaded_total",
			Help: "Total files stored",
		},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(HTTPRequests)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(CacheEvictions)
		prometheus.MustRegister(FetchDuration)
		prometheus.MustRegister(LLMRequests)
		prometheus.MustRegister(LLMDuration)
		prometheus.MustRegister(PromptTruncations)
		prometheus.MustRegister(SearchTriggered)
		prometheus.MustRegister(FilesUploaded)
	})
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
