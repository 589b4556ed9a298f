package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeploymentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployments_created_total",
			Help: "Deployments accepted, by path (warm or cold)",
		},
		[]string{"path"},
	)

	DeploymentsReady = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deployments_ready_total",
			Help: "Deployments that reached ready",
		},
	)

	DeploymentsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deployments_failed_total",
			Help: "Deployments that terminated in failed",
		},
	)

	DeploymentReadyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deployment_ready_duration_seconds",
			Help:    "Seconds from record creation to the first ready transition",
			Buckets: []float64{5, 15, 30, 60, 120, 180, 300, 600, 900, 1800},
		},
	)

	WebhookDeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_delivery_failures_total",
			Help: "User webhook deliveries that failed after all retries",
		},
	)

	ProviderAPIErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_api_errors_total",
			Help: "Errors returned by the GPU-serverless provider API",
		},
		[]string{"provider"},
	)

	RateLimitedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_requests_total",
			Help: "Requests rejected by the sliding-window rate limiter",
		},
		[]string{"scope"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served, by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency, by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
