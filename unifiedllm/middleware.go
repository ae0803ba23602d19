package unifiedllm

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockbot",
		Subsystem: "llm",
		Name:      "requests_total",
		Help:      "Model requests by provider and outcome.",
	}, []string{"provider", "outcome"})
	metricLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockbot",
		Subsystem: "llm",
		Name:      "request_seconds",
		Help:      "Model request latency.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
	}, []string{"provider"})
)

// RateLimit paces outgoing requests with limiter. Waiting honours ctx.
func RateLimit(limiter *rate.Limiter) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, &AbortError{SDKError: SDKError{Message: "rate limiter wait aborted", Cause: err}}
		}
		return next(ctx, req)
	}
}

// Timeout bounds every request to d.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		if d <= 0 {
			return next(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx, req)
	}
}

// Observe logs each request and records request metrics.
func Observe(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		start := time.Now()
		tags := []zap.Field{
			zap.String("provider", req.Provider),
			zap.String("purpose", req.Metadata[MetaPurpose]),
			zap.String("request_id", req.Metadata[MetaRequestID]),
		}
		resp, err := next(ctx, req)
		elapsed := time.Since(start)
		metricLatency.WithLabelValues(req.Provider).Observe(elapsed.Seconds())
		if err != nil {
			metricRequests.WithLabelValues(req.Provider, "error").Inc()
			logger.Warn("model request failed", append(tags,
				zap.String("model", req.Model),
				zap.Int("messages", len(req.Messages)),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))...)
			return nil, err
		}
		metricRequests.WithLabelValues(req.Provider, "ok").Inc()
		logger.Debug("model request complete", append(tags,
			zap.String("model", resp.Model),
			zap.Int("output_tokens", resp.Usage.OutputTokens),
			zap.Duration("elapsed", elapsed))...)
		return resp, nil
	}
}
