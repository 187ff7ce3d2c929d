// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package triage

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var (
	// requestsTotal counts API requests.
	// Labels: route, status
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total API requests by route and status code",
	}, []string{"route", "status"})

	// admissionRejectedTotal counts requests refused by the client limiter.
	admissionRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "http",
		Name:      "admission_rejected_total",
		Help:      "Requests rejected by per-client admission limiting",
	})
)

// maxTrackedClients bounds the limiter table. It is reset when full.
const maxTrackedClients = 10000

// ClientLimiter admits requests per client IP with a token bucket.
//
// Thread Safety: Safe for concurrent use.
type ClientLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*rate.Limiter
}

// NewClientLimiter creates a limiter allowing perSecond requests with the
// given burst per client. A non-positive perSecond admits everything.
func NewClientLimiter(perSecond float64, burst int) *ClientLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(perSecond)))
	}
	l := rate.Inf
	if perSecond > 0 {
		l = rate.Limit(perSecond)
	}
	return &ClientLimiter{limit: l, burst: burst, clients: make(map[string]*rate.Limiter)}
}

// Reserve takes a token for client. It returns false and the suggested
// wait when the client is over its rate.
func (cl *ClientLimiter) Reserve(client string, now time.Time) (bool, time.Duration) {
	if cl.limit == rate.Inf {
		return true, 0
	}
	cl.mu.Lock()
	lim, ok := cl.clients[client]
	if !ok {
		if len(cl.clients) >= maxTrackedClients {
			cl.clients = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(cl.limit, cl.burst)
		cl.clients[client] = lim
	}
	cl.mu.Unlock()

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// AdmissionMiddleware rejects clients exceeding their rate with 429.
func AdmissionMiddleware(cl *ClientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := cl.Reserve(c.ClientIP(), time.Now())
		if ok {
			c.Next()
			return
		}
		admissionRejectedTotal.Inc()
		secs := int(math.Ceil(wait.Seconds()))
		c.Header("Retry-After", strconv.Itoa(max(secs, 1)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error:     "too many requests",
			Code:      "RATE_LIMITED",
			RequestID: getOrCreateRequestID(c),
		})
	}
}

// BodyLimitMiddleware caps request bodies at n bytes.
func BodyLimitMiddleware(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// RequestLogMiddleware assigns the request id and logs each request.
func RequestLogMiddleware(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		requestID := getOrCreateRequestID(c)
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		logger.Info("request",
			slog.String("request_id", requestID),
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)))
	}
}
