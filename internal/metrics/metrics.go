// Package metrics keeps in-process counters for the HTTP API and reconcile runs.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Collector aggregates request and run statistics. The zero value is not
// usable; call New.
type Collector struct {
	mu           sync.Mutex
	started      time.Time
	requests     int64
	errors       int64
	totalLatency time.Duration
	routes       map[string]*routeStats

	runs        int64
	runFailures int64
	embedded    int64
	deleted     int64
}

type routeStats struct {
	requests int64
	errors   int64
	latency  time.Duration
}

// New returns an empty collector.
func New() *Collector {
	return &Collector{started: time.Now(), routes: make(map[string]*routeStats)}
}

// ObserveRequest records one HTTP request. Status codes >= 500 count as errors.
func (c *Collector) ObserveRequest(route string, status int, latency time.Duration) {
	isErr := status >= 500
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	c.totalLatency += latency
	if isErr {
		c.errors++
	}
	rs, ok := c.routes[route]
	if !ok {
		rs = &routeStats{}
		c.routes[route] = rs
	}
	rs.requests++
	rs.latency += latency
	if isErr {
		rs.errors++
	}
}

// ObserveRun records a finished reconcile run.
func (c *Collector) ObserveRun(embedded, deleted int, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	c.embedded += int64(embedded)
	c.deleted += int64(deleted)
	if failed {
		c.runFailures++
	}
}

// RouteReport is the per-route part of a Report.
type RouteReport struct {
	Route        string  `json:"route"`
	Requests     int64   `json:"requests"`
	Errors       int64   `json:"errors"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// Report is a point-in-time copy of the counters.
type Report struct {
	UptimeSeconds     int64         `json:"uptime_seconds"`
	Requests          int64         `json:"requests"`
	Errors            int64         `json:"errors"`
	AvgLatencyMS      float64       `json:"avg_latency_ms"`
	Routes            []RouteReport `json:"routes"`
	Runs              int64         `json:"runs"`
	RunFailures       int64         `json:"run_failures"`
	DocumentsEmbedded int64         `json:"documents_embedded"`
	DocumentsDeleted  int64         `json:"documents_deleted"`
}

func avgMS(total time.Duration, n int64) float64 {
	if n == 0 {
		return 0
	}
	ms := float64(total) / float64(time.Millisecond) / float64(n)
	return float64(int64(ms*1000+0.5)) / 1000
}

// Report returns the current counters with routes sorted by name.
func (c *Collector) Report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := Report{
		UptimeSeconds:     int64(time.Since(c.started).Seconds()),
		Requests:          c.requests,
		Errors:            c.errors,
		AvgLatencyMS:      avgMS(c.totalLatency, c.requests),
		Routes:            make([]RouteReport, 0, len(c.routes)),
		Runs:              c.runs,
		RunFailures:       c.runFailures,
		DocumentsEmbedded: c.embedded,
		DocumentsDeleted:  c.deleted,
	}
	for route, rs := range c.routes {
		r.Routes = append(r.Routes, RouteReport{
			Route:        route,
			Requests:     rs.requests,
			Errors:       rs.errors,
			AvgLatencyMS: avgMS(rs.latency, rs.requests),
		})
	}
	sort.Slice(r.Routes, func(i, j int) bool { return r.Routes[i].Route < r.Routes[j].Route })
	return r
}
