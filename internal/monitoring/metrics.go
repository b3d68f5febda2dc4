package monitoring

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents different types of metrics
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric represents a single metric snapshot
type Metric struct {
	Name       string                 `json:"name"`
	Type       MetricType             `json:"type"`
	Value      float64                `json:"value"`
	Labels     map[string]string      `json:"labels,omitempty"`
	Help       string                 `json:"help"`
	Timestamp  time.Time              `json:"timestamp"`
	Unit       string                 `json:"unit,omitempty"`
	Additional map[string]interface{} `json:"additional,omitempty"`
}

// MetricsRegistry manages all metrics
type MetricsRegistry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewMetricsRegistry creates a new metrics registry
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// Counter represents a monotonically increasing counter
type Counter struct {
	name   string
	help   string
	value  int64
	labels map[string]string
}

func (mr *MetricsRegistry) NewCounter(name, help string, labels map[string]string) *Counter {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if existing, ok := mr.counters[name]; ok {
		return existing
	}

	counter := &Counter{
		name:   name,
		help:   help,
		labels: labels,
	}

	mr.counters[name] = counter
	return counter
}

func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

func (c *Counter) Add(delta float64) {
	atomic.AddInt64(&c.value, int64(delta))
}

func (c *Counter) Get() float64 {
	return float64(atomic.LoadInt64(&c.value))
}

// LabeledCounter is a family of counters keyed by one label value, created
// lazily as new values are observed.
type LabeledCounter struct {
	registry *MetricsRegistry
	name     string
	help     string
	label    string

	mu       sync.Mutex
	children map[string]*Counter
}

func (mr *MetricsRegistry) NewLabeledCounter(name, help, label string) *LabeledCounter {
	return &LabeledCounter{
		registry: mr,
		name:     name,
		help:     help,
		label:    label,
		children: make(map[string]*Counter),
	}
}

func (lc *LabeledCounter) With(value string) *Counter {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if counter, ok := lc.children[value]; ok {
		return counter
	}

	counter := lc.registry.NewCounter(
		fmt.Sprintf("%s{%s=%q}", lc.name, lc.label, value),
		lc.help,
		map[string]string{lc.label: value},
	)
	lc.children[value] = counter
	return counter
}

// Gauge represents a value that can go up and down
type Gauge struct {
	name   string
	help   string
	value  int64
	labels map[string]string
}

func (mr *MetricsRegistry) NewGauge(name, help string, labels map[string]string) *Gauge {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if existing, ok := mr.gauges[name]; ok {
		return existing
	}

	gauge := &Gauge{
		name:   name,
		help:   help,
		labels: labels,
	}

	mr.gauges[name] = gauge
	return gauge
}

func (g *Gauge) Set(value float64) {
	atomic.StoreInt64(&g.value, int64(value))
}

func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

func (g *Gauge) Get() float64 {
	return float64(atomic.LoadInt64(&g.value))
}

// Histogram tracks the distribution of values
type Histogram struct {
	name    string
	help    string
	buckets []float64
	counts  []int64
	sum     int64
	count   int64
	labels  map[string]string
	mu      sync.Mutex
}

func (mr *MetricsRegistry) NewHistogram(name, help string, buckets []float64, labels map[string]string) *Histogram {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if existing, ok := mr.histograms[name]; ok {
		return existing
	}

	if buckets == nil {
		buckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
	}

	histogram := &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]int64, len(buckets)+1), // +1 for +Inf bucket
		labels:  labels,
	}

	mr.histograms[name] = histogram
	return histogram
}

func (h *Histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += int64(value * 1e6) // store in microseconds for precision

	for i, bucket := range h.buckets {
		if value <= bucket {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.buckets)]++
}

func (h *Histogram) Get() map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	bucketCounts := make(map[string]int64)
	for i, bucket := range h.buckets {
		bucketCounts[fmt.Sprintf("le_%g", bucket)] = h.counts[i]
	}
	bucketCounts["le_+Inf"] = h.counts[len(h.buckets)]

	return map[string]interface{}{
		"buckets": bucketCounts,
		"sum":     float64(h.sum) / 1e6,
		"count":   h.count,
	}
}

// GetAllMetrics returns all metrics as a snapshot
func (mr *MetricsRegistry) GetAllMetrics() map[string]*Metric {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	result := make(map[string]*Metric)
	now := time.Now()

	for name, counter := range mr.counters {
		result[name] = &Metric{
			Name:      name,
			Type:      MetricTypeCounter,
			Value:     counter.Get(),
			Labels:    counter.labels,
			Help:      counter.help,
			Timestamp: now,
			Unit:      "total",
		}
	}

	for name, gauge := range mr.gauges {
		result[name] = &Metric{
			Name:      name,
			Type:      MetricTypeGauge,
			Value:     gauge.Get(),
			Labels:    gauge.labels,
			Help:      gauge.help,
			Timestamp: now,
		}
	}

	for name, histogram := range mr.histograms {
		result[name] = &Metric{
			Name:       name,
			Type:       MetricTypeHistogram,
			Labels:     histogram.labels,
			Help:       histogram.help,
			Timestamp:  now,
			Unit:       "seconds",
			Additional: histogram.Get(),
		}
	}

	return result
}

// GuardMetrics contains application-specific metrics for the admission
// engine. It satisfies the engine's metrics hook.
type GuardMetrics struct {
	registry *MetricsRegistry

	// Admission metrics
	AdmissionsTotal *Counter
	DenialsTotal    *Counter
	DenialsByType   *LabeledCounter
	AdmitDuration   *Histogram

	// Penalty and reputation metrics
	BlocksTotal     *LabeledCounter
	PromotionsTotal *Counter

	// State metrics, refreshed by the collector
	TrackedClients *Gauge
	ActiveBlocks   *Gauge
	WhitelistSize  *Gauge

	// HTTP metrics
	HTTPRequests *Counter
	HTTPDuration *Histogram

	// System metrics
	MemoryUsage    *Gauge
	GoroutineCount *Gauge
}

// NewGuardMetrics creates application-specific metrics
func NewGuardMetrics() *GuardMetrics {
	registry := NewMetricsRegistry()

	return &GuardMetrics{
		registry: registry,

		AdmissionsTotal: registry.NewCounter("guard_admissions_total", "Total admission decisions evaluated", nil),
		DenialsTotal:    registry.NewCounter("guard_denials_total", "Total denied requests", nil),
		DenialsByType:   registry.NewLabeledCounter("guard_denials", "Denied requests by violation type", "type"),
		AdmitDuration:   registry.NewHistogram("guard_admit_duration_seconds", "Admission pipeline duration in seconds", nil, nil),

		BlocksTotal:     registry.NewLabeledCounter("guard_blocks_created", "Block entries created by violation type", "type"),
		PromotionsTotal: registry.NewCounter("guard_whitelist_promotions_total", "Clients promoted to the dynamic whitelist", nil),

		TrackedClients: registry.NewGauge("guard_tracked_clients", "Client records currently tracked", nil),
		ActiveBlocks:   registry.NewGauge("guard_active_blocks", "Block entries currently stored", nil),
		WhitelistSize:  registry.NewGauge("guard_whitelist_size", "Dynamic whitelist entries currently stored", nil),

		HTTPRequests: registry.NewCounter("guard_http_requests_total", "Total HTTP requests served", nil),
		HTTPDuration: registry.NewHistogram("guard_http_request_duration_seconds", "HTTP request duration", nil, nil),

		MemoryUsage:    registry.NewGauge("guard_memory_usage_bytes", "Current memory usage in bytes", nil),
		GoroutineCount: registry.NewGauge("guard_goroutines", "Current number of goroutines", nil),
	}
}

// RecordDecision counts one admission outcome.
func (m *GuardMetrics) RecordDecision(allowed bool, decisionType string) {
	m.AdmissionsTotal.Inc()
	if !allowed {
		m.DenialsTotal.Inc()
		m.DenialsByType.With(decisionType).Inc()
	}
}

// RecordBlock counts one block entry creation.
func (m *GuardMetrics) RecordBlock(violationType string) {
	m.BlocksTotal.With(violationType).Inc()
}

// RecordPromotion counts one whitelist promotion.
func (m *GuardMetrics) RecordPromotion() {
	m.PromotionsTotal.Inc()
}

// UpdateSystemMetrics refreshes process-level gauges.
func (m *GuardMetrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.MemoryUsage.Set(float64(memStats.Alloc))
	m.GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// GetRegistry returns the metrics registry
func (m *GuardMetrics) GetRegistry() *MetricsRegistry {
	return m.registry
}

// StatsSource exposes store-level counts for gauge refresh.
type StatsSource interface {
	Stats() map[string]interface{}
}

// MetricsCollector periodically refreshes system and state gauges.
type MetricsCollector struct {
	metrics  *GuardMetrics
	source   StatsSource
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(metrics *GuardMetrics, source StatsSource, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		metrics:  metrics,
		source:   source,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (mc *MetricsCollector) Start() {
	ticker := time.NewTicker(mc.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mc.collect()
			case <-mc.stopChan:
				return
			}
		}
	}()
}

func (mc *MetricsCollector) collect() {
	mc.metrics.UpdateSystemMetrics()

	if mc.source == nil {
		return
	}
	stats := mc.source.Stats()
	if v, ok := asFloat(stats["tracked_clients"]); ok {
		mc.metrics.TrackedClients.Set(v)
	}
	if v, ok := asFloat(stats["active_blocks"]); ok {
		mc.metrics.ActiveBlocks.Set(v)
	}
	if v, ok := asFloat(stats["whitelist_size"]); ok {
		mc.metrics.WhitelistSize.Set(v)
	}
}

// Stop stops collecting metrics
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopChan) })
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
