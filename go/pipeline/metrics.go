package pipeline

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Error-type keys of the per-type failure counters.
const (
	ErrTypeParsing             = "ParsingError"
	ErrTypeValidation          = "ValidationError"
	ErrTypeValidationException = "ValidationException"
	ErrTypeDatabase            = "DatabaseError"
	ErrTypeUnexpected          = "UnexpectedError"
)

// rollingWindow is how many recent successful runs feed the average.
const rollingWindow = 100

// Metrics is the process-wide processing counters, mutated under one mutex.
// It survives pipeline restarts within the same process lifetime; only an
// explicit Reset clears it.
type Metrics struct {
	mu             sync.Mutex
	totalProcessed int64
	totalFailed    int64
	durations      []time.Duration
	errorsByType   map[string]int64
	startTime      time.Time
	lastUpdated    time.Time
}

// Snapshot is a consistent copy of the counters.
type Snapshot struct {
	TotalProcessed          int64            `json:"totalProcessed"`
	TotalFailed             int64            `json:"totalFailed"`
	AverageProcessingTimeMs float64          `json:"averageProcessingTimeMs"`
	MessagesPerMinute       float64          `json:"messagesPerMinute"`
	ErrorsByType            map[string]int64 `json:"errorsByType"`
	LastUpdated             time.Time        `json:"lastUpdated"`
}

// NewMetrics starts an empty counter set.
func NewMetrics() *Metrics {
	return &Metrics{
		errorsByType: make(map[string]int64),
		startTime:    time.Now(),
	}
}

// RecordSuccess counts one processed message and its duration.
func (m *Metrics) RecordSuccess(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalProcessed++
	m.durations = append(m.durations, d)
	if len(m.durations) > rollingWindow {
		m.durations = m.durations[len(m.durations)-rollingWindow:]
	}
	m.lastUpdated = time.Now()

	processedCounter.Inc()
	processingSeconds.Observe(d.Seconds())
}

// RecordFailure counts one failed message under the given error-type key.
func (m *Metrics) RecordFailure(errType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalFailed++
	m.errorsByType[errType]++
	m.lastUpdated = time.Now()

	failedCounter.WithLabelValues(errType).Inc()
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg float64
	if len(m.durations) != 0 {
		var sum time.Duration
		for _, d := range m.durations {
			sum += d
		}
		avg = float64(sum.Milliseconds()) / float64(len(m.durations))
	}

	var perMinute float64
	if elapsed := time.Since(m.startTime).Minutes(); elapsed > 0 {
		perMinute = float64(m.totalProcessed+m.totalFailed) / elapsed
	}

	var errs = make(map[string]int64, len(m.errorsByType))
	for k, v := range m.errorsByType {
		errs[k] = v
	}
	return Snapshot{
		TotalProcessed:          m.totalProcessed,
		TotalFailed:             m.totalFailed,
		AverageProcessingTimeMs: avg,
		MessagesPerMinute:       perMinute,
		ErrorsByType:            errs,
		LastUpdated:             m.lastUpdated,
	}
}

// Reset clears all counters and restarts the throughput window.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalProcessed, m.totalFailed = 0, 0
	m.durations = nil
	m.errorsByType = make(map[string]int64)
	m.startTime = time.Now()
	m.lastUpdated = time.Now()
}

var processedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mtflow_messages_processed_total",
	Help: "counter of MT103 messages processed successfully",
})

var failedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mtflow_messages_failed_total",
	Help: "counter of MT103 messages which failed processing, by error type",
}, []string{"type"})

var processingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "mtflow_processing_duration_seconds",
	Help:    "time spent processing one MT103 message end to end",
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
})

var completedSendFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mtflow_completed_send_failures_total",
	Help: "counter of persisted messages whose completed-queue send failed",
})

var duplicateSuppressions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mtflow_duplicate_suppressions_total",
	Help: "counter of re-delivered payloads skipped by the duplicate cache",
})
