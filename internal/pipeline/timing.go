package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	componentSeconds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otlp_relay_component_seconds_total",
		Help: "Wall-clock seconds spent in each pipeline component",
	}, []string{"component"})

	// Pre-resolved counters avoid the WithLabelValues lookup on every call.
	secondsCounters map[string]prometheus.Counter
)

// knownComponents lists all components for pre-initialization.
var knownComponents = []string{
	"emit", "batch_close", "submit",
	"serialize", "compress", "export",
	"flush", "shutdown",
}

func init() {
	prometheus.MustRegister(componentSeconds)

	secondsCounters = make(map[string]prometheus.Counter, len(knownComponents))
	for _, c := range knownComponents {
		sc := componentSeconds.WithLabelValues(c)
		sc.Add(0)
		secondsCounters[c] = sc
	}
}

// Record adds elapsed time to the named component's counter.
func Record(component string, d time.Duration) {
	if c, ok := secondsCounters[component]; ok {
		c.Add(d.Seconds())
	}
}

// Track starts timing and returns a func that records when called.
//
//	defer pipeline.Track("export")()
func Track(component string) func() {
	start := time.Now()
	c := secondsCounters[component]
	return func() {
		if c != nil {
			c.Add(time.Since(start).Seconds())
		}
	}
}
