package saveload

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	statsOnce sync.Once

	statsOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contentfs",
			Subsystem: "saveload",
			Name:      "operations_total",
			Help:      "Number of save/load/reset operations processed, by operation kind.",
		},
		[]string{"operation"})
	statsLocalResultTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contentfs",
			Subsystem: "saveload",
			Name:      "local_result_total",
			Help:      "Number of operations completing with a given local-storage result.",
		},
		[]string{"operation", "result"})
	statsCloudResultTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contentfs",
			Subsystem: "saveload",
			Name:      "cloud_result_total",
			Help:      "Number of operations completing with a given cloud-reconciliation result.",
		},
		[]string{"operation", "result"})
	statsQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "contentfs",
			Subsystem: "saveload",
			Name:      "queue_depth",
			Help:      "Number of load/save/reset requests currently queued or in flight.",
		})
)

func registerStats() {
	statsOnce.Do(func() {
		prometheus.MustRegister(statsOperationsTotal)
		prometheus.MustRegister(statsLocalResultTotal)
		prometheus.MustRegister(statsCloudResultTotal)
		prometheus.MustRegister(statsQueueDepth)
	})
}

func observeLoad(outcome LoadOutcome) {
	statsOperationsTotal.WithLabelValues("load").Inc()
	statsLocalResultTotal.WithLabelValues("load", outcome.LocalResult.String()).Inc()
	statsCloudResultTotal.WithLabelValues("load", outcome.CloudResult.String()).Inc()
}

func observeSave(outcome SaveOutcome) {
	statsOperationsTotal.WithLabelValues("save").Inc()
	statsLocalResultTotal.WithLabelValues("save", outcome.LocalResult.String()).Inc()
	statsCloudResultTotal.WithLabelValues("save", outcome.CloudResult.String()).Inc()
}

func observeReset() {
	statsOperationsTotal.WithLabelValues("reset").Inc()
}
