package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type prometheusObserver struct{}

var (
	reportCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retryflow_reports_total",
		Help: "Retry reports by outcome",
	}, []string{"outcome"})
	registrationCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retryflow_registrations_total",
		Help: "Node registrations by node type",
	}, []string{"node_type"})
	queueDropCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retryflow_register_queue_dropped_total",
		Help: "Client heartbeats dropped because the refresh queue was full",
	})
	allocationCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retryflow_allocations_total",
		Help: "Node allocations by whether a live node was found",
	}, []string{"found"})
	deadLetterCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retryflow_dead_letters_total",
		Help: "Tasks migrated to the dead letter store",
	})
	purgedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retryflow_finished_purged_total",
		Help: "Finished tasks purged by the sweeper",
	})
)

func NewPrometheusObserver() RetryObserver {
	return &prometheusObserver{}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) RecordReport(outcome string) {
	reportCounter.WithLabelValues(outcome).Inc()
}

func (p *prometheusObserver) RecordRegistration(nodeType string) {
	registrationCounter.WithLabelValues(nodeType).Inc()
}

func (p *prometheusObserver) RecordQueueDrop() {
	queueDropCounter.Inc()
}

func (p *prometheusObserver) RecordAllocation(found bool) {
	allocationCounter.WithLabelValues(strconv.FormatBool(found)).Inc()
}

func (p *prometheusObserver) AddDeadLetters(n int) {
	deadLetterCounter.Add(float64(n))
}

func (p *prometheusObserver) AddPurged(n int) {
	purgedCounter.Add(float64(n))
}
