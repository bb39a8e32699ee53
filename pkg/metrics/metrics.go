// Package metrics implements the Metrics View (C10): the
// OrganizationalMetrics read model of §3/§6 plus a Prometheus exposition
// of the same counters, grounded on kubernaut's
// test/unit/gateway/metrics pattern of building a private
// *prometheus.Registry and registering CounterVec/GaugeVec onto it rather
// than reaching for the global default registry.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/registry"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/tracking"
)

// OrganizationalMetrics is the point-in-time read model of §6's
// "configuration knobs" companion state: aggregate organizational health
// and throughput, independent of the Prometheus exposition below.
type OrganizationalMetrics struct {
	AgentCount          int                          `json:"agent_count"`
	CommunicationsSent  int                           `json:"communications_sent"`
	ResponsesRecorded   int                           `json:"responses_recorded"`
	DeliveryStatusCounts map[model.DeliveryStatus]int `json:"delivery_status_counts"`
	ResponsesByKind     map[model.ResponseKind]int    `json:"responses_by_kind"`
	AverageStress       float64                       `json:"average_stress"`
	AverageWorkload     float64                       `json:"average_workload"`
	AverageSatisfaction float64                       `json:"average_satisfaction"`
	QueueDepth          int                           `json:"queue_depth"`
	QueueCapacity       int                           `json:"queue_capacity"`
}

// Collector is the Metrics View. It is both a comms.ResponseObserver
// (counts responses by kind as they are persisted) and an
// escalation.EventRecorder (counts escalation promotions and compliance
// failures), so the Kernel wires it alongside the Tracking Engine and
// SimulationEvent ring buffer rather than polling for every counter.
type Collector struct {
	registry *prometheus.Registry

	communicationsSent *prometheus.CounterVec // label: kind
	deliveries         *prometheus.CounterVec // label: status
	responses          *prometheus.CounterVec // label: kind
	escalations        *prometheus.CounterVec // label: event
	consensusLevel     *prometheus.GaugeVec   // label: key (communication_id or topic)
	queueDepth         prometheus.Gauge
	queueCapacity      prometheus.Gauge
}

// New builds a Collector with its own private Prometheus registry — never
// the global DefaultRegisterer, so multiple Kernels in one process (e.g.
// in tests) never collide on metric registration.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		communicationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simkernel",
			Name:      "communications_sent_total",
			Help:      "Communications accepted by the Distribution Engine, by kind.",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simkernel",
			Name:      "deliveries_total",
			Help:      "DeliveryRecord status transitions, by resulting status.",
		}, []string{"status"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simkernel",
			Name:      "responses_total",
			Help:      "Responses recorded by the Tracking Engine, by response kind.",
		}, []string{"kind"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simkernel",
			Name:      "escalation_events_total",
			Help:      "Escalation Manager events, by event kind (escalation_promoted, compliance_failure, escalation_resolved).",
		}, []string{"event"}),
		consensusLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "simkernel",
			Name:      "wisdom_consensus_level",
			Help:      "Most recently computed Wisdom Engine consensus_level, by communication_id or topic key.",
		}, []string{"key"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "simkernel",
			Name:      "delivery_queue_depth",
			Help:      "Current Distribution Engine delivery queue depth.",
		}),
		queueCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "simkernel",
			Name:      "delivery_queue_capacity",
			Help:      "Configured Distribution Engine delivery queue capacity.",
		}),
	}

	reg.MustRegister(
		c.communicationsSent,
		c.deliveries,
		c.responses,
		c.escalations,
		c.consensusLevel,
		c.queueDepth,
		c.queueCapacity,
	)
	return c
}

// RecordCommunicationSent increments the per-kind communications-sent
// counter; called by the Kernel right after a successful Send.
func (c *Collector) RecordCommunicationSent(kind model.CommunicationKind) {
	c.communicationsSent.WithLabelValues(string(kind)).Inc()
}

// RecordDelivery increments the per-status delivery counter.
func (c *Collector) RecordDelivery(status model.DeliveryStatus) {
	c.deliveries.WithLabelValues(string(status)).Inc()
}

// OnResponse implements comms.ResponseObserver: every persisted Response
// increments both the responses-by-kind counter and the implicit
// "delivered" delivery counter, since a Response is only ever produced
// after a successful delivery (see pkg/comms.Engine.process).
func (c *Collector) OnResponse(ctx context.Context, resp *model.Response, comm *model.Communication) {
	c.responses.WithLabelValues(string(resp.Kind)).Inc()
	c.deliveries.WithLabelValues(string(model.DeliveryDelivered)).Inc()
}

// RecordEvent implements escalation.EventRecorder, tallying promotions and
// compliance failures without needing its own direct dependency on the
// Escalation Manager's internal state machine.
func (c *Collector) RecordEvent(kind, message string, fields map[string]interface{}) {
	switch kind {
	case "escalation_promoted", "compliance_failure", "escalation_resolved":
		c.escalations.WithLabelValues(kind).Inc()
	}
}

// SetConsensusLevel publishes the Wisdom Engine's latest consensus_level
// for key, called by the Kernel after each successful get_wisdom lookup.
func (c *Collector) SetConsensusLevel(key string, level float64) {
	c.consensusLevel.WithLabelValues(key).Set(level)
}

// SetQueueDepth publishes the Distribution Engine's current queue depth
// and capacity.
func (c *Collector) SetQueueDepth(depth, capacity int) {
	c.queueDepth.Set(float64(depth))
	c.queueCapacity.Set(float64(capacity))
}

// Handler returns the Prometheus exposition HTTP handler for /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Snapshot computes the OrganizationalMetrics read model from the current
// Registry and Tracking Engine state, for the control protocol's
// non-Prometheus consumers.
func Snapshot(reg *registry.Registry, trackingStore *tracking.Store, queueDepth, queueCapacity int) OrganizationalMetrics {
	commCount, respCount, _ := trackingStore.Counts()

	out := OrganizationalMetrics{
		AgentCount:           reg.Len(),
		CommunicationsSent:   commCount,
		ResponsesRecorded:    respCount,
		DeliveryStatusCounts: trackingStore.DeliveryStatusCounts(),
		ResponsesByKind:      trackingStore.ResponseKindCounts(),
		QueueDepth:           queueDepth,
		QueueCapacity:        queueCapacity,
	}

	ids := reg.All()
	var stressSum, workloadSum, satisfactionSum float64
	for _, id := range ids {
		a, err := reg.Get(id)
		if err != nil {
			continue
		}
		snap := a.Snapshot()
		stressSum += snap.StressLevel
		workloadSum += snap.CurrentWorkload
		satisfactionSum += snap.Satisfaction
	}
	if n := float64(len(ids)); n > 0 {
		out.AverageStress = stressSum / n
		out.AverageWorkload = workloadSum / n
		out.AverageSatisfaction = satisfactionSum / n
	}
	return out
}
