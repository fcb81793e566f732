package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "lookout_build_info",
			Help:        "Build information for the lookout relay",
			ConstLabels: prometheus.Labels{"component": "relay"},
		},
		[]string{"date", "sha", "version"},
	)

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookout_frames_total",
			Help: "Frames received from the producer, by admission outcome",
		},
		[]string{"outcome"},
	)

	brokerDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lookout_broker_queue_depth",
			Help: "Frames currently retained by the broker",
		},
	)

	brokerDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lookout_broker_dropped_total",
			Help: "Frames evicted from the broker",
		},
	)

	motionTriggersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lookout_motion_triggers_total",
			Help: "Motion gate trigger transitions",
		},
	)

	captionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookout_caption_requests_total",
			Help: "Caption requests, by result",
		},
		[]string{"result"},
	)

	captionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lookout_caption_latency_seconds",
			Help:    "Caption request latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	insightsRelayedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lookout_insights_relayed_total",
			Help: "Insight messages relayed to the producer",
		},
	)

	utterancesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lookout_utterances_total",
			Help: "Spoken utterances emitted",
		},
	)

	visionConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lookout_vision_link_connected",
			Help: "Whether the vision service link is up",
		},
	)

	visionForwardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lookout_vision_frames_forwarded_total",
			Help: "Frames forwarded to the vision service",
		},
	)
)

// Register registers all relay collectors with r.
func Register(r prometheus.Registerer) {
	r.MustRegister(
		buildInfo,
		framesTotal,
		brokerDepth,
		brokerDroppedTotal,
		motionTriggersTotal,
		captionRequestsTotal,
		captionLatency,
		insightsRelayedTotal,
		utterancesTotal,
		visionConnected,
		visionForwardedTotal,
	)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordFrame counts one inbound frame by admission outcome.
func RecordFrame(accepted bool) {
	outcome := "accepted"
	if !accepted {
		outcome = "rejected"
	}
	framesTotal.WithLabelValues(outcome).Inc()
}

// ObserveBroker updates broker occupancy after a push.
func ObserveBroker(depth, dropped int) {
	brokerDepth.Set(float64(depth))
	if dropped > 0 {
		brokerDroppedTotal.Add(float64(dropped))
	}
}

// RecordMotionTrigger counts one motion trigger.
func RecordMotionTrigger() { motionTriggersTotal.Inc() }

// RecordCaption counts one caption completion and its latency.
func RecordCaption(success bool, seconds float64) {
	result := "ok"
	if !success {
		result = "error"
	}
	captionRequestsTotal.WithLabelValues(result).Inc()
	if success {
		captionLatency.Observe(seconds)
	}
}

// RecordInsightRelayed counts one relayed insight.
func RecordInsightRelayed() { insightsRelayedTotal.Inc() }

// RecordUtterance counts one spoken utterance.
func RecordUtterance() { utterancesTotal.Inc() }

// SetVisionConnected reflects vision link state.
func SetVisionConnected(up bool) {
	if up {
		visionConnected.Set(1)
	} else {
		visionConnected.Set(0)
	}
}

// RecordVisionForward counts one frame forwarded to the vision service.
func RecordVisionForward() { visionForwardedTotal.Inc() }
