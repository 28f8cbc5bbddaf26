package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(eventsPublishedTotal, eventsDroppedTotal, subscribersActive) }

var eventsPublishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "job_events_published_total",
		Help: "Stage events published, labeled by kind.",
	},
	[]string{"kind"},
)

var eventsDroppedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "job_events_dropped_total",
		Help: "Events dropped because a subscriber buffer was full.",
	},
)

var subscribersActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "job_event_subscribers",
		Help: "Currently attached event subscribers.",
	},
)

func IncEventPublished(kind string) { eventsPublishedTotal.WithLabelValues(norm(kind)).Inc() }
func IncEventDropped()              { eventsDroppedTotal.Inc() }
func AddSubscribers(delta int)      { subscribersActive.Add(float64(delta)) }
