package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohabh15/studio-sub000/internal/usecase"
)

// StatsSource yields a point-in-time counter snapshot from the orchestrator.
type StatsSource func() usecase.AuthStats

// StatsCollector exports the service counter snapshots at scrape time, so
// the diagnostic surface and /metrics always agree.
type StatsCollector struct {
	source StatsSource

	tokenSaves           *prometheus.Desc
	tokenReads           *prometheus.Desc
	tokenClears          *prometheus.Desc
	tokenRefreshes       *prometheus.Desc
	tokenRefreshFailures *prometheus.Desc
	tokenScheduledFires  *prometheus.Desc

	sessionsCreated   *prometheus.Desc
	sessionsDestroyed *prometheus.Desc
	sessionsExpired   *prometheus.Desc
	activityUpdates   *prometheus.Desc
	sessionsTracked   *prometheus.Desc

	busPublished   *prometheus.Desc
	busDelivered   *prometheus.Desc
	busSubscribers *prometheus.Desc
}

// NewStatsCollector builds the collector; register it on the same registerer
// as the event-driven metrics.
func NewStatsCollector(source StatsSource) *StatsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(namespace+"_"+name, help, nil, nil)
	}

	return &StatsCollector{
		source: source,

		tokenSaves:           desc("token_saves_total", "Credential pairs persisted."),
		tokenReads:           desc("token_reads_total", "Credential pair reads."),
		tokenClears:          desc("token_clears_total", "Credential pair teardowns."),
		tokenRefreshes:       desc("token_refreshes_total", "Successful credential refreshes."),
		tokenRefreshFailures: desc("token_refresh_failures_total", "Failed credential refreshes."),
		tokenScheduledFires:  desc("token_scheduled_refreshes_total", "Scheduled refresh timer fires."),

		sessionsCreated:   desc("sessions_created_total", "Sessions created."),
		sessionsDestroyed: desc("sessions_destroyed_total", "Sessions destroyed."),
		sessionsExpired:   desc("sessions_timed_out_total", "Sessions expired by timeout."),
		activityUpdates:   desc("session_activity_updates_total", "Activity ticks recorded."),
		sessionsTracked:   desc("sessions_tracked", "Sessions currently tracked in memory."),

		busPublished:   desc("bus_events_published_total", "Events published on the bus."),
		busDelivered:   desc("bus_events_delivered_total", "Event deliveries to subscribers."),
		busSubscribers: desc("bus_subscribers", "Live bus subscriptions."),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tokenSaves
	ch <- c.tokenReads
	ch <- c.tokenClears
	ch <- c.tokenRefreshes
	ch <- c.tokenRefreshFailures
	ch <- c.tokenScheduledFires
	ch <- c.sessionsCreated
	ch <- c.sessionsDestroyed
	ch <- c.sessionsExpired
	ch <- c.activityUpdates
	ch <- c.sessionsTracked
	ch <- c.busPublished
	ch <- c.busDelivered
	ch <- c.busSubscribers
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source()

	counter := func(desc *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}
	gauge := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v)
	}

	counter(c.tokenSaves, stats.Token.Saves)
	counter(c.tokenReads, stats.Token.Reads)
	counter(c.tokenClears, stats.Token.Clears)
	counter(c.tokenRefreshes, stats.Token.Refreshes)
	counter(c.tokenRefreshFailures, stats.Token.RefreshFailures)
	counter(c.tokenScheduledFires, stats.Token.ScheduledFires)

	counter(c.sessionsCreated, stats.Session.Created)
	counter(c.sessionsDestroyed, stats.Session.Destroyed)
	counter(c.sessionsExpired, stats.Session.Expired)
	counter(c.activityUpdates, stats.Session.ActivityUpdates)
	gauge(c.sessionsTracked, float64(stats.Session.Tracked))

	counter(c.busPublished, stats.Bus.Published)
	counter(c.busDelivered, stats.Bus.Delivered)
	gauge(c.busSubscribers, float64(stats.Bus.Subscribers))
}

var _ prometheus.Collector = (*StatsCollector)(nil)
