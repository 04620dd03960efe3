package main

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromExporter collects metrics in Prometheus format from a duplex server.
type PromExporter struct {
	timeout   time.Duration
	namespace string

	scraper *Scraper

	up                  *prometheus.Desc
	sessionsLive        *prometheus.Desc
	sessionsTotal       *prometheus.Desc
	topicsLive          *prometheus.Desc
	topicsTotal         *prometheus.Desc
	onlineUsers         *prometheus.Desc
	eventsPublished     *prometheus.Desc
	eventsDelivered     *prometheus.Desc
	eventsNoSubscribers *prometheus.Desc
	framesDropped       *prometheus.Desc
	slowConsumersClosed *prometheus.Desc
	malloced            *prometheus.Desc
}

// NewPromExporter returns an initialized Prometheus exporter.
func NewPromExporter(namespace string, timeout time.Duration, scraper *Scraper) *PromExporter {
	return &PromExporter{
		timeout:   timeout,
		namespace: namespace,
		scraper:   scraper,
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "up"),
			"If the duplex instance is reachable.",
			nil,
			nil,
		),
		sessionsLive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sessions_live_count"),
			"Number of currently live sessions.",
			nil,
			nil,
		),
		sessionsTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sessions_total"),
			"Total number of sessions since instance start.",
			nil,
			nil,
		),
		topicsLive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "topics_live_count"),
			"Number of currently active topics.",
			nil,
			nil,
		),
		topicsTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "topics_total"),
			"Total number of topics used during instance lifetime.",
			nil,
			nil,
		),
		onlineUsers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "online_users_count"),
			"Number of principals with at least one open connection.",
			nil,
			nil,
		),
		eventsPublished: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_published_total"),
			"Total number of events accepted for fan-out.",
			nil,
			nil,
		),
		eventsDelivered: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_delivered_total"),
			"Total number of per-session event deliveries.",
			nil,
			nil,
		),
		eventsNoSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_without_subscribers_total"),
			"Total number of events published to topics with no subscribers.",
			nil,
			nil,
		),
		framesDropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "outbound_frames_dropped_total"),
			"Total number of droppable frames discarded from full session queues.",
			nil,
			nil,
		),
		slowConsumersClosed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "slow_consumers_closed_total"),
			"Total number of sessions closed for not keeping up with fan-out.",
			nil,
			nil,
		),
		malloced: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "malloced_bytes"),
			"Number of bytes of memory allocated and in use.",
			nil,
			nil,
		),
	}
}

// Describe describes all the metrics exported by the duplex exporter. It
// implements prometheus.Collector.
func (e *PromExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.up
	ch <- e.sessionsLive
	ch <- e.sessionsTotal
	ch <- e.topicsLive
	ch <- e.topicsTotal
	ch <- e.onlineUsers
	ch <- e.eventsPublished
	ch <- e.eventsDelivered
	ch <- e.eventsNoSubscribers
	ch <- e.framesDropped
	ch <- e.slowConsumersClosed
	ch <- e.malloced
}

// Collect fetches statistics from the configured duplex instance, and
// delivers them as Prometheus metrics. It implements prometheus.Collector.
func (e *PromExporter) Collect(ch chan<- prometheus.Metric) {
	up := float64(1)
	if stats, err := e.scraper.Scrape(); err != nil {
		log.Println("Failed to fetch or parse response", err)
		up = 0
	} else if err := e.parseStats(ch, stats); err != nil {
		up = 0
	}

	ch <- prometheus.MustNewConstMetric(e.up, prometheus.GaugeValue, up)
}

func (e *PromExporter) parseStats(ch chan<- prometheus.Metric, stats map[string]any) error {
	return firstError(
		e.parseAndUpdate(ch, e.sessionsLive, prometheus.GaugeValue, stats, "LiveSessions"),
		e.parseAndUpdate(ch, e.sessionsTotal, prometheus.CounterValue, stats, "TotalSessions"),
		e.parseAndUpdate(ch, e.topicsLive, prometheus.GaugeValue, stats, "LiveTopics"),
		e.parseAndUpdate(ch, e.topicsTotal, prometheus.CounterValue, stats, "TotalTopics"),
		e.parseAndUpdate(ch, e.onlineUsers, prometheus.GaugeValue, stats, "OnlineUsers"),
		e.parseAndUpdate(ch, e.eventsPublished, prometheus.CounterValue, stats, "PublishedEventsTotal"),
		e.parseAndUpdate(ch, e.eventsDelivered, prometheus.CounterValue, stats, "DeliveredEventsTotal"),
		e.parseAndUpdate(ch, e.eventsNoSubscribers, prometheus.CounterValue, stats, "EventsWithoutSubscribersTotal"),
		e.parseAndUpdate(ch, e.framesDropped, prometheus.CounterValue, stats, "OutboundFramesDroppedTotal"),
		e.parseAndUpdate(ch, e.slowConsumersClosed, prometheus.CounterValue, stats, "SlowConsumerClosedTotal"),
		e.parseAndUpdate(ch, e.malloced, prometheus.GaugeValue, stats, "memstats.Alloc"),
	)
}

func (e *PromExporter) parseAndUpdate(ch chan<- prometheus.Metric, desc *prometheus.Desc, valueType prometheus.ValueType,
	stats map[string]any, key string) error {
	v, err := parseMetric(stats, key)
	if err != nil {
		return err
	}
	ch <- prometheus.MustNewConstMetric(desc, valueType, v)
	return nil
}

func firstError(errs ...error) error {
	for _, v := range errs {
		if v != nil {
			return v
		}
	}
	return nil
}
