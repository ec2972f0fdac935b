// Prometheus metrics of bus traffic, payload sizes and retention sweeps.

package main

import (
	"net/http"
	"path"
	"time"

	"github.com/janrain/backplane/server/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
)

const metricsNamespace = "backplane"

type stats struct {
	registry *prometheus.Registry

	posts             prometheus.Counter
	messagesPosted    prometheus.Counter
	busGets           prometheus.Counter
	busGetsSticky     prometheus.Counter
	channelGets       prometheus.Counter
	channelGetsSticky prometheus.Counter

	getTime            prometheus.Histogram
	payloadSize        prometheus.Histogram
	messagesPerChannel prometheus.Histogram

	sweptTotal *prometheus.CounterVec
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help})
}

func newStats() *stats {
	s := &stats{
		registry:          prometheus.NewRegistry(),
		posts:             newCounter("posts_total", "Accepted post requests."),
		messagesPosted:    newCounter("messages_posted_total", "Messages stored by post requests."),
		busGets:           newCounter("bus_gets_total", "Bus poll requests."),
		busGetsSticky:     newCounter("bus_gets_sticky_total", "Bus poll requests for sticky messages."),
		channelGets:       newCounter("channel_gets_total", "Channel poll requests."),
		channelGetsSticky: newCounter("channel_gets_sticky_total", "Channel poll requests for sticky messages."),
		getTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "get_messages_seconds",
			Help:      "Time spent reading messages for a poll.",
			Buckets:   prometheus.DefBuckets,
		}),
		payloadSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "payload_size_bytes",
			Help:      "Size of poll response bodies.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
		messagesPerChannel: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "messages_per_channel",
			Help:      "Messages already in a channel when a post arrives.",
			Buckets:   prometheus.LinearBuckets(0, 5, 11),
		}),
		sweptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sweep_deleted_total",
			Help:      "Messages deleted by the retention sweeper.",
		}, []string{"sticky"}),
	}

	version.Version = buildstamp
	s.registry.MustRegister(
		s.posts, s.messagesPosted,
		s.busGets, s.busGetsSticky, s.channelGets, s.channelGetsSticky,
		s.getTime, s.payloadSize, s.messagesPerChannel, s.sweptTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		versioncollector.NewCollector(metricsNamespace),
	)
	return s
}

// Posted implements bus.Observer.
func (s *stats) Posted(existing, posted int) {
	s.posts.Inc()
	s.messagesPosted.Add(float64(posted))
	s.messagesPerChannel.Observe(float64(existing))
}

// Read implements bus.Observer.
func (s *stats) Read(channel, sticky bool, elapsed time.Duration, _ int) {
	switch {
	case channel && sticky:
		s.channelGets.Inc()
		s.channelGetsSticky.Inc()
	case channel:
		s.channelGets.Inc()
	case sticky:
		s.busGets.Inc()
		s.busGetsSticky.Inc()
	default:
		s.busGets.Inc()
	}
	s.getTime.Observe(elapsed.Seconds())
}

// payload records the size of a poll response.
func (s *stats) payload(size int) {
	s.payloadSize.Observe(float64(size))
}

// swept is the sweeper deletion hook.
func (s *stats) swept(_ string, sticky bool, n int) {
	label := "false"
	if sticky {
		label = "true"
	}
	s.sweptTotal.WithLabelValues(label).Add(float64(n))
}

// serve exposes the metrics at the given path. Empty path or "-" disables metrics.
func (s *stats) serve(mux *http.ServeMux, at string) {
	if at == "" || at == "-" {
		return
	}
	at = path.Clean("/" + at)
	if at == "/" {
		logs.Warn.Println("stats: serving metrics from / is not supported")
		return
	}

	mux.Handle(at, promhttp.InstrumentMetricHandler(s.registry,
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{ErrorLog: logs.Err})))

	logs.Info.Printf("stats: metrics exposed at '%s' (%s)", at, version.Info())
}
