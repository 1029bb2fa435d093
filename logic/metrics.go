package logic

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"quilt/shared"
)

type IMetrics interface {
	StartFedRequestIn(label string) IRequestObserver
	StartFedRequestOut(label string) IRequestObserver
	ActivityApplied(kind string)
	ActivityRejected(reason string)
	FeedAssembled()
	PeerFetchFailed(peer string)
	TotalPeers(count int)
	ServiceStarted()
}

type IRequestObserver interface {
	Finish()
}

type metrics struct {
	cfg                *shared.Config
	fedRequestsIn      *prometheus.HistogramVec
	fedRequestsOut     *prometheus.HistogramVec
	activitiesApplied  *prometheus.CounterVec
	activitiesRejected *prometheus.CounterVec
	feedsAssembled     prometheus.Counter
	peerFetchFailures  *prometheus.CounterVec
	totalPeers         prometheus.Gauge
	serviceStarted     prometheus.Counter
}

func NewMetrics(cfg *shared.Config) IMetrics {

	res := metrics{}
	res.cfg = cfg

	res.fedRequestsIn = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "fed_requests_in_duration",
		Help: "Duration in seconds of federation requests served.",
	}, []string{"label"})
	prometheus.Register(res.fedRequestsIn)

	res.fedRequestsOut = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "fed_requests_out_duration",
		Help: "Duration in seconds of federation requests made.",
	}, []string{"label"})
	prometheus.Register(res.fedRequestsOut)

	res.activitiesApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "activities_applied",
		Help: "Number of inbound activities applied, by kind",
	}, []string{"kind"})
	prometheus.Register(res.activitiesApplied)

	res.activitiesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "activities_rejected",
		Help: "Number of inbound activities rejected, by reason",
	}, []string{"reason"})
	prometheus.Register(res.activitiesRejected)

	res.feedsAssembled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feeds_assembled",
		Help: "Number of aggregated feed pages assembled",
	})
	prometheus.Register(res.feedsAssembled)

	res.peerFetchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peer_fetch_failures",
		Help: "Number of failed fetches from peers, by peer",
	}, []string{"peer"})
	prometheus.Register(res.peerFetchFailures)

	res.totalPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "peer_count",
		Help: "Number of configured peer instances",
	})
	prometheus.Register(res.totalPeers)

	res.serviceStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "service_started",
		Help: "Service has started up",
	})
	prometheus.Register(res.serviceStarted)

	return &res
}

type requestObserver struct {
	label string
	start time.Time
	hgvec *prometheus.HistogramVec
}

func (ro *requestObserver) Finish() {
	now := time.Now()
	elapsed := float64(now.UnixMilli()-ro.start.UnixMilli()) / 1000.0
	ro.hgvec.WithLabelValues(ro.label).Observe(elapsed)
}

func (m *metrics) StartFedRequestIn(label string) IRequestObserver {
	return &requestObserver{label, time.Now(), m.fedRequestsIn}
}

func (m *metrics) StartFedRequestOut(label string) IRequestObserver {
	return &requestObserver{label, time.Now(), m.fedRequestsOut}
}

func (m *metrics) ActivityApplied(kind string) {
	m.activitiesApplied.WithLabelValues(kind).Add(1)
}

func (m *metrics) ActivityRejected(reason string) {
	m.activitiesRejected.WithLabelValues(reason).Add(1)
}

func (m *metrics) FeedAssembled() {
	m.feedsAssembled.Add(1)
}

func (m *metrics) PeerFetchFailed(peer string) {
	m.peerFetchFailures.WithLabelValues(peer).Add(1)
}

func (m *metrics) TotalPeers(count int) {
	m.totalPeers.Set(float64(count))
}

func (m *metrics) ServiceStarted() {
	m.serviceStarted.Add(1)
}
