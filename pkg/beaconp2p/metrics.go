package beaconp2p

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gossip/RPC/peer-manager/discovery counters this
// package emits, registered on an isolated *prometheus.Registry rather
// than the global default (matching pkg/p2pnet.Metrics).
type Metrics struct {
	registry *prometheus.Registry

	GossipPublishTotal     *prometheus.CounterVec
	GossipPublishFailTotal *prometheus.CounterVec
	GossipCacheEntries     *prometheus.GaugeVec
	GossipCacheExpiredTotal *prometheus.CounterVec
	GossipLatePublishTotal *prometheus.CounterVec
	GossipUnacceptedTotal  *prometheus.CounterVec

	RPCRequestsTotal  *prometheus.CounterVec
	RPCFailuresTotal  *prometheus.CounterVec
	RPCSlowPeerTotal  *prometheus.CounterVec

	DiscoverySubnetQueriesTotal *prometheus.CounterVec
	DiscoveryCacheHitsTotal     *prometheus.CounterVec
}

// NewMetrics builds and registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		GossipPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beaconp2p", Name: "gossip_publish_total", Help: "Gossip publishes by topic kind and outcome.",
		}, []string{"kind", "outcome"}),
		GossipPublishFailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beaconp2p", Name: "gossip_publish_fail_total", Help: "Gossip publish failures by topic kind.",
		}, []string{"kind"}),
		GossipCacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "beaconp2p", Name: "gossip_cache_entries", Help: "Current retry-cache entries by topic kind.",
		}, []string{"kind"}),
		GossipCacheExpiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beaconp2p", Name: "gossip_cache_expired_total", Help: "Retry-cache entries dropped for age by topic kind.",
		}, []string{"kind"}),
		GossipLatePublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beaconp2p", Name: "gossip_late_publish_total", Help: "Late-publish retries by outcome.",
		}, []string{"outcome"}),
		GossipUnacceptedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beaconp2p", Name: "gossip_unaccepted_total", Help: "Ignore/Reject validation verdicts by peer.",
		}, []string{"peer"}),
		RPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beaconp2p", Name: "rpc_requests_total", Help: "RPC requests by kind and direction.",
		}, []string{"kind", "direction"}),
		RPCFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beaconp2p", Name: "rpc_failures_total", Help: "RPC failures by kind.",
		}, []string{"kind"}),
		RPCSlowPeerTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beaconp2p", Name: "rpc_slow_peer_total", Help: "Slow-peer reputation hits by cause.",
		}, []string{"cause"}),
		DiscoverySubnetQueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beaconp2p", Name: "discovery_subnet_queries_total", Help: "Batched DHT subnet queries issued.",
		}, []string{"kind"}),
		DiscoveryCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beaconp2p", Name: "discovery_cache_hits_total", Help: "Subnet-discovery cache hits, short-circuiting a DHT query.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.GossipPublishTotal, m.GossipPublishFailTotal, m.GossipCacheEntries,
		m.GossipCacheExpiredTotal, m.GossipLatePublishTotal, m.GossipUnacceptedTotal,
		m.RPCRequestsTotal, m.RPCFailuresTotal, m.RPCSlowPeerTotal,
		m.DiscoverySubnetQueriesTotal, m.DiscoveryCacheHitsTotal,
	)
	return m
}

// Registry exposes the isolated registry for promhttp.HandlerFor wiring at
// the application layer (matching pkg/p2pnet.Metrics.Handler).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
