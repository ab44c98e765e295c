package metrics

import (
	"context"
	"time"

	"github.com/relaydb/relay/pkg/types"
)

// StatsSource is the minimal surface the collector polls; the committer
// satisfies it. Kept as a narrow interface here (rather than importing
// the committer package directly) so metrics has no dependency on the
// engine packages it reports on.
type StatsSource interface {
	Tablets() []types.TabletID
	DocumentCount(ctx context.Context, tablet types.TabletID) (int64, error)
	MaxTimestamp(ctx context.Context) (types.Timestamp, error)
	IsLeader() bool
	RaftStats() map[string]uint64
}

// Collector polls a StatsSource on a fixed interval and republishes its
// state as gauges, the same ticker-driven poll loop the cluster-state
// collector used against the manager.
type Collector struct {
	source StatsSource
	stopCh chan struct{}
}

func NewCollector(source StatsSource) *Collector {
	return &Collector{source: source, stopCh: make(chan struct{})}
}

func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

func (c *Collector) Stop() { close(c.stopCh) }

func (c *Collector) collect() {
	c.collectDocumentMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectDocumentMetrics() {
	ctx := context.Background()
	for _, tablet := range c.source.Tablets() {
		count, err := c.source.DocumentCount(ctx, tablet)
		if err != nil {
			continue
		}
		DocumentsTotal.WithLabelValues(string(tablet)).Set(float64(count))
	}
	if max, err := c.source.MaxTimestamp(ctx); err == nil {
		MaxCommitTimestamp.Set(float64(max))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.source.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.source.RaftStats()
	if stats == nil {
		return
	}
	if v, ok := stats["last_log_index"]; ok {
		RaftLogIndex.Set(float64(v))
	}
	if v, ok := stats["applied_index"]; ok {
		RaftAppliedIndex.Set(float64(v))
	}
	if v, ok := stats["num_peers"]; ok {
		RaftPeers.Set(float64(v))
	}
}
