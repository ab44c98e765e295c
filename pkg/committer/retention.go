package committer

import (
	"context"
	"time"

	"github.com/relaydb/relay/pkg/metrics"
	"github.com/relaydb/relay/pkg/types"
)

// StartRetention begins the background sweep that purges document and
// index log history older than window, on the same ticker-driven loop
// shape pkg/reconciler uses for its reconciliation cycle. Only the raft
// leader runs the sweep; a follower skips each tick until it takes over.
func (c *Committer) StartRetention(window, sweepInterval time.Duration) {
	go c.runRetention(window, sweepInterval)
}

// StopRetention halts the sweep loop started by StartRetention.
func (c *Committer) StopRetention() {
	close(c.stopCh)
}

func (c *Committer) runRetention(window, sweepInterval time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	c.logger.Info().Dur("window", window).Msg("retention sweep started")

	for {
		select {
		case <-ticker.C:
			if !c.IsLeader() {
				continue
			}
			if err := c.sweepOnce(window); err != nil {
				c.logger.Error().Err(err).Msg("retention sweep failed")
			}
		case <-c.stopCh:
			c.logger.Info().Msg("retention sweep stopped")
			return
		}
	}
}

func (c *Committer) sweepOnce(window time.Duration) error {
	ctx := context.Background()

	maxTs, err := c.store.MaxTimestamp(ctx)
	if err != nil {
		return err
	}

	cutoff := retentionCutoff(maxTs, window)
	if cutoff == 0 {
		return nil
	}
	c.watermark.Store(uint64(cutoff))

	timer := metrics.NewTimer()
	purged, err := c.store.DeleteBefore(ctx, cutoff)
	timer.ObserveDuration(metrics.RetentionSweepDuration)
	if err != nil {
		return err
	}
	metrics.RetentionPurgedTotal.Add(float64(purged))
	return nil
}

// retentionCutoff approximates a wall-clock window as a logical
// timestamp cutoff. Timestamps here are a monotone commit counter, not a
// clock, so the window is expressed as "keep the newest N timestamps"
// where N is the window's length in whole seconds: the full window of
// wall-clock history is kept only while the deployment commits at most
// once per second, and less of it at higher commit rates. A window under
// one second, or a log holding no more than N timestamps, yields 0
// (nothing to purge). This is a coarse approximation,
// not a precise wall-clock guarantee; exact time-bounded retention would
// require persistence to record wall-clock alongside each Timestamp.
func retentionCutoff(maxTs types.Timestamp, window time.Duration) types.Timestamp {
	keep := types.Timestamp(window.Seconds())
	if keep == 0 || maxTs <= keep {
		return 0
	}
	return maxTs - keep
}
