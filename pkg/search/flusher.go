package search

import (
	"context"
	"sync"
	"time"

	"github.com/relaydb/relay/pkg/log"
	"github.com/relaydb/relay/pkg/metrics"
	"github.com/rs/zerolog"
)

// BlobStore is the minimal interface the flusher and compactor need:
// write a segment's bytes under a content-addressed key and fetch them
// back. pkg/filestorage's BlobStore does not implement it: that store
// picks each blob's key from its SHA-256 digest.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// IndexRecordUpdater is handed the new segment's metadata once it is
// durably written to blob storage, so it can append to the index
// record on commit: segments are written to blob storage and their
// metadata appended to the index record on commit.
type IndexRecordUpdater interface {
	AppendSegment(ctx context.Context, indexName string, segmentID string, blobKey string) error
}

// Flusher polls an Index's delta size and, once it crosses threshold,
// drains the delta into a new immutable segment, writes it to blob
// storage, and registers it. Mirrors pkg/committer's retention sweep:
// a ticker, a stopCh, one goroutine.
type Flusher struct {
	index     *Index
	indexName string
	blobs     BlobStore
	updater   IndexRecordUpdater
	threshold int
	logger    zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewFlusher returns a Flusher for index, rolling a new segment once
// the delta's term-plus-vector count exceeds threshold.
func NewFlusher(index *Index, indexName string, blobs BlobStore, updater IndexRecordUpdater, threshold int) *Flusher {
	return &Flusher{
		index:     index,
		indexName: indexName,
		blobs:     blobs,
		updater:   updater,
		threshold: threshold,
		logger:    log.WithComponent("search-flusher"),
	}
}

// Start begins the polling loop.
func (f *Flusher) Start(pollInterval time.Duration) {
	f.mu.Lock()
	f.stopCh = make(chan struct{})
	stop := f.stopCh
	f.mu.Unlock()

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if f.index.Delta.Size() >= f.threshold {
					if err := f.FlushOnce(context.Background()); err != nil {
						f.logger.Error().Err(err).Msg("segment flush failed")
					}
				}
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the polling loop.
func (f *Flusher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopCh != nil {
		close(f.stopCh)
		f.stopCh = nil
	}
}

// FlushOnce drains the delta into a segment, writes it to blob storage,
// appends it to the index record, and publishes it into the live
// segment list - in that order, so a crash between any two steps leaves
// either no trace of the segment or a fully durable, queryable one,
// never a segment other nodes can't fetch.
func (f *Flusher) FlushOnce(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SearchFlushDuration)

	seg := f.index.Delta.Drain()
	if seg.Terms.Len() == 0 && len(seg.Vectors) == 0 {
		return nil
	}

	data, err := EncodeSegment(seg)
	if err != nil {
		return err
	}
	blobKey := "segments/" + seg.ID
	if err := f.blobs.Put(ctx, blobKey, data); err != nil {
		return err
	}
	if f.updater != nil {
		if err := f.updater.AppendSegment(ctx, f.indexName, seg.ID, blobKey); err != nil {
			return err
		}
	}

	f.index.Segments = append(f.index.Segments, seg)
	metrics.SearchSegmentsTotal.Inc()
	return nil
}
