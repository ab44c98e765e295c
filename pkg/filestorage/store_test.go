package filestorage

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/relaydb/relay/pkg/committer"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T) *Store {
	t.Helper()
	store, err := persistence.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New()
	c, err := committer.New(store, reg, nil, nil, time.Minute)
	require.NoError(t, err)

	blobs, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)

	return New(blobs, reg, store.Reader(), c, config.Defaults().Transaction)
}

func TestPutThenOpenRoundTrip(t *testing.T) {
	s := newFixture(t)
	content := []byte("hello, relay")

	meta, err := s.Put(context.Background(), bytes.NewReader(content), "text/plain")
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), meta.Size)
	require.NotEmpty(t, meta.Digest)

	rc, gotMeta, err := s.Open(context.Background(), meta.ID)
	require.NoError(t, err)
	defer rc.Close()
	require.Equal(t, meta.Digest, gotMeta.Digest)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestPutDeduplicatesIdenticalContent(t *testing.T) {
	s := newFixture(t)
	content := []byte("same bytes twice")

	meta1, err := s.Put(context.Background(), bytes.NewReader(content), "text/plain")
	require.NoError(t, err)
	meta2, err := s.Put(context.Background(), bytes.NewReader(content), "text/plain")
	require.NoError(t, err)

	require.Equal(t, meta1.Digest, meta2.Digest)
	require.NotEqual(t, meta1.ID, meta2.ID)
}

func TestOpenRangeSeek(t *testing.T) {
	s := newFixture(t)
	content := []byte("0123456789")
	meta, err := s.Put(context.Background(), bytes.NewReader(content), "application/octet-stream")
	require.NoError(t, err)

	rc, _, err := s.Open(context.Background(), meta.ID)
	require.NoError(t, err)
	defer rc.Close()

	_, err = rc.Seek(5, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 3)
	n, err := rc.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "567", string(buf[:n]))
}

func TestStatUnknownIDReturnsNotFound(t *testing.T) {
	s := newFixture(t)
	_, err := s.Stat(context.Background(), "does-not-exist")
	require.Error(t, err)
}
