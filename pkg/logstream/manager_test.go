package logstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/relaydb/relay/pkg/committer"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/stretchr/testify/require"
)

// fakeDeliverer records every batch handed to it and fails for any
// config whose "fail" field is true, letting tests drive both the
// Pending->Active and Pending->Failed transitions deterministically.
type fakeDeliverer struct {
	mu    sync.Mutex
	calls int
}

type fakeConfig struct {
	Fail bool `json:"fail"`
}

func (d *fakeDeliverer) Deliver(ctx context.Context, config json.RawMessage, lines []LogLine) error {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	var cfg fakeConfig
	_ = json.Unmarshal(config, &cfg)
	if cfg.Fail {
		return errDeliveryFailed
	}
	return nil
}

var errDeliveryFailed = errors.New("fake delivery failure")

func newFixture(t *testing.T) (*Manager, *fakeDeliverer) {
	t.Helper()
	store, err := persistence.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New()
	c, err := committer.New(store, reg, nil, nil, time.Minute)
	require.NoError(t, err)

	d := &fakeDeliverer{}
	m := NewManager(reg, store.Reader(), c, config.Defaults().Transaction, d)
	return m, d
}

func TestConfigureSinkStartsPending(t *testing.T) {
	m, _ := newFixture(t)
	require.NoError(t, m.ConfigureSink(json.RawMessage(`{"url":"https://example.test/hook"}`)))

	sinks, err := m.ListSinks()
	require.NoError(t, err)
	require.Len(t, sinks, 1)

	var decoded struct {
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(sinks[0], &decoded))
	require.Equal(t, "pending", decoded.State)
}

func TestDispatchPromotesPendingToActiveOnSuccess(t *testing.T) {
	m, d := newFixture(t)
	require.NoError(t, m.ConfigureSink(json.RawMessage(`{"url":"https://example.test/hook"}`)))

	m.dispatch(logBatch{Path: "myModule:fn", Lines: []string{"hello"}})
	require.Equal(t, 1, d.calls)

	sinks, err := m.ListSinks()
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	var decoded struct {
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(sinks[0], &decoded))
	require.Equal(t, "active", decoded.State)
}

func TestDispatchMarksSinkFailedOnDeliveryError(t *testing.T) {
	m, d := newFixture(t)
	require.NoError(t, m.ConfigureSink(json.RawMessage(`{"fail":true}`)))

	m.dispatch(logBatch{Path: "myModule:fn", Lines: []string{"hello"}})
	require.Equal(t, 1, d.calls)

	sinks, err := m.ListSinks()
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	var decoded struct {
		State string `json:"state"`
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(sinks[0], &decoded))
	require.Equal(t, "failed", decoded.State)
	require.NotEmpty(t, decoded.Error)
}

func TestDispatchSkipsFailedSinksOnSubsequentBatches(t *testing.T) {
	m, d := newFixture(t)
	require.NoError(t, m.ConfigureSink(json.RawMessage(`{"fail":true}`)))

	m.dispatch(logBatch{Path: "a", Lines: []string{"one"}})
	m.dispatch(logBatch{Path: "a", Lines: []string{"two"}})
	require.Equal(t, 1, d.calls, "a sink already marked failed should not be retried")
}

func TestEmitQueuesAndRunLoopDispatches(t *testing.T) {
	m, d := newFixture(t)
	require.NoError(t, m.ConfigureSink(json.RawMessage(`{"url":"https://example.test/hook"}`)))

	m.Start()
	t.Cleanup(m.Stop)

	m.Emit("myModule:fn", []string{"line one", "line two"})

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.calls == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEmitIgnoresEmptyLines(t *testing.T) {
	m, d := newFixture(t)
	m.Emit("myModule:fn", nil)
	require.Zero(t, len(m.batches))
	_ = d
}

func TestConfigureSinkPreflightRejectsUnreachableURL(t *testing.T) {
	m, _ := newFixture(t)
	m.SetPreflightEnabled(true)

	err := m.ConfigureSink(json.RawMessage(`{"url":"http://127.0.0.1:1"}`))
	require.Error(t, err)

	sinks, err := m.ListSinks()
	require.NoError(t, err)
	require.Empty(t, sinks)
}

func TestConfigureSinkPreflightAcceptsReachableURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m, _ := newFixture(t)
	m.SetPreflightEnabled(true)

	require.NoError(t, m.ConfigureSink(json.RawMessage(`{"url":"`+server.URL+`"}`)))

	sinks, err := m.ListSinks()
	require.NoError(t, err)
	require.Len(t, sinks, 1)
}
