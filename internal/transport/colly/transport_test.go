package collytransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediafetch/internal/download"
	"github.com/JakeFAU/mediafetch/internal/storage/memory"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 1, 2, 3, 4}

func newImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/cat.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	})
	mux.HandleFunc("/slow.png", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusGatewayTimeout)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func waitSignal(t *testing.T, tr *Transport) download.Signal {
	t.Helper()
	select {
	case sig := <-tr.Signals():
		return sig
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for signal")
		return download.Signal{}
	}
}

func TestDispatchSavesBody(t *testing.T) {
	t.Parallel()

	server := newImageServer(t)
	store := memory.NewBlobStore()
	tr, err := New(Config{UserAgent: "mediafetch-test", Timeout: 2 * time.Second}, store, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	id, err := tr.Dispatch(context.Background(), download.DispatchRequest{
		JobID:    "job-1",
		URL:      server.URL + "/cat.png",
		Filename: "cat.png",
		Dir:      "downloads",
		Attempt:  1,
	})
	require.NoError(t, err)
	require.Equal(t, "xfer-1", id)

	sig := waitSignal(t, tr)
	require.Equal(t, id, sig.TransportID)
	require.Equal(t, download.OutcomeComplete, sig.Outcome)
	require.NoError(t, sig.Err)
	require.Equal(t, "memory://downloads/cat.png", sig.Location)
	require.EqualValues(t, len(pngBytes), sig.Bytes)
	require.Len(t, sig.Digest, 64)

	saved, ok := store.Object("downloads/cat.png")
	require.True(t, ok)
	require.Equal(t, pngBytes, saved)
}

func TestDispatchReportsHTTPFailure(t *testing.T) {
	t.Parallel()

	server := newImageServer(t)
	store := memory.NewBlobStore()
	tr, err := New(Config{Timeout: 2 * time.Second}, store, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	id, err := tr.Dispatch(context.Background(), download.DispatchRequest{
		URL:      server.URL + "/missing.png",
		Filename: "missing.png",
	})
	require.NoError(t, err)

	sig := waitSignal(t, tr)
	require.Equal(t, id, sig.TransportID)
	require.Equal(t, download.OutcomeInterrupted, sig.Outcome)
	require.ErrorContains(t, sig.Err, "http 404")
	require.Empty(t, store.Paths())
}

func TestTransportIDsAreUnique(t *testing.T) {
	t.Parallel()

	server := newImageServer(t)
	tr, err := New(Config{}, memory.NewBlobStore(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	seen := make(map[string]bool)
	for range 5 {
		id, err := tr.Dispatch(context.Background(), download.DispatchRequest{
			URL:      server.URL + "/cat.png",
			Filename: "cat.png",
		})
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate transport id %s", id)
		seen[id] = true
	}
	for range 5 {
		sig := waitSignal(t, tr)
		require.True(t, seen[sig.TransportID])
	}
}

func TestCloseAbortsAndRejects(t *testing.T) {
	t.Parallel()

	server := newImageServer(t)
	tr, err := New(Config{Timeout: 10 * time.Second}, memory.NewBlobStore(), zap.NewNop())
	require.NoError(t, err)

	_, err = tr.Dispatch(context.Background(), download.DispatchRequest{
		URL:      server.URL + "/slow.png",
		Filename: "slow.png",
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = tr.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return")
	}

	_, err = tr.Dispatch(context.Background(), download.DispatchRequest{URL: server.URL + "/cat.png"})
	require.ErrorIs(t, err, ErrClosed)

	// Signals is closed once every transfer has reported or been dropped.
	for range tr.Signals() {
	}
	require.NoError(t, tr.Close())
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, zap.NewNop())
	require.Error(t, err)
}
