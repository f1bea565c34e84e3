package clusterrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/rankmatch/internal/worker"
)

func TestEnqueue_DecodesErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req EnqueueRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u1", req.UserID)
		json.NewEncoder(w).Encode(EnqueueResponse{Error: "stale_epoch"})
	}))
	defer srv.Close()

	c := New(srv.URL, "shard-0")
	err := c.Enqueue(context.TODO(), worker.Envelope{Epoch: 1, UserID: "u1", Rank: 10})
	assert.ErrorIs(t, err, worker.ErrStaleEpoch)
}

func TestPeekNearest_DecodesFoundTicket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PeekResponse{Found: true, Ticket: WireTicket{UserID: "opponent", Rank: 505, EnqueuedAtMonotonicMS: 42}})
	}))
	defer srv.Close()

	c := New(srv.URL, "shard-1")
	tk, found, err := c.PeekNearest(context.TODO(), 500, 10, "u1", 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "opponent", tk.UserID)
	assert.Equal(t, 505, tk.Rank)
}

func TestReserve_PropagatesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ReserveResponse{Error: "not_found"})
	}))
	defer srv.Close()

	c := New(srv.URL, "shard-1")
	_, err := c.Reserve(context.TODO(), "ghost", 500, 1, 1)
	assert.ErrorIs(t, err, worker.ErrNotFound)
}

func TestHealthCheck_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "shard-1")
	err := c.HealthCheck(context.TODO())
	assert.Error(t, err)
}

func TestErrorToWire_RoundTripsEveryKnownError(t *testing.T) {
	cases := []error{worker.ErrStaleEpoch, worker.ErrOverloaded, worker.ErrOutOfRange, worker.ErrEpochMismatch, worker.ErrNotFound, nil}
	for _, e := range cases {
		code := ErrorToWire(e)
		if e == nil {
			assert.Empty(t, code)
			continue
		}
		assert.ErrorIs(t, ErrorFromWire(code), e)
	}
}
