package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mitchell-agent/models/request"
	"mitchell-agent/models/result"
)

func TestMultiServerPoller_GetAllPending_TagsSourceServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"requests": []request.Request{{ID: "req-1", Tool: request.ToolFluidCapacities}},
		})
	}))
	defer srv.Close()

	p := New("shop-1", []string{srv.URL})
	reqs, errCount := p.GetAllPending(context.Background())

	require.Equal(t, 0, errCount)
	require.Len(t, reqs, 1)
	assert.Equal(t, srv.URL, reqs[0].SourceServer)
}

func TestMultiServerPoller_GetAllPending_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New("shop-1", []string{srv.URL})
	reqs, errCount := p.GetAllPending(context.Background())

	assert.Equal(t, 0, errCount)
	assert.Empty(t, reqs)
}

func TestMultiServerPoller_GetAllPending_ServerErrorCounted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New("shop-1", []string{srv.URL})
	reqs, errCount := p.GetAllPending(context.Background())

	assert.Equal(t, 1, errCount)
	assert.Empty(t, reqs)
}

func TestMultiServerPoller_ClaimRequest_NotFoundIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := New("shop-1", []string{srv.URL})
	claimed, err := p.ClaimRequest(context.Background(), request.Request{ID: "req-1", SourceServer: srv.URL})

	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestMultiServerPoller_ClaimRequest_UnknownSourceServer(t *testing.T) {
	p := New("shop-1", []string{"https://a.example.com"})
	_, err := p.ClaimRequest(context.Background(), request.Request{ID: "req-1", SourceServer: "https://unregistered.example.com"})
	assert.Error(t, err)
}

func TestMultiServerPoller_SubmitResult_PostsWhitelistedFields(t *testing.T) {
	var got submitPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New("shop-1", []string{srv.URL})
	res := result.Ok("fluid_capacities", map[string]interface{}{"oil": "5W-30"}, 120)

	err := p.SubmitResult(context.Background(), request.Request{ID: "req-1", SourceServer: srv.URL}, res)
	require.NoError(t, err)

	assert.True(t, got.Success)
	assert.Equal(t, "fluid_capacities", got.ToolUsed)
	assert.Equal(t, "5W-30", got.Data["oil"])
}

func TestMultiServerPoller_SubmitResult_FallsBackToFirstServer(t *testing.T) {
	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New("shop-1", []string{srv.URL})
	err := p.SubmitResult(context.Background(), request.Request{ID: "req-1"}, result.Ok("x", nil, 0))

	require.NoError(t, err)
	assert.True(t, hit)
}
