package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newHTTPClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestHTTPClient_CreateSession(t *testing.T) {
	c := newHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/sessions", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "parent-1", req["parent"])
		_ = json.NewEncoder(w).Encode(map[string]string{"handle": "sess-9"})
	}))

	h, err := c.CreateSession(context.Background(), "parent-1", "dig into caching")
	require.NoError(t, err)
	assert.Equal(t, Handle("sess-9"), h)
}

func TestHTTPClient_DispatchAndAbort(t *testing.T) {
	var paths []string
	c := newHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	ctx := context.Background()

	require.NoError(t, c.DispatchPrompt(ctx, "sess-9", "coder", "build it", "fast"))
	require.NoError(t, c.Abort(ctx, "sess-9"))
	assert.Equal(t, []string{"/sessions/sess-9/prompt", "/sessions/sess-9/abort"}, paths)
}

func TestHTTPClient_PollLiveness(t *testing.T) {
	c := newHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sessions/liveness", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]map[string]string{
			"liveness": {"sess-1": "idle"},
		})
	}))

	out, err := c.PollLiveness(context.Background(), []Handle{"sess-1", "sess-2"})
	require.NoError(t, err)
	assert.Equal(t, LivenessIdle, out["sess-1"])
	assert.Equal(t, LivenessUnknown, out["sess-2"], "handles the platform does not report default to unknown")
}

func TestHTTPClient_ErrorStatus(t *testing.T) {
	c := newHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	}))

	_, err := c.FetchTranscript(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "session not found")
}

func TestNewHTTPClient_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPClient(HTTPConfig{}, zap.NewNop())
	assert.Error(t, err)
}
