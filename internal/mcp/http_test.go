package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/agentmem/internal/config"
	"github.com/louloulin/agentmem/internal/store"
	"github.com/louloulin/agentmem/pkg/version"
)

type failingCount struct{ fakeMemories }

func (f *failingCount) Count(context.Context) (int, error) {
	return 0, errors.New("database is locked")
}

func TestHandler_Health(t *testing.T) {
	tests := []struct {
		name       string
		memories   MemoryStore
		wantCode   int
		wantStatus string
		wantCount  int
	}{
		{
			name:       "ok",
			memories:   &fakeMemories{added: []*store.Memory{{ID: "m1"}, {ID: "m2"}}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantCount:  2,
		},
		{
			name:       "no store",
			memories:   nil,
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantCount:  -1,
		},
		{
			name:       "count fails",
			memories:   &failingCount{},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			wantCount:  -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewServer(&fakeEngine{}, tt.memories, config.NewConfig())
			require.NoError(t, err)

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathHealth, nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var got HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, HealthResponse{Status: tt.wantStatus, Version: version.Version, Memories: tt.wantCount}, got)
		})
	}
}

func TestHandler_UnknownPath(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_StreamableMCP(t *testing.T) {
	// Given: the handler behind a real HTTP server
	s, engine, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := mcp.NewClient(&mcp.Implementation{Name: "agentmem-test", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: ts.URL + PathMCP}, nil)
	require.NoError(t, err)
	defer session.Close()

	// When: calling a tool over HTTP
	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolMemorySearch,
		Arguments: map[string]any{"query": "coffee"},
	})

	// Then: the engine served it
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, int32(1), engine.searchCalls.Load())
}

func TestServeListener_ShutsDownOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serveListener(ctx, ln) }()

	// The server answers before cancellation.
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + PathHealth)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(shutdownTimeout):
		t.Fatal("server did not stop")
	}
}

func TestServe_UnknownTransport(t *testing.T) {
	s, _, _ := newTestServer(t)

	err := s.Serve(context.Background(), "sse")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "supported: stdio, http")
}

func TestServe_HTTPBadAddr(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Server.HTTPAddr = "not-an-address"
	s, err := NewServer(&fakeEngine{}, nil, cfg)
	require.NoError(t, err)

	err = s.Serve(context.Background(), "http")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on not-an-address")
}
