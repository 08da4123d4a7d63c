package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "plankabot/pkg/logx"
)

func TestHandlerHealthAndStats(t *testing.T) {
	t.Parallel()
	var healthErr error
	s := New(Config{}, Deps{
		Stats:  func() any { return map[string]int{"queue_len": 3} },
		Health: func() error { return healthErr },
	}, logx.Nop())
	h := s.Handler(Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	healthErr = errors.New("watcher: planka down")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "planka down")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var got map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 3, got["queue_len"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	require.Equal(t, http.StatusNotFound, rec.Code, "pprof is off by default")
}

func TestHandlerToken(t *testing.T) {
	t.Parallel()
	h := New(Config{}, Deps{}, logx.Nop()).Handler(Config{Token: "s3cret", Pprof: true})

	cases := []struct {
		name   string
		target string
		auth   string
		want   int
	}{
		{"missing", "/healthz", "", http.StatusUnauthorized},
		{"wrong", "/healthz", "Bearer nope", http.StatusUnauthorized},
		{"header", "/healthz", "Bearer s3cret", http.StatusOK},
		{"query", "/stats?token=s3cret", "", http.StatusOK},
		{"pprof", "/debug/pprof/cmdline", "Bearer s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "ok")

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	require.Nil(t, s.Supervisor())
	require.Empty(t, s.Addr())
}

func TestRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Deps{}, logx.Nop())
	err := s.serveOnce(context.Background())
	require.ErrorContains(t, err, "insecure bind")
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	require.True(t, isLoopbackAddr("127.0.0.1:6060"))
	require.True(t, isLoopbackAddr("localhost:1"))
	require.True(t, isLoopbackAddr("[::1]:1"))
	require.False(t, isLoopbackAddr(":6060"))
	require.False(t, isLoopbackAddr("10.0.0.1:6060"))
	require.False(t, isLoopbackAddr("nonsense"))
}
