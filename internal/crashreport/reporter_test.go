// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package crashreport

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/shrinkwrap/internal/errors"
)

func newTestServer(t *testing.T, statusCode int, handler func(r *http.Request, body Report)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler != nil {
			raw, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			var report Report
			require.NoError(t, json.Unmarshal(raw, &report))
			handler(r, report)
		}
		w.WriteHeader(statusCode)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIsEnabled(t *testing.T) {
	tests := []struct {
		env     string
		enabled bool
		want    bool
	}{
		{"", false, false},
		{"", true, true},
		{"true", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q/%v", tt.env, tt.enabled), func(t *testing.T) {
			t.Setenv(envOptIn, tt.env)
			assert.Equal(t, tt.want, New(Config{Enabled: tt.enabled}).IsEnabled())
		})
	}
}

func TestNew_EndpointEnvOverridesConfig(t *testing.T) {
	t.Setenv(envEndpoint, "https://crash.example.com/report")
	r := New(Config{Endpoint: "https://other.example.com"})
	assert.Equal(t, "https://crash.example.com/report", r.cfg.Endpoint)
	assert.True(t, r.HasSinks())
}

func TestNew_NoSinks(t *testing.T) {
	t.Setenv(envEndpoint, "")
	t.Setenv(envSentryDSN, "")
	assert.False(t, New(Config{Enabled: true}).HasSinks())
}

func TestNew_SentryDSNFromEnv(t *testing.T) {
	t.Setenv(envSentryDSN, "https://fakekey@o0.ingest.sentry.io/0")
	r := New(Config{})
	assert.Equal(t, "https://fakekey@o0.ingest.sentry.io/0", r.cfg.SentryDSN)
}

func TestSend_NoOpWhenDisabled(t *testing.T) {
	t.Setenv(envOptIn, "")
	srv := newTestServer(t, http.StatusOK, func(*http.Request, Report) {
		t.Error("endpoint called while reporting is disabled")
	})

	err := New(Config{Endpoint: srv.URL}).Send(context.Background(), "panic", stderrors.New("boom"), nil, "shrinkwrap shrink")
	assert.NoError(t, err)
}

func TestSend_PostsPayload(t *testing.T) {
	t.Setenv(envOptIn, "true")
	var received Report
	var userAgent string
	srv := newTestServer(t, http.StatusOK, func(r *http.Request, body Report) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		userAgent = r.Header.Get("User-Agent")
		received = body
	})

	r := New(Config{Endpoint: srv.URL, Version: "1.2.3", CommitSHA: "abc123"})
	err := r.Send(context.Background(), "panic", stderrors.New("boom"), []byte("goroutine 1"), "shrinkwrap shrink")
	require.NoError(t, err)

	assert.Equal(t, "shrinkwrap/1.2.3", userAgent)
	assert.Equal(t, "boom", received.ErrorMessage)
	assert.Equal(t, "panic", received.Kind)
	assert.Equal(t, "goroutine 1", received.StackTrace)
	assert.Equal(t, "shrinkwrap shrink", received.Command)
	assert.Equal(t, "abc123", received.CommitSHA)
	assert.Equal(t, runtime.GOOS, received.OS)
	assert.Equal(t, runtime.GOARCH, received.Arch)
	assert.NotEmpty(t, received.CrashTime)
}

func TestSend_EndpointErrors(t *testing.T) {
	t.Setenv(envOptIn, "true")
	for _, code := range []int{http.StatusBadRequest, http.StatusInternalServerError} {
		srv := newTestServer(t, code, nil)
		err := New(Config{Endpoint: srv.URL}).Send(context.Background(), "panic", nil, nil, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), fmt.Sprint(code))
	}

	err := New(Config{Endpoint: "http://127.0.0.1:1"}).Send(context.Background(), "panic", nil, nil, "")
	assert.Error(t, err)
}

func TestReportError_OnlyInternalFailures(t *testing.T) {
	t.Setenv(envOptIn, "true")
	var kinds []string
	srv := newTestServer(t, http.StatusOK, func(_ *http.Request, body Report) {
		kinds = append(kinds, body.Kind)
	})
	r := New(Config{Endpoint: srv.URL})

	r.ReportError(context.Background(), errors.WrapConfigError("no inputs", nil), "shrinkwrap shrink")
	r.ReportError(context.Background(), nil, "shrinkwrap shrink")
	assert.Empty(t, kinds)

	internal := fmt.Errorf("pipeline: %w", &errors.InternalError{Msg: "index 7 unmapped"})
	r.ReportError(context.Background(), internal, "shrinkwrap shrink")
	assert.Equal(t, []string{"internal"}, kinds)
}

func TestHandlePanic_NoOpWithoutPanic(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, func(*http.Request, Report) {
		t.Error("endpoint called without a panic")
	})
	r := New(Config{Enabled: true, Endpoint: srv.URL})
	assert.NotPanics(t, func() {
		r.HandlePanic(context.Background(), "shrinkwrap")
	})
}

func TestHandlePanic_ReportsAndRepanics(t *testing.T) {
	t.Setenv(envOptIn, "true")
	var got Report
	srv := newTestServer(t, http.StatusOK, func(_ *http.Request, body Report) {
		got = body
	})
	r := New(Config{Endpoint: srv.URL})

	assert.PanicsWithValue(t, "string panic value", func() {
		defer r.HandlePanic(context.Background(), "shrinkwrap")
		panic("string panic value")
	})
	assert.Equal(t, "string panic value", got.ErrorMessage)
	assert.Equal(t, "panic", got.Kind)
	assert.NotEmpty(t, got.StackTrace)
}
