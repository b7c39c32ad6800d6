// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dotandev/shrinkwrap/internal/cmd"
	"github.com/dotandev/shrinkwrap/internal/errors"
)

func TestRun_Interrupted(t *testing.T) {
	var stderr bytes.Buffer
	code := run(func() error { return fmt.Errorf("shrink: %w", cmd.ErrInterrupted) }, &stderr)
	assert.Equal(t, cmd.InterruptExitCode, code)
	assert.Equal(t, "Interrupted. Shutting down...\n", stderr.String())
}

func TestRun_GenericError(t *testing.T) {
	var stderr bytes.Buffer
	code := run(func() error { return errors.WrapConfigError("no inputs", nil) }, &stderr)
	assert.Equal(t, 1, code)
	assert.Equal(t, "Error: configuration error: no inputs\n", stderr.String())
}

func TestRun_Success(t *testing.T) {
	var stderr bytes.Buffer
	code := run(func() error { return nil }, &stderr)
	assert.Equal(t, 0, code)
	assert.Empty(t, stderr.String())
}

func TestRun_InternalErrorIsReported(t *testing.T) {
	t.Setenv("SHRINKWRAP_CRASH_REPORTING", "true")
	reported := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Kind string `json:"kind"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		reported <- body.Kind
	}))
	defer srv.Close()
	t.Setenv("SHRINKWRAP_CRASH_ENDPOINT", srv.URL)

	var stderr bytes.Buffer
	code := run(func() error { return &errors.InternalError{Msg: "index 3 unmapped"} }, &stderr)
	assert.Equal(t, 1, code)
	assert.Equal(t, "internal", <-reported)
	assert.Contains(t, stderr.String(), "internal consistency failure")
}
