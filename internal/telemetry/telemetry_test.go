// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit(t *testing.T) {
	ctx := context.Background()

	cleanup, err := Init(ctx, Config{Enabled: false})
	require.NoError(t, err)
	cleanup()

	// Init must not fail when the collector is down.
	cleanup, err = Init(ctx, Config{
		Enabled:     true,
		ExporterURL: "http://127.0.0.1:37999",
		ServiceName: "test-service",
	})
	require.NoError(t, err)
	defer cleanup()

	_, span := GetTracer().Start(ctx, "test-span")
	span.End()
}

func TestInitHostPort(t *testing.T) {
	cleanup, err := Init(context.Background(), Config{
		Enabled:     true,
		ExporterURL: "127.0.0.1:37999",
		ServiceName: "test-service",
	})
	require.NoError(t, err)
	cleanup()
}

func TestGetTracer(t *testing.T) {
	// Should not panic even if not initialized
	tracer := GetTracer()
	require.NotNil(t, tracer)
	_, span := tracer.Start(context.Background(), "test-span")
	span.End()
}

func TestSpanHelpers(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, ok := StartSpan(context.Background(), "compact", attribute.String("format", "dex"))
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "parse")
	EndSpan(failed, errors.New("bad magic"))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "compact", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("format", "dex"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "bad magic", spans[1].Status().Description)
}
