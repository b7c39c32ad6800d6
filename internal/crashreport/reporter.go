// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package crashreport sends opt-in crash reports when shrinkwrap panics or
// trips an internal consistency check.
//
// Reports go to Sentry when a DSN is configured and to an HTTP endpoint as
// JSON when one is configured. Nothing is sent unless crash reporting is
// enabled in the configuration or through SHRINKWRAP_CRASH_REPORTING. A
// report carries the error message, the stack, the platform and the build;
// never input file names or contents.
package crashreport

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hashicorp/go-multierror"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/logger"
)

const (
	defaultTimeout = 5 * time.Second

	envOptIn     = "SHRINKWRAP_CRASH_REPORTING"
	envEndpoint  = "SHRINKWRAP_CRASH_ENDPOINT"
	envSentryDSN = "SHRINKWRAP_SENTRY_DSN"
)

// Report is the JSON payload delivered to the endpoint.
type Report struct {
	Version      string `json:"version"`
	CommitSHA    string `json:"commit_sha,omitempty"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	GoVersion    string `json:"go_version"`
	CrashTime    string `json:"crash_time"`
	ErrorMessage string `json:"error_message"`
	// Kind is "panic" or "internal".
	Kind       string `json:"kind"`
	StackTrace string `json:"stack_trace,omitempty"`
	Command    string `json:"command,omitempty"`
}

// Config controls where reports go. Environment variables override
// SentryDSN, Endpoint and Enabled.
type Config struct {
	Enabled   bool
	SentryDSN string
	Endpoint  string
	Version   string
	CommitSHA string
}

// Reporter dispatches crash reports to the configured sinks.
type Reporter struct {
	cfg          Config
	client       *http.Client
	sentryActive bool
}

// New creates a Reporter, initialising Sentry when a DSN is available.
func New(cfg Config) *Reporter {
	if dsn := os.Getenv(envSentryDSN); dsn != "" {
		cfg.SentryDSN = dsn
	}
	if ep := os.Getenv(envEndpoint); ep != "" {
		cfg.Endpoint = ep
	}

	r := &Reporter{
		cfg:    cfg,
		client: &http.Client{Timeout: defaultTimeout},
	}
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:     cfg.SentryDSN,
			Release: "shrinkwrap@" + cfg.Version,
		})
		if err != nil {
			logger.Logger.Debug("Sentry unavailable", "error", err)
		} else {
			r.sentryActive = true
		}
	}
	return r
}

// IsEnabled reports whether reports are sent. SHRINKWRAP_CRASH_REPORTING
// wins over the configuration.
func (r *Reporter) IsEnabled() bool {
	switch os.Getenv(envOptIn) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return r.cfg.Enabled
}

// HasSinks reports whether any destination is configured.
func (r *Reporter) HasSinks() bool {
	return r.sentryActive || r.cfg.Endpoint != ""
}

// Send builds a report for err and dispatches it to every sink. It is a
// no-op when reporting is disabled.
func (r *Reporter) Send(ctx context.Context, kind string, err error, stack []byte, command string) error {
	if !r.IsEnabled() {
		return nil
	}
	report := r.buildReport(kind, err, stack, command)

	var result *multierror.Error
	if r.sentryActive {
		r.sendToSentry(report)
	}
	if r.cfg.Endpoint != "" {
		if sendErr := r.sendToEndpoint(ctx, report); sendErr != nil {
			result = multierror.Append(result, sendErr)
		}
	}
	return result.ErrorOrNil()
}

// ReportError sends a report when err is an internal consistency failure.
// Ordinary errors (bad input, configuration) are not crashes.
func (r *Reporter) ReportError(ctx context.Context, err error, command string) {
	var ie *errors.InternalError
	if !stderrors.As(err, &ie) {
		return
	}
	if sendErr := r.Send(ctx, "internal", err, nil, command); sendErr != nil {
		logger.Logger.Debug("Crash report not delivered", "error", sendErr)
	}
}

func (r *Reporter) sendToSentry(report Report) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("os", report.OS)
		scope.SetTag("arch", report.Arch)
		scope.SetTag("kind", report.Kind)
		scope.SetTag("command", report.Command)
		scope.SetExtra("stack_trace", report.StackTrace)
		scope.SetExtra("commit_sha", report.CommitSHA)
		sentry.CaptureMessage(report.ErrorMessage)
	})
	sentry.Flush(defaultTimeout)
}

func (r *Reporter) sendToEndpoint(ctx context.Context, report Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "shrinkwrap/"+r.cfg.Version)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("crash report request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("crash endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (r *Reporter) buildReport(kind string, err error, stack []byte, command string) Report {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	goVersion := runtime.Version()
	if bi, ok := debug.ReadBuildInfo(); ok {
		goVersion = bi.GoVersion
	}
	return Report{
		Version:      r.cfg.Version,
		CommitSHA:    r.cfg.CommitSHA,
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		GoVersion:    goVersion,
		CrashTime:    time.Now().UTC().Format(time.RFC3339),
		ErrorMessage: msg,
		Kind:         kind,
		StackTrace:   string(stack),
		Command:      command,
	}
}

// HandlePanic is deferred at the top of main. It reports an in-flight panic
// and re-panics so the process still dies with the runtime's stack dump.
func (r *Reporter) HandlePanic(ctx context.Context, command string) {
	v := recover()
	if v == nil {
		return
	}
	stack := debug.Stack()

	panicErr, ok := v.(error)
	if !ok {
		panicErr = fmt.Errorf("%v", v)
	}
	_ = r.Send(ctx, "panic", panicErr, stack, command)
	panic(v)
}
