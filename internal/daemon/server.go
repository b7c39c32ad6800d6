// Copyright (c) 2026 dotandev
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/history"
	"github.com/dotandev/shrinkwrap/internal/logger"
	"github.com/dotandev/shrinkwrap/internal/mapping"
	"github.com/dotandev/shrinkwrap/internal/pipeline"
	"github.com/dotandev/shrinkwrap/internal/telemetry"
)

// ServiceName prefixes every RPC method, as in "Shrink.Container".
const ServiceName = "Shrink"

// Server represents the JSON-RPC daemon server
type Server struct {
	pipeline  *pipeline.Pipeline
	history   *history.Store
	authToken string
}

// Config holds daemon configuration. When History is set every shrink
// request is recorded.
type Config struct {
	Pipeline  *pipeline.Pipeline
	History   *history.Store
	AuthToken string
}

// Blob is a named container.
type Blob struct {
	Path string `json:"path"`
	Data []byte `json:"data"`
}

func (b Blob) input() pipeline.Input { return pipeline.Input{Path: b.Path, Data: b.Data} }

// ContainerRequest represents the Shrink.Container RPC request
type ContainerRequest struct {
	Blob
	Libraries []Blob `json:"libraries,omitempty"`
}

// ContainerResponse represents the Shrink.Container RPC response
type ContainerResponse struct {
	RunID  string `json:"run_id"`
	Format string `json:"format"`
	// Removed is set when the submitted class was unreachable and dropped;
	// Data is then empty.
	Removed         bool   `json:"removed"`
	Data            []byte `json:"data"`
	BytesBefore     int    `json:"bytes_before"`
	BytesAfter      int    `json:"bytes_after"`
	EntriesBefore   int    `json:"entries_before"`
	EntriesAfter    int    `json:"entries_after"`
	RemovedClasses  int    `json:"removed_classes"`
	RemovedMethods  int    `json:"removed_methods"`
	RemovedFields   int    `json:"removed_fields"`
	NarrowedMethods int    `json:"narrowed_methods"`
	// Mapping is the CBOR mapping file of the run.
	Mapping []byte `json:"mapping"`
}

// InspectRequest represents the Shrink.Inspect RPC request
type InspectRequest struct {
	Blob
}

// InspectResponse represents the Shrink.Inspect RPC response
type InspectResponse struct {
	pipeline.Summary
}

// NewServer creates a new JSON-RPC server
func NewServer(config Config) (*Server, error) {
	if config.Pipeline == nil {
		return nil, errors.WrapConfigError("daemon needs a pipeline", nil)
	}
	return &Server{
		pipeline:  config.Pipeline,
		history:   config.History,
		authToken: config.AuthToken,
	}, nil
}

// authenticate validates the authorization token
func (s *Server) authenticate(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		return false
	}

	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token == s.authToken
	}
	return auth == s.authToken
}

// Container shrinks one container. A single class file is its own program.
func (s *Server) Container(r *http.Request, req *ContainerRequest, resp *ContainerResponse) (err error) {
	defer errors.Recover(&err)
	if !s.authenticate(r) {
		return fmt.Errorf("unauthorized")
	}

	ctx, span := telemetry.StartSpan(r.Context(), "rpc_shrink_container",
		attribute.String("path", req.Path), attribute.Int("size", len(req.Data)))
	defer func() { telemetry.EndSpan(span, err) }()

	logger.Logger.Info("Processing Shrink.Container RPC", "path", req.Path, "size", len(req.Data))

	libs := make([]pipeline.Input, len(req.Libraries))
	for i, l := range req.Libraries {
		libs[i] = l.input()
	}
	report, err := s.pipeline.Run(ctx, []pipeline.Input{req.input()}, libs)
	s.record(ctx, report, req.Path, err)
	if err != nil {
		return err
	}

	c := report.Containers[0]
	m, err := mapping.Marshal(report.Mapping())
	if err != nil {
		return err
	}
	*resp = ContainerResponse{
		RunID:           report.RunID,
		Format:          c.Format,
		Removed:         c.Removed,
		Data:            c.Output,
		BytesBefore:     c.BytesBefore,
		BytesAfter:      c.BytesAfter,
		EntriesBefore:   c.EntriesBefore,
		EntriesAfter:    c.EntriesAfter,
		RemovedClasses:  report.RemovedClasses,
		RemovedMethods:  report.RemovedMethods,
		RemovedFields:   report.RemovedFields,
		NarrowedMethods: c.NarrowedMethods,
		Mapping:         m,
	}
	return nil
}

func (s *Server) record(ctx context.Context, report *pipeline.Report, path string, runErr error) {
	if s.history == nil {
		return
	}
	if err := s.history.Save(ctx, report.HistoryRun("daemon", []string{path}, runErr)); err != nil {
		logger.Logger.Warn("Failed to record run", "error", err)
	}
}

// Inspect summarises one container without changing it.
func (s *Server) Inspect(r *http.Request, req *InspectRequest, resp *InspectResponse) (err error) {
	defer errors.Recover(&err)
	if !s.authenticate(r) {
		return fmt.Errorf("unauthorized")
	}

	_, span := telemetry.StartSpan(r.Context(), "rpc_shrink_inspect", attribute.String("path", req.Path))
	defer func() { telemetry.EndSpan(span, err) }()

	logger.Logger.Info("Processing Shrink.Inspect RPC", "path", req.Path)

	summary, err := s.pipeline.Inspect(req.input())
	if err != nil {
		return err
	}
	resp.Summary = *summary
	return nil
}

// Handler serves the RPC endpoint at /rpc and a health check at /health.
func (s *Server) Handler() (http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	server.RegisterCodec(json2.NewCodec(), "application/json;charset=UTF-8")

	if err := server.RegisterService(s, ServiceName); err != nil {
		return nil, fmt.Errorf("failed to register service: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/rpc", server)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux, nil
}

// Start serves on port until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port string) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	logger.Logger.Info("Starting JSON-RPC server", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	logger.Logger.Info("Shutting down JSON-RPC server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
