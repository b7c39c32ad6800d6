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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/shrinkwrap/internal/classfile"
	"github.com/dotandev/shrinkwrap/internal/config"
	"github.com/dotandev/shrinkwrap/internal/history"
	"github.com/dotandev/shrinkwrap/internal/mapping"
	"github.com/dotandev/shrinkwrap/internal/pipeline"
)

// testClass returns demo/Main with main and an unused static method.
func testClass(t *testing.T) []byte {
	t.Helper()
	cf := &classfile.ClassFile{Major: 52, Pool: classfile.NewPool(), Access: classfile.AccPublic}
	must := func(idx uint16, err error) uint16 {
		t.Helper()
		require.NoError(t, err)
		return idx
	}
	cf.This = must(cf.Pool.AddClass("demo/Main"))
	cf.Super = must(cf.Pool.AddClass("java/lang/Object"))
	codeName := must(cf.Pool.AddUtf8("Code"))
	for _, name := range []string{"main", "dead"} {
		cf.Methods = append(cf.Methods, &classfile.Member{
			Access: classfile.AccPublic | classfile.AccStatic,
			Name:   must(cf.Pool.AddUtf8(name)),
			Desc:   must(cf.Pool.AddUtf8("([Ljava/lang/String;)V")),
			Attributes: []classfile.Attribute{&classfile.Code{
				AttrHeader: classfile.AttrHeader{NameIndex: codeName},
				MaxLocals:  1,
				Bytecode:   []byte{byte(classfile.OpReturn)},
			}},
		})
	}
	data, err := cf.Bytes()
	require.NoError(t, err)
	return data
}

func newTestServer(t *testing.T, token string, store *history.Store) *httptest.Server {
	t.Helper()
	p, err := pipeline.New(config.DefaultConfig().WithKeep("demo/Main#main"))
	require.NoError(t, err)
	s, err := NewServer(Config{Pipeline: p, History: store, AuthToken: token})
	require.NoError(t, err)
	h, err := s.Handler()
	require.NoError(t, err)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, token, method string, args, reply any) error {
	t.Helper()
	body, err := json2.EncodeClientRequest(method, args)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/rpc", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return json2.DecodeClientResponse(resp.Body, reply)
}

func TestServer_Container(t *testing.T) {
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ts := newTestServer(t, "", store)

	var resp ContainerResponse
	err = call(t, ts, "", "Shrink.Container", &ContainerRequest{Blob: Blob{Path: "Main.class", Data: testClass(t)}}, &resp)
	require.NoError(t, err)
	assert.Equal(t, "class", resp.Format)
	assert.False(t, resp.Removed)
	assert.Equal(t, 1, resp.RemovedMethods)
	assert.Less(t, resp.BytesAfter, resp.BytesBefore)

	cf, err := classfile.Parse(resp.Data)
	require.NoError(t, err)
	assert.Len(t, cf.Methods, 1)

	m, err := mapping.Unmarshal(resp.Mapping)
	require.NoError(t, err)
	assert.Equal(t, resp.RunID, m.RunID)

	run, err := store.Get(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, "daemon", run.Source)
	assert.Equal(t, []string{"Main.class"}, run.Inputs)
}

func TestServer_ContainerReportsRemovedClass(t *testing.T) {
	p, err := pipeline.New(config.DefaultConfig())
	require.NoError(t, err)
	s, err := NewServer(Config{Pipeline: p})
	require.NoError(t, err)
	h, err := s.Handler()
	require.NoError(t, err)
	ts := httptest.NewServer(h)
	defer ts.Close()

	var resp ContainerResponse
	err = call(t, ts, "", "Shrink.Container", &ContainerRequest{Blob: Blob{Path: "Main.class", Data: testClass(t)}}, &resp)
	require.NoError(t, err)
	assert.True(t, resp.Removed)
	assert.Empty(t, resp.Data)
	assert.Equal(t, 1, resp.RemovedClasses)
	assert.Zero(t, resp.BytesAfter)
}

func TestServer_ContainerRecordsFailure(t *testing.T) {
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ts := newTestServer(t, "", store)

	var resp ContainerResponse
	err = call(t, ts, "", "Shrink.Container", &ContainerRequest{Blob: Blob{Path: "junk", Data: []byte("junk")}}, &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad magic")

	runs, err := store.List(context.Background(), history.SearchParams{Status: history.StatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0].ErrorMsg, "bad magic")
}

func TestServer_Inspect(t *testing.T) {
	ts := newTestServer(t, "", nil)

	var resp InspectResponse
	require.NoError(t, call(t, ts, "", "Shrink.Inspect", &InspectRequest{Blob: Blob{Path: "Main.class", Data: testClass(t)}}, &resp))
	assert.Equal(t, "class", resp.Format)
	require.Len(t, resp.Classes, 1)
	assert.Equal(t, "demo/Main", resp.Classes[0].Name)
	assert.Equal(t, 2, resp.Classes[0].Methods)
}

func TestServer_Authentication(t *testing.T) {
	ts := newTestServer(t, "secret123", nil)
	req := &InspectRequest{Blob: Blob{Path: "Main.class", Data: testClass(t)}}

	var resp InspectResponse
	err := call(t, ts, "", "Shrink.Inspect", req, &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")

	err = call(t, ts, "wrong-token", "Shrink.Inspect", req, &resp)
	require.Error(t, err)

	require.NoError(t, call(t, ts, "secret123", "Shrink.Inspect", req, &resp))

	s := &Server{authToken: "secret123"}
	direct := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	direct.Header.Set("Authorization", "secret123")
	assert.True(t, s.authenticate(direct))
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, "secret123", nil)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_StartStop(t *testing.T) {
	p, err := pipeline.New(nil)
	require.NoError(t, err)
	s, err := NewServer(Config{Pipeline: p})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Start(ctx, "0"))
}

func TestNewServerNeedsPipeline(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}
