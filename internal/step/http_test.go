// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package step

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/baton/internal/store"
	"github.com/tombee/baton/pkg/workflow"
)

func httpStep(config map[string]any) *workflow.Step {
	return &workflow.Step{ID: "fetch", Type: "http", Next: "done", Config: config}
}

func TestHTTPHandler_Execute_JSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/widgets", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":["a","b"],"count":2}`))
	}))
	defer server.Close()

	h := newHTTPHandler(HTTPOptions{})
	res, err := h.Execute(context.Background(), httpStep(map[string]any{
		"url": server.URL + "/widgets",
	}), testContext())
	require.NoError(t, err)

	assert.Equal(t, store.StatusCompleted, res.Status)
	assert.Equal(t, "done", res.NextStep)
	assert.Equal(t, 200, res.Output["statusCode"])
	assert.Equal(t, map[string]any{
		"items": []any{"a", "b"},
		"count": float64(2),
	}, res.Output["data"])
}

func TestHTTPHandler_Execute_NonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer server.Close()

	h := newHTTPHandler(HTTPOptions{})
	res, err := h.Execute(context.Background(), httpStep(map[string]any{
		"url": server.URL,
	}), testContext())
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Output["data"])
}

func TestHTTPHandler_Execute_ErrorStatus(t *testing.T) {
	for _, status := range []int{400, 404, 500, 503} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"nope"}`))
		}))

		h := newHTTPHandler(HTTPOptions{})
		res, err := h.Execute(context.Background(), httpStep(map[string]any{
			"url": server.URL,
		}), testContext())
		server.Close()

		require.Error(t, err, "status %d", status)
		assert.Nil(t, res)
		assert.Equal(t, fmt.Sprintf("HTTP request failed with status %d", status), err.Error())
	}
}

func TestHTTPHandler_Execute_MissingURL(t *testing.T) {
	h := newHTTPHandler(HTTPOptions{})
	_, err := h.Execute(context.Background(), httpStep(map[string]any{}), testContext())
	require.Error(t, err)
	assert.Equal(t, "http step requires a url", err.Error())
}

func TestHTTPHandler_Execute_PostBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"ada"}`, string(body))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":7}`))
	}))
	defer server.Close()

	h := newHTTPHandler(HTTPOptions{})
	res, err := h.Execute(context.Background(), httpStep(map[string]any{
		"url":    server.URL,
		"method": "post",
		"body":   map[string]any{"name": "ada"},
	}), testContext())
	require.NoError(t, err)

	assert.Equal(t, 201, res.Output["statusCode"])
	assert.Equal(t, map[string]any{"id": float64(7)}, res.Output["data"])
}

func TestHTTPHandler_Execute_Headers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.Header.Get("X-Token"))
		assert.Equal(t, "7", r.Header.Get("X-Attempt"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	h := newHTTPHandler(HTTPOptions{})
	_, err := h.Execute(context.Background(), httpStep(map[string]any{
		"url": server.URL,
		"headers": map[string]any{
			"X-Token":   "abc",
			"X-Attempt": 7,
		},
	}), testContext())
	require.NoError(t, err)
}

func TestHTTPHandler_Execute_UnsupportedAuth(t *testing.T) {
	h := newHTTPHandler(HTTPOptions{})
	_, err := h.Execute(context.Background(), httpStep(map[string]any{
		"url":  "https://api.example.com",
		"auth": map[string]any{"type": "basic"},
	}), testContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported auth type: "basic"`)
}

func TestHTTPHandler_TransportCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	h := newHTTPHandler(HTTPOptions{})
	step := httpStep(map[string]any{"url": server.URL})

	_, err := h.Execute(context.Background(), step, testContext())
	require.NoError(t, err)
	_, err = h.Execute(context.Background(), step, testContext())
	require.NoError(t, err)
	assert.Len(t, h.transports, 1)

	// A different auth config gets its own transport. OAuth2 construction
	// does no network work, so no token server is needed here.
	tr, err := h.transportFor(map[string]any{
		"auth": map[string]any{
			"type":         "oauth2",
			"clientId":     "id",
			"clientSecret": "secret",
			"tokenUrl":     "https://auth.example.com/token",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "oauth2", tr.Name())
	assert.Len(t, h.transports, 2)
}

func TestAuthKey(t *testing.T) {
	empty, err := authKey(nil)
	require.NoError(t, err)
	assert.Equal(t, "", empty)

	a, err := authKey(map[string]any{"type": "oauth2", "clientId": "x"})
	require.NoError(t, err)
	b, err := authKey(map[string]any{"clientId": "x", "type": "oauth2"})
	require.NoError(t, err)
	assert.Equal(t, a, b, "key ignores map ordering")

	c, err := authKey(map[string]any{"type": "oauth2", "clientId": "y"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestEncodeBody(t *testing.T) {
	raw, err := encodeBody(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = encodeBody("already a string")
	require.NoError(t, err)
	assert.Equal(t, []byte("already a string"), raw)

	raw, err = encodeBody(map[string]any{"n": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(raw))

	_, err = encodeBody(func() {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to encode request body")
}
