// Package testutil provides request and response helpers for handler tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ErrorBody mirrors the JSON error envelope written by httputil.WriteError.
type ErrorBody struct {
	Error       string   `json:"error"`
	Description string   `json:"error_description"`
	Fields      []string `json:"fields"`
}

// NewJSONRequest builds a request whose body is v marshaled to JSON.
// A nil v sends no body and no Content-Type.
func NewJSONRequest(t *testing.T, method, path string, v any) *http.Request {
	t.Helper()
	if v == nil {
		return httptest.NewRequest(method, path, nil)
	}
	raw, err := json.Marshal(v)
	require.NoError(t, err, "failed to marshal request body")
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewRawRequest sends body verbatim with the given content type.
func NewRawRequest(method, path, contentType, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

// DoRequest executes a request against a handler and returns the recorder.
func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// DecodeResponse unmarshals the response body into T.
func DecodeResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err, "failed to read response body")
	var out T
	require.NoError(t, json.Unmarshal(body, &out), "failed to unmarshal response: %s", body)
	return out
}

// AssertError checks the status and the error code of an error response
// and returns the decoded envelope for further checks.
func AssertError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) ErrorBody {
	t.Helper()
	require.Equal(t, status, rr.Code, "unexpected status code: %s", rr.Body.String())
	body := DecodeResponse[ErrorBody](t, rr)
	assert.Equal(t, code, body.Error, "unexpected error code")
	return body
}
