package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoute(t *testing.T) {
	testCases := []struct {
		args   []string
		method string
		path   string
		body   any
	}{
		{[]string{"state"}, http.MethodGet, "/api/v1/state", nil},
		{[]string{"check"}, http.MethodPost, "/api/v1/check", nil},
		{[]string{"cancel"}, http.MethodPost, "/api/v1/cancel", nil},
		{[]string{"launchable"}, http.MethodGet, "/api/v1/updates/launchable", nil},
		{[]string{"launch-result", "abc", "FAIL"}, http.MethodPost, "/api/v1/updates/abc/launch-result", map[string]bool{"succeeded": false}},
		{[]string{"keep", "abc", "on"}, http.MethodPost, "/api/v1/updates/abc/keep", map[string]bool{"keep": true}},
	}

	for _, tc := range testCases {
		t.Run(tc.args[0], func(t *testing.T) {
			method, path, body, err := route(tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.method, method)
			assert.Equal(t, tc.path, path)
			assert.Equal(t, tc.body, body)
		})
	}

	for _, args := range [][]string{{"launch-result", "abc"}, {"launch-result", "abc", "maybe"}, {"explode"}} {
		_, _, _, err := route(args)
		assert.Error(t, err, "args %v", args)
	}
}

func TestRender(t *testing.T) {
	data := json.RawMessage(`{"state":"idle","isChecking":false}`)

	var buf bytes.Buffer
	require.NoError(t, render(&buf, data, "yaml"))
	assert.Equal(t, "isChecking: false\nstate: idle\n", buf.String())

	buf.Reset()
	require.NoError(t, render(&buf, data, "json"))
	assert.JSONEq(t, string(data), buf.String())

	buf.Reset()
	require.NoError(t, render(&buf, nil, "json"))
	assert.Equal(t, "ok\n", buf.String())

	assert.Error(t, render(&buf, data, "xml"))
}
