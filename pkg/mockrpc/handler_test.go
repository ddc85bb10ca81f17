package mockrpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		auth       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "ping",
			body:       `{"method":"ping","params":[]}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"result":"pong"}`,
		},
		{
			name:       "sum",
			body:       `{"method":"sum","params":[1,2,3.5]}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"result":6.5}`,
		},
		{
			name:       "sum of nothing",
			body:       `{"method":"sum","params":[]}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"result":0}`,
		},
		{
			name:       "sum with numeric strings and nulls",
			body:       `{"method":"sum","params":["2", null, 3]}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"result":5}`,
		},
		{
			name:       "sum with non-numeric param",
			body:       `{"method":"sum","params":[1,"abc"]}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"non-numeric param \"abc\""}`,
		},
		{
			name:       "sum without array",
			body:       `{"method":"sum","params":{"a":1}}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"unknown method"}`,
		},
		{
			name:       "authRequired without header",
			body:       `{"method":"authRequired"}`,
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"error":"missing auth"}`,
		},
		{
			name:       "authRequired with header",
			body:       `{"method":"authRequired"}`,
			auth:       "Bearer token",
			wantStatus: http.StatusOK,
			wantBody:   `{"result":"ok"}`,
		},
		{
			name:       "unknown method",
			body:       `{"method":"explode"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"unknown method"}`,
		},
		{
			name:       "empty body",
			body:       ``,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"unknown method"}`,
		},
		{
			name:       "malformed JSON",
			body:       `{"method":`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"invalid JSON"}`,
		},
		{
			name:       "wrong path",
			path:       "/other",
			body:       `{"method":"ping"}`,
			wantStatus: http.StatusNotFound,
			wantBody:   "Not found",
		},
		{
			name:       "wrong verb",
			method:     http.MethodGet,
			wantStatus: http.StatusNotFound,
			wantBody:   "Not found",
		},
	}

	h := NewHandler(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodPost
			}
			path := tt.path
			if path == "" {
				path = Path
			}
			req := httptest.NewRequest(method, path, strings.NewReader(tt.body))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if strings.HasPrefix(tt.wantBody, "{") {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			} else {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestSum(t *testing.T) {
	total, ok, err := sum(json.RawMessage(`[true, false, " 4 ", ""]`))
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, 5.0, total)

	_, ok, _ = sum(nil)
	assert.False(t, ok)

	_, ok, _ = sum(json.RawMessage(`null`))
	assert.False(t, ok)

	_, ok, err = sum(json.RawMessage(`[[1]]`))
	assert.True(t, ok)
	assert.Error(t, err)
}
