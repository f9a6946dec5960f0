package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSendJSON_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	raw, status, err := SendJSON(context.Background(), srv.Client(), srv.URL, map[string]any{"a": 1},
		map[string]string{"Authorization": "Bearer k"}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestSendJSON_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, status, err := SendJSON(context.Background(), srv.Client(), srv.URL, struct{}{}, nil, quietLogger())
			require.Error(t, err)
			assert.Equal(t, tt.status, status)

			var serr *StatusError
			require.ErrorAs(t, err, &serr)
			assert.Contains(t, serr.Body, "nope")

			var rerr *common.RetryableError
			assert.Equal(t, tt.retryable, errors.As(err, &rerr))
		})
	}
}

func TestSendJSON_TruncatedBodyIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = io.WriteString(w, `{"ok":`)
	}))
	defer srv.Close()

	_, _, err := SendJSON(context.Background(), srv.Client(), srv.URL, struct{}{}, nil, quietLogger())
	require.Error(t, err)
	var rerr *common.RetryableError
	assert.True(t, errors.As(err, &rerr))
}

func TestSendJSON_OversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", maxResponseBytes+10))
	}))
	defer srv.Close()

	raw, _, err := SendJSON(context.Background(), srv.Client(), srv.URL, struct{}{}, nil, quietLogger())
	require.Error(t, err)
	assert.Nil(t, raw)
	assert.Contains(t, err.Error(), "exceeds")
}
