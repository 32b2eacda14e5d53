package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/simulacro-backend/internal/handler"
)

func TestHealth(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: connection refused") }

	cases := []struct {
		name   string
		checks map[string]handler.HealthCheck
		code   int
		status string
	}{
		{"all up", map[string]handler.HealthCheck{"postgres": up, "redis": up}, http.StatusOK, "ok"},
		{"redis down", map[string]handler.HealthCheck{"postgres": up, "redis": down}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", handler.NewHealthHandler(tc.checks).Health)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tc.code, w.Code)

			var body struct {
				Data struct {
					Status       string            `json:"status"`
					Dependencies map[string]string `json:"dependencies"`
				} `json:"data"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.status, body.Data.Status)
			assert.Equal(t, "ok", body.Data.Dependencies["postgres"])
			assert.Len(t, body.Data.Dependencies, 2)
		})
	}
}
