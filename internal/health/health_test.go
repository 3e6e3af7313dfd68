// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	name   string
	result CheckResult
}

func (c *stubChecker) Name() string                        { return c.name }
func (c *stubChecker) Check(_ context.Context) CheckResult { return c.result }

func TestManager_ReadyWithoutCheckers(t *testing.T) {
	m := NewManager("test")

	resp := m.Ready(context.Background())

	assert.True(t, resp.Ready)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestManager_ReadyAggregation(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantReady  bool
		wantStatus Status
	}{
		{
			name: "all healthy",
			checkers: []Checker{
				&stubChecker{name: "a", result: CheckResult{Status: StatusHealthy}},
				&stubChecker{name: "b", result: CheckResult{Status: StatusHealthy}},
			},
			wantReady:  true,
			wantStatus: StatusHealthy,
		},
		{
			name: "degraded stays ready",
			checkers: []Checker{
				&stubChecker{name: "a", result: CheckResult{Status: StatusHealthy}},
				&stubChecker{name: "b", result: CheckResult{Status: StatusDegraded}},
			},
			wantReady:  true,
			wantStatus: StatusDegraded,
		},
		{
			name: "unhealthy wins",
			checkers: []Checker{
				&stubChecker{name: "a", result: CheckResult{Status: StatusDegraded}},
				&stubChecker{name: "b", result: CheckResult{Status: StatusUnhealthy}},
			},
			wantReady:  false,
			wantStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("test")
			for _, c := range tt.checkers {
				m.RegisterChecker(c)
			}

			resp := m.Ready(context.Background())

			assert.Equal(t, tt.wantReady, resp.Ready)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checkers))
		})
	}
}

func TestManager_ServeReadyStatusCodes(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(&stubChecker{name: "session", result: CheckResult{Status: StatusUnhealthy}})

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest("GET", "/readyz", nil))

	assert.Equal(t, 503, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Checks["session"].Status)
}

func TestConnectionChecker(t *testing.T) {
	open := false
	c := NewConnectionChecker(func() bool { return open })

	assert.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)

	open = true
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
}

func TestDirChecker(t *testing.T) {
	t.Run("writable directory", func(t *testing.T) {
		c := NewDirChecker("data", t.TempDir())
		assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
	})

	t.Run("missing directory", func(t *testing.T) {
		c := NewDirChecker("data", filepath.Join(t.TempDir(), "missing"))
		result := c.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "directory not found", result.Error)
	})

	t.Run("file instead of directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

		result := NewDirChecker("data", path).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
	})

	t.Run("unconfigured is optional", func(t *testing.T) {
		c := NewDirChecker("data", "")
		assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
	})
}
