// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-eseaccess.
//
// go-eseaccess is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package health

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticCheck(status Status) CheckFunc {
	return func(ctx context.Context) CheckResult {
		return CheckResult{Status: status}
	}
}

func TestLive(t *testing.T) {
	mock := clock.NewMock()
	c := NewChecker(mock)
	mock.Add(90 * time.Second)

	result := c.Live(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Contains(t, result.Message, "1m30s")
	assert.Equal(t, 90*time.Second, c.Uptime())
}

func TestReadyRequiresStartup(t *testing.T) {
	c := NewChecker(clock.NewMock())
	assert.False(t, c.IsReady(context.Background()))
	assert.False(t, c.IsStarted())

	c.MarkStarted()
	assert.True(t, c.IsReady(context.Background()))

	c.MarkNotStarted()
	assert.False(t, c.IsReady(context.Background()))
}

func TestReadyRunsChecksInOrder(t *testing.T) {
	c := NewChecker(clock.NewMock())
	c.MarkStarted()
	c.RegisterCheck("rail", staticCheck(StatusHealthy))
	c.RegisterCheck("arbiter", staticCheck(StatusDegraded))
	c.RegisterCheck("ignored", nil)

	results := c.Ready(context.Background())
	require.Len(t, results, 3)
	assert.Equal(t, "startup", results[0].Name)
	assert.Equal(t, "arbiter", results[1].Name)
	assert.Equal(t, "rail", results[2].Name)

	assert.Equal(t, StatusDegraded, AggregateStatus(results))
	assert.True(t, c.IsReady(context.Background()), "degraded is still ready")
}

func TestUnhealthyCheckFailsReadiness(t *testing.T) {
	c := NewChecker(nil)
	c.MarkStarted()
	c.RegisterCheck("arbiter", staticCheck(StatusUnhealthy))
	assert.False(t, c.IsReady(context.Background()))

	c.UnregisterCheck("arbiter")
	assert.True(t, c.IsReady(context.Background()))
}

func TestAggregateStatus(t *testing.T) {
	assert.Equal(t, StatusHealthy, AggregateStatus(nil))
	assert.Equal(t, StatusDegraded, AggregateStatus([]CheckResult{
		{Status: StatusHealthy}, {Status: StatusDegraded},
	}))
	assert.Equal(t, StatusUnhealthy, AggregateStatus([]CheckResult{
		{Status: StatusDegraded}, {Status: StatusUnhealthy},
	}))
}
