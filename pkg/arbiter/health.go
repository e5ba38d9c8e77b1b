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

package arbiter

import (
	"context"

	"github.com/jeremyhahn/go-eseaccess/pkg/access"
	"github.com/jeremyhahn/go-eseaccess/pkg/health"
)

// HealthCheck reports unhealthy when closed or when an SPI session holds
// the element with the rail down, and degraded when the most recent
// handshake wait expired.
func (a *Arbiter) HealthCheck() health.CheckFunc {
	return func(ctx context.Context) health.CheckResult {
		a.mu.Lock()
		state, closed, expired := a.state, a.closed, a.lastWaitExpired
		a.mu.Unlock()

		result := health.CheckResult{Name: "arbiter", Status: health.StatusHealthy, Message: state.String()}
		switch {
		case closed:
			result.Status = health.StatusUnhealthy
			result.Error = ErrClosed.Error()
		case state.HasAny(access.Spi, access.SpiPriority) && !a.rail.IsEnabled():
			result.Status = health.StatusUnhealthy
			result.Error = "spi session holds the element with the rail powered down"
		case expired:
			result.Status = health.StatusDegraded
			result.Message = state.String() + ": last handshake timed out"
		}
		return result
	}
}
