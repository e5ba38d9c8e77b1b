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

package metrics

import (
	"context"
	"runtime"
	"time"
)

// StateSource reports the current holder flags and rail state. The
// arbiter satisfies it; the collector polls it so gauges stay correct
// even if an update was missed while metrics were disabled.
type StateSource interface {
	FlagSnapshot() map[string]bool
	RailEnabled() bool
}

// ResourceCollector periodically refreshes process and arbiter gauges.
type ResourceCollector struct {
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	started  time.Time
	source   StateSource
}

// NewResourceCollector creates a collector that updates gauges at the
// given interval. source may be nil.
//
// Example:
//
//	collector := metrics.NewResourceCollector(ctx, 30*time.Second, arb)
//	go collector.Start()
//	defer collector.Stop()
func NewResourceCollector(ctx context.Context, interval time.Duration, source StateSource) *ResourceCollector {
	collectorCtx, cancel := context.WithCancel(ctx)
	return &ResourceCollector{
		ctx:      collectorCtx,
		cancel:   cancel,
		interval: interval,
		started:  time.Now(),
		source:   source,
	}
}

// Start collects immediately and then at every interval until Stop is
// called or the parent context is cancelled. It blocks.
func (rc *ResourceCollector) Start() {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	rc.collect()

	for {
		select {
		case <-rc.ctx.Done():
			return
		case <-ticker.C:
			rc.collect()
		}
	}
}

// Stop halts the resource collector.
func (rc *ResourceCollector) Stop() {
	rc.cancel()
}

func (rc *ResourceCollector) collect() {
	if !IsEnabled() {
		return
	}

	Goroutines.Set(float64(runtime.NumGoroutine()))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	MemoryAllocBytes.Set(float64(memStats.Alloc))

	ServerUptime.Set(time.Since(rc.started).Seconds())

	if rc.source != nil {
		SetAccessState(rc.source.FlagSnapshot())
		if rc.source.RailEnabled() {
			RailEnabled.Set(1)
		} else {
			RailEnabled.Set(0)
		}
	}
}

// StartResourceCollector creates a collector and runs it in the background.
func StartResourceCollector(ctx context.Context, interval time.Duration, source StateSource) *ResourceCollector {
	collector := NewResourceCollector(ctx, interval, source)
	go collector.Start()
	return collector
}
