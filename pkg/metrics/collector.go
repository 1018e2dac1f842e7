// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package metrics

import (
	"context"
	"runtime"
	"time"
)

// ResourceCollector periodically collects runtime resource metrics.
type ResourceCollector struct {
	interval  time.Duration
	startTime time.Time
}

// NewResourceCollector creates a collector that samples runtime
// metrics at the given interval.
func NewResourceCollector(interval time.Duration) *ResourceCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &ResourceCollector{
		interval:  interval,
		startTime: time.Now(),
	}
}

// Start begins collecting resource metrics until the context is
// cancelled.
func (c *ResourceCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Collect once immediately so gauges are populated at startup
	c.collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// collect gathers the current resource usage
func (c *ResourceCollector) collect() {
	if !IsEnabled() {
		return
	}

	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryAllocBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))

	ServerUptime.Set(time.Since(c.startTime).Seconds())
}

// StartResourceCollector is a convenience helper that creates a
// collector and runs it in a background goroutine.
func StartResourceCollector(ctx context.Context, interval time.Duration) {
	collector := NewResourceCollector(interval)
	go collector.Start(ctx)
}
