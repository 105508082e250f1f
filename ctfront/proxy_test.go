// Copyright 2025 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ctfront

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingController struct {
	stale int32
	ticks int32
}

func (c *countingController) NodeIsStale() bool {
	atomic.AddInt32(&c.ticks, 1)
	return atomic.LoadInt32(&c.stale) != 0
}

func TestStalenessTrackerSeedsSynchronously(t *testing.T) {
	c := &countingController{stale: 1}
	tracker := NewStalenessTracker(c)
	if !tracker.IsStale() {
		t.Error("tracker did not pick up initial staleness")
	}
	if got := atomic.LoadInt32(&c.ticks); got != 1 {
		t.Errorf("controller queried %d times at construction, want 1", got)
	}
}

func TestStalenessTrackerFollowsController(t *testing.T) {
	c := &countingController{}
	tracker := NewStalenessTracker(c)
	if tracker.IsStale() {
		t.Fatal("tracker stale before the controller is")
	}

	atomic.StoreInt32(&c.stale, 1)
	tracker.tick(context.Background())
	if !tracker.IsStale() {
		t.Error("tracker did not follow controller to stale")
	}

	atomic.StoreInt32(&c.stale, 0)
	tracker.tick(context.Background())
	if tracker.IsStale() {
		t.Error("tracker did not follow controller back to fresh")
	}
}

func TestStalenessTrackerStopJoins(t *testing.T) {
	c := &countingController{}
	tracker := NewStalenessTracker(c)
	tracker.Start(context.Background(), 10*time.Millisecond)

	// Give the monitor a few periods to run.
	time.Sleep(35 * time.Millisecond)
	tracker.Stop()

	after := atomic.LoadInt32(&c.ticks)
	if after < 2 {
		t.Errorf("controller queried %d times, want at least 2", after)
	}
	// No ticks may land after Stop returns.
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&c.ticks); got != after {
		t.Errorf("controller queried %d more times after Stop", got-after)
	}
}

func TestStalenessTrackerTickIgnoredAfterCancel(t *testing.T) {
	c := &countingController{}
	tracker := NewStalenessTracker(c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	atomic.StoreInt32(&c.stale, 1)
	tracker.tick(ctx)
	if tracker.IsStale() {
		t.Error("cancelled tick still wrote the flag")
	}
}
