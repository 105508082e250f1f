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
	"net/http"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/google/ct-log-front/schedule"
)

// StateController reports this node's freshness relative to the cluster's
// serving tree. Implementations may block briefly on internal locks.
type StateController interface {
	NodeIsStale() bool
}

// StalenessTracker caches the controller's answer so the serving path can
// read it with nothing more than a mutex acquisition. The flag is seeded
// with one synchronous controller query at construction and from then on
// only the monitor tick writes it.
type StalenessTracker struct {
	controller StateController

	mu    sync.Mutex
	stale bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStalenessTracker queries the controller once, synchronously, so the
// flag is meaningful before the first tick.
func NewStalenessTracker(controller StateController) *StalenessTracker {
	return &StalenessTracker{
		controller: controller,
		stale:      controller.NodeIsStale(),
	}
}

// Start begins the recurring re-evaluation with the given period.
func (t *StalenessTracker) Start(ctx context.Context, period time.Duration) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		schedule.Every(ctx, period, t.tick)
	}()
}

// Stop signals shutdown and joins the in-flight tick, if any.
func (t *StalenessTracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

// IsStale returns the most recent controller observation.
func (t *StalenessTracker) IsStale() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stale
}

func (t *StalenessTracker) tick(ctx context.Context) {
	if ctx.Err() != nil {
		// Shutting down, don't touch the flag again.
		return
	}
	stale := t.controller.NodeIsStale()
	if stale {
		nodeStale.Set(1)
	} else {
		nodeStale.Set(0)
	}
	t.mu.Lock()
	if stale != t.stale {
		klog.Infof("node staleness changed: now stale=%v", stale)
	}
	t.stale = stale
	t.mu.Unlock()
}

// proxyInterceptor serves the request locally while the node is fresh and
// forwards it to a peer otherwise. Peer selection can block on the cluster
// state lock, so forwarding runs on the worker pool rather than the serving
// goroutine's fast path.
func (inst *Instance) proxyInterceptor(local http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inst.staleness != nil && inst.staleness.IsStale() && inst.opts.Proxy != nil {
			done := make(chan struct{})
			inst.pool.Add(func() {
				defer close(done)
				inst.opts.Proxy.ProxyRequest(w, r)
			})
			<-done
			return
		}
		local.ServeHTTP(w, r)
	})
}
