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
	"runtime"
	"sync"

	"k8s.io/klog/v2"
)

// Pool runs queued tasks on a fixed set of worker goroutines. The queue is
// unbounded: backpressure for submissions comes from the signing frontend
// rather than from the pool itself.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	shutdown bool
	wg       sync.WaitGroup
}

// NewPool creates a pool with the given number of workers; zero or negative
// means one per CPU.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Add queues f for execution. Tasks run in FIFO order. Adding after
// Shutdown drops the task.
func (p *Pool) Add(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		klog.Warning("task dropped: pool is shut down")
		return
	}
	p.queue = append(p.queue, f)
	p.cond.Signal()
}

// Shutdown stops accepting new tasks, waits for queued tasks to drain and
// for all workers to exit.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.shutdown {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		f := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()
		f()
	}
}
