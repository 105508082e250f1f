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
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"k8s.io/klog/v2"

	"github.com/google/ct-log-front/ctfront/storage"
)

// Defaults for the configuration knobs the dispatcher observes.
const (
	DefaultMaxLeafEntriesPerResponse = int64(1000)
	DefaultStalenessCheckDelay       = 5 * time.Second
)

var (
	requestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "ctfront_http_request_latency_seconds",
			Help: "HTTP request latency broken down by path.",
		},
		[]string{"path"},
	)
	responsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctfront_http_responses_total",
			Help: "HTTP responses broken down by path and status code.",
		},
		[]string{"path", "code"},
	)
	nodeStale = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ctfront_node_stale",
			Help: "Whether this node is stale relative to the cluster serving tree.",
		},
	)
)

// InstanceOptions are the parameters for a single log front-end instance.
type InstanceOptions struct {
	// Submission turns decoded submissions into entries. Nil for mirror
	// nodes, which carry no trust store; the add and get-roots endpoints
	// are then not registered.
	Submission *SubmissionHandler
	// Frontend queues validated entries for signing. Nil disables all add
	// endpoints.
	Frontend Frontend
	// LogLookup serves tree heads and proofs.
	LogLookup LogLookup
	// Storage is the read-only entry database behind get-entries.
	Storage storage.EntrySource
	// Controller reports cluster staleness. Nil disables proxying.
	Controller StateController
	// Proxy forwards requests to fresh peers while this node is stale.
	Proxy Proxy
	// SCTCache short-circuits duplicate submissions. Optional.
	SCTCache SCTCache
	// RequestLog receives structured request details. Defaults to
	// DefaultRequestLog.
	RequestLog RequestLog

	// Deadline bounds request processing; zero means no deadline beyond
	// the server's own.
	Deadline time.Duration
	// MaxLeafEntriesPerResponse caps one get-entries response.
	MaxLeafEntriesPerResponse int64
	// StalenessCheckDelay is the period of the staleness monitor.
	StalenessCheckDelay time.Duration
	// AcceptCertificates gates add-chain and add-pre-chain.
	AcceptCertificates bool
	// AcceptSignedData gates add-signed-data.
	AcceptSignedData bool
	// MaskInternalErrors hides internal error detail from clients.
	MaskInternalErrors bool
	// Workers sizes the worker pool; zero means one per CPU.
	Workers int
}

// Instance is one configured log front-end: the dispatcher plus everything
// hanging off it.
type Instance struct {
	opts       InstanceOptions
	submission *SubmissionHandler
	pool       *Pool
	staleness  *StalenessTracker
	handlers   map[string]http.Handler
}

// SetUpInstance creates an instance and registers its handlers. The
// staleness flag is seeded synchronously here; call Run to start the
// monitor and Shutdown to tear everything down.
func SetUpInstance(_ context.Context, opts InstanceOptions) (*Instance, error) {
	if opts.LogLookup == nil {
		return nil, errors.New("need a log lookup")
	}
	if opts.Storage == nil {
		return nil, errors.New("need an entry database")
	}
	if opts.RequestLog == nil {
		opts.RequestLog = new(DefaultRequestLog)
	}
	if opts.MaxLeafEntriesPerResponse <= 0 {
		opts.MaxLeafEntriesPerResponse = DefaultMaxLeafEntriesPerResponse
	}
	if opts.StalenessCheckDelay <= 0 {
		opts.StalenessCheckDelay = DefaultStalenessCheckDelay
	}

	inst := &Instance{
		opts:       opts,
		submission: opts.Submission,
		pool:       NewPool(opts.Workers),
		handlers:   make(map[string]http.Handler),
	}
	if opts.Controller != nil {
		inst.staleness = NewStalenessTracker(opts.Controller)
	}

	inst.addProxyWrappedHandler(GetEntriesPath, "GetEntries", http.MethodGet, getEntries)
	if inst.submission != nil {
		// Mirror nodes have no trust store of their own to serve.
		inst.addProxyWrappedHandler(GetRootsPath, "GetRoots", http.MethodGet, getRoots)
	}
	inst.addProxyWrappedHandler(GetProofByHashPath, "GetProofByHash", http.MethodGet, getProofByHash)
	inst.addProxyWrappedHandler(GetSTHPath, "GetSTH", http.MethodGet, getSTH)
	inst.addProxyWrappedHandler(GetSTHConsistencyPath, "GetSTHConsistency", http.MethodGet, getSTHConsistency)

	if opts.Frontend != nil && inst.submission != nil {
		// A staler node could serve these, but a fresh one has a better
		// chance of spotting duplicates, so the add calls proxy too.
		if opts.AcceptCertificates {
			inst.addProxyWrappedHandler(AddChainPath, "AddChain", http.MethodPost, addChain)
			inst.addProxyWrappedHandler(AddPreChainPath, "AddPreChain", http.MethodPost, addPreChain)
		}
		if opts.AcceptSignedData {
			inst.addProxyWrappedHandler(AddSignedDataPath, "AddSignedData", http.MethodPost, addSignedData)
		}
	}

	return inst, nil
}

// addProxyWrappedHandler registers a handler wrapped, outermost first, in
// the latency observer and the proxy interceptor.
func (inst *Instance) addProxyWrappedHandler(path, name, method string, h func(context.Context, *Instance, http.ResponseWriter, *http.Request) (int, error)) {
	local := AppHandler{Inst: inst, Handler: h, Name: name, Method: method}
	inst.handlers[path] = latencyObserver(path, inst.proxyInterceptor(local))
}

// Handlers returns the path → handler map to mount on a mux.
func (inst *Instance) Handlers() map[string]http.Handler {
	return inst.handlers
}

// Run starts the staleness monitor. It returns immediately.
func (inst *Instance) Run(ctx context.Context) {
	if inst.staleness != nil {
		inst.staleness.Start(ctx, inst.opts.StalenessCheckDelay)
	}
}

// Shutdown stops the staleness monitor and drains the worker pool.
func (inst *Instance) Shutdown() {
	if inst.staleness != nil {
		inst.staleness.Stop()
	}
	inst.pool.Shutdown()
	klog.V(1).Info("instance shut down")
}

// latencyObserver times every request to a path and counts responses by
// status code.
func latencyObserver(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		requestLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
		responsesTotal.WithLabelValues(path, strconv.Itoa(sw.status())).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}
