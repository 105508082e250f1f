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

// Package proxy forwards CT API requests from a stale node to a fresh peer
// and relays the peer's response verbatim.
package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/net/context/ctxhttp"
	"k8s.io/klog/v2"
)

// PeerSource lists the addresses of peers currently able to serve the
// cluster's tree.
type PeerSource func() []string

// Proxy forwards requests round-robin across fresh peers.
type Proxy struct {
	peers  PeerSource
	client *http.Client
	next   uint64
}

// New creates a proxy over the given peer source.
func New(peers PeerSource, timeout time.Duration) *Proxy {
	return &Proxy{
		peers:  peers,
		client: &http.Client{Timeout: timeout},
	}
}

// ProxyRequest picks a fresh peer and replays the request against it,
// copying the peer's status, headers and body back untouched. The client
// must not be able to tell it was not served locally.
func (p *Proxy) ProxyRequest(w http.ResponseWriter, r *http.Request) {
	peers := p.peers()
	if len(peers) == 0 {
		klog.Warning("no fresh peer available to proxy to")
		http.Error(w, "no fresh node available", http.StatusBadGateway)
		return
	}
	peer := peers[atomic.AddUint64(&p.next, 1)%uint64(len(peers))]

	target := url.URL{
		Scheme:   "http",
		Host:     peer,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	out, err := http.NewRequest(r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, "failed to build upstream request", http.StatusInternalServerError)
		return
	}
	out.Header = r.Header.Clone()
	out.Header.Set("X-Forwarded-For", r.RemoteAddr)

	resp, err := ctxhttp.Do(r.Context(), p.client, out)
	if err != nil {
		klog.Warningf("proxying to %s failed: %v", peer, err)
		http.Error(w, fmt.Sprintf("proxying to fresh node failed: %v", err), http.StatusBadGateway)
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			klog.V(1).Infof("failed to close upstream body: %v", err)
		}
	}()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		klog.V(1).Infof("failed to relay upstream body: %v", err)
	}
}
