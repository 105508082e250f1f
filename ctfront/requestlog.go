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
	"encoding/hex"
	"time"

	"github.com/google/certificate-transparency-go/x509"
	"k8s.io/klog/v2"
)

const requestLogVLevel = 9

// RequestLog allows implementations to do structured logging of request
// parameters, submitted chains and other details useful to log operators
// when debugging issues. Handlers call the appropriate methods during
// request processing; the implementation collates and stores the results.
type RequestLog interface {
	// Start is called once at the beginning of handling each request.
	Start(context.Context)
	// AddDERToChain is called once per certificate in a submitted chain,
	// before the bytes have been checked for validity, in submission order
	// with the root last.
	AddDERToChain([]byte)
	// AddCertToChain is called once per certificate in a chain after it has
	// been parsed and verified, in submission order with the root last.
	AddCertToChain(*x509.Certificate)
	// FirstAndSecond is called for a consistency proof request with the two
	// tree sizes involved, if they parsed correctly.
	FirstAndSecond(int64, int64)
	// StartAndEnd is called for a get-entries request with the range
	// endpoints, if they parsed correctly.
	StartAndEnd(int64, int64)
	// LeafIndex is called with the index of a leaf involved in a proof
	// request.
	LeafIndex(int64)
	// TreeSize is called with the requested tree size for proof requests.
	TreeSize(int64)
	// LeafHash is called for get-proof-by-hash requests with the requested
	// hash, if the parameters parsed correctly.
	LeafHash([]byte)
	// Status is called once with the HTTP status the request ended with.
	Status(int)
}

// DefaultRequestLog does nothing except log the calls at a high level of
// verbosity.
type DefaultRequestLog struct{}

// Start logs the start of request processing.
func (rl *DefaultRequestLog) Start(_ context.Context) {
	klog.V(requestLogVLevel).Info("RL: Start")
}

// AddDERToChain logs the raw bytes of a submitted certificate.
func (rl *DefaultRequestLog) AddDERToChain(d []byte) {
	klog.V(requestLogVLevel).Infof("RL: Cert DER: %s", hex.EncodeToString(d))
}

// AddCertToChain logs subject / issuer / timing fields of a verified chain
// certificate.
func (rl *DefaultRequestLog) AddCertToChain(c *x509.Certificate) {
	klog.V(requestLogVLevel).Infof("RL: Cert: Sub: %s Iss: %s notBef: %s notAft: %s",
		c.Subject.String(),
		c.Issuer.String(),
		c.NotBefore.Format(time.RFC1123Z),
		c.NotAfter.Format(time.RFC1123Z))
}

// FirstAndSecond logs request parameters.
func (rl *DefaultRequestLog) FirstAndSecond(f, s int64) {
	klog.V(requestLogVLevel).Infof("RL: First: %d Second: %d", f, s)
}

// StartAndEnd logs request parameters.
func (rl *DefaultRequestLog) StartAndEnd(s, e int64) {
	klog.V(requestLogVLevel).Infof("RL: Start: %d End: %d", s, e)
}

// LeafIndex logs request parameters.
func (rl *DefaultRequestLog) LeafIndex(li int64) {
	klog.V(requestLogVLevel).Infof("RL: LeafIndex: %d", li)
}

// TreeSize logs request parameters.
func (rl *DefaultRequestLog) TreeSize(ts int64) {
	klog.V(requestLogVLevel).Infof("RL: TreeSize: %d", ts)
}

// LeafHash logs request parameters.
func (rl *DefaultRequestLog) LeafHash(lh []byte) {
	klog.V(requestLogVLevel).Infof("RL: LeafHash: %s", hex.EncodeToString(lh))
}

// Status logs the response HTTP status code after processing completes.
func (rl *DefaultRequestLog) Status(s int) {
	klog.V(requestLogVLevel).Infof("RL: Status: %d", s)
}
