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
	"bytes"
	"encoding/pem"
	"testing"

	"github.com/google/certificate-transparency-go/x509"
)

func certToPEM(t *testing.T, certs ...*x509.Certificate) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, cert := range certs {
		if err := pem.Encode(&buf, &pem.Block{Type: pemCertificateBlockType, Bytes: cert.Raw}); err != nil {
			t.Fatalf("failed to encode PEM: %v", err)
		}
	}
	return buf.Bytes()
}

func TestAppendCertsFromPEM(t *testing.T) {
	pki := newTestPKI(t)
	pool := NewPEMCertPool()

	if !pool.AppendCertsFromPEM(certToPEM(t, pki.root)) {
		t.Fatal("expected to append a certificate ok")
	}
	if got, want := len(pool.Subjects()), 1; got != want {
		t.Fatalf("got %d cert(s) in the pool, expected %d", got, want)
	}

	// Appending the same cert again must not duplicate it.
	pool.AppendCertsFromPEM(certToPEM(t, pki.root))
	if got, want := len(pool.Subjects()), 1; got != want {
		t.Fatalf("got %d cert(s) in the pool after re-append, expected %d", got, want)
	}
}

func TestAppendMultipleCertsFromPEM(t *testing.T) {
	pki := newTestPKI(t)
	pool := NewPEMCertPool()

	if !pool.AppendCertsFromPEM(certToPEM(t, pki.root, pki.intermediate)) {
		t.Fatal("rejected valid multiple certs")
	}
	if got, want := len(pool.Subjects()), 2; got != want {
		t.Fatalf("got %d certs in pool, expected %d", got, want)
	}
	if got, want := len(pool.RawCertificates()), 2; got != want {
		t.Fatalf("got %d raw certs in pool, expected %d", got, want)
	}
}

func TestBadOrEmptyPEMRejected(t *testing.T) {
	for _, data := range []string{
		"",
		"-----BEGIN GARBAGE-----\naGVsbG8=\n-----END GARBAGE-----\n",
		"not PEM at all",
	} {
		pool := NewPEMCertPool()
		if pool.AppendCertsFromPEM([]byte(data)) {
			t.Errorf("AppendCertsFromPEM(%q)=true; want false", data)
		}
		if got, want := len(pool.Subjects()), 0; got != want {
			t.Errorf("got %d cert(s) in pool, expected %d", got, want)
		}
	}
}

func TestIncluded(t *testing.T) {
	pki := newTestPKI(t)
	other := newTestPKI(t)
	pool := NewPEMCertPool()

	if pool.Included(pki.root) {
		t.Error("empty pool claims to include the root")
	}
	pool.AddCert(pki.root)
	if !pool.Included(pki.root) {
		t.Error("pool does not include an added cert")
	}
	if pool.Included(other.root) {
		t.Error("pool includes a cert that was never added")
	}
	pool.AddCert(other.root)
	if !pool.Included(other.root) {
		t.Error("pool does not include the second added cert")
	}
}
