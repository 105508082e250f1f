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
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"math/big"
	"testing"
	"time"

	"github.com/google/certificate-transparency-go/asn1"
	"github.com/google/certificate-transparency-go/x509"
	"github.com/google/certificate-transparency-go/x509/pkix"
)

// testPKI is a small CA hierarchy generated fresh for each test: a root, an
// intermediate, and keys to mint leaves with.
type testPKI struct {
	rootKey, intermediateKey, leafKey *ecdsa.PrivateKey
	root, intermediate                *x509.Certificate
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	p := &testPKI{
		rootKey:         genKey(t),
		intermediateKey: genKey(t),
		leafKey:         genKey(t),
	}

	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root CA", Organization: []string{"CT Test"}},
		NotBefore:             time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:              time.Date(2044, 1, 1, 0, 0, 0, 0, time.UTC),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		SubjectKeyId:          []byte{1, 2, 3, 4},
	}
	p.root = makeCert(t, rootTmpl, rootTmpl, p.rootKey.Public(), p.rootKey)

	intTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "Test Intermediate CA", Organization: []string{"CT Test"}},
		NotBefore:             rootTmpl.NotBefore,
		NotAfter:              rootTmpl.NotAfter,
		KeyUsage:              x509.KeyUsageCertSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		SubjectKeyId:          []byte{2, 3, 4, 5},
	}
	p.intermediate = makeCert(t, intTmpl, p.root, p.intermediateKey.Public(), p.rootKey)

	return p
}

func genKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func makeCert(t *testing.T, template, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if x509.IsFatal(err) {
		t.Fatalf("failed to parse created certificate: %v", err)
	}
	return cert
}

// leafTemplate returns a fresh end-entity template signed-off for serial.
func leafTemplate(serial int64) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "leaf.example.com", Organization: []string{"CT Test"}},
		NotBefore:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		SubjectKeyId: []byte{9, 9, 9, 9},
	}
}

// sctListExtension is a placeholder embedded SCT list extension body.
func sctListExtension(t *testing.T) pkix.Extension {
	t.Helper()
	value, err := asn1.Marshal([]byte{0x00, 0x04, 0xde, 0xad, 0xbe, 0xef})
	if err != nil {
		t.Fatalf("failed to marshal extension value: %v", err)
	}
	return pkix.Extension{Id: asn1.ObjectIdentifier(oidExtensionEmbeddedSCTList), Critical: false, Value: value}
}

// newLeaf mints a leaf off the intermediate; withSCTList controls whether
// the embedded SCT list extension is appended.
func (p *testPKI) newLeaf(t *testing.T, serial int64, withSCTList bool) *x509.Certificate {
	t.Helper()
	tmpl := leafTemplate(serial)
	if withSCTList {
		tmpl.ExtraExtensions = []pkix.Extension{sctListExtension(t)}
	}
	return makeCert(t, tmpl, p.intermediate, p.leafKey.Public(), p.intermediateKey)
}

// newPreIssuer mints a pre-certificate signing certificate under the
// intermediate.
func (p *testPKI) newPreIssuer(t *testing.T, key *ecdsa.PrivateKey) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(99),
		Subject:               pkix.Name{CommonName: "Precert Signer", Organization: []string{"CT Test"}},
		NotBefore:             time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:              time.Date(2044, 1, 1, 0, 0, 0, 0, time.UTC),
		KeyUsage:              x509.KeyUsageCertSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageCertificateTransparency},
		SubjectKeyId:          []byte{7, 7, 7, 7},
	}
	return makeCert(t, tmpl, p.intermediate, key.Public(), p.intermediateKey)
}

// pool wraps the root in a trust store.
func (p *testPKI) pool(t *testing.T) *PEMCertPool {
	t.Helper()
	pool := NewPEMCertPool()
	pool.AddCert(p.root)
	return pool
}

// opts builds permissive validation options over the PKI's root.
func (p *testPKI) opts(t *testing.T) CertValidationOpts {
	t.Helper()
	return CertValidationOpts{
		trustedRoots: p.pool(t),
		extKeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
}
