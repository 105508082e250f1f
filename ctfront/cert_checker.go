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
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/certificate-transparency-go/x509"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IsPrecertificate tests if a certificate is a pre-certificate, i.e. one
// carrying the embedded SCT list extension. An error is returned when
// presence of the extension cannot be determined; callers must reject the
// submission in that case rather than treat it as a definite yes or no.
func IsPrecertificate(cert *x509.Certificate) (bool, error) {
	return hasExtension(cert, oidExtensionEmbeddedSCTList)
}

// isPreIssuer tests if a certificate is a pre-certificate signing
// certificate, identified by the CertificateTransparency EKU.
func isPreIssuer(cert *x509.Certificate) bool {
	for _, eku := range cert.ExtKeyUsage {
		if eku == x509.ExtKeyUsageCertificateTransparency {
			return true
		}
	}
	return false
}

// CertValidationOpts contains various parameters for certificate chain
// validation.
type CertValidationOpts struct {
	// trustedRoots is a pool of certificates that defines the roots the CT
	// log will accept.
	trustedRoots *PEMCertPool
	// currentTime is the time used for checking a certificate's validity
	// period against. If it's zero then time.Now() is used. Only for testing.
	currentTime time.Time
	// Don't accept expired certificates.
	rejectExpired bool
	// An optional NotAfter window the leaf's expiry must fall within.
	notAfterStart *time.Time
	notAfterLimit *time.Time
	// Accept only CA certificates.
	acceptOnlyCA bool
	// The set of EKUs that the leaf must match one of (Any accepts all).
	extKeyUsages []x509.ExtKeyUsage
}

// NewCertValidationOpts builds validation options for chain checking.
func NewCertValidationOpts(trustedRoots *PEMCertPool, currentTime time.Time, rejectExpired bool, notAfterStart, notAfterLimit *time.Time, acceptOnlyCA bool, extKeyUsages []x509.ExtKeyUsage) CertValidationOpts {
	return CertValidationOpts{
		trustedRoots:  trustedRoots,
		currentTime:   currentTime,
		rejectExpired: rejectExpired,
		notAfterStart: notAfterStart,
		notAfterLimit: notAfterLimit,
		acceptOnlyCA:  acceptOnlyCA,
		extKeyUsages:  extKeyUsages,
	}
}

// ValidateChain takes an ordered chain of DER-encoded certificates, leaf
// first, and checks that it anchors to one of the trusted roots. The
// returned chain is the verified path, which always ends with a root and so
// may be one longer than the submission.
func ValidateChain(rawChain [][]byte, opts CertValidationOpts) ([]*x509.Certificate, error) {
	if len(rawChain) == 0 {
		return nil, errors.New("empty submission")
	}
	chain := make([]*x509.Certificate, 0, len(rawChain))
	for _, der := range rawChain {
		cert, err := x509.ParseCertificate(der)
		if x509.IsFatal(err) {
			return nil, err
		}
		chain = append(chain, cert)
	}
	return validateOrderedChain(chain, opts)
}

// validateOrderedChain is ValidateChain over already-parsed certificates.
func validateOrderedChain(chain []*x509.Certificate, opts CertValidationOpts) ([]*x509.Certificate, error) {
	if len(chain) == 0 {
		return nil, errors.New("empty submission")
	}
	leaf := chain[0]

	now := opts.currentTime
	if now.IsZero() {
		now = time.Now()
	}
	if opts.rejectExpired && now.After(leaf.NotAfter) {
		return nil, errors.New("rejecting expired certificate")
	}
	if opts.notAfterStart != nil && leaf.NotAfter.Before(*opts.notAfterStart) {
		return nil, fmt.Errorf("certificate NotAfter (%v) < NotAfterStart (%v)", leaf.NotAfter, *opts.notAfterStart)
	}
	if opts.notAfterLimit != nil && !leaf.NotAfter.Before(*opts.notAfterLimit) {
		return nil, fmt.Errorf("certificate NotAfter (%v) >= NotAfterLimit (%v)", leaf.NotAfter, *opts.notAfterLimit)
	}
	if opts.acceptOnlyCA && !leaf.IsCA {
		return nil, errors.New("only certificates with CA bit set accepted")
	}

	intermediates := NewPEMCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}

	// Validation is deliberately lax in places: a CT log observes the
	// certificates CAs actually issue, it does not police them.
	verifyOpts := x509.VerifyOptions{
		Roots:                          opts.trustedRoots.CertPool(),
		CurrentTime:                    now,
		Intermediates:                  intermediates.CertPool(),
		DisableTimeChecks:              !opts.rejectExpired,
		KeyUsages:                      opts.extKeyUsages,
		DisableCriticalExtensionChecks: true,
		DisableNameConstraintChecks:    true,
	}
	verifiedChains, err := leaf.Verify(verifyOpts)
	if err != nil {
		return nil, err
	}
	if len(verifiedChains) == 0 {
		return nil, errors.New("no path to root found when trying to validate chain")
	}

	// Of the paths the verifier found, pick one that uses every submitted
	// certificate in the order it was submitted (RFC 6962 s3.1); the
	// submission may or may not include the root itself.
	for _, verified := range verifiedChains {
		if chainsEquivalent(chain, verified) {
			return verified, nil
		}
	}
	return nil, errors.New("no RFC compliant path to root found when trying to validate chain")
}

func chainsEquivalent(inChain, verifiedChain []*x509.Certificate) bool {
	if len(inChain) != len(verifiedChain) && len(inChain) != len(verifiedChain)-1 {
		return false
	}
	for i, cert := range inChain {
		if !cert.Equal(verifiedChain[i]) {
			return false
		}
	}
	return true
}

// CertChecker verifies submissions against a trust store and surfaces
// failures with the RPC code taxonomy the dispatcher maps onto HTTP.
type CertChecker struct {
	opts  CertValidationOpts
	roots []*x509.Certificate
}

// NewCertChecker creates a checker over the given validation options. The
// trust store is read-only from here on and shared by all request threads.
func NewCertChecker(opts CertValidationOpts) *CertChecker {
	roots := append([]*x509.Certificate(nil), opts.trustedRoots.RawCertificates()...)
	sort.SliceStable(roots, func(i, j int) bool {
		return bytes.Compare(roots[i].RawSubject, roots[j].RawSubject) < 0
	})
	return &CertChecker{opts: opts, roots: roots}
}

// TrustedCertificates returns the accepted roots, ordered by subject name.
func (c *CertChecker) TrustedCertificates() []*x509.Certificate {
	return c.roots
}

// CheckCertChain verifies that the ordered chain anchors to a trusted root
// and returns the canonical verified path, leaf first.
func (c *CertChecker) CheckCertChain(chain []*x509.Certificate) ([]*x509.Certificate, error) {
	if len(chain) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty submission")
	}
	path, err := validateOrderedChain(chain, c.opts)
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "chain failed to verify: %v", err)
	}
	return path, nil
}

// CheckPreCertChain verifies a pre-certificate chain. On success it returns
// the verified path, the SHA-256 of the SubjectPublicKeyInfo of the
// certificate that signed the leaf, and the DER encoding of the leaf's
// TBSCertificate with the embedded SCT list extension removed.
func (c *CertChecker) CheckPreCertChain(chain []*x509.Certificate) ([]*x509.Certificate, [sha256.Size]byte, []byte, error) {
	var keyHash [sha256.Size]byte
	if len(chain) == 0 {
		return nil, keyHash, nil, status.Error(codes.InvalidArgument, "empty submission")
	}
	leaf := chain[0]

	isPre, err := IsPrecertificate(leaf)
	if err != nil {
		return nil, keyHash, nil, status.Errorf(codes.InvalidArgument, "invalid leaf extensions: %v", err)
	}
	if !isPre {
		// The leaf can still qualify if it was signed by a dedicated
		// pre-certificate signing certificate.
		if len(chain) < 2 {
			return nil, keyHash, nil, status.Error(codes.FailedPrecondition, "precert submission is missing issuer")
		}
		if !isPreIssuer(chain[1]) {
			return nil, keyHash, nil, status.Error(codes.InvalidArgument, "submission is not a precertificate")
		}
	}

	path, err := validateOrderedChain(chain, c.opts)
	if err != nil {
		return nil, keyHash, nil, status.Errorf(codes.Unauthenticated, "precert chain failed to verify: %v", err)
	}
	if len(path) < 2 {
		return nil, keyHash, nil, status.Error(codes.FailedPrecondition, "precert submission is missing issuer")
	}
	keyHash = spkiHash(path[1])

	tbs, _, err := stripTBSExtension(leaf.RawTBSCertificate, oidExtensionEmbeddedSCTList)
	if err != nil {
		return nil, keyHash, nil, status.Errorf(codes.InvalidArgument, "failed to strip SCT list extension: %v", err)
	}
	return path, keyHash, tbs, nil
}

// CheckSignedData verifies data.Signature over data.Data under the trusted
// key identified by data.KeyID.
func (c *CertChecker) CheckSignedData(data *SignedData) error {
	if len(data.KeyID) != sha256.Size {
		return status.Errorf(codes.InvalidArgument, "key ID must be %d bytes", sha256.Size)
	}

	var signer *x509.Certificate
	for _, root := range c.roots {
		if hash := spkiHash(root); bytes.Equal(hash[:], data.KeyID) {
			signer = root
			break
		}
	}
	if signer == nil {
		return status.Error(codes.Unauthenticated, "unknown signing key")
	}

	var algo x509.SignatureAlgorithm
	switch signer.PublicKey.(type) {
	case *rsa.PublicKey:
		algo = x509.SHA256WithRSA
	case *ecdsa.PublicKey:
		algo = x509.ECDSAWithSHA256
	default:
		return status.Error(codes.Unauthenticated, "unsupported signing key type")
	}
	if err := signer.CheckSignature(algo, data.Data, data.Signature); err != nil {
		return status.Errorf(codes.Unauthenticated, "signature failed to verify: %v", err)
	}
	return nil
}
