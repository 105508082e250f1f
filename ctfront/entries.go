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
	"crypto/sha256"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/x509"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// SignedDataLogEntryType extends the RFC 6962 entry types with arbitrary
// signed blobs. The value sits in the range reserved for non-standard
// types.
const SignedDataLogEntryType ct.LogEntryType = 0x8001

// SignedData is a non-certificate submission: a blob, a signature over it,
// and the SHA-256 of the SubjectPublicKeyInfo of the trusted key that made
// the signature.
type SignedData struct {
	KeyID     []byte
	Data      []byte
	Signature []byte
}

// X509Entry is the payload logged for an ordinary certificate submission.
type X509Entry struct {
	LeafCertificate  ct.ASN1Cert
	CertificateChain []ct.ASN1Cert
}

// PrecertEntry is the payload logged for a pre-certificate submission.
type PrecertEntry struct {
	IssuerKeyHash       [sha256.Size]byte
	TBSCertificate      []byte
	PreCertificate      ct.ASN1Cert
	PrecertificateChain []ct.ASN1Cert
}

// SignedDataEntry is the payload logged for a signed-data submission.
type SignedDataEntry struct {
	KeyID     []byte
	Data      []byte
	Signature []byte
}

// LogEntry is a validated, canonicalized submission ready for the signing
// frontend. Exactly the payload matching Type is populated; the payload is
// immutable once a submission handler returns it.
type LogEntry struct {
	Type       ct.LogEntryType
	X509       *X509Entry
	Precert    *PrecertEntry
	SignedData *SignedDataEntry
}

// reset clears the entry so a failed build never leaves partial fields
// behind.
func (e *LogEntry) reset() {
	*e = LogEntry{}
}

// SubmissionHandler turns decoded submissions into LogEntry values, running
// them through the cert checker on the way. It holds no per-request state
// and is safe for concurrent use.
type SubmissionHandler struct {
	checker *CertChecker
}

// NewSubmissionHandler creates a handler around the given checker.
func NewSubmissionHandler(checker *CertChecker) *SubmissionHandler {
	return &SubmissionHandler{checker: checker}
}

// Roots exposes the checker's trusted certificates for get-roots.
func (s *SubmissionHandler) Roots() []*x509.Certificate {
	return s.checker.TrustedCertificates()
}

// ProcessX509Submission validates an ordinary certificate chain and builds
// the X509 entry variant from the verified path.
func (s *SubmissionHandler) ProcessX509Submission(chain []*x509.Certificate, entry *LogEntry) error {
	if len(chain) == 0 {
		return status.Error(codes.InvalidArgument, "empty submission")
	}
	path, err := s.checker.CheckCertChain(chain)
	if err != nil {
		return err
	}

	// The chain has been validated; an encoding failure from here on is an
	// invariant breach, not a client error.
	x509Entry := X509Entry{}
	if len(path[0].Raw) == 0 {
		entry.reset()
		return status.Error(codes.Internal, "could not DER-encode the chain")
	}
	x509Entry.LeafCertificate = ct.ASN1Cert{Data: path[0].Raw}
	for _, cert := range path[1:] {
		if len(cert.Raw) == 0 {
			entry.reset()
			return status.Error(codes.Internal, "could not DER-encode the chain")
		}
		x509Entry.CertificateChain = append(x509Entry.CertificateChain, ct.ASN1Cert{Data: cert.Raw})
	}

	entry.reset()
	entry.Type = ct.X509LogEntryType
	entry.X509 = &x509Entry
	return nil
}

// ProcessPreCertSubmission validates a pre-certificate chain and builds the
// Precert entry variant: the issuer key hash, the TBS with the embedded SCT
// list extension removed, the pre-certificate itself and its chain.
func (s *SubmissionHandler) ProcessPreCertSubmission(chain []*x509.Certificate, entry *LogEntry) error {
	path, keyHash, tbs, err := s.checker.CheckPreCertChain(chain)
	if err != nil {
		return err
	}

	precert := PrecertEntry{
		IssuerKeyHash:  keyHash,
		TBSCertificate: tbs,
	}
	if len(path[0].Raw) == 0 {
		entry.reset()
		return status.Error(codes.Internal, "could not DER-encode the chain")
	}
	precert.PreCertificate = ct.ASN1Cert{Data: path[0].Raw}
	for _, cert := range path[1:] {
		if len(cert.Raw) == 0 {
			entry.reset()
			return status.Error(codes.Internal, "could not DER-encode the chain")
		}
		precert.PrecertificateChain = append(precert.PrecertificateChain, ct.ASN1Cert{Data: cert.Raw})
	}

	entry.reset()
	entry.Type = ct.PrecertLogEntryType
	entry.Precert = &precert
	return nil
}

// ProcessSignedDataSubmission verifies a signed blob and builds the
// SignedData entry variant.
func (s *SubmissionHandler) ProcessSignedDataSubmission(data *SignedData, entry *LogEntry) error {
	if err := s.checker.CheckSignedData(data); err != nil {
		return err
	}

	entry.reset()
	entry.Type = SignedDataLogEntryType
	entry.SignedData = &SignedDataEntry{
		KeyID:     data.KeyID,
		Data:      data.Data,
		Signature: data.Signature,
	}
	return nil
}

// X509ChainToEntry reconstructs, without consulting any trust store, the
// entry a log would have signed over for an observed chain: a Precert entry
// when the leaf carries an embedded SCT list and an issuer follows it, an
// X509 entry otherwise. Clients use this to rebuild the bytes under an SCT
// signature. On failure the entry is cleared and false is returned.
func X509ChainToEntry(chain []*x509.Certificate, entry *LogEntry) bool {
	entry.reset()
	if len(chain) == 0 {
		return false
	}
	leaf := chain[0]

	embedded, err := hasExtension(leaf, oidExtensionEmbeddedSCTList)
	if err != nil {
		klog.Errorf("Failed to check embedded SCT extension: %v", err)
		return false
	}

	if !embedded {
		if len(leaf.Raw) == 0 {
			return false
		}
		entry.Type = ct.X509LogEntryType
		entry.X509 = &X509Entry{LeafCertificate: ct.ASN1Cert{Data: leaf.Raw}}
		return true
	}

	if len(chain) < 2 {
		// Need the issuer to recover the key hash.
		return false
	}
	tbs, found, err := stripTBSExtension(leaf.RawTBSCertificate, oidExtensionEmbeddedSCTList)
	if err != nil || !found {
		entry.reset()
		return false
	}
	entry.Type = ct.PrecertLogEntryType
	entry.Precert = &PrecertEntry{
		IssuerKeyHash:  spkiHash(chain[1]),
		TBSCertificate: tbs,
	}
	return true
}
