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
	stdasn1 "encoding/asn1"
	"errors"
	"fmt"

	certasn1 "github.com/google/certificate-transparency-go/asn1"
	"github.com/google/certificate-transparency-go/x509"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// oidExtensionEmbeddedSCTList identifies the embedded SCT list extension
// (RFC 6962 s3.3) carried by certificates that went through a CT log.
var oidExtensionEmbeddedSCTList = certasn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 4, 2}

// tagExtensions is the [3] EXPLICIT Extensions field of a TBSCertificate.
var tagExtensions = cbasn1.Tag(3).Constructed().ContextSpecific()

// spkiHash returns the SHA-256 digest of the certificate's
// SubjectPublicKeyInfo, i.e. the key hash used throughout RFC 6962.
func spkiHash(cert *x509.Certificate) [sha256.Size]byte {
	return sha256.Sum256(cert.RawSubjectPublicKeyInfo)
}

// hasExtension reports whether the certificate's TBS carries an extension
// with the given OID. The answer is tri-valued: (present, nil),
// (absent, nil), or an error when presence cannot be determined, e.g. the
// extension block is malformed or the OID appears more than once. Callers
// must treat the error case as a hard rejection rather than guessing.
func hasExtension(cert *x509.Certificate, oid certasn1.ObjectIdentifier) (bool, error) {
	exts, err := parseTBS(cert.RawTBSCertificate)
	if err != nil {
		return false, err
	}
	count := 0
	for _, ext := range exts.extensions {
		if ext.oid.Equal(stdasn1.ObjectIdentifier(oid)) {
			count++
		}
	}
	switch count {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("extension %v appears %d times", oid, count)
	}
}

// stripTBSExtension removes the extension with the given OID from a
// DER-encoded TBSCertificate and re-encodes. All other elements are copied
// byte for byte, so the output is deterministic and, when the target
// extension was appended last by the signer, identical to the TBS the
// signer produced before adding it. Returns the new encoding and whether
// the extension was found; when it was not, the returned encoding equals
// the input.
func stripTBSExtension(tbsDER []byte, oid certasn1.ObjectIdentifier) ([]byte, bool, error) {
	parsed, err := parseTBS(tbsDER)
	if err != nil {
		return nil, false, err
	}

	var kept [][]byte
	found := false
	for _, ext := range parsed.extensions {
		if ext.oid.Equal(stdasn1.ObjectIdentifier(oid)) {
			if found {
				return nil, false, fmt.Errorf("extension %v appears more than once", oid)
			}
			found = true
			continue
		}
		kept = append(kept, ext.raw)
	}
	if !found {
		out := make([]byte, len(tbsDER))
		copy(out, tbsDER)
		return out, false, nil
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, elem := range parsed.preExtensions {
			b.AddBytes(elem)
		}
		// An empty extension list is omitted entirely rather than encoded
		// as an empty SEQUENCE.
		if len(kept) > 0 {
			b.AddASN1(tagExtensions, func(b *cryptobyte.Builder) {
				b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
					for _, ext := range kept {
						b.AddBytes(ext)
					}
				})
			})
		}
	})
	out, err := b.Bytes()
	if err != nil {
		return nil, false, fmt.Errorf("failed to re-encode TBSCertificate: %v", err)
	}
	return out, true, nil
}

// parsedTBS is the minimal decomposition of a TBSCertificate needed for
// extension queries and deletion: the raw elements preceding the [3]
// extensions field, and each extension's raw encoding plus its OID.
type parsedTBS struct {
	preExtensions [][]byte
	extensions    []parsedExtension
}

type parsedExtension struct {
	raw []byte
	oid stdasn1.ObjectIdentifier
}

func parseTBS(tbsDER []byte) (*parsedTBS, error) {
	input := cryptobyte.String(tbsDER)
	var tbs cryptobyte.String
	if !input.ReadASN1(&tbs, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, errors.New("failed to parse TBSCertificate")
	}

	var out parsedTBS
	for !tbs.Empty() {
		var elem cryptobyte.String
		var tag cbasn1.Tag
		if !tbs.ReadAnyASN1Element(&elem, &tag) {
			return nil, errors.New("failed to parse TBSCertificate element")
		}
		if tag != tagExtensions {
			if len(out.extensions) > 0 {
				return nil, errors.New("TBSCertificate has trailing data after extensions")
			}
			out.preExtensions = append(out.preExtensions, elem)
			continue
		}
		if !tbs.Empty() {
			return nil, errors.New("TBSCertificate has trailing data after extensions")
		}
		exts, err := parseExtensions(elem)
		if err != nil {
			return nil, err
		}
		out.extensions = exts
	}
	return &out, nil
}

func parseExtensions(raw cryptobyte.String) ([]parsedExtension, error) {
	var wrapper, list cryptobyte.String
	if !raw.ReadASN1(&wrapper, tagExtensions) || !raw.Empty() {
		return nil, errors.New("failed to parse extensions wrapper")
	}
	if !wrapper.ReadASN1(&list, cbasn1.SEQUENCE) || !wrapper.Empty() {
		return nil, errors.New("failed to parse extensions list")
	}

	var exts []parsedExtension
	for !list.Empty() {
		var elem cryptobyte.String
		var tag cbasn1.Tag
		if !list.ReadAnyASN1Element(&elem, &tag) || tag != cbasn1.SEQUENCE {
			return nil, errors.New("failed to parse extension")
		}
		body := cryptobyte.String(elem)
		var ext cryptobyte.String
		var oid stdasn1.ObjectIdentifier
		if !body.ReadASN1(&ext, cbasn1.SEQUENCE) || !ext.ReadASN1ObjectIdentifier(&oid) {
			return nil, errors.New("failed to parse extension OID")
		}
		exts = append(exts, parsedExtension{raw: elem, oid: oid})
	}
	return exts, nil
}
