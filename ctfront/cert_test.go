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
	"crypto/sha256"
	"testing"

	"github.com/google/certificate-transparency-go/asn1"
	"github.com/google/certificate-transparency-go/x509/pkix"
)

func TestHasExtension(t *testing.T) {
	pki := newTestPKI(t)

	withExt := pki.newLeaf(t, 100, true)
	withoutExt := pki.newLeaf(t, 101, false)

	if got, err := hasExtension(withExt, oidExtensionEmbeddedSCTList); err != nil || !got {
		t.Errorf("hasExtension(with)=%v,%v; want true,nil", got, err)
	}
	if got, err := hasExtension(withoutExt, oidExtensionEmbeddedSCTList); err != nil || got {
		t.Errorf("hasExtension(without)=%v,%v; want false,nil", got, err)
	}
}

func TestHasExtensionDuplicate(t *testing.T) {
	pki := newTestPKI(t)

	tmpl := leafTemplate(102)
	ext := sctListExtension(t)
	tmpl.ExtraExtensions = []pkix.Extension{ext, ext}
	leaf := makeCert(t, tmpl, pki.intermediate, pki.leafKey.Public(), pki.intermediateKey)

	if got, err := hasExtension(leaf, oidExtensionEmbeddedSCTList); err == nil {
		t.Errorf("hasExtension(duplicated)=%v,nil; want _,non-nil", got)
	}
}

func TestStripTBSExtension(t *testing.T) {
	pki := newTestPKI(t)

	// Two certs minted from identical templates except for the trailing
	// embedded SCT list extension; their TBS encodings must agree once the
	// extension is stripped.
	withExt := pki.newLeaf(t, 200, true)
	withoutExt := pki.newLeaf(t, 200, false)

	got, found, err := stripTBSExtension(withExt.RawTBSCertificate, oidExtensionEmbeddedSCTList)
	if err != nil {
		t.Fatalf("stripTBSExtension()=_,_,%v; want _,_,nil", err)
	}
	if !found {
		t.Fatal("stripTBSExtension() did not find the extension")
	}
	if want := withoutExt.RawTBSCertificate; !bytes.Equal(got, want) {
		t.Errorf("stripTBSExtension() produced TBS:\n%x\nwant:\n%x", got, want)
	}

	// Stripping is idempotent: a second pass finds nothing and returns the
	// input unchanged.
	again, found, err := stripTBSExtension(got, oidExtensionEmbeddedSCTList)
	if err != nil {
		t.Fatalf("second stripTBSExtension()=_,_,%v; want _,_,nil", err)
	}
	if found {
		t.Error("second stripTBSExtension() claimed to find the extension again")
	}
	if !bytes.Equal(again, got) {
		t.Error("second stripTBSExtension() changed the encoding")
	}
}

func TestStripTBSExtensionAbsent(t *testing.T) {
	pki := newTestPKI(t)
	leaf := pki.newLeaf(t, 201, false)

	got, found, err := stripTBSExtension(leaf.RawTBSCertificate, oidExtensionEmbeddedSCTList)
	if err != nil {
		t.Fatalf("stripTBSExtension()=_,_,%v; want _,_,nil", err)
	}
	if found {
		t.Error("stripTBSExtension() found an extension that is not there")
	}
	if !bytes.Equal(got, leaf.RawTBSCertificate) {
		t.Error("stripTBSExtension() changed the encoding with nothing to strip")
	}
}

func TestStripTBSExtensionKeepsOthers(t *testing.T) {
	pki := newTestPKI(t)

	other := pkix.Extension{Id: asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1}, Value: []byte{0x05, 0x00}}
	tmpl := leafTemplate(202)
	tmpl.ExtraExtensions = []pkix.Extension{other, sctListExtension(t)}
	leaf := makeCert(t, tmpl, pki.intermediate, pki.leafKey.Public(), pki.intermediateKey)

	tbs, found, err := stripTBSExtension(leaf.RawTBSCertificate, oidExtensionEmbeddedSCTList)
	if err != nil || !found {
		t.Fatalf("stripTBSExtension()=_,%v,%v; want _,true,nil", found, err)
	}

	wantTmpl := leafTemplate(202)
	wantTmpl.ExtraExtensions = []pkix.Extension{other}
	want := makeCert(t, wantTmpl, pki.intermediate, pki.leafKey.Public(), pki.intermediateKey)
	if !bytes.Equal(tbs, want.RawTBSCertificate) {
		t.Errorf("stripTBSExtension() produced TBS:\n%x\nwant:\n%x", tbs, want.RawTBSCertificate)
	}
}

func TestSPKIHash(t *testing.T) {
	pki := newTestPKI(t)
	leaf := pki.newLeaf(t, 300, false)

	if got, want := spkiHash(leaf), sha256.Sum256(leaf.RawSubjectPublicKeyInfo); got != want {
		t.Errorf("spkiHash()=%x; want %x", got, want)
	}
}
