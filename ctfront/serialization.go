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
	"fmt"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/tls"
)

// SignedDataPayload is the signed-data analog of the certificate payloads
// inside a TimestampedEntry.
type SignedDataPayload struct {
	KeyID     []byte `tls:"minlen:0,maxlen:255"`
	Data      []byte `tls:"minlen:0,maxlen:16777215"`
	Signature []byte `tls:"minlen:0,maxlen:65535"`
}

// TimestampedSignedDataEntry mirrors the layout of the RFC 6962
// TimestampedEntry for the non-standard signed-data entry type.
type TimestampedSignedDataEntry struct {
	Timestamp  uint64
	EntryType  ct.LogEntryType `tls:"maxval:65535"`
	SignedData SignedDataPayload
	Extensions ct.CTExtensions `tls:"minlen:0,maxlen:65535"`
}

// SignedDataLeaf is the Merkle tree leaf for a signed-data entry.
type SignedDataLeaf struct {
	Version          ct.Version        `tls:"maxval:255"`
	LeafType         ct.MerkleLeafType `tls:"maxval:255"`
	TimestampedEntry TimestampedSignedDataEntry
}

// SignedDataTimestamp is the signature input for an SCT over a signed-data
// entry, mirroring the RFC 6962 CertificateTimestamp layout.
type SignedDataTimestamp struct {
	SCTVersion    ct.Version       `tls:"maxval:255"`
	SignatureType ct.SignatureType `tls:"maxval:255"`
	Timestamp     uint64
	EntryType     ct.LogEntryType `tls:"maxval:65535"`
	SignedData    SignedDataPayload
	Extensions    ct.CTExtensions `tls:"minlen:0,maxlen:65535"`
}

// SerializeLeaf produces the canonical leaf_input bytes for an entry at the
// given timestamp.
func SerializeLeaf(entry *LogEntry, timestamp uint64, extensions ct.CTExtensions) ([]byte, error) {
	switch entry.Type {
	case ct.X509LogEntryType:
		leaf := ct.MerkleTreeLeaf{
			Version:  ct.V1,
			LeafType: ct.TimestampedEntryLeafType,
			TimestampedEntry: &ct.TimestampedEntry{
				Timestamp:  timestamp,
				EntryType:  ct.X509LogEntryType,
				X509Entry:  &entry.X509.LeafCertificate,
				Extensions: extensions,
			},
		}
		return tls.Marshal(leaf)
	case ct.PrecertLogEntryType:
		leaf := ct.MerkleTreeLeaf{
			Version:  ct.V1,
			LeafType: ct.TimestampedEntryLeafType,
			TimestampedEntry: &ct.TimestampedEntry{
				Timestamp: timestamp,
				EntryType: ct.PrecertLogEntryType,
				PrecertEntry: &ct.PreCert{
					IssuerKeyHash:  entry.Precert.IssuerKeyHash,
					TBSCertificate: entry.Precert.TBSCertificate,
				},
				Extensions: extensions,
			},
		}
		return tls.Marshal(leaf)
	case SignedDataLogEntryType:
		leaf := SignedDataLeaf{
			Version:  ct.V1,
			LeafType: ct.TimestampedEntryLeafType,
			TimestampedEntry: TimestampedSignedDataEntry{
				Timestamp: timestamp,
				EntryType: SignedDataLogEntryType,
				SignedData: SignedDataPayload{
					KeyID:     entry.SignedData.KeyID,
					Data:      entry.SignedData.Data,
					Signature: entry.SignedData.Signature,
				},
				Extensions: extensions,
			},
		}
		return tls.Marshal(leaf)
	default:
		return nil, fmt.Errorf("unknown entry type %v", entry.Type)
	}
}

// SerializeExtraData produces the canonical extra_data bytes for an entry:
// the certificate chain for X509 entries, the pre-certificate and its chain
// for precert entries, nothing for signed data.
func SerializeExtraData(entry *LogEntry) ([]byte, error) {
	switch entry.Type {
	case ct.X509LogEntryType:
		return tls.Marshal(ct.CertificateChain{Entries: entry.X509.CertificateChain})
	case ct.PrecertLogEntryType:
		return tls.Marshal(ct.PrecertChainEntry{
			PreCertificate:   entry.Precert.PreCertificate,
			CertificateChain: entry.Precert.PrecertificateChain,
		})
	case SignedDataLogEntryType:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown entry type %v", entry.Type)
	}
}

// SerializeSCTSignatureInput produces the bytes an SCT for the entry is
// signed over.
func SerializeSCTSignatureInput(entry *LogEntry, timestamp uint64, extensions ct.CTExtensions) ([]byte, error) {
	switch entry.Type {
	case ct.X509LogEntryType:
		return tls.Marshal(ct.CertificateTimestamp{
			SCTVersion:    ct.V1,
			SignatureType: ct.CertificateTimestampSignatureType,
			Timestamp:     timestamp,
			EntryType:     ct.X509LogEntryType,
			X509Entry:     &entry.X509.LeafCertificate,
			Extensions:    extensions,
		})
	case ct.PrecertLogEntryType:
		return tls.Marshal(ct.CertificateTimestamp{
			SCTVersion:    ct.V1,
			SignatureType: ct.CertificateTimestampSignatureType,
			Timestamp:     timestamp,
			EntryType:     ct.PrecertLogEntryType,
			PrecertEntry: &ct.PreCert{
				IssuerKeyHash:  entry.Precert.IssuerKeyHash,
				TBSCertificate: entry.Precert.TBSCertificate,
			},
			Extensions: extensions,
		})
	case SignedDataLogEntryType:
		return tls.Marshal(SignedDataTimestamp{
			SCTVersion:    ct.V1,
			SignatureType: ct.CertificateTimestampSignatureType,
			Timestamp:     timestamp,
			EntryType:     SignedDataLogEntryType,
			SignedData: SignedDataPayload{
				KeyID:     entry.SignedData.KeyID,
				Data:      entry.SignedData.Data,
				Signature: entry.SignedData.Signature,
			},
			Extensions: extensions,
		})
	default:
		return nil, fmt.Errorf("unknown entry type %v", entry.Type)
	}
}

// IdentityHash returns the bytes that identify an entry for duplicate
// detection: the leaf certificate for X509 entries, the stripped TBS for
// precerts, the data blob for signed data.
func IdentityHash(entry *LogEntry) ([]byte, error) {
	switch entry.Type {
	case ct.X509LogEntryType:
		return entry.X509.LeafCertificate.Data, nil
	case ct.PrecertLogEntryType:
		return entry.Precert.TBSCertificate, nil
	case SignedDataLogEntryType:
		return entry.SignedData.Data, nil
	default:
		return nil, fmt.Errorf("unknown entry type %v", entry.Type)
	}
}
