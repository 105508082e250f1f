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

package backend

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/tls"
	"github.com/google/trillian"
	"github.com/google/trillian/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"

	"github.com/google/ct-log-front/ctfront"
)

// fixedTime pins SCT timestamps for assertions.
type fixedTime struct{ t time.Time }

func (f fixedTime) Now() time.Time { return f.t }

// fakeLogRPC is a canned Trillian log backend.
type fakeLogRPC struct {
	queueResp  *trillian.QueueLeafResponse
	queueErr   error
	queued     []*trillian.QueueLeafRequest
	root       *types.LogRootV1
	proofResp  *trillian.GetInclusionProofByHashResponse
	proofErr   error
	consistent *trillian.GetConsistencyProofResponse
}

func (f *fakeLogRPC) QueueLeaf(_ context.Context, in *trillian.QueueLeafRequest, _ ...grpc.CallOption) (*trillian.QueueLeafResponse, error) {
	f.queued = append(f.queued, in)
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	if f.queueResp != nil {
		return f.queueResp, nil
	}
	return &trillian.QueueLeafResponse{
		QueuedLeaf: &trillian.QueuedLogLeaf{Leaf: in.Leaf, Status: &rpcstatus.Status{Code: int32(codes.OK)}},
	}, nil
}

func (f *fakeLogRPC) GetInclusionProofByHash(context.Context, *trillian.GetInclusionProofByHashRequest, ...grpc.CallOption) (*trillian.GetInclusionProofByHashResponse, error) {
	if f.proofErr != nil {
		return nil, f.proofErr
	}
	return f.proofResp, nil
}

func (f *fakeLogRPC) GetConsistencyProof(context.Context, *trillian.GetConsistencyProofRequest, ...grpc.CallOption) (*trillian.GetConsistencyProofResponse, error) {
	return f.consistent, nil
}

func (f *fakeLogRPC) GetLatestSignedLogRoot(context.Context, *trillian.GetLatestSignedLogRootRequest, ...grpc.CallOption) (*trillian.GetLatestSignedLogRootResponse, error) {
	data, err := f.root.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &trillian.GetLatestSignedLogRootResponse{
		SignedLogRoot: &trillian.SignedLogRoot{LogRoot: data},
	}, nil
}

func testEntry() *ctfront.LogEntry {
	return &ctfront.LogEntry{
		Type: ct.X509LogEntryType,
		X509: &ctfront.X509Entry{
			LeafCertificate: ct.ASN1Cert{Data: []byte{0x30, 0x03, 0x01, 0x01, 0x00}},
		},
	}
}

func newTestClient(t *testing.T, rpc LogRPC, mutate func(*Options)) (*LogClient, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	opts := Options{
		LogID:      6962,
		Signer:     key,
		TimeSource: fixedTime{t: time.UnixMilli(1469185273000)},
	}
	if mutate != nil {
		mutate(&opts)
	}
	client, err := New(rpc, opts)
	if err != nil {
		t.Fatalf("New()=_,%v; want _,nil", err)
	}
	return client, key
}

func TestQueueEntryIssuesSCT(t *testing.T) {
	rpc := &fakeLogRPC{}
	client, key := newTestClient(t, rpc, nil)
	entry := testEntry()

	sct, err := client.QueueX509Entry(context.Background(), entry)
	if err != nil {
		t.Fatalf("QueueX509Entry()=_,%v; want _,nil", err)
	}
	if sct.Timestamp != 1469185273000 {
		t.Errorf("SCT timestamp=%d; want 1469185273000", sct.Timestamp)
	}
	if sct.LogID.KeyID != client.KeyID() {
		t.Errorf("SCT log ID=%x; want %x", sct.LogID.KeyID, client.KeyID())
	}

	// The signature must verify over the canonical signature input.
	input, err := ctfront.SerializeSCTSignatureInput(entry, sct.Timestamp, nil)
	if err != nil {
		t.Fatalf("SerializeSCTSignatureInput()=_,%v; want _,nil", err)
	}
	if err := tls.VerifySignature(key.Public(), input, tls.DigitallySigned(sct.Signature)); err != nil {
		t.Errorf("SCT signature failed to verify: %v", err)
	}

	// The queued leaf must carry the canonical serializations.
	if len(rpc.queued) != 1 {
		t.Fatalf("backend saw %d leaves, want 1", len(rpc.queued))
	}
	wantLeaf, err := ctfront.SerializeLeaf(entry, sct.Timestamp, nil)
	if err != nil {
		t.Fatalf("SerializeLeaf()=_,%v; want _,nil", err)
	}
	if got := rpc.queued[0].Leaf.LeafValue; string(got) != string(wantLeaf) {
		t.Error("queued leaf value does not match the canonical serialization")
	}
}

func TestQueueEntryDuplicate(t *testing.T) {
	entry := testEntry()
	const origTimestamp = uint64(1400000000000)
	origLeaf, err := ctfront.SerializeLeaf(entry, origTimestamp, nil)
	if err != nil {
		t.Fatalf("SerializeLeaf()=_,%v; want _,nil", err)
	}
	rpc := &fakeLogRPC{
		queueResp: &trillian.QueueLeafResponse{
			QueuedLeaf: &trillian.QueuedLogLeaf{
				Leaf:   &trillian.LogLeaf{LeafValue: origLeaf},
				Status: &rpcstatus.Status{Code: int32(codes.AlreadyExists)},
			},
		},
	}
	client, _ := newTestClient(t, rpc, nil)

	sct, err := client.QueueX509Entry(context.Background(), entry)
	if got, want := status.Code(err), codes.AlreadyExists; got != want {
		t.Fatalf("QueueX509Entry(dup) code=%v; want %v", got, want)
	}
	if sct == nil {
		t.Fatal("no SCT returned for duplicate")
	}
	// Duplicates keep their originally issued timestamp.
	if sct.Timestamp != origTimestamp {
		t.Errorf("duplicate SCT timestamp=%d; want %d", sct.Timestamp, origTimestamp)
	}
}

func TestQueueEntrySaturated(t *testing.T) {
	rpc := &fakeLogRPC{}
	client, _ := newTestClient(t, rpc, func(opts *Options) {
		opts.MaxQueuePerSecond = 1
		opts.QueueBurst = 1
	})
	entry := testEntry()

	if _, err := client.QueueX509Entry(context.Background(), entry); err != nil {
		t.Fatalf("first QueueX509Entry()=_,%v; want _,nil", err)
	}
	_, err := client.QueueX509Entry(context.Background(), entry)
	if got, want := status.Code(err), codes.ResourceExhausted; got != want {
		t.Errorf("second QueueX509Entry() code=%v; want %v", got, want)
	}
}

func TestGetSTH(t *testing.T) {
	rootHash := []byte("12345678123456781234567812345678")
	rpc := &fakeLogRPC{
		root: &types.LogRootV1{
			TreeSize:       12345,
			TimestampNanos: 987654321000000,
			RootHash:       rootHash,
		},
	}
	client, key := newTestClient(t, rpc, nil)

	sth, err := client.GetSTH(context.Background())
	if err != nil {
		t.Fatalf("GetSTH()=_,%v; want _,nil", err)
	}
	if sth.TreeSize != 12345 {
		t.Errorf("tree size=%d; want 12345", sth.TreeSize)
	}
	if sth.Timestamp != 987654321 {
		t.Errorf("timestamp=%d; want 987654321", sth.Timestamp)
	}

	input := ct.TreeHeadSignature{
		Version:        ct.V1,
		SignatureType:  ct.TreeHashSignatureType,
		Timestamp:      sth.Timestamp,
		TreeSize:       sth.TreeSize,
		SHA256RootHash: sth.SHA256RootHash,
	}
	data, err := tls.Marshal(input)
	if err != nil {
		t.Fatalf("tls.Marshal()=_,%v; want _,nil", err)
	}
	if err := tls.VerifySignature(key.Public(), data, tls.DigitallySigned(sth.TreeHeadSignature)); err != nil {
		t.Errorf("tree head signature failed to verify: %v", err)
	}

	// The head is cached and served without another backend call.
	if got := client.CurrentSTH(); got == nil || got.TreeSize != 12345 {
		t.Error("CurrentSTH() did not return the cached head")
	}
}

func TestAuditProofNotFound(t *testing.T) {
	rpc := &fakeLogRPC{proofErr: status.Error(codes.NotFound, "no such leaf")}
	client, _ := newTestClient(t, rpc, nil)

	_, _, err := client.AuditProof(context.Background(), []byte("hash"), 10)
	if got, want := status.Code(err), codes.NotFound; got != want {
		t.Errorf("AuditProof() code=%v; want %v", got, want)
	}

	// An empty proof list is also a miss.
	rpc.proofErr = nil
	rpc.proofResp = &trillian.GetInclusionProofByHashResponse{}
	_, _, err = client.AuditProof(context.Background(), []byte("hash"), 10)
	if got, want := status.Code(err), codes.NotFound; got != want {
		t.Errorf("AuditProof(empty) code=%v; want %v", got, want)
	}
}

func TestAuditProof(t *testing.T) {
	rpc := &fakeLogRPC{
		proofResp: &trillian.GetInclusionProofByHashResponse{
			Proof: []*trillian.Proof{{LeafIndex: 17, Hashes: [][]byte{[]byte("a"), []byte("b")}}},
		},
	}
	client, _ := newTestClient(t, rpc, nil)

	index, path, err := client.AuditProof(context.Background(), []byte("hash"), 10)
	if err != nil {
		t.Fatalf("AuditProof()=_,_,%v; want _,_,nil", err)
	}
	if index != 17 || len(path) != 2 {
		t.Errorf("AuditProof()=%d,%d nodes; want 17, 2 nodes", index, len(path))
	}
}
