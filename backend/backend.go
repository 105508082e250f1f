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

// Package backend adapts a Trillian log RPC backend to the front-end's
// signing frontend and lookup interfaces: it queues validated entries,
// issues SCTs for them, and serves signed tree heads and Merkle proofs.
package backend

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	stdx509 "crypto/x509"
	"fmt"
	"sync"
	"time"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/tls"
	"github.com/google/trillian"
	"github.com/google/trillian/types"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"github.com/google/ct-log-front/ctfront"
)

// TimeSource supplies the timestamps embedded in SCTs; replaceable for
// tests.
type TimeSource interface {
	Now() time.Time
}

// SystemTimeSource is the wall clock.
type SystemTimeSource struct{}

// Now returns the current time.
func (SystemTimeSource) Now() time.Time { return time.Now() }

// LogRPC is the subset of the Trillian log API the front-end uses;
// trillian.TrillianLogClient satisfies it.
type LogRPC interface {
	QueueLeaf(ctx context.Context, in *trillian.QueueLeafRequest, opts ...grpc.CallOption) (*trillian.QueueLeafResponse, error)
	GetInclusionProofByHash(ctx context.Context, in *trillian.GetInclusionProofByHashRequest, opts ...grpc.CallOption) (*trillian.GetInclusionProofByHashResponse, error)
	GetConsistencyProof(ctx context.Context, in *trillian.GetConsistencyProofRequest, opts ...grpc.CallOption) (*trillian.GetConsistencyProofResponse, error)
	GetLatestSignedLogRoot(ctx context.Context, in *trillian.GetLatestSignedLogRootRequest, opts ...grpc.CallOption) (*trillian.GetLatestSignedLogRootResponse, error)
}

// Options configures a LogClient.
type Options struct {
	// LogID is the Trillian tree this log writes to.
	LogID int64
	// Signer holds the log's SCT/STH signing key.
	Signer crypto.Signer
	// TimeSource defaults to the system clock.
	TimeSource TimeSource
	// MaxQueuePerSecond bounds submission throughput; exceeding it
	// surfaces as RESOURCE_EXHAUSTED. Zero means unlimited.
	MaxQueuePerSecond float64
	// QueueBurst is the limiter burst; defaults to MaxQueuePerSecond.
	QueueBurst int
}

// LogClient implements ctfront.Frontend and ctfront.LogLookup over a
// Trillian log.
type LogClient struct {
	client  LogRPC
	logID   int64
	signer  crypto.Signer
	keyID   [sha256.Size]byte
	times   TimeSource
	limiter *rate.Limiter

	mu  sync.RWMutex
	sth *ct.SignedTreeHead
}

// New builds a LogClient. The key ID is the SHA-256 of the public key's
// SubjectPublicKeyInfo, per RFC 6962 s3.2.
func New(client LogRPC, opts Options) (*LogClient, error) {
	if opts.Signer == nil {
		return nil, fmt.Errorf("need a signing key")
	}
	der, err := stdx509.MarshalPKIXPublicKey(opts.Signer.Public())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal log public key: %v", err)
	}
	times := opts.TimeSource
	if times == nil {
		times = SystemTimeSource{}
	}
	var limiter *rate.Limiter
	if opts.MaxQueuePerSecond > 0 {
		burst := opts.QueueBurst
		if burst <= 0 {
			burst = int(opts.MaxQueuePerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(opts.MaxQueuePerSecond), burst)
	}
	return &LogClient{
		client:  client,
		logID:   opts.LogID,
		signer:  opts.Signer,
		keyID:   sha256.Sum256(der),
		times:   times,
		limiter: limiter,
	}, nil
}

// KeyID returns the log ID clients will see in SCTs.
func (c *LogClient) KeyID() [sha256.Size]byte {
	return c.keyID
}

// QueueX509Entry queues a certificate entry.
func (c *LogClient) QueueX509Entry(ctx context.Context, entry *ctfront.LogEntry) (*ct.SignedCertificateTimestamp, error) {
	return c.queueEntry(ctx, entry)
}

// QueuePrecertEntry queues a pre-certificate entry.
func (c *LogClient) QueuePrecertEntry(ctx context.Context, entry *ctfront.LogEntry) (*ct.SignedCertificateTimestamp, error) {
	return c.queueEntry(ctx, entry)
}

// QueueSignedDataEntry queues a signed-data entry.
func (c *LogClient) QueueSignedDataEntry(ctx context.Context, entry *ctfront.LogEntry) (*ct.SignedCertificateTimestamp, error) {
	return c.queueEntry(ctx, entry)
}

func (c *LogClient) queueEntry(ctx context.Context, entry *ctfront.LogEntry) (*ct.SignedCertificateTimestamp, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		return nil, status.Error(codes.ResourceExhausted, "submission queue saturated")
	}

	timestamp := uint64(c.times.Now().UnixNano() / int64(time.Millisecond))
	leafValue, err := ctfront.SerializeLeaf(entry, timestamp, nil)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to serialize leaf: %v", err)
	}
	extraData, err := ctfront.SerializeExtraData(entry)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to serialize extra data: %v", err)
	}
	identity, err := ctfront.IdentityHash(entry)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to compute entry identity: %v", err)
	}
	identityHash := sha256.Sum256(identity)

	req := trillian.QueueLeafRequest{
		LogId: c.logID,
		Leaf: &trillian.LogLeaf{
			LeafValue:        leafValue,
			ExtraData:        extraData,
			LeafIdentityHash: identityHash[:],
		},
	}
	resp, err := c.client.QueueLeaf(ctx, &req)
	if err != nil {
		return nil, err
	}
	queued := resp.GetQueuedLeaf()
	if queued == nil {
		return nil, status.Error(codes.Internal, "backend returned no queued leaf")
	}

	if code := codes.Code(queued.GetStatus().GetCode()); code == codes.AlreadyExists {
		// The entry was logged before; reissue the SCT with the original
		// timestamp recovered from the stored leaf.
		origTimestamp, terr := leafTimestamp(entry.Type, queued.GetLeaf().GetLeafValue())
		if terr != nil {
			klog.Warningf("could not recover original timestamp for duplicate: %v", terr)
			origTimestamp = timestamp
		}
		sct, serr := c.buildSCT(entry, origTimestamp)
		if serr != nil {
			return nil, serr
		}
		return sct, status.Error(codes.AlreadyExists, "entry already logged")
	} else if code != codes.OK {
		return nil, status.Error(code, queued.GetStatus().GetMessage())
	}

	return c.buildSCT(entry, timestamp)
}

// leafTimestamp extracts the timestamp from a stored leaf_input.
func leafTimestamp(entryType ct.LogEntryType, leafValue []byte) (uint64, error) {
	if entryType == ctfront.SignedDataLogEntryType {
		var leaf ctfront.SignedDataLeaf
		if _, err := tls.Unmarshal(leafValue, &leaf); err != nil {
			return 0, err
		}
		return leaf.TimestampedEntry.Timestamp, nil
	}
	var leaf ct.MerkleTreeLeaf
	if _, err := tls.Unmarshal(leafValue, &leaf); err != nil {
		return 0, err
	}
	if leaf.TimestampedEntry == nil {
		return 0, fmt.Errorf("stored leaf has no timestamped entry")
	}
	return leaf.TimestampedEntry.Timestamp, nil
}

func (c *LogClient) buildSCT(entry *ctfront.LogEntry, timestamp uint64) (*ct.SignedCertificateTimestamp, error) {
	input, err := ctfront.SerializeSCTSignatureInput(entry, timestamp, nil)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to serialize SCT input: %v", err)
	}
	sig, err := c.signData(input)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to sign SCT: %v", err)
	}
	return &ct.SignedCertificateTimestamp{
		SCTVersion: ct.V1,
		LogID:      ct.LogID{KeyID: c.keyID},
		Timestamp:  timestamp,
		Signature:  ct.DigitallySigned(sig),
	}, nil
}

// UpdateSTH fetches the backend's latest log root, signs a tree head over
// it and caches it. Returns the fresh head so callers can publish it.
func (c *LogClient) UpdateSTH(ctx context.Context) (*ct.SignedTreeHead, error) {
	resp, err := c.client.GetLatestSignedLogRoot(ctx, &trillian.GetLatestSignedLogRootRequest{LogId: c.logID})
	if err != nil {
		return nil, err
	}
	slr := resp.GetSignedLogRoot()
	if slr == nil {
		return nil, status.Error(codes.Internal, "no log root returned")
	}
	var root types.LogRootV1
	if err := root.UnmarshalBinary(slr.GetLogRoot()); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to unmarshal root: %v", err)
	}
	sth, err := c.signTreeHead(&root)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sth = sth
	c.mu.Unlock()
	return sth, nil
}

func (c *LogClient) signTreeHead(root *types.LogRootV1) (*ct.SignedTreeHead, error) {
	if got, want := len(root.RootHash), sha256.Size; got != want {
		return nil, status.Errorf(codes.Internal, "bad hash size from backend: got %d, want %d", got, want)
	}
	sth := ct.SignedTreeHead{
		Version:   ct.V1,
		TreeSize:  root.TreeSize,
		Timestamp: root.TimestampNanos / uint64(time.Millisecond),
		LogID:     ct.SHA256Hash(c.keyID),
	}
	copy(sth.SHA256RootHash[:], root.RootHash)

	input := ct.TreeHeadSignature{
		Version:        ct.V1,
		SignatureType:  ct.TreeHashSignatureType,
		Timestamp:      sth.Timestamp,
		TreeSize:       sth.TreeSize,
		SHA256RootHash: sth.SHA256RootHash,
	}
	data, err := tls.Marshal(input)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to serialize tree head: %v", err)
	}
	sig, err := c.signData(data)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to sign tree head: %v", err)
	}
	sth.TreeHeadSignature = ct.DigitallySigned(sig)
	return &sth, nil
}

// signData signs data with the log key. tls.CreateSignature accepts RSA and
// ECDSA private keys by value only, so pointer keys are dereferenced.
func (c *LogClient) signData(data []byte) (tls.DigitallySigned, error) {
	var key crypto.PrivateKey = c.signer
	switch k := c.signer.(type) {
	case *ecdsa.PrivateKey:
		key = *k
	case *rsa.PrivateKey:
		key = *k
	}
	return tls.CreateSignature(key, tls.SHA256, data)
}

// GetSTH returns the most recent signed tree head, fetching one if no
// refresher has run yet.
func (c *LogClient) GetSTH(ctx context.Context) (*ct.SignedTreeHead, error) {
	c.mu.RLock()
	sth := c.sth
	c.mu.RUnlock()
	if sth != nil {
		return sth, nil
	}
	return c.UpdateSTH(ctx)
}

// CurrentSTH returns the cached head without touching the backend; nil if
// none has been fetched yet.
func (c *LogClient) CurrentSTH() *ct.SignedTreeHead {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sth
}

// AuditProof returns the index of, and inclusion proof for, the given leaf
// hash in the tree of the given size.
func (c *LogClient) AuditProof(ctx context.Context, leafHash []byte, treeSize uint64) (int64, [][]byte, error) {
	resp, err := c.client.GetInclusionProofByHash(ctx, &trillian.GetInclusionProofByHashRequest{
		LogId:           c.logID,
		LeafHash:        leafHash,
		TreeSize:        int64(treeSize),
		OrderBySequence: true,
	})
	if err != nil {
		return 0, nil, err
	}
	if len(resp.GetProof()) == 0 {
		return 0, nil, status.Error(codes.NotFound, "leaf hash not found")
	}
	proof := resp.GetProof()[0]
	return proof.GetLeafIndex(), proof.GetHashes(), nil
}

// ConsistencyProof returns the proof between the two tree sizes.
func (c *LogClient) ConsistencyProof(ctx context.Context, first, second uint64) ([][]byte, error) {
	resp, err := c.client.GetConsistencyProof(ctx, &trillian.GetConsistencyProofRequest{
		LogId:          c.logID,
		FirstTreeSize:  int64(first),
		SecondTreeSize: int64(second),
	})
	if err != nil {
		return nil, err
	}
	return resp.GetProof().GetHashes(), nil
}
