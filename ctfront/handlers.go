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
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/tls"
	"github.com/google/certificate-transparency-go/x509"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// CT API paths served by an instance.
const (
	GetEntriesPath        = "/ct/v1/get-entries"
	GetRootsPath          = "/ct/v1/get-roots"
	GetProofByHashPath    = "/ct/v1/get-proof-by-hash"
	GetSTHPath            = "/ct/v1/get-sth"
	GetSTHConsistencyPath = "/ct/v1/get-sth-consistency"
	AddChainPath          = "/ct/v1/add-chain"
	AddPreChainPath       = "/ct/v1/add-pre-chain"
	AddSignedDataPath     = "/ct/v1/add-signed-data"
)

// Frontend queues validated entries for sequencing and returns the SCT the
// log issued for them. Implementations must be safe for concurrent use. A
// duplicate submission returns the previously issued SCT together with an
// AlreadyExists error; callers treat that combination as success.
type Frontend interface {
	QueueX509Entry(ctx context.Context, entry *LogEntry) (*ct.SignedCertificateTimestamp, error)
	QueuePrecertEntry(ctx context.Context, entry *LogEntry) (*ct.SignedCertificateTimestamp, error)
	QueueSignedDataEntry(ctx context.Context, entry *LogEntry) (*ct.SignedCertificateTimestamp, error)
}

// LogLookup serves the signed state of the log: the latest tree head and
// Merkle proofs against it.
type LogLookup interface {
	// GetSTH returns the most recent signed tree head.
	GetSTH(ctx context.Context) (*ct.SignedTreeHead, error)
	// AuditProof returns the leaf index and inclusion proof for the leaf
	// hash in the tree of the given size.
	AuditProof(ctx context.Context, leafHash []byte, treeSize uint64) (int64, [][]byte, error)
	// ConsistencyProof returns the proof between the two tree sizes; the
	// proof may be empty.
	ConsistencyProof(ctx context.Context, first, second uint64) ([][]byte, error)
}

// Proxy forwards a request to a fresh peer node and relays the peer's
// response verbatim.
type Proxy interface {
	ProxyRequest(w http.ResponseWriter, r *http.Request)
}

// SCTCache remembers recently issued SCTs by entry identity so duplicate
// submissions can be answered without another round trip to the frontend.
type SCTCache interface {
	Get(key [sha256.Size]byte) (*ct.SignedCertificateTimestamp, bool)
	Set(key [sha256.Size]byte, sct *ct.SignedCertificateTimestamp)
}

// LeafEntry is one record of a get-entries response. SCT is only populated
// for the non-standard include_scts=true form used between log nodes.
type LeafEntry struct {
	LeafInput []byte `json:"leaf_input"`
	ExtraData []byte `json:"extra_data"`
	SCT       []byte `json:"sct,omitempty"`
}

// GetEntriesResponse is the get-entries response body.
type GetEntriesResponse struct {
	Entries []LeafEntry `json:"entries"`
}

// AppHandler binds an instance to a handler function at one path so it can
// be used as an http.Handler. The handler function either sends its own
// response and returns the status it sent with a nil error, or returns the
// status and error for the error reply.
type AppHandler struct {
	Inst    *Instance
	Handler func(context.Context, *Instance, http.ResponseWriter, *http.Request) (int, error)
	Name    string
	Method  string
}

// ServeHTTP runs the method guard and the handler prologue on the serving
// goroutine; handlers offload the heavy parts to the worker pool
// themselves.
func (a AppHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	inst := a.Inst
	rl := inst.opts.RequestLog
	rl.Start(r.Context())

	if r.Method != a.Method {
		sendHTTPError(inst, w, http.StatusMethodNotAllowed, errors.New("Method not allowed."))
		rl.Status(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if inst.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inst.opts.Deadline)
		defer cancel()
	}

	statusCode, err := a.Handler(ctx, inst, w, r)
	if err != nil {
		klog.V(1).Infof("%s: %v", a.Name, err)
		sendHTTPError(inst, w, statusCode, err)
	}
	rl.Status(statusCode)
}

// reply is the outcome of a task run on the worker pool. Workers never
// touch the ResponseWriter; the serving goroutine encodes the reply.
type reply struct {
	status int
	body   interface{}
	err    error
}

func okReply(body interface{}) reply {
	return reply{status: http.StatusOK, body: body}
}

func errorReply(err error) reply {
	return reply{status: httpStatusForError(err), err: err}
}

// httpStatusForError maps the RPC code taxonomy onto CT's HTTP statuses.
func httpStatusForError(err error) int {
	switch status.Code(err) {
	case codes.OK, codes.AlreadyExists:
		return http.StatusOK
	case codes.ResourceExhausted:
		return http.StatusServiceUnavailable
	case codes.Internal, codes.Unknown:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// dispatch runs f on the worker pool and waits for its reply. If the
// request is cancelled first the handler unblocks immediately; the worker
// still completes f against the cancelled context and drops the last
// reference to the submission when it returns.
func (inst *Instance) dispatch(ctx context.Context, f func(context.Context) reply) reply {
	ch := make(chan reply, 1)
	inst.pool.Add(func() { ch <- f(ctx) })
	select {
	case rpl := <-ch:
		return rpl
	case <-ctx.Done():
		return reply{status: http.StatusServiceUnavailable, err: ctx.Err()}
	}
}

// writeReply encodes a worker reply onto the wire.
func writeReply(inst *Instance, w http.ResponseWriter, rpl reply) (int, error) {
	if rpl.err != nil {
		return rpl.status, rpl.err
	}
	if err := writeJSON(w, rpl.status, rpl.body); err != nil {
		return http.StatusInternalServerError, err
	}
	return rpl.status, nil
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		// The client is gone; nothing more to do.
		klog.V(1).Infof("failed to write response: %v", err)
	}
	return nil
}

// sendHTTPError writes an error reply. Internal error detail is masked when
// the instance is configured to do so; backend detail never includes more
// than a short summary in any case.
func sendHTTPError(inst *Instance, w http.ResponseWriter, statusCode int, err error) {
	body := http.StatusText(statusCode)
	if !inst.opts.MaskInternalErrors || statusCode != http.StatusInternalServerError {
		body += fmt.Sprintf("\n%v", errorMessage(err))
	}
	http.Error(w, body, statusCode)
}

// errorMessage strips the RPC status wrapper so clients see the message
// alone.
func errorMessage(err error) string {
	if s, ok := status.FromError(err); ok {
		return s.Message()
	}
	return err.Error()
}

// Query string helpers. A parameter supplied more than once is treated the
// same as a missing one: requests must be unambiguous.

func parseQuery(r *http.Request) url.Values {
	q, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return url.Values{}
	}
	return q
}

func getParam(q url.Values, name string) (string, bool) {
	vals := q[name]
	if len(vals) != 1 {
		return "", false
	}
	return vals[0], true
}

// getIntParam returns -1 when the parameter is missing, duplicated, not a
// number, or overflows, so it is only usable for non-negative parameters.
func getIntParam(q url.Values, name string) int64 {
	v, ok := getParam(q, name)
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func getBoolParam(q url.Values, name string) bool {
	v, ok := getParam(q, name)
	return ok && v == "true"
}

// Body decoders.

func parseChainBody(r *http.Request, rl RequestLog) ([]*x509.Certificate, error) {
	var req ct.AddChainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.New("Unable to parse provided JSON.")
	}
	chain := make([]*x509.Certificate, 0, len(req.Chain))
	for _, der := range req.Chain {
		rl.AddDERToChain(der)
		cert, err := x509.ParseCertificate(der)
		if x509.IsFatal(err) {
			return nil, errors.New("Unable to parse provided chain.")
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

type addSignedDataRequest struct {
	KeyID     *string `json:"keyid"`
	Signature *string `json:"signature"`
	Data      *string `json:"data"`
}

func parseSignedDataBody(r *http.Request) (*SignedData, error) {
	var req addSignedDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.New("Unable to parse provided JSON.")
	}
	if req.KeyID == nil || req.Signature == nil || req.Data == nil {
		return nil, errors.New("Unable to parse provided JSON.")
	}
	var data SignedData
	var err error
	if data.KeyID, err = base64.StdEncoding.DecodeString(*req.KeyID); err != nil {
		return nil, errors.New("Unable to parse provided JSON.")
	}
	if data.Signature, err = base64.StdEncoding.DecodeString(*req.Signature); err != nil {
		return nil, errors.New("Unable to parse provided JSON.")
	}
	if data.Data, err = base64.StdEncoding.DecodeString(*req.Data); err != nil {
		return nil, errors.New("Unable to parse provided JSON.")
	}
	return &data, nil
}

// Write endpoints.

func addChain(ctx context.Context, inst *Instance, w http.ResponseWriter, r *http.Request) (int, error) {
	return addChainInternal(ctx, inst, w, r, false)
}

func addPreChain(ctx context.Context, inst *Instance, w http.ResponseWriter, r *http.Request) (int, error) {
	return addChainInternal(ctx, inst, w, r, true)
}

func addChainInternal(ctx context.Context, inst *Instance, w http.ResponseWriter, r *http.Request, isPrecert bool) (int, error) {
	chain, err := parseChainBody(r, inst.opts.RequestLog)
	if err != nil {
		return http.StatusBadRequest, err
	}

	rpl := inst.dispatch(ctx, func(ctx context.Context) reply {
		var entry LogEntry
		var perr error
		if isPrecert {
			perr = inst.submission.ProcessPreCertSubmission(chain, &entry)
		} else {
			perr = inst.submission.ProcessX509Submission(chain, &entry)
		}
		if perr != nil {
			return errorReply(perr)
		}
		for _, cert := range chain {
			inst.opts.RequestLog.AddCertToChain(cert)
		}

		queue := inst.opts.Frontend.QueueX509Entry
		if isPrecert {
			queue = inst.opts.Frontend.QueuePrecertEntry
		}
		return inst.queueAndReply(ctx, &entry, queue)
	})
	return writeReply(inst, w, rpl)
}

func addSignedData(ctx context.Context, inst *Instance, w http.ResponseWriter, r *http.Request) (int, error) {
	data, err := parseSignedDataBody(r)
	if err != nil {
		return http.StatusBadRequest, err
	}

	rpl := inst.dispatch(ctx, func(ctx context.Context) reply {
		var entry LogEntry
		if perr := inst.submission.ProcessSignedDataSubmission(data, &entry); perr != nil {
			return errorReply(perr)
		}
		return inst.queueAndReply(ctx, &entry, inst.opts.Frontend.QueueSignedDataEntry)
	})
	return writeReply(inst, w, rpl)
}

// queueAndReply hands a validated entry to the signing frontend and builds
// the SCT reply, consulting the dedup cache on the way.
func (inst *Instance) queueAndReply(ctx context.Context, entry *LogEntry, queue func(context.Context, *LogEntry) (*ct.SignedCertificateTimestamp, error)) reply {
	var cacheKey [sha256.Size]byte
	haveKey := false
	if inst.opts.SCTCache != nil {
		if id, err := IdentityHash(entry); err == nil {
			cacheKey = sha256.Sum256(id)
			haveKey = true
			if sct, ok := inst.opts.SCTCache.Get(cacheKey); ok {
				return sctReply(sct)
			}
		}
	}

	sct, err := queue(ctx, entry)
	if err != nil && status.Code(err) != codes.AlreadyExists {
		klog.V(1).Infof("error adding entry: %v", err)
		return errorReply(err)
	}
	if sct == nil {
		return reply{status: http.StatusInternalServerError, err: errors.New("no SCT issued for entry")}
	}
	if haveKey {
		inst.opts.SCTCache.Set(cacheKey, sct)
	}
	return sctReply(sct)
}

func sctReply(sct *ct.SignedCertificateTimestamp) reply {
	sig, err := tls.Marshal(sct.Signature)
	if err != nil {
		return reply{status: http.StatusInternalServerError, err: fmt.Errorf("failed to marshal SCT signature: %v", err)}
	}
	return okReply(ct.AddChainResponse{
		SCTVersion: sct.SCTVersion,
		ID:         sct.LogID.KeyID[:],
		Timestamp:  sct.Timestamp,
		Extensions: base64.StdEncoding.EncodeToString(sct.Extensions),
		Signature:  sig,
	})
}

// Read endpoints.

func getSTH(ctx context.Context, inst *Instance, w http.ResponseWriter, r *http.Request) (int, error) {
	sth, err := inst.opts.LogLookup.GetSTH(ctx)
	if err != nil {
		return http.StatusInternalServerError, fmt.Errorf("tree head not available: %v", errorMessage(err))
	}
	sig, err := tls.Marshal(sth.TreeHeadSignature)
	if err != nil {
		return http.StatusInternalServerError, fmt.Errorf("failed to marshal tree head signature: %v", err)
	}
	return writeReply(inst, w, okReply(ct.GetSTHResponse{
		TreeSize:          sth.TreeSize,
		Timestamp:         sth.Timestamp,
		SHA256RootHash:    sth.SHA256RootHash[:],
		TreeHeadSignature: sig,
	}))
}

func getRoots(ctx context.Context, inst *Instance, w http.ResponseWriter, r *http.Request) (int, error) {
	roots := inst.submission.Roots()
	resp := ct.GetRootsResponse{Certificates: make([]string, 0, len(roots))}
	for _, cert := range roots {
		if len(cert.Raw) == 0 {
			return http.StatusInternalServerError, errors.New("Serialisation failed.")
		}
		resp.Certificates = append(resp.Certificates, base64.StdEncoding.EncodeToString(cert.Raw))
	}
	return writeReply(inst, w, okReply(resp))
}

func getEntries(ctx context.Context, inst *Instance, w http.ResponseWriter, r *http.Request) (int, error) {
	q := parseQuery(r)

	start := getIntParam(q, "start")
	if start < 0 {
		return http.StatusBadRequest, errors.New(`Missing or invalid "start" parameter.`)
	}
	end := getIntParam(q, "end")
	if end < start {
		return http.StatusBadRequest, errors.New(`Missing or invalid "end" parameter.`)
	}
	// Cap the number of entries returned in a single response.
	if max := inst.opts.MaxLeafEntriesPerResponse; end-start >= max {
		end = start + max - 1
	}
	// Non-standard parameter used between log nodes when following each
	// other's data.
	includeSCTs := getBoolParam(q, "include_scts")

	inst.opts.RequestLog.StartAndEnd(start, end)

	rpl := inst.dispatch(ctx, func(ctx context.Context) reply {
		return blockingGetEntries(ctx, inst, start, end, includeSCTs)
	})
	return writeReply(inst, w, rpl)
}

func blockingGetEntries(ctx context.Context, inst *Instance, start, end int64, includeSCTs bool) reply {
	it, err := inst.opts.Storage.ScanEntries(ctx, start)
	if err != nil {
		return reply{status: http.StatusInternalServerError, err: fmt.Errorf("database scan failed: %v", err)}
	}
	defer func() {
		if err := it.Close(); err != nil {
			klog.Warningf("failed to close entry iterator: %v", err)
		}
	}()

	var entries []LeafEntry
	for i := start; i <= end; i++ {
		e, err := it.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				if len(entries) == 0 {
					return reply{status: http.StatusInternalServerError, err: fmt.Errorf("database scan failed: %v", err)}
				}
				klog.Warningf("entry scan truncated at %d: %v", i, err)
			}
			break
		}
		// A gap or out-of-order record truncates the scan at that point.
		if e.Sequence != i {
			break
		}
		le := LeafEntry{LeafInput: e.LeafInput, ExtraData: e.ExtraData}
		if includeSCTs {
			le.SCT = e.SCT
		}
		entries = append(entries, le)
	}

	if len(entries) == 0 {
		return reply{status: http.StatusBadRequest, err: errors.New("Entry not found.")}
	}
	return okReply(GetEntriesResponse{Entries: entries})
}

func getProofByHash(ctx context.Context, inst *Instance, w http.ResponseWriter, r *http.Request) (int, error) {
	q := parseQuery(r)

	hashB64, ok := getParam(q, "hash")
	if !ok {
		return http.StatusBadRequest, errors.New(`Missing or invalid "hash" parameter.`)
	}
	hash, err := base64.StdEncoding.DecodeString(hashB64)
	if err != nil || len(hash) == 0 {
		return http.StatusBadRequest, errors.New(`Invalid "hash" parameter.`)
	}

	sth, err := inst.opts.LogLookup.GetSTH(ctx)
	if err != nil {
		return http.StatusInternalServerError, fmt.Errorf("tree head not available: %v", errorMessage(err))
	}
	treeSize := getIntParam(q, "tree_size")
	if treeSize < 0 || uint64(treeSize) > sth.TreeSize {
		return http.StatusBadRequest, errors.New(`Missing or invalid "tree_size" parameter.`)
	}

	inst.opts.RequestLog.LeafHash(hash)
	inst.opts.RequestLog.TreeSize(treeSize)

	rpl := inst.dispatch(ctx, func(ctx context.Context) reply {
		leafIndex, path, err := inst.opts.LogLookup.AuditProof(ctx, hash, uint64(treeSize))
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return reply{status: http.StatusBadRequest, err: errors.New("Couldn't find hash.")}
			}
			return reply{status: httpStatusForError(err), err: fmt.Errorf("failed to build inclusion proof: %v", errorMessage(err))}
		}
		inst.opts.RequestLog.LeafIndex(leafIndex)
		return okReply(ct.GetProofByHashResponse{LeafIndex: leafIndex, AuditPath: path})
	})
	return writeReply(inst, w, rpl)
}

func getSTHConsistency(ctx context.Context, inst *Instance, w http.ResponseWriter, r *http.Request) (int, error) {
	q := parseQuery(r)

	first := getIntParam(q, "first")
	if first < 0 {
		return http.StatusBadRequest, errors.New(`Missing or invalid "first" parameter.`)
	}
	second := getIntParam(q, "second")
	if second < first {
		return http.StatusBadRequest, errors.New(`Missing or invalid "second" parameter.`)
	}

	inst.opts.RequestLog.FirstAndSecond(first, second)

	rpl := inst.dispatch(ctx, func(ctx context.Context) reply {
		proof, err := inst.opts.LogLookup.ConsistencyProof(ctx, uint64(first), uint64(second))
		if err != nil {
			return reply{status: httpStatusForError(err), err: fmt.Errorf("failed to build consistency proof: %v", errorMessage(err))}
		}
		if proof == nil {
			proof = [][]byte{}
		}
		return okReply(ct.GetSTHConsistencyResponse{Consistency: proof})
	})
	return writeReply(inst, w, rpl)
}
