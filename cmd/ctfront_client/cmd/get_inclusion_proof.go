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

package cmd

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"
	"k8s.io/klog/v2"
)

var (
	leafHashB64 string
	treeSize    uint64
)

func init() {
	cmd := &cobra.Command{
		Use:     "get-inclusion-proof --leaf_hash <base64> [--size <tree-size>]",
		Aliases: []string{"getinclusionproof", "inclusion-proof"},
		Short:   "Fetch and verify the inclusion proof for a leaf hash",
		Args:    cobra.MaximumNArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			runGetInclusionProof(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&leafHashB64, "leaf_hash", "", "Base64 of the Merkle leaf hash to prove")
	cmd.Flags().Uint64Var(&treeSize, "size", 0, "Tree size to prove against; defaults to the latest STH's")
	rootCmd.AddCommand(cmd)
}

func runGetInclusionProof(ctx context.Context) {
	logClient := connect(ctx)
	hash, err := base64.StdEncoding.DecodeString(leafHashB64)
	if err != nil || len(hash) != rfc6962.DefaultHasher.Size() {
		klog.Exitf("Invalid --leaf_hash: %v", err)
	}

	sth, err := logClient.GetSTH(ctx)
	if err != nil {
		exitWithDetails(err)
	}
	size := treeSize
	if size == 0 {
		size = sth.TreeSize
	}

	rsp, err := logClient.GetProofByHash(ctx, hash, size)
	if err != nil {
		exitWithDetails(err)
	}
	fmt.Printf("Leaf found at index %d in tree of size %d\n", rsp.LeafIndex, size)
	for i, node := range rsp.AuditPath {
		fmt.Printf("  path[%d]: %x\n", i, node)
	}

	if size != sth.TreeSize {
		klog.Warningf("Not verifying: proof is against size %d but STH covers %d", size, sth.TreeSize)
		return
	}
	if err := proof.VerifyInclusion(rfc6962.DefaultHasher, uint64(rsp.LeafIndex), size, hash, rsp.AuditPath, sth.SHA256RootHash[:]); err != nil {
		klog.Exitf("Inclusion proof FAILED to verify: %v", err)
	}
	fmt.Printf("Inclusion proof verified against root %x\n", sth.SHA256RootHash)
}
