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
	"encoding/pem"
	"fmt"
	"os"

	ct "github.com/google/certificate-transparency-go"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	chainFile string
	preCert   bool
)

func init() {
	cmd := &cobra.Command{
		Use:     "upload --cert_chain <file>",
		Aliases: []string{"add-chain"},
		Short:   "Submit a certificate chain and show the returned SCT",
		Args:    cobra.MaximumNArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			runUpload(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&chainFile, "cert_chain", "", "Name of file containing the PEM certificate chain, leaf first")
	cmd.Flags().BoolVar(&preCert, "precert", false, "Submit as a pre-certificate chain")
	rootCmd.AddCommand(cmd)
}

func readFileOrDie(filename string) string {
	data, err := os.ReadFile(filename)
	if err != nil {
		klog.Exitf("Failed to read %s: %v", filename, err)
	}
	return string(data)
}

func chainFromPEMFile(filename string) []ct.ASN1Cert {
	data := []byte(readFileOrDie(filename))
	var chain []ct.ASN1Cert
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		chain = append(chain, ct.ASN1Cert{Data: block.Bytes})
	}
	if len(chain) == 0 {
		klog.Exitf("No certificates found in %s", filename)
	}
	return chain
}

func runUpload(ctx context.Context) {
	if len(chainFile) == 0 {
		klog.Exit("Need a --cert_chain to upload")
	}
	chain := chainFromPEMFile(chainFile)

	logClient := connect(ctx)
	var sct *ct.SignedCertificateTimestamp
	var err error
	if preCert {
		sct, err = logClient.AddPreChain(ctx, chain)
	} else {
		sct, err = logClient.AddChain(ctx, chain)
	}
	if err != nil {
		exitWithDetails(err)
	}

	when := ct.TimestampToTime(sct.Timestamp)
	fmt.Printf("Uploaded chain of %d certs to %v log at %v, timestamp: %d (%v)\n", len(chain), sct.SCTVersion, logClient.BaseURI(), sct.Timestamp, when)
	fmt.Printf("LogID: %x\n", sct.LogID.KeyID[:])
	fmt.Printf("%v\n", signatureToString(&sct.Signature))
}
