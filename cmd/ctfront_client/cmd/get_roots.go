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

	"github.com/google/certificate-transparency-go/x509"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var textOut bool

func init() {
	cmd := &cobra.Command{
		Use:     "get-roots",
		Aliases: []string{"getroots", "roots"},
		Short:   "Fetch the root certificates accepted by the log node",
		Args:    cobra.MaximumNArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			runGetRoots(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&textOut, "text", true, "Display certificate subjects rather than PEM")
	rootCmd.AddCommand(cmd)
}

func runGetRoots(ctx context.Context) {
	logClient := connect(ctx)
	roots, err := logClient.GetAcceptedRoots(ctx)
	if err != nil {
		exitWithDetails(err)
	}
	for _, root := range roots {
		if textOut {
			cert, err := x509.ParseCertificate(root.Data)
			if x509.IsFatal(err) {
				klog.Errorf("Failed to parse root: %v", err)
				continue
			}
			fmt.Printf("%s\n", cert.Subject.String())
			continue
		}
		if err := pem.Encode(os.Stdout, &pem.Block{Type: "CERTIFICATE", Bytes: root.Data}); err != nil {
			klog.Errorf("Failed to PEM encode root: %v", err)
		}
	}
}
