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
	"fmt"

	ct "github.com/google/certificate-transparency-go"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	getFirst int64
	getLast  int64
)

func init() {
	cmd := &cobra.Command{
		Use:     "get-entries --first <index> [--last <index>]",
		Aliases: []string{"getentries", "entries"},
		Short:   "Fetch a range of entries from the log node",
		Args:    cobra.MaximumNArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			runGetEntries(cmd.Context())
		},
	}
	cmd.Flags().Int64Var(&getFirst, "first", -1, "Index of first entry to retrieve")
	cmd.Flags().Int64Var(&getLast, "last", -1, "Index of last entry to retrieve; defaults to --first")
	rootCmd.AddCommand(cmd)
}

func runGetEntries(ctx context.Context) {
	logClient := connect(ctx)
	if getFirst < 0 {
		klog.Exit("Need a --first index to retrieve")
	}
	if getLast < 0 {
		getLast = getFirst
	}

	entries, err := logClient.GetRawEntries(ctx, getFirst, getLast)
	if err != nil {
		exitWithDetails(err)
	}

	for i, rawEntry := range entries.Entries {
		index := getFirst + int64(i)
		entry, err := ct.LogEntryFromLeaf(index, &rawEntry)
		if err != nil {
			klog.Errorf("Failed to parse entry %d: %v", index, err)
			continue
		}
		showEntry(entry)
	}
}

func showEntry(entry *ct.LogEntry) {
	when := ct.TimestampToTime(entry.Leaf.TimestampedEntry.Timestamp)
	switch {
	case entry.X509Cert != nil:
		fmt.Printf("Index=%d Timestamp=%v X.509 certificate:\n", entry.Index, when)
		fmt.Printf("  Subject: %s\n  Issuer: %s\n", entry.X509Cert.Subject.String(), entry.X509Cert.Issuer.String())
	case entry.Precert != nil:
		fmt.Printf("Index=%d Timestamp=%v pre-certificate from issuer with keyhash %x:\n", entry.Index, when, entry.Precert.IssuerKeyHash)
		fmt.Printf("  Subject: %s\n", entry.Precert.TBSCertificate.Subject.String())
	default:
		fmt.Printf("Index=%d Timestamp=%v unrecognized entry type\n", entry.Index, when)
	}
}
