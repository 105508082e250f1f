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

// Package storage defines the read-only view of the entry database that
// get-entries scans, and lets log node binaries pick different database
// implementations.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Entry is one sequenced record of the log as stored: the canonical leaf
// and extra-data serializations plus the serialized SCT issued for it.
type Entry struct {
	Sequence  int64
	LeafInput []byte
	ExtraData []byte
	SCT       []byte
}

// Iterator walks entries in sequence order. Next returns io.EOF once the
// scan is exhausted.
type Iterator interface {
	Next(ctx context.Context) (*Entry, error)
	Close() error
}

// EntrySource is a read-only entry database.
type EntrySource interface {
	// ScanEntries starts a scan at the given sequence number.
	ScanEntries(ctx context.Context, start int64) (Iterator, error)
}

// NewEntrySource opens an entry source for a connection string of the form
// driver://datasource, dispatching on the driver name.
func NewEntrySource(ctx context.Context, dbConn string, open map[string]func(context.Context, string) (EntrySource, error)) (EntrySource, error) {
	parts := strings.SplitN(dbConn, "://", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid database connection string %q", dbConn)
	}
	opener, ok := open[parts[0]]
	if !ok {
		return nil, fmt.Errorf("unknown database driver %q", parts[0])
	}
	return opener(ctx, parts[1])
}
