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

// Package mysql implements the entry source over a MySQL database.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"io"

	_ "github.com/go-sql-driver/mysql"
	"k8s.io/klog/v2"

	"github.com/google/ct-log-front/ctfront/storage"
)

const selectEntriesSQL = "SELECT e.Sequence, e.LeafInput, e.ExtraData, e.Sct FROM LogEntry AS e WHERE e.Sequence >= ? ORDER BY e.Sequence"

// EntrySource reads sequenced log entries from MySQL.
type EntrySource struct {
	db *sql.DB
}

// NewEntrySource opens the database behind the given data source name.
func NewEntrySource(ctx context.Context, dataSourceName string) (*EntrySource, error) {
	db, err := sql.Open("mysql", dataSourceName)
	if err != nil {
		// Don't log the data source name, it can contain credentials.
		klog.Warningf("could not open MySQL database, check config: %v", err)
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "SET sql_mode = 'STRICT_ALL_TABLES'"); err != nil {
		klog.Warningf("failed to set strict mode on mysql db: %v", err)
		return nil, err
	}
	return &EntrySource{db: db}, nil
}

// NewEntrySourceFromDB wraps an already-open handle; used by tests.
func NewEntrySourceFromDB(db *sql.DB) *EntrySource {
	return &EntrySource{db: db}
}

// ScanEntries starts a sequence-ordered scan at the given sequence number.
func (s *EntrySource) ScanEntries(ctx context.Context, start int64) (storage.Iterator, error) {
	rows, err := s.db.QueryContext(ctx, selectEntriesSQL, start)
	if err != nil {
		return nil, err
	}
	return &iterator{rows: rows}, nil
}

type iterator struct {
	rows *sql.Rows
}

func (it *iterator) Next(ctx context.Context) (*storage.Entry, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var e storage.Entry
	if err := it.rows.Scan(&e.Sequence, &e.LeafInput, &e.ExtraData, &e.SCT); err != nil {
		return nil, err
	}
	return &e, nil
}

func (it *iterator) Close() error {
	if err := it.rows.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}
