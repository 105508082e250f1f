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

// Package postgresql implements the entry source over a PostgreSQL
// database.
package postgresql

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"k8s.io/klog/v2"

	"github.com/google/ct-log-front/ctfront/storage"
)

const selectEntriesSQL = "SELECT e.sequence, e.leaf_input, e.extra_data, e.sct FROM log_entry AS e WHERE e.sequence >= $1 ORDER BY e.sequence"

// EntrySource reads sequenced log entries from PostgreSQL.
type EntrySource struct {
	pool *pgxpool.Pool
}

// NewEntrySource opens a connection pool for the given connection string.
func NewEntrySource(ctx context.Context, connString string) (*EntrySource, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		// Don't log the connection string, it can contain credentials.
		klog.Warningf("could not open PostgreSQL pool, check config: %v", err)
		return nil, err
	}
	return &EntrySource{pool: pool}, nil
}

// ScanEntries starts a sequence-ordered scan at the given sequence number.
func (s *EntrySource) ScanEntries(ctx context.Context, start int64) (storage.Iterator, error) {
	rows, err := s.pool.Query(ctx, selectEntriesSQL, start)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
			return nil, fmt.Errorf("entry table missing, database not provisioned: %w", err)
		}
		return nil, err
	}
	return &iterator{rows: rows}, nil
}

type iterator struct {
	rows pgx.Rows
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
	it.rows.Close()
	return nil
}
