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

package mysql

import (
	"context"
	"errors"
	"io"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestScanEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer func() {
		mock.ExpectClose()
		if err := db.Close(); err != nil {
			t.Errorf("failed to close db: %v", err)
		}
	}()

	rows := sqlmock.NewRows([]string{"Sequence", "LeafInput", "ExtraData", "Sct"}).
		AddRow(3, []byte("leaf-3"), []byte("extra-3"), []byte("sct-3")).
		AddRow(4, []byte("leaf-4"), []byte("extra-4"), nil)
	mock.ExpectQuery("SELECT e.Sequence, e.LeafInput, e.ExtraData, e.Sct FROM LogEntry").
		WithArgs(int64(3)).
		WillReturnRows(rows)

	src := NewEntrySourceFromDB(db)
	ctx := context.Background()
	it, err := src.ScanEntries(ctx, 3)
	if err != nil {
		t.Fatalf("ScanEntries()=_,%v; want _,nil", err)
	}
	defer func() {
		if err := it.Close(); err != nil {
			t.Errorf("Close()=%v; want nil", err)
		}
	}()

	first, err := it.Next(ctx)
	if err != nil {
		t.Fatalf("Next()=_,%v; want _,nil", err)
	}
	if first.Sequence != 3 || string(first.LeafInput) != "leaf-3" || string(first.SCT) != "sct-3" {
		t.Errorf("first entry=%+v; want sequence 3 with leaf-3/sct-3", first)
	}

	second, err := it.Next(ctx)
	if err != nil {
		t.Fatalf("Next()=_,%v; want _,nil", err)
	}
	if second.Sequence != 4 || second.SCT != nil {
		t.Errorf("second entry=%+v; want sequence 4 with no SCT", second)
	}

	if _, err := it.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Next() at end=%v; want io.EOF", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

func TestScanEntriesQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer func() {
		mock.ExpectClose()
		if err := db.Close(); err != nil {
			t.Errorf("failed to close db: %v", err)
		}
	}()

	mock.ExpectQuery("SELECT e.Sequence").WillReturnError(errors.New("table gone"))

	src := NewEntrySourceFromDB(db)
	if _, err := src.ScanEntries(context.Background(), 0); err == nil {
		t.Error("ScanEntries()=_,nil; want error")
	}
}
