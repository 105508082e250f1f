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

// Package cache remembers recently issued SCTs so a node can answer
// duplicate submissions without bothering the signing frontend again.
package cache

import (
	"crypto/sha256"
	"time"

	ct "github.com/google/certificate-transparency-go"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Option configures an SCT cache.
type Option struct {
	Size int
	TTL  time.Duration
}

// SCTCache is an LRU of issued SCTs keyed by entry identity hash. Entries
// expire so a restarted or catching-up cluster never serves ancient
// timestamps from here.
type SCTCache struct {
	lru *expirable.LRU[[sha256.Size]byte, *ct.SignedCertificateTimestamp]
}

// NewSCTCache builds a cache; a nil return means caching is disabled.
func NewSCTCache(opt Option) *SCTCache {
	if opt.Size <= 0 {
		return nil
	}
	return &SCTCache{lru: expirable.NewLRU[[sha256.Size]byte, *ct.SignedCertificateTimestamp](opt.Size, nil, opt.TTL)}
}

// Get returns the cached SCT for the key, if any.
func (c *SCTCache) Get(key [sha256.Size]byte) (*ct.SignedCertificateTimestamp, bool) {
	return c.lru.Get(key)
}

// Set records the SCT issued for the key.
func (c *SCTCache) Set(key [sha256.Size]byte, sct *ct.SignedCertificateTimestamp) {
	c.lru.Add(key, sct)
}
