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

// Package cluster tracks the cluster's serving tree head and the freshness
// of the local node and its peers via etcd.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	ct "github.com/google/certificate-transparency-go"
	clientv3 "go.etcd.io/etcd/client/v3"
	"k8s.io/klog/v2"
)

const (
	servingSTHKey = "serving_sth"
	nodesPrefix   = "nodes"

	nodeLeaseTTLSecs = 60
)

// TreeHead is the cluster-visible summary of a node's (or the cluster's)
// tree state.
type TreeHead struct {
	TreeSize  uint64 `json:"tree_size"`
	Timestamp uint64 `json:"timestamp"`
}

// nodeRecord is what every node publishes about itself.
type nodeRecord struct {
	Addr string `json:"addr"`
	TreeHead
}

// behind reports whether h lags other.
func (h TreeHead) behind(other TreeHead) bool {
	if h.TreeSize != other.TreeSize {
		return h.TreeSize < other.TreeSize
	}
	return h.Timestamp < other.Timestamp
}

// LocalSTH returns the node's own latest tree head, or nil if it has none
// yet.
type LocalSTH func() *ct.SignedTreeHead

// Controller reports this node's freshness against the cluster's serving
// tree head and knows which peers are fresh.
type Controller interface {
	// NodeIsStale reports whether the local node lags the serving tree.
	NodeIsStale() bool
	// FreshNodes lists the addresses of peers able to serve the current
	// tree.
	FreshNodes() []string
}

// EtcdController is a Controller backed by watches on an etcd keyspace:
// the elected master maintains <prefix>/serving_sth and every node
// maintains <prefix>/nodes/<id> under a lease.
type EtcdController struct {
	client *clientv3.Client
	prefix string
	nodeID string
	addr   string
	local  LocalSTH

	mu         sync.RWMutex
	servingSTH *TreeHead
	nodes      map[string]nodeRecord

	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEtcdController loads the current cluster state synchronously and then
// keeps it fresh with watches until Close.
func NewEtcdController(ctx context.Context, client *clientv3.Client, prefix, nodeID, addr string, local LocalSTH) (*EtcdController, error) {
	c := &EtcdController{
		client: client,
		prefix: prefix,
		nodeID: nodeID,
		addr:   addr,
		local:  local,
		nodes:  make(map[string]nodeRecord),
	}

	lease, err := client.Grant(ctx, nodeLeaseTTLSecs)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain node lease: %v", err)
	}
	c.leaseID = lease.ID
	// The keep-alive stream shares the watches' context so that Close ends
	// it before revoking the lease.
	watchCtx, cancel := context.WithCancel(ctx)
	keepAlive, err := client.KeepAlive(watchCtx, lease.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to keep node lease alive: %v", err)
	}

	if err := c.loadState(ctx); err != nil {
		cancel()
		return nil, err
	}

	c.cancel = cancel
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.watch(watchCtx)
	}()
	go func() {
		defer c.wg.Done()
		// Drain keep-alive responses so the lease stays active.
		for range keepAlive {
		}
	}()

	return c, nil
}

func (c *EtcdController) servingKey() string {
	return path.Join(c.prefix, servingSTHKey)
}

func (c *EtcdController) nodesKey() string {
	return path.Join(c.prefix, nodesPrefix) + "/"
}

func (c *EtcdController) loadState(ctx context.Context) error {
	resp, err := c.client.Get(ctx, c.servingKey())
	if err != nil {
		return fmt.Errorf("failed to fetch serving STH: %v", err)
	}
	if len(resp.Kvs) > 0 {
		c.applyServingSTH(resp.Kvs[0].Value)
	}

	nodes, err := c.client.Get(ctx, c.nodesKey(), clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to fetch node states: %v", err)
	}
	for _, kv := range nodes.Kvs {
		c.applyNode(string(kv.Key), kv.Value)
	}
	return nil
}

func (c *EtcdController) watch(ctx context.Context) {
	serving := c.client.Watch(ctx, c.servingKey())
	nodes := c.client.Watch(ctx, c.nodesKey(), clientv3.WithPrefix())
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-serving:
			if !ok {
				return
			}
			for _, ev := range resp.Events {
				if ev.Type == clientv3.EventTypePut {
					c.applyServingSTH(ev.Kv.Value)
				}
			}
		case resp, ok := <-nodes:
			if !ok {
				return
			}
			for _, ev := range resp.Events {
				switch ev.Type {
				case clientv3.EventTypePut:
					c.applyNode(string(ev.Kv.Key), ev.Kv.Value)
				case clientv3.EventTypeDelete:
					c.removeNode(string(ev.Kv.Key))
				}
			}
		}
	}
}

func (c *EtcdController) applyServingSTH(value []byte) {
	var th TreeHead
	if err := json.Unmarshal(value, &th); err != nil {
		klog.Warningf("ignoring malformed serving STH record: %v", err)
		return
	}
	c.mu.Lock()
	c.servingSTH = &th
	c.mu.Unlock()
	klog.V(1).Infof("cluster serving STH now size=%d timestamp=%d", th.TreeSize, th.Timestamp)
}

func (c *EtcdController) applyNode(key string, value []byte) {
	var rec nodeRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		klog.Warningf("ignoring malformed node record at %s: %v", key, err)
		return
	}
	c.mu.Lock()
	c.nodes[path.Base(key)] = rec
	c.mu.Unlock()
}

func (c *EtcdController) removeNode(key string) {
	c.mu.Lock()
	delete(c.nodes, path.Base(key))
	c.mu.Unlock()
}

// PublishSTH records the local node's latest tree head for the rest of the
// cluster; call it whenever the local STH is refreshed.
func (c *EtcdController) PublishSTH(ctx context.Context, sth *ct.SignedTreeHead) error {
	rec := nodeRecord{
		Addr:     c.addr,
		TreeHead: TreeHead{TreeSize: sth.TreeSize, Timestamp: sth.Timestamp},
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := c.nodesKey() + c.nodeID
	if _, err := c.client.Put(ctx, key, string(value), clientv3.WithLease(c.leaseID)); err != nil {
		return fmt.Errorf("failed to publish node STH: %v", err)
	}
	c.mu.Lock()
	c.nodes[c.nodeID] = rec
	c.mu.Unlock()
	return nil
}

// NodeIsStale compares the local STH against the cluster's serving tree
// head. With no serving head published yet the node counts as fresh.
func (c *EtcdController) NodeIsStale() bool {
	c.mu.RLock()
	serving := c.servingSTH
	c.mu.RUnlock()
	if serving == nil {
		return false
	}
	local := c.local()
	if local == nil {
		return true
	}
	return TreeHead{TreeSize: local.TreeSize, Timestamp: local.Timestamp}.behind(*serving)
}

// FreshNodes lists peers whose published tree head is not behind the
// serving one. The local node is excluded.
func (c *EtcdController) FreshNodes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var fresh []string
	for id, rec := range c.nodes {
		if id == c.nodeID {
			continue
		}
		if c.servingSTH != nil && rec.behind(*c.servingSTH) {
			continue
		}
		fresh = append(fresh, rec.Addr)
	}
	return fresh
}

// Close stops the watches and releases the node's lease so peers drop it
// promptly.
func (c *EtcdController) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.client.Revoke(ctx, c.leaseID)
	return err
}
