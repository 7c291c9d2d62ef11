// Copyright 2018 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package meta implements the client for the metadata service: inode
// and dentry operations routed to the partition owning the inode's
// id range. Grounded on arvinsg-cubefs/sdk/meta/conn.go (the
// send-with-retry shape) and sdk/meta/api_admin.go (the op-to-struct
// mapping).
package meta

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Partition describes one meta partition's id range and replica set.
type Partition struct {
	PartitionID uint64
	Start       uint64
	End         uint64
	Members     []string

	leaderAddr atomic.Value // string
}

func newPartition(id, start, end uint64, members []string, leader string) *Partition {
	p := &Partition{PartitionID: id, Start: start, End: end, Members: members}
	p.leaderAddr.Store(leader)
	return p
}

// LeaderAddr returns the partition's currently believed leader.
func (p *Partition) LeaderAddr() string {
	v, _ := p.leaderAddr.Load().(string)
	return v
}

// SetLeaderAddr updates the believed leader after a successful
// request against a non-leader replica reveals the real one.
func (p *Partition) SetLeaderAddr(addr string) {
	p.leaderAddr.Store(addr)
}

func (p *Partition) String() string {
	return fmt.Sprintf("partition(%v) range[%v,%v) leader(%v)", p.PartitionID, p.Start, p.End, p.LeaderAddr())
}

// Contains reports whether inode id falls in this partition's range.
func (p *Partition) Contains(ino uint64) bool {
	return ino >= p.Start && ino < p.End
}

// partitionTable is a slice of partitions in the order the master
// listed them, searched linearly to route an inode id to its owning
// partition.
type partitionTable struct {
	mu    sync.RWMutex
	parts []*Partition
}

func (t *partitionTable) replace(parts []*Partition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parts = parts
}

func (t *partitionTable) find(ino uint64) *Partition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.parts {
		if p.Contains(ino) {
			return p
		}
	}
	return nil
}

func (t *partitionTable) any() *Partition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.parts) == 0 {
		return nil
	}
	return t.parts[0]
}

func (t *partitionTable) all() []*Partition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Partition, len(t.parts))
	copy(out, t.parts)
	return out
}
