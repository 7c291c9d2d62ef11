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

package meta

import (
	"time"

	"github.com/extentfs/extentfs/proto"
	"github.com/extentfs/extentfs/sdk/master"
	"github.com/extentfs/extentfs/util/buf"
	"github.com/extentfs/extentfs/util/connpool"
	"github.com/extentfs/extentfs/util/log"
)

const refreshInterval = 60 * time.Second

// masterAPI is the slice of *master.MasterClient the meta wrapper
// depends on, narrowed to an interface so tests can substitute a
// gomock-generated double instead of running a real master HTTP
// server, per the pack's gomock usage in
// Fallonma-cubefs/blobstore/access/controller_mock_test.go.
type masterAPI interface {
	GetMetaPartitions(volName string) (*proto.MetaPartitionsView, error)
}

// Wrapper owns the volume's meta partition directory, refreshing it
// periodically from the master and routing requests to the partition
// that owns a given inode id.
type Wrapper struct {
	volName string
	owner   string
	mc      masterAPI

	table   partitionTable
	conns   *connpool.Pool
	bufPool *buf.Pool

	stopCh chan struct{}
}

// NewWrapper fetches the volume's initial partition directory and
// starts the background refresh loop.
func NewWrapper(volName, owner string, mc *master.MasterClient) (*Wrapper, error) {
	w := &Wrapper{
		volName: volName,
		owner:   owner,
		mc:      mc,
		conns:   connpool.New(),
		bufPool: buf.NewPool(),
		stopCh:  make(chan struct{}),
	}
	if err := w.refresh(); err != nil {
		return nil, err
	}
	go w.refreshLoop()
	return w, nil
}

func (w *Wrapper) refresh() error {
	view, err := w.mc.GetMetaPartitions(w.volName)
	if err != nil {
		return err
	}
	parts := make([]*Partition, 0, len(view.MetaPartitions))
	for _, mp := range view.MetaPartitions {
		leader := mp.LeaderAddr
		if leader == "" && len(mp.Members) > 0 {
			leader = mp.Members[0]
		}
		parts = append(parts, newPartition(mp.PartitionID, mp.Start, mp.End, mp.Members, leader))
	}
	w.table.replace(parts)
	log.LogDebugf("meta: refreshed %d partitions for volume %s", len(parts), w.volName)
	return nil
}

func (w *Wrapper) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.refresh(); err != nil {
				log.LogWarnf("meta: refresh failed: %v", err)
			}
		case <-w.stopCh:
			return
		}
	}
}

// Close stops the refresh loop and releases pooled connections.
func (w *Wrapper) Close() {
	close(w.stopCh)
	w.conns.Close()
}

func (w *Wrapper) partitionFor(ino uint64) (*Partition, error) {
	p := w.table.find(ino)
	if p == nil {
		return nil, proto.ErrInodeNotExists
	}
	return p, nil
}
