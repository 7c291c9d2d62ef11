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

package data

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/extentfs/extentfs/proto"
	"github.com/extentfs/extentfs/util/log"
)

var readerRetryCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "extentfs_reader_replica_rotations_total",
	Help: "Total number of times an extent reader rotated to the next replica after a read failure.",
})

func init() {
	prometheus.MustRegister(readerRetryCounter)
}

const readRecvTimeout = 10 * time.Second

// reader services reads against one extent key, rotating through the
// key's data partition replicas on failure. Grounded on
// nyl1001-cubefs/sdk/data/extent_reader.go's Read/read split, with
// Fallonma-cubefs's handler recovery shape informing the rotation
// policy: on failure move to (hostIndex+1) % replicaCount rather than
// giving up after one replica.
type reader struct {
	inode        uint64
	key          proto.ExtentKey
	dp           *DataPartition
	wrapper      *Wrapper
	followerRead bool
	nearRead     bool

	hostIndex int
}

func newReader(inode uint64, key proto.ExtentKey, dp *DataPartition, wrapper *Wrapper, followerRead, nearRead bool) *reader {
	return &reader{inode: inode, key: key, dp: dp, wrapper: wrapper, followerRead: followerRead, nearRead: nearRead}
}

// Read fills buf[:n] from the extent key's [fileOffset,
// fileOffset+len(buf)) sub-range, rotating across replicas on failure
// until every host in the partition has been tried once or
// proto.RequestRetryMax attempts have been made, whichever comes first.
func (r *reader) Read(fileOffset uint64, buf []byte) (int, error) {
	hosts := r.orderedHosts()
	if len(hosts) == 0 {
		return 0, fmt.Errorf("data: extent %v has no replica hosts", r.key.ExtentID)
	}

	offsetInExtent := int64(fileOffset-r.key.FileOffset) + int64(r.key.ExtentOffset)

	maxAttempts := len(hosts)
	if maxAttempts > proto.RequestRetryMax {
		maxAttempts = proto.RequestRetryMax
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		idx := (r.hostIndex + attempt) % len(hosts)
		host := hosts[idx]
		n, err := r.readFromHost(host, offsetInExtent, buf)
		if err == nil {
			r.hostIndex = idx
			if attempt > 0 {
				if hi := r.dp.hostIndex(host); hi >= 0 {
					if serr := r.wrapper.SetLeader(r.dp.PartitionID, hi); serr != nil {
						log.LogWarnf("data: set leader for partition %v to %v: %v", r.dp.PartitionID, host, serr)
					}
				}
			}
			return n, nil
		}
		lastErr = err
		readerRetryCounter.Inc()
		log.LogWarnf("data: read extent %v from %v failed: %v, rotating replica", r.key.ExtentID, host, err)
	}
	return 0, fmt.Errorf("data: extent %v exhausted %d of %d replicas, last error: %v: %w", r.key.ExtentID, maxAttempts, len(hosts), lastErr, proto.ErrIO)
}

// orderedHosts returns the replica set to try, leader-first unless
// followerRead or nearRead prefer a different ordering.
func (r *reader) orderedHosts() []string {
	if r.nearRead && len(r.dp.NearHosts) > 0 {
		return r.dp.NearHosts
	}
	if r.followerRead {
		hosts := make([]string, 0, len(r.dp.Hosts))
		for _, h := range r.dp.Hosts {
			if h != r.dp.LeaderAddr {
				hosts = append(hosts, h)
			}
		}
		hosts = append(hosts, r.dp.LeaderAddr)
		return hosts
	}
	hosts := make([]string, 0, len(r.dp.Hosts))
	hosts = append(hosts, r.dp.LeaderAddr)
	for _, h := range r.dp.Hosts {
		if h != r.dp.LeaderAddr {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func (r *reader) readFromHost(host string, offsetInExtent int64, buf []byte) (int, error) {
	sess, err := r.wrapper.dialHost(host)
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	req := proto.NewPacket()
	req.Opcode = proto.OpRead
	req.PartitionID = r.key.PartitionID
	req.ExtentID = r.key.ExtentID
	req.ExtentOffset = offsetInExtent
	req.KernelOffset = 0
	req.Size = uint32(len(buf))

	resp, err := sess.Send(req, readRecvTimeout)
	if err != nil {
		return 0, err
	}
	if resp.IsErrPacket() {
		return 0, fmt.Errorf("data: read rejected by %v: %v", host, resp.GetResultMsg())
	}
	if resp.CRC != 0 && resp.CRC != proto.CRC32(resp.Data) {
		return 0, fmt.Errorf("data: crc mismatch reading extent %v from %v", r.key.ExtentID, host)
	}
	n := copy(buf, resp.Data)
	return n, nil
}
