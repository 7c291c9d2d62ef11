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
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/afex/hystrix-go/hystrix"
	"github.com/go-ping/ping"

	"github.com/extentfs/extentfs/proto"
	"github.com/extentfs/extentfs/sdk/master"
	"github.com/extentfs/extentfs/util/buf"
	"github.com/extentfs/extentfs/util/log"
)

// DataPartition describes one replica set the client may allocate
// extents on or read from, generalized from
// arvinsg-cubefs/sdk/data/data_partition.go's DataPartition type.
type DataPartition struct {
	PartitionID uint64
	Hosts       []string
	LeaderAddr  string
	ReplicaNum  uint8

	NearHosts []string // Hosts ordered by measured RTT, nearest first.
}

// hostIndex returns the position of addr within Hosts, or -1.
func (dp *DataPartition) hostIndex(addr string) int {
	for i, h := range dp.Hosts {
		if h == addr {
			return i
		}
	}
	return -1
}

// circuitName is the hystrix command name isolating one host's
// breaker state from every other host's.
func circuitName(host string) string {
	return "dp-host:" + host
}

func init() {
	hystrix.DefaultMaxConcurrent = 1024
	hystrix.DefaultErrorPercentThreshold = 50
	hystrix.DefaultSleepWindow = 5000
	hystrix.DefaultTimeout = 10000
}

// Wrapper owns a volume's data partition directory, periodically
// refreshed from the master, and RTT-orders each partition's replica
// list using go-ping probes so stream reads prefer the nearest
// replica. Grounded on arvinsg-cubefs/sdk/data/data_partition.go
// (sortByStatus / leader selection) and sdk/data/wrapper.go (directory
// refresh loop).
type Wrapper struct {
	volName string
	mc      *master.MasterClient
	bufPool *buf.Pool
	dial    SessionDialer

	mu         sync.RWMutex
	partitions map[uint64]*DataPartition

	rtt sync.Map // host -> time.Duration

	stopCh   chan struct{}
	closed   int32
}

const dirRefreshInterval = 60 * time.Second

// NewWrapper fetches the volume's initial data partition directory
// and starts the background refresh and RTT-probe loops.
func NewWrapper(volName string, mc *master.MasterClient, dial SessionDialer) (*Wrapper, error) {
	if dial == nil {
		dial = DialTCP
	}
	w := &Wrapper{
		volName:    volName,
		mc:         mc,
		bufPool:    buf.NewPool(),
		dial:       dial,
		partitions: make(map[uint64]*DataPartition),
		stopCh:     make(chan struct{}),
	}
	if err := w.refresh(); err != nil {
		return nil, err
	}
	go w.refreshLoop()
	go w.pingLoop()
	return w, nil
}

func (w *Wrapper) refresh() error {
	view, err := w.mc.GetDataPartitions(w.volName)
	if err != nil {
		return err
	}
	next := make(map[uint64]*DataPartition, len(view.DataPartitions))
	for _, info := range view.DataPartitions {
		dp := &DataPartition{
			PartitionID: info.PartitionID,
			Hosts:       append([]string(nil), info.Hosts...),
			LeaderAddr:  info.LeaderAddr,
			ReplicaNum:  info.ReplicaNum,
		}
		if dp.LeaderAddr == "" && len(dp.Hosts) > 0 {
			dp.LeaderAddr = dp.Hosts[0]
		}
		next[dp.PartitionID] = dp
	}
	w.mu.Lock()
	w.partitions = next
	w.mu.Unlock()
	log.LogDebugf("data: refreshed %d partitions for volume %s", len(next), w.volName)
	return nil
}

func (w *Wrapper) refreshLoop() {
	ticker := time.NewTicker(dirRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.refresh(); err != nil {
				log.LogWarnf("data: partition refresh failed: %v", err)
			}
		case <-w.stopCh:
			return
		}
	}
}

// pingLoop periodically measures RTT to every known host and
// re-sorts each partition's NearHosts, so near-read prefers the
// lowest-latency replica.
func (w *Wrapper) pingLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.probeAll()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Wrapper) probeAll() {
	hosts := w.allHosts()
	for _, h := range hosts {
		host := h
		go func() {
			if d, err := probeRTT(host); err == nil {
				w.rtt.Store(host, d)
			}
		}()
	}
	time.Sleep(2 * time.Second)
	w.reorderNearHosts()
}

func probeRTT(addr string) (time.Duration, error) {
	ipOnly := hostOnly(addr)
	pinger, err := ping.NewPinger(ipOnly)
	if err != nil {
		return 0, err
	}
	pinger.Count = 1
	pinger.Timeout = 500 * time.Millisecond
	pinger.SetPrivileged(false)
	if err := pinger.Run(); err != nil {
		return 0, err
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("data: no reply from %v", addr)
	}
	return stats.AvgRtt, nil
}

func hostOnly(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}

func (w *Wrapper) allHosts() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	seen := make(map[string]bool)
	var hosts []string
	for _, dp := range w.partitions {
		for _, h := range dp.Hosts {
			if !seen[h] {
				seen[h] = true
				hosts = append(hosts, h)
			}
		}
	}
	return hosts
}

func (w *Wrapper) reorderNearHosts() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, dp := range w.partitions {
		hosts := append([]string(nil), dp.Hosts...)
		sort.SliceStable(hosts, func(i, j int) bool {
			di, _ := w.rtt.Load(hosts[i])
			dj, _ := w.rtt.Load(hosts[j])
			idi, _ := di.(time.Duration)
			idj, _ := dj.(time.Duration)
			if idi == 0 {
				return false
			}
			if idj == 0 {
				return true
			}
			return idi < idj
		})
		dp.NearHosts = hosts
	}
}

// Get returns the partition by id.
func (w *Wrapper) Get(id uint64) (*DataPartition, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	dp, ok := w.partitions[id]
	if !ok {
		return nil, proto.ErrPartitionUnavail
	}
	return dp, nil
}

// PickWritable returns a random writable partition, the allocation
// policy used when an extent stream needs a fresh extent.
func (w *Wrapper) PickWritable() (*DataPartition, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.partitions) == 0 {
		return nil, proto.ErrPartitionUnavail
	}
	idx := rand.Intn(len(w.partitions))
	i := 0
	for _, dp := range w.partitions {
		if i == idx {
			return dp, nil
		}
		i++
	}
	return nil, proto.ErrPartitionUnavail
}

// SetLeader records that hosts[index] is now believed to be
// partitionID's leader, the read path's analogue to the meta client's
// mp.SetLeaderAddr: a successful read from a non-leader host updates
// the directory so later readers and writers prefer it first, instead
// of rediscovering the same dead leader on every rotation.
func (w *Wrapper) SetLeader(partitionID uint64, index int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	dp, ok := w.partitions[partitionID]
	if !ok {
		return proto.ErrPartitionUnavail
	}
	if index < 0 || index >= len(dp.Hosts) {
		return fmt.Errorf("data: leader index %d out of range for partition %v", index, partitionID)
	}
	dp.LeaderAddr = dp.Hosts[index]
	return nil
}

// Close stops the directory's background loops.
func (w *Wrapper) Close() {
	if atomic.CompareAndSwapInt32(&w.closed, 0, 1) {
		close(w.stopCh)
	}
}

// dialHost opens a session to host, wrapped in a per-host hystrix circuit
// so a data node stuck in a bad state (half-open TCP, wedged disk)
// stops being tried once its error rate crosses the breaker threshold
// instead of adding latency to every extent operation routed to it.
func (w *Wrapper) dialHost(host string) (Session, error) {
	var sess Session
	err := hystrix.Do(circuitName(host), func() error {
		s, dialErr := w.dial(host, w.bufPool)
		if dialErr != nil {
			return dialErr
		}
		sess = s
		return nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("data: dial %v: %w", host, err)
	}
	return sess, nil
}
