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
	"fmt"
	"time"

	opentracing "github.com/opentracing/opentracing-go"

	"github.com/extentfs/extentfs/proto"
	"github.com/extentfs/extentfs/util/log"
)

const (
	sendRetryLimit    = 32
	sendRetryInterval = 100 * time.Millisecond
	sendReadTimeout   = 10 * time.Second
)

// send issues req against mp's believed leader, retrying against the
// remaining replicas in order when the leader rejects it with
// OpTryOtherAddr (a leadership change) or the connection fails
// outright.
func (w *Wrapper) send(mp *Partition, req *proto.Packet) (*proto.Packet, error) {
	span := opentracing.StartSpan("meta.send")
	defer span.Finish()

	hosts := orderedHosts(mp)
	var lastErr error
	for attempt := 0; attempt < sendRetryLimit; attempt++ {
		addr := hosts[attempt%len(hosts)]
		resp, err := w.sendToHost(addr, req)
		if err == nil && !resp.ShouldRetry() {
			if addr != mp.LeaderAddr() {
				mp.SetLeaderAddr(addr)
			}
			return resp, nil
		}
		if err == nil && resp.IsErrPacket() && !resp.ShouldRetry() {
			return resp, nil
		}
		lastErr = err
		if lastErr == nil {
			lastErr = fmt.Errorf("meta: %v rejected with %v", addr, resp.GetResultMsg())
		}
		log.LogWarnf("meta: send to %v failed: %v, retry %d", addr, lastErr, attempt)
		time.Sleep(sendRetryInterval)
	}
	return nil, fmt.Errorf("meta: %v exhausted all replicas, last error: %w", mp, lastErr)
}

func orderedHosts(mp *Partition) []string {
	leader := mp.LeaderAddr()
	hosts := make([]string, 0, len(mp.Members))
	hosts = append(hosts, leader)
	for _, h := range mp.Members {
		if h != leader {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) == 0 {
		hosts = append(hosts, mp.Members...)
	}
	return hosts
}

func (w *Wrapper) sendToHost(addr string, req *proto.Packet) (*proto.Packet, error) {
	conn, err := w.conns.GetConnect(addr)
	if err != nil {
		return nil, err
	}
	if err := req.WriteToConn(conn, w.bufPool); err != nil {
		w.conns.PutConnectWithErr(conn, err)
		return nil, err
	}
	resp := proto.NewPacket()
	if err := resp.ReadFromConn(conn, sendReadTimeout); err != nil {
		w.conns.PutConnectWithErr(conn, err)
		return nil, err
	}
	w.conns.PutConnectWithErr(conn, nil)
	return resp, nil
}
