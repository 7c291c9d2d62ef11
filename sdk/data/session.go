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

// Package data implements the extent streaming engine: the directory
// of data partitions a volume owns, the transport used to reach each
// replica, and the cache/writer/reader machinery layered on top.
//
// Session abstracts the one-request-one-reply exchange with a data
// node so the writer/reader pipelines don't care whether the
// underlying transport is a bare TCP connection, a multiplexed smux
// stream, or RDMA. Grounded on arvinsg-cubefs/sdk/data/data_partition.go's
// StreamConn/sendToDataPartition for the TCP shape, and spec's "RDMA
// vs TCP" design note for the interface split.
package data

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/xtaci/smux"

	"github.com/extentfs/extentfs/proto"
	"github.com/extentfs/extentfs/util/buf"
)

// Session is one logical request/reply channel to a data node
// replica. Implementations need not be safe for concurrent use by
// multiple goroutines; callers serialize access per extent.
type Session interface {
	// ID identifies the session for logging.
	ID() string
	// Send writes req and reads back its reply, honoring deadline (0
	// disables the read timeout).
	Send(req *proto.Packet, deadline time.Duration) (*proto.Packet, error)
	// Close releases the underlying transport.
	Close() error
}

// SessionDialer opens a Session to addr.
type SessionDialer func(addr string, pool *buf.Pool) (Session, error)

// tcpSession is the default transport: one TCP connection per
// session, matching the teacher's StreamConn.
type tcpSession struct {
	id   string
	conn net.Conn
	pool *buf.Pool
}

// DialTCP opens a plain TCP session to addr.
func DialTCP(addr string, pool *buf.Pool) (Session, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("data: dial %v: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
		tc.SetNoDelay(true)
	}
	return &tcpSession{id: uuid.NewString(), conn: conn, pool: pool}, nil
}

func (s *tcpSession) ID() string { return s.id }

func (s *tcpSession) Send(req *proto.Packet, deadline time.Duration) (*proto.Packet, error) {
	if err := req.WriteToConn(s.conn, s.pool); err != nil {
		return nil, err
	}
	resp := proto.NewPacket()
	if err := resp.ReadFromConn(s.conn, deadline); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *tcpSession) Close() error { return s.conn.Close() }

// smuxSession carries one Session over a single smux stream. Each
// instance owns its own TCP connection and smux session; streams are
// not shared across instances.
type smuxSession struct {
	id     string
	stream *smux.Stream
	sess   *smux.Session
	pool   *buf.Pool
}

// DialSMUX dials a new TCP connection to addr, starts a smux client
// session on it and opens one stream. Connections and sessions are not
// reused between calls.
func DialSMUX(addr string, pool *buf.Pool) (Session, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("data: dial %v: %w", addr, err)
	}
	sess, err := smux.Client(conn, smux.DefaultConfig())
	if err != nil {
		conn.Close()
		return nil, err
	}
	stream, err := sess.OpenStream()
	if err != nil {
		sess.Close()
		return nil, err
	}
	return &smuxSession{id: uuid.NewString(), stream: stream, sess: sess, pool: pool}, nil
}

func (s *smuxSession) ID() string { return s.id }

func (s *smuxSession) Send(req *proto.Packet, deadline time.Duration) (*proto.Packet, error) {
	if deadline != 0 {
		s.stream.SetDeadline(time.Now().Add(deadline))
	}
	if err := req.WriteToConn(s.stream, s.pool); err != nil {
		return nil, err
	}
	resp := proto.NewPacket()
	if err := resp.ReadFromConn(s.stream, deadline); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *smuxSession) Close() error {
	s.stream.Close()
	return s.sess.Close()
}

// DialRDMA is a stub transport for hosts advertising an RDMA port:
// the handshake and queue-pair setup are not implemented in this
// client build, so it always falls back to TCP at dial time. It
// exists to keep the Session seam exercised by configuration
// (EnableRDMA) without requiring kernel RDMA support on the build
// machine.
func DialRDMA(addr string, pool *buf.Pool) (Session, error) {
	return DialTCP(addr, pool)
}
