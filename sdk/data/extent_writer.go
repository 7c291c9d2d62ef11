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
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/extentfs/extentfs/proto"
	"github.com/extentfs/extentfs/util/log"
	"github.com/extentfs/extentfs/util/unit"
)

// writer lifecycle states. A writer starts open; Close moves it to
// closed. A send or receive failure moves it from open to error, and
// recover then marks it recovery while a new *writer carries on the
// append.
const (
	writerOpen int32 = iota
	writerClosed
	writerRecovery
	writerError
)

var (
	writerInflightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "extentfs_writer_inflight_packets",
		Help: "Packets currently in flight between an extent writer's sender and receiver.",
	})
	writerRetryCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "extentfs_writer_recoveries_total",
		Help: "Total number of times an extent writer recovered onto a new extent after a failure.",
	})
)

func init() {
	prometheus.MustRegister(writerInflightGauge, writerRetryCounter)
}

// writer owns one append-only extent: a tx goroutine (sender) drains
// a channel of outbound packets onto the session, and an rx goroutine
// (receiver) reads back replies and updates the handler's state.
// Generalized from Fallonma-cubefs/sdk/data/stream/extent_handler.go's
// ExtentHandler (sender/receiver goroutines, recoverHandler field)
// onto spec's explicit tx/rx-queue terminology.
type writer struct {
	stream *ExtentStream
	inode  uint64

	fileOffset uint64
	size       uint32
	extentID   uint64
	dp         *DataPartition

	status   int32
	inflight int32

	sess Session

	tx chan *proto.Packet
	rx chan *proto.Packet

	doneTx chan struct{}
	doneRx chan struct{}

	empty chan struct{}

	mu  sync.Mutex
	key proto.ExtentKey
	err error

	recovered *writer // set once this writer transitions to recovery

	// retryCount is how many times this writer's logical append chain
	// has already gone through recover(), carried forward onto each
	// recovered writer so the chain terminates at
	// proto.RequestRetryMax rather than recovering forever.
	retryCount int32

	// pendingMu/pending track packets sent to the data node but not
	// yet acknowledged (plus any still queued in tx when the writer
	// fails): the set recover() must replay onto the new extent so
	// in-flight bytes aren't silently dropped on transport failure.
	pendingMu sync.Mutex
	pending   []*proto.Packet

	clock clock.Clock
}

const (
	writerQueueDepth = 128
	writerRecvTimeout = 10 * time.Second
)

// newWriter allocates a fresh extent on dp and starts its tx/rx
// goroutines.
func newWriter(stream *ExtentStream, dp *DataPartition, fileOffset uint64) (*writer, error) {
	sess, err := stream.wrapper.dialHost(dp.LeaderAddr)
	if err != nil {
		return nil, err
	}
	extentID, err := createExtent(sess, dp.PartitionID)
	if err != nil {
		sess.Close()
		return nil, err
	}
	w := &writer{
		stream:     stream,
		inode:      stream.inode,
		fileOffset: fileOffset,
		extentID:   extentID,
		dp:         dp,
		sess:       sess,
		tx:         make(chan *proto.Packet, writerQueueDepth),
		rx:         make(chan *proto.Packet, writerQueueDepth),
		doneTx:     make(chan struct{}),
		doneRx:     make(chan struct{}),
		empty:      make(chan struct{}, 1),
		clock:      clock.New(),
	}
	go w.sender()
	go w.receiver()
	return w, nil
}

func createExtent(sess Session, partitionID uint64) (uint64, error) {
	req := proto.NewPacket()
	req.Opcode = proto.OpCreateExtent
	req.PartitionID = partitionID
	req.ExtentType = proto.NormalExtentType
	resp, err := sess.Send(req, writerRecvTimeout)
	if err != nil {
		return 0, err
	}
	if resp.IsErrPacket() {
		return 0, fmt.Errorf("data: create extent on partition %v: %v", partitionID, resp.GetResultMsg())
	}
	return resp.ExtentID, nil
}

// Write enqueues size bytes from data as one or more block-sized
// packets. The call blocks only long enough to hand packets to the tx
// channel; durability is confirmed by Flush.
func (w *writer) Write(data []byte, size int) error {
	if w.getStatus() != writerOpen {
		return fmt.Errorf("data: writer for extent %v is not open", w.extentID)
	}
	off := 0
	for off < size {
		n := unit.Min(size-off, unit.BlockSize)
		packet := proto.NewPacket()
		packet.Opcode = proto.OpWrite
		packet.PartitionID = w.dp.PartitionID
		packet.ExtentID = w.extentID
		packet.ExtentOffset = int64(w.size)
		packet.KernelOffset = w.fileOffset + uint64(w.size)
		packet.Data = append([]byte(nil), data[off:off+n]...)
		packet.Size = uint32(n)
		packet.CRC = proto.CRC32(packet.Data)

		w.size += uint32(n)
		atomic.AddInt32(&w.inflight, 1)
		writerInflightGauge.Inc()
		select {
		case w.tx <- packet:
		case <-w.doneTx:
			return fmt.Errorf("data: writer for extent %v closed mid-write", w.extentID)
		}
		off += n
	}
	return nil
}

func (w *writer) sender() {
	defer close(w.doneTx)
	for {
		select {
		case packet, ok := <-w.tx:
			if !ok {
				return
			}
			if err := packet.WriteToConn(connOf(w.sess), w.stream.wrapper.bufPool); err != nil {
				w.pendingMu.Lock()
				w.pending = append(w.pending, packet)
				w.pendingMu.Unlock()
				w.fail(err)
				return
			}
			w.pendingMu.Lock()
			w.pending = append(w.pending, packet)
			w.pendingMu.Unlock()
			select {
			case w.rx <- packet:
			case <-w.doneRx:
				return
			}
		case <-w.doneRx:
			return
		}
	}
}

func (w *writer) receiver() {
	defer close(w.doneRx)
	for {
		select {
		case <-w.doneTx:
			// sender has exited and is the only writer to rx, so
			// nothing more will ever arrive; Flush already waited
			// for inflight to drain before Close closes tx, so rx
			// is empty by construction here.
			return
		case packet, ok := <-w.rx:
			if !ok {
				return
			}
			reply, err := recvReply(w.sess, writerRecvTimeout)
			atomic.AddInt32(&w.inflight, -1)
			writerInflightGauge.Dec()
			if err != nil {
				w.fail(err)
				return
			}
			if reply.IsErrPacket() {
				w.fail(fmt.Errorf("data: write rejected: %v", reply.GetResultMsg()))
				return
			}
			w.mu.Lock()
			w.key = proto.ExtentKey{
				FileOffset:   w.fileOffset,
				PartitionID:  w.dp.PartitionID,
				ExtentID:     w.extentID,
				ExtentOffset: 0,
				Size:         uint32(packet.ExtentOffset) + packet.Size,
				CRC:          packet.CRC,
			}
			w.mu.Unlock()
			w.pendingMu.Lock()
			if len(w.pending) > 0 && w.pending[0] == packet {
				w.pending = w.pending[1:]
			}
			w.pendingMu.Unlock()
			if packet.HandleReply != nil {
				packet.HandleReply(reply, nil)
			}
			if atomic.LoadInt32(&w.inflight) == 0 {
				select {
				case w.empty <- struct{}{}:
				default:
				}
			}
		}
	}
}

// recvReply reads the reply packet off sess's underlying stream; the
// sender already wrote the request, so this only performs the read
// half of Session.Send.
func recvReply(sess Session, timeout time.Duration) (*proto.Packet, error) {
	reply := proto.NewPacket()
	conn := connOf(sess)
	if err := reply.ReadFromConn(conn, timeout); err != nil {
		return nil, err
	}
	return reply, nil
}

// connOf exposes the underlying net.Conn for sessions built directly
// on TCP/smux, where Packet's low-level WriteToConn/ReadFromConn can
// be driven directly instead of through Session.Send's request-reply
// round trip (needed here to decouple the write from the read across
// the tx/rx goroutine boundary).
func connOf(sess Session) net.Conn {
	switch s := sess.(type) {
	case *tcpSession:
		return s.conn
	case *smuxSession:
		return s.stream
	default:
		return nil
	}
}

// fail transitions the writer to writerError exactly once (guarded by
// the CAS so a concurrent sender/receiver failure doesn't double-drain)
// and moves any packet still queued in tx onto pending, so recover()
// sees it alongside the packets already sent-but-unacknowledged.
func (w *writer) fail(err error) {
	if !atomic.CompareAndSwapInt32(&w.status, writerOpen, writerError) {
		return
	}
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
	w.pendingMu.Lock()
drain:
	for {
		select {
		case p, ok := <-w.tx:
			if !ok {
				break drain
			}
			w.pending = append(w.pending, p)
		default:
			break drain
		}
	}
	w.pendingMu.Unlock()
	log.LogWarnf("data: writer for extent %v(partition %v) failed: %v", w.extentID, w.dp.PartitionID, err)
}

func (w *writer) getStatus() int32 {
	return atomic.LoadInt32(&w.status)
}

// Flush blocks until every packet handed to Write has been
// acknowledged, draining the tx/rx pipeline as a barrier.
func (w *writer) Flush() error {
	for atomic.LoadInt32(&w.inflight) > 0 {
		if w.getStatus() == writerError {
			w.mu.Lock()
			err := w.err
			w.mu.Unlock()
			return err
		}
		select {
		case <-w.empty:
		case <-time.After(100 * time.Millisecond):
		}
	}
	if w.getStatus() == writerError {
		w.mu.Lock()
		err := w.err
		w.mu.Unlock()
		return err
	}
	return nil
}

// Close flushes and stops the writer's goroutines, returning the
// extent key describing the data it wrote (zero value if nothing was
// ever written).
func (w *writer) Close() (proto.ExtentKey, error) {
	err := w.Flush()
	atomic.StoreInt32(&w.status, writerClosed)
	close(w.tx)
	<-w.doneTx
	<-w.doneRx
	w.sess.Close()
	w.mu.Lock()
	key := w.key
	w.mu.Unlock()
	return key, err
}

// Key returns the writer's current extent key (may still grow until
// Close).
func (w *writer) Key() proto.ExtentKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.key
}

// recover replaces a failed writer with a brand-new extent on a
// freshly chosen data partition, replaying any data the failed writer
// had accepted but not yet had acknowledged. The new writer starts at
// the kernel offset of the first unacknowledged packet, so replayed
// packets keep their original file offsets and the extent cache sees
// one continuous logical run split across two physical extents.
func (w *writer) recover() (*writer, error) {
	if int(w.retryCount)+1 > proto.RequestRetryMax {
		return nil, fmt.Errorf("data: extent %v exceeded %d recovery attempts: %w", w.extentID, proto.RequestRetryMax, proto.ErrIO)
	}
	atomic.StoreInt32(&w.status, writerRecovery)
	writerRetryCounter.Inc()

	dp, err := w.stream.wrapper.PickWritable()
	if err != nil {
		return nil, err
	}
	w.pendingMu.Lock()
	start := w.fileOffset + uint64(w.size)
	if len(w.pending) > 0 {
		start = w.pending[0].KernelOffset
	}
	w.pendingMu.Unlock()
	nw, err := newWriter(w.stream, dp, start)
	if err != nil {
		return nil, err
	}
	nw.retryCount = w.retryCount + 1

	w.pendingMu.Lock()
	pending := w.pending
	w.pending = nil
	w.pendingMu.Unlock()

	for _, p := range pending {
		if err := nw.replay(p); err != nil {
			w.mu.Lock()
			w.recovered = nw
			w.mu.Unlock()
			return nil, fmt.Errorf("data: replay packet %v onto recovered extent %v: %w", p.ReqID, nw.extentID, err)
		}
	}

	w.mu.Lock()
	w.recovered = nw
	w.mu.Unlock()
	log.LogWarnf("data: writer for extent %v recovered onto partition %v extent %v, replayed %d packets", w.extentID, dp.PartitionID, nw.extentID, len(pending))
	return nw, nil
}

// replay re-issues a packet the failed writer had sent but never saw
// acknowledged (or never got to send at all), synchronously against
// this freshly recovered writer: rewrite its partition/extent/offset
// coordinates onto the new extent, send it directly on the session
// (bypassing the tx/rx queue, since nothing else is using it yet), and
// deliver the outcome to the packet's own handle_reply continuation.
func (w *writer) replay(p *proto.Packet) error {
	p.PartitionID = w.dp.PartitionID
	p.ExtentID = w.extentID
	p.ExtentOffset = int64(w.size)
	p.KernelOffset = w.fileOffset + uint64(w.size)
	p.RetryCount++

	conn := connOf(w.sess)
	if err := p.WriteToConn(conn, w.stream.wrapper.bufPool); err != nil {
		if p.HandleReply != nil {
			p.HandleReply(nil, err)
		}
		return err
	}
	reply, err := recvReply(w.sess, writerRecvTimeout)
	if err != nil {
		if p.HandleReply != nil {
			p.HandleReply(nil, err)
		}
		return err
	}
	if reply.IsErrPacket() {
		rerr := fmt.Errorf("data: replay rejected: %v", reply.GetResultMsg())
		if p.HandleReply != nil {
			p.HandleReply(reply, rerr)
		}
		return rerr
	}

	w.size += p.Size
	w.mu.Lock()
	w.key = proto.ExtentKey{
		FileOffset:   w.fileOffset,
		PartitionID:  w.dp.PartitionID,
		ExtentID:     w.extentID,
		ExtentOffset: 0,
		Size:         w.size,
		CRC:          p.CRC,
	}
	w.mu.Unlock()
	if p.HandleReply != nil {
		p.HandleReply(reply, nil)
	}
	return nil
}
