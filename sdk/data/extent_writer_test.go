package data

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/extentfs/extentfs/proto"
	"github.com/extentfs/extentfs/util/buf"
)

// fakeDataNode accepts one connection and answers OpCreateExtent with
// extentID, then echoes back OpOk for every OpWrite it receives,
// carrying forward the request's ExtentOffset/Size/CRC the way a real
// data node's reply packet does.
func fakeDataNode(t *testing.T, ln net.Listener, extentID uint64) {
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	for {
		req := proto.NewPacket()
		if err := req.ReadFromConn(conn, 2*time.Second); err != nil {
			return
		}
		resp := proto.NewPacket()
		resp.ReqID = req.ReqID
		resp.Opcode = req.Opcode
		resp.ResultCode = proto.OpOk
		resp.PartitionID = req.PartitionID
		switch req.Opcode {
		case proto.OpCreateExtent:
			resp.ExtentID = extentID
		case proto.OpWrite:
			resp.ExtentID = req.ExtentID
			resp.ExtentOffset = req.ExtentOffset
			resp.Size = req.Size
			resp.CRC = req.CRC
		}
		if err := resp.WriteToConn(conn, buf.NewPool()); err != nil {
			return
		}
	}
}

func newTestWriter(t *testing.T, ln net.Listener, dp *DataPartition) *writer {
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	pool := buf.NewPool()
	sess := &tcpSession{id: uuid.NewString(), conn: conn, pool: pool}

	stream := &ExtentStream{wrapper: &Wrapper{bufPool: pool}}
	extentID, err := createExtent(sess, dp.PartitionID)
	require.NoError(t, err)

	w := &writer{
		stream:     stream,
		inode:      1,
		fileOffset: 0,
		extentID:   extentID,
		dp:         dp,
		sess:       sess,
		tx:         make(chan *proto.Packet, writerQueueDepth),
		rx:         make(chan *proto.Packet, writerQueueDepth),
		doneTx:     make(chan struct{}),
		doneRx:     make(chan struct{}),
		empty:      make(chan struct{}, 1),
	}
	go w.sender()
	go w.receiver()
	return w
}

func TestWriterWriteFlushClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	dp := &DataPartition{PartitionID: 7, LeaderAddr: ln.Addr().String()}
	go fakeDataNode(t, ln, 42)

	w := newTestWriter(t, ln, dp)
	require.Equal(t, uint64(42), w.extentID)

	payload := []byte("hello world")
	require.NoError(t, w.Write(payload, len(payload)))
	require.NoError(t, w.Flush())

	key, err := w.Close()
	require.NoError(t, err)
	require.Equal(t, uint64(42), key.ExtentID)
	require.Equal(t, uint32(len(payload)), key.Size)
	require.Equal(t, proto.CRC32(payload), key.CRC)
}

func TestWriterWriteRejectsAfterClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	dp := &DataPartition{PartitionID: 1, LeaderAddr: ln.Addr().String()}
	go fakeDataNode(t, ln, 1)

	w := newTestWriter(t, ln, dp)
	_, err = w.Close()
	require.NoError(t, err)

	err = w.Write([]byte("late"), 4)
	require.Error(t, err)
}
