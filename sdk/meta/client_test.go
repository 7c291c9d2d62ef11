package meta

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/extentfs/extentfs/proto"
	"github.com/extentfs/extentfs/util/buf"
	"github.com/extentfs/extentfs/util/connpool"
)

// fakeMetaNode dispatches each request by opcode to a caller-supplied
// table of JSON response bodies, mimicking one meta partition replica.
func fakeMetaNode(t *testing.T, ln net.Listener, responses map[uint8]interface{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
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
				if body, ok := responses[req.Opcode]; ok {
					raw, err := json.Marshal(body)
					require.NoError(t, err)
					resp.Data = raw
					resp.Size = uint32(len(raw))
				}
				if err := resp.WriteToConn(conn, buf.NewPool()); err != nil {
					return
				}
			}
		}(conn)
	}
}

func newTestWrapper(t *testing.T, addr string) *Wrapper {
	w := &Wrapper{
		volName: "vol1",
		owner:   "owner1",
		conns:   connpool.New(),
		bufPool: buf.NewPool(),
		stopCh:  make(chan struct{}),
	}
	w.table.replace([]*Partition{newPartition(1, 0, 1<<63, []string{addr}, addr)})
	return w
}

func TestWrapperCreate(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go fakeMetaNode(t, ln, map[uint8]interface{}{
		proto.OpMetaCreateInode: &proto.InodeInfo{Inode: 99, Mode: 0100644},
	})

	w := newTestWrapper(t, ln.Addr().String())
	info, err := w.Create(1, "newfile", 0100644, 0, 0, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(99), info.Inode)
}

func TestWrapperLookup(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go fakeMetaNode(t, ln, map[uint8]interface{}{
		proto.OpMetaLookup: &lookupResp{Inode: 42, Mode: 0755},
	})

	w := newTestWrapper(t, ln.Addr().String())
	ino, mode, err := w.Lookup(1, "somefile")
	require.NoError(t, err)
	require.Equal(t, uint64(42), ino)
	require.Equal(t, uint32(0755), mode)
}

func TestWrapperExtentsList(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	eks := []proto.ExtentKey{{FileOffset: 0, PartitionID: 1, ExtentID: 1, Size: 128}}
	go fakeMetaNode(t, ln, map[uint8]interface{}{
		proto.OpMetaExtentsList: &extentsListResp{Size: 128, Extents: eks},
	})

	w := newTestWrapper(t, ln.Addr().String())
	size, extents, err := w.ExtentsList(7)
	require.NoError(t, err)
	require.Equal(t, uint64(128), size)
	require.Equal(t, eks, extents)
}

func TestWrapperPartitionForUnknownInode(t *testing.T) {
	w := &Wrapper{}
	_, err := w.partitionFor(1)
	require.Equal(t, proto.ErrInodeNotExists, err)
}
