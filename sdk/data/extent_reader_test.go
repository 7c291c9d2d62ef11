package data

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/extentfs/extentfs/proto"
	"github.com/extentfs/extentfs/util/buf"
)

// fakeReadServer answers every OpRead with the given payload, and
// rejects everything else with OpErr. Used to simulate a single
// replica host for reader tests.
func fakeReadServer(t *testing.T, ln net.Listener, payload []byte, reject bool) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	req := proto.NewPacket()
	if err := req.ReadFromConn(conn, 2*time.Second); err != nil {
		return
	}
	resp := proto.NewPacket()
	resp.ReqID = req.ReqID
	resp.Opcode = req.Opcode
	if reject {
		resp.ResultCode = proto.OpErr
	} else {
		resp.ResultCode = proto.OpOk
		resp.Data = payload
		resp.Size = uint32(len(payload))
		resp.CRC = proto.CRC32(payload)
	}
	resp.WriteToConn(conn, buf.NewPool())
}

func newTestReaderWrapper() *Wrapper {
	return &Wrapper{dial: DialTCP, bufPool: buf.NewPool()}
}

func TestReaderReadsFromLeader(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	payload := []byte("extent-data")
	go fakeReadServer(t, ln, payload, false)

	dp := &DataPartition{PartitionID: 1, LeaderAddr: ln.Addr().String(), Hosts: []string{ln.Addr().String()}}
	key := proto.ExtentKey{FileOffset: 0, PartitionID: 1, ExtentID: 5, ExtentOffset: 0, Size: uint32(len(payload))}

	r := newReader(10, key, dp, newTestReaderWrapper(), false, false)
	buf := make([]byte, len(payload))
	n, err := r.Read(0, buf)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)
}

func TestReaderRotatesOnFailure(t *testing.T) {
	badLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer badLn.Close()
	goodLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer goodLn.Close()

	payload := []byte("good-replica-data")
	go fakeReadServer(t, badLn, nil, true)
	go fakeReadServer(t, goodLn, payload, false)

	leader := badLn.Addr().String()
	follower := goodLn.Addr().String()
	dp := &DataPartition{PartitionID: 2, LeaderAddr: leader, Hosts: []string{leader, follower}}
	key := proto.ExtentKey{FileOffset: 100, PartitionID: 2, ExtentID: 9, Size: uint32(len(payload))}

	r := newReader(10, key, dp, newTestReaderWrapper(), false, false)
	buf := make([]byte, len(payload))
	n, err := r.Read(100, buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])
}

func TestReaderOrderedHostsFollowerRead(t *testing.T) {
	dp := &DataPartition{LeaderAddr: "leader:1", Hosts: []string{"leader:1", "f1:1", "f2:1"}}
	r := newReader(1, proto.ExtentKey{}, dp, nil, true, false)
	hosts := r.orderedHosts()
	require.Equal(t, []string{"f1:1", "f2:1", "leader:1"}, hosts)
}

func TestReaderOrderedHostsNearRead(t *testing.T) {
	dp := &DataPartition{LeaderAddr: "leader:1", Hosts: []string{"leader:1", "f1:1"}, NearHosts: []string{"f1:1", "leader:1"}}
	r := newReader(1, proto.ExtentKey{}, dp, nil, false, true)
	require.Equal(t, dp.NearHosts, r.orderedHosts())
}
