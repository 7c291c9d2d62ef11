package data

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/extentfs/extentfs/proto"
	"github.com/extentfs/extentfs/sdk/master"
	"github.com/extentfs/extentfs/sdk/meta"
	"github.com/extentfs/extentfs/util/buf"
)

// fakeExtentStore backs a fake data node with real per-extent byte
// storage, so a stream-level Read can be checked against what was
// actually Written rather than just offset bookkeeping.
type fakeExtentStore struct {
	mu   sync.Mutex
	data map[uint64][]byte
	next uint64
}

func newFakeExtentStore(startID uint64) *fakeExtentStore {
	return &fakeExtentStore{data: make(map[uint64][]byte), next: startID}
}

func runFakeDataNodeWithStore(ln net.Listener, store *fakeExtentStore) {
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
				resp.PartitionID = req.PartitionID
				switch req.Opcode {
				case proto.OpCreateExtent:
					store.mu.Lock()
					id := store.next
					store.next++
					store.data[id] = nil
					store.mu.Unlock()
					resp.ExtentID = id
				case proto.OpWrite:
					store.mu.Lock()
					extData := store.data[req.ExtentID]
					end := int(req.ExtentOffset) + int(req.Size)
					if end > len(extData) {
						grown := make([]byte, end)
						copy(grown, extData)
						extData = grown
					}
					copy(extData[req.ExtentOffset:], req.Data[:req.Size])
					store.data[req.ExtentID] = extData
					store.mu.Unlock()
					resp.ExtentID = req.ExtentID
					resp.ExtentOffset = req.ExtentOffset
					resp.Size = req.Size
					resp.CRC = req.CRC
				case proto.OpRead:
					store.mu.Lock()
					extData := store.data[req.ExtentID]
					store.mu.Unlock()
					start := int(req.ExtentOffset)
					out := make([]byte, req.Size)
					if start < len(extData) {
						copy(out, extData[start:])
					}
					resp.Data = out
					resp.Size = uint32(len(out))
					resp.CRC = proto.CRC32(out)
				}
				if err := resp.WriteToConn(conn, buf.NewPool()); err != nil {
					return
				}
			}
		}(conn)
	}
}

// fakeMetaState backs a fake meta node exposing just the extent-list
// operations ExtentStream drives: ExtentsList, AppendExtentKey (plus
// its discard list), and Truncate.
type fakeMetaState struct {
	mu        sync.Mutex
	size      uint64
	extents   []proto.ExtentKey
	appended  []proto.ExtentKey
	discarded []proto.ExtentKey
}

func runFakeMetaNode(ln net.Listener, state *fakeMetaState) {
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
				switch req.Opcode {
				case proto.OpMetaExtentsList:
					state.mu.Lock()
					body, _ := json.Marshal(struct {
						Size    uint64            `json:"size"`
						Extents []proto.ExtentKey `json:"eks"`
					}{state.size, state.extents})
					state.mu.Unlock()
					resp.Data = body
					resp.Size = uint32(len(body))
				case proto.OpMetaExtentsAdd:
					var add struct {
						Inode   uint64            `json:"ino"`
						Key     proto.ExtentKey   `json:"ek"`
						Discard []proto.ExtentKey `json:"discard,omitempty"`
					}
					json.Unmarshal(req.Data, &add)
					state.mu.Lock()
					state.extents = append(state.extents, add.Key)
					state.appended = append(state.appended, add.Key)
					state.discarded = append(state.discarded, add.Discard...)
					state.mu.Unlock()
				case proto.OpMetaTruncate:
					var tr struct {
						Inode uint64 `json:"ino"`
						Size  uint64 `json:"size"`
					}
					json.Unmarshal(req.Data, &tr)
					state.mu.Lock()
					state.size = tr.Size
					state.mu.Unlock()
				}
				if err := resp.WriteToConn(conn, buf.NewPool()); err != nil {
					return
				}
			}
		}(conn)
	}
}

func writeMasterReply(t *testing.T, w http.ResponseWriter, data interface{}) {
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	reply := struct {
		Code int32           `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}{Code: 0, Data: raw}
	body, err := json.Marshal(reply)
	require.NoError(t, err)
	w.Write(body)
}

// newTestStream wires a full stream: a fake master HTTP server
// describing one data partition and one meta partition, each backed
// by a fake TCP node, and returns the opened ExtentStream plus the
// meta state so tests can assert what got persisted.
func newTestStream(t *testing.T, cfg StreamConfig) (*ExtentStream, *fakeMetaState) {
	dataLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { dataLn.Close() })
	store := newFakeExtentStore(1)
	go runFakeDataNodeWithStore(dataLn, store)

	metaLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { metaLn.Close() })
	state := &fakeMetaState{}
	go runFakeMetaNode(metaLn, state)

	mux := http.NewServeMux()
	mux.HandleFunc("/client/partitions", func(w http.ResponseWriter, r *http.Request) {
		writeMasterReply(t, w, proto.DataPartitionsView{DataPartitions: []*proto.DataPartitionInfo{
			{PartitionID: 1, Hosts: []string{dataLn.Addr().String()}, LeaderAddr: dataLn.Addr().String(), ReplicaNum: 1},
		}})
	})
	mux.HandleFunc("/client/metaPartitions", func(w http.ResponseWriter, r *http.Request) {
		writeMasterReply(t, w, proto.MetaPartitionsView{MetaPartitions: []*proto.MetaPartitionInfo{
			{PartitionID: 1, Start: 0, End: 1 << 63, Members: []string{metaLn.Addr().String()}, LeaderAddr: metaLn.Addr().String()},
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mc := master.NewMasterClient([]string{strings.TrimPrefix(srv.URL, "http://")}, false)

	mw, err := meta.NewWrapper("vol1", "owner1", mc)
	require.NoError(t, err)
	t.Cleanup(mw.Close)

	wrapper, err := NewWrapper("vol1", mc, DialTCP)
	require.NoError(t, err)
	t.Cleanup(wrapper.Close)

	stream, err := OpenStream(1, wrapper, mw, cfg)
	require.NoError(t, err)
	return stream, state
}

func TestExtentStreamWriteFlushRead(t *testing.T) {
	stream, state := newTestStream(t, StreamConfig{})

	payload := []byte("hello extentfs")
	n, err := stream.Write(0, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.NoError(t, stream.Flush())

	state.mu.Lock()
	require.Len(t, state.appended, 1)
	require.Equal(t, uint32(len(payload)), state.appended[0].Size)
	state.mu.Unlock()

	out := make([]byte, len(payload))
	nRead, err := stream.Read(0, out)
	require.NoError(t, err)
	require.Equal(t, payload, out[:nRead])
}

func TestExtentStreamOverlappingWriteReportsDiscard(t *testing.T) {
	stream, state := newTestStream(t, StreamConfig{})

	first := []byte("0123456789")
	_, err := stream.Write(0, first)
	require.NoError(t, err)
	require.NoError(t, stream.Flush())

	second := []byte("ABCDE")
	_, err = stream.Write(0, second)
	require.NoError(t, err)
	require.NoError(t, stream.Flush())

	state.mu.Lock()
	defer state.mu.Unlock()
	require.Len(t, state.appended, 2)
	require.Len(t, state.discarded, 1)
	require.Equal(t, uint32(len(first)), state.discarded[0].Size)
}

func TestExtentStreamMaxWritersRetiresOldestWriter(t *testing.T) {
	stream, state := newTestStream(t, StreamConfig{MaxWriters: 1})

	_, err := stream.Write(0, []byte("first"))
	require.NoError(t, err)

	stream.mu.Lock()
	require.Len(t, stream.writers, 1)
	stream.mu.Unlock()

	// A non-contiguous write exceeds maxWriters(1), forcing the first
	// writer to be retired (flushed and persisted) before the second
	// opens.
	_, err = stream.Write(1000, []byte("second"))
	require.NoError(t, err)

	stream.mu.Lock()
	require.Len(t, stream.writers, 1)
	stream.mu.Unlock()

	state.mu.Lock()
	require.Len(t, state.appended, 1)
	require.Equal(t, uint32(len("first")), state.appended[0].Size)
	state.mu.Unlock()

	require.NoError(t, stream.Flush())
	state.mu.Lock()
	require.Len(t, state.appended, 2)
	state.mu.Unlock()
}

func TestExtentStreamTruncateDiscardsCacheAndNotifiesMeta(t *testing.T) {
	stream, state := newTestStream(t, StreamConfig{})

	_, err := stream.Write(0, []byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, stream.Flush())
	require.Equal(t, uint64(10), stream.Size())

	require.NoError(t, stream.Truncate(4))
	require.Equal(t, uint64(4), stream.Size())

	state.mu.Lock()
	require.Equal(t, uint64(4), state.size)
	state.mu.Unlock()
}

// noopSession is a Session stand-in for writers built directly as
// struct literals in tests below, never issuing real I/O.
type noopSession struct{}

func (noopSession) ID() string { return "noop" }
func (noopSession) Send(req *proto.Packet, deadline time.Duration) (*proto.Packet, error) {
	return nil, fmt.Errorf("data: noop session cannot send")
}
func (noopSession) Close() error { return nil }

// newFailedWriter returns a writer already in the error state, as if
// its sender/receiver goroutines had already observed a transport
// failure and exited; Close on it fails immediately.
func newFailedWriter() *writer {
	w := &writer{
		status: writerError,
		err:    fmt.Errorf("synthetic transport failure"),
		sess:   noopSession{},
		tx:     make(chan *proto.Packet),
		doneTx: make(chan struct{}),
		doneRx: make(chan struct{}),
		empty:  make(chan struct{}, 1),
	}
	close(w.doneTx)
	close(w.doneRx)
	return w
}

func TestExtentStreamMaxWritersRetirementFailureSurfacesPermissionDenied(t *testing.T) {
	s := &ExtentStream{
		maxWriters: 1,
		writers:    []*writer{newFailedWriter()},
		cache:      NewExtentCache(),
	}
	_, err := s.writerForLocked(999)
	require.Error(t, err)
	require.ErrorIs(t, err, proto.ErrPermission)
}
