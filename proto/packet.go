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

// Package proto implements the client-side wire protocol shared by
// the data and meta sdk packages: a fixed big-endian header followed
// by an optional argument block and payload, grounded on
// nyl1001-cubefs/proto/packet.go.
package proto

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"net"
	"sync/atomic"
	"time"

	opentracing "github.com/opentracing/opentracing-go"

	"github.com/extentfs/extentfs/util/buf"
	"github.com/extentfs/extentfs/util/unit"
)

// Header byte offsets within the fixed 57-byte packet header.
const (
	offMagic        = 0
	offExtentType   = 1
	offOpcode       = 2
	offResultCode   = 3
	offRemainingFol = 4
	offCRC          = 5
	offSize         = 9
	offArgLen       = 13
	offPartitionID  = 17
	offExtentID     = 25
	offExtentOffset = 33
	offReqID        = 41
	offKernelOffset = 49
)

var reqIDSeq uint64

// DefaultRequestRetryMax is the default value of RequestRetryMax.
const DefaultRequestRetryMax = 5

// RequestRetryMax bounds how many times a single logical request (an
// extent write's recovery chain, a read's replica rotation) may retry
// before giving up with ErrIO. Overridable at startup from the mount
// config's retryMax field.
var RequestRetryMax = DefaultRequestRetryMax

// GenerateRequestID returns a process-unique monotonically increasing
// request id, used to correlate a reply packet with its request.
func GenerateRequestID() int64 {
	return int64(atomic.AddUint64(&reqIDSeq, 1))
}

// Packet is a single request/reply frame on a data-node or meta-node
// connection. Arg carries small auxiliary data (e.g. the follower
// address list on a write request); Data carries the payload proper.
type Packet struct {
	Magic              uint8
	ExtentType         uint8
	Opcode             uint8
	ResultCode         uint8
	RemainingFollowers uint8
	CRC                uint32
	Size               uint32
	ArgLen             uint32
	PartitionID        uint64
	ExtentID           uint64
	ExtentOffset       int64
	ReqID              int64
	KernelOffset       uint64

	Arg  []byte
	Data []byte

	StartT int64

	// RetryCount counts how many times this request has been re-issued
	// (replica rotation, writer recovery replay), checked against
	// RequestRetryMax. Not part of the wire format.
	RetryCount int32

	// HandleReply, when set, is invoked with the reply packet (nil on
	// failure) and any error once this packet's outcome is known,
	// letting the caller that originally enqueued the packet observe
	// completion across a writer recovery replay. Not part of the wire
	// format.
	HandleReply func(reply *Packet, err error)

	// Err holds the last error observed for this packet, set by the
	// caller driving its retries. Not part of the wire format.
	Err error

	span opentracing.Span
}

// NewPacket returns an empty packet stamped with a fresh request id.
func NewPacket() *Packet {
	return &Packet{
		Magic:  ProtoMagic,
		ReqID:  GenerateRequestID(),
		StartT: time.Now().UnixNano(),
	}
}

// NewPacketWithSpan attaches an OpenTracing span to the packet's
// lifetime, started by the caller. The span stays open until Finish
// is called.
func NewPacketWithSpan(span opentracing.Span) *Packet {
	p := NewPacket()
	p.span = span
	return p
}

// Finish closes the packet's tracing span, if any. Safe to call on a
// packet with no span.
func (p *Packet) Finish() {
	if p.span != nil {
		p.span.Finish()
		p.span = nil
	}
}

// String renders a packet for log lines.
func (p *Packet) String() string {
	return fmt.Sprintf("ReqID(%v)Op(%v)PartitionID(%v)ExtentID(%v)ExtentOffset(%v)KernelOffset(%v)Size(%v)ResultCode(%v)",
		p.ReqID, p.GetOpMsg(), p.PartitionID, p.ExtentID, p.ExtentOffset, p.KernelOffset, p.Size, p.GetResultMsg())
}

// GetOpMsg renders the opcode for logging, falling back to its raw
// numeric value for ops outside the known table.
func (p *Packet) GetOpMsg() string {
	if name, ok := opNames[p.Opcode]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", p.Opcode)
}

// GetResultMsg renders the result code for logging.
func (p *Packet) GetResultMsg() string {
	if name, ok := resultNames[p.ResultCode]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", p.ResultCode)
}

// ShouldRetry reports whether the reply code indicates the caller
// should route the request to a different host rather than treat it
// as a hard failure.
func (p *Packet) ShouldRetry() bool {
	return p.ResultCode == OpTryOtherAddr
}

// IsErrPacket reports whether the reply indicates failure.
func (p *Packet) IsErrPacket() bool {
	return p.ResultCode != OpOk
}

// CRC32 computes the CRC32 checksum of data, the algorithm the data
// nodes validate write payloads against.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// marshalHeader writes the fixed header into the first
// unit.PacketHeaderSize bytes of out.
func (p *Packet) marshalHeader(out []byte) {
	out[offMagic] = p.Magic
	out[offExtentType] = p.ExtentType
	out[offOpcode] = p.Opcode
	out[offResultCode] = p.ResultCode
	out[offRemainingFol] = p.RemainingFollowers
	binary.BigEndian.PutUint32(out[offCRC:], p.CRC)
	binary.BigEndian.PutUint32(out[offSize:], p.Size)
	binary.BigEndian.PutUint32(out[offArgLen:], p.ArgLen)
	binary.BigEndian.PutUint64(out[offPartitionID:], p.PartitionID)
	binary.BigEndian.PutUint64(out[offExtentID:], p.ExtentID)
	binary.BigEndian.PutUint64(out[offExtentOffset:], uint64(p.ExtentOffset))
	binary.BigEndian.PutUint64(out[offReqID:], uint64(p.ReqID))
	binary.BigEndian.PutUint64(out[offKernelOffset:], p.KernelOffset)
}

// unmarshalHeader parses the fixed header out of in, which must be at
// least unit.PacketHeaderSize bytes.
func (p *Packet) unmarshalHeader(in []byte) error {
	if len(in) < unit.PacketHeaderSize {
		return fmt.Errorf("proto: short header: %d bytes", len(in))
	}
	p.Magic = in[offMagic]
	if p.Magic != ProtoMagic {
		return fmt.Errorf("proto: bad magic byte 0x%x", p.Magic)
	}
	p.ExtentType = in[offExtentType]
	p.Opcode = in[offOpcode]
	p.ResultCode = in[offResultCode]
	p.RemainingFollowers = in[offRemainingFol]
	p.CRC = binary.BigEndian.Uint32(in[offCRC:])
	p.Size = binary.BigEndian.Uint32(in[offSize:])
	p.ArgLen = binary.BigEndian.Uint32(in[offArgLen:])
	p.PartitionID = binary.BigEndian.Uint64(in[offPartitionID:])
	p.ExtentID = binary.BigEndian.Uint64(in[offExtentID:])
	p.ExtentOffset = int64(binary.BigEndian.Uint64(in[offExtentOffset:]))
	p.ReqID = int64(binary.BigEndian.Uint64(in[offReqID:]))
	p.KernelOffset = binary.BigEndian.Uint64(in[offKernelOffset:])
	return nil
}

// WriteToConn serializes the packet and writes it to conn: header and
// arg in one buffered flush, then the payload in a second write.
func (p *Packet) WriteToConn(conn net.Conn, pool *buf.Pool) error {
	p.ArgLen = uint32(len(p.Arg))
	header, err := pool.Get(unit.PacketHeaderSize)
	if err != nil {
		return err
	}
	defer pool.Put(header)
	p.marshalHeader(header)

	w := bufio.NewWriterSize(conn, unit.PacketHeaderSize+len(p.Arg))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(p.Arg) > 0 {
		if _, err := w.Write(p.Arg); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if p.Size > 0 {
		if _, err := conn.Write(p.Data[:p.Size]); err != nil {
			return err
		}
	}
	return nil
}

// ReadFromConn reads one full packet from conn, respecting deadline
// (a deadline of 0 disables the read timeout, used on long-lived
// streaming reads).
func (p *Packet) ReadFromConn(conn net.Conn, deadline time.Duration) error {
	if deadline != 0 {
		conn.SetReadDeadline(time.Now().Add(deadline))
	} else {
		conn.SetReadDeadline(time.Time{})
	}

	header := make([]byte, unit.PacketHeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return err
	}
	if err := p.unmarshalHeader(header); err != nil {
		return err
	}
	if p.ArgLen > 0 {
		p.Arg = make([]byte, p.ArgLen)
		if _, err := io.ReadFull(conn, p.Arg); err != nil {
			return err
		}
	}
	if p.Size > 0 {
		p.Data = make([]byte, p.Size)
		if _, err := io.ReadFull(conn, p.Data); err != nil {
			return err
		}
	}
	return nil
}
