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
	"sync"

	"github.com/extentfs/extentfs/sdk/master"
	"github.com/extentfs/extentfs/sdk/meta"
	"github.com/extentfs/extentfs/util/log"
)

// ExtentClient is the top-level facade the fs layer talks to: one per
// mounted volume, it owns the data partition directory and hands out
// an ExtentStream per open inode, reusing an existing stream across
// concurrent opens of the same inode.
type ExtentClient struct {
	wrapper *Wrapper
	mw      *meta.Wrapper
	cfg     StreamConfig

	mu      sync.Mutex
	streams map[uint64]*refCountedStream
}

type refCountedStream struct {
	stream *ExtentStream
	refs   int
}

// NewExtentClient constructs the directory and meta wrapper for
// volName and returns a ready-to-use facade.
func NewExtentClient(volName string, mc *master.MasterClient, mw *meta.Wrapper, dial SessionDialer, cfg StreamConfig) (*ExtentClient, error) {
	wrapper, err := NewWrapper(volName, mc, dial)
	if err != nil {
		return nil, err
	}
	return &ExtentClient{
		wrapper: wrapper,
		mw:      mw,
		cfg:     cfg,
		streams: make(map[uint64]*refCountedStream),
	}, nil
}

// Open returns the stream for ino, creating it on first open and
// incrementing its reference count on every subsequent call.
func (c *ExtentClient) Open(ino uint64) (*ExtentStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rc, ok := c.streams[ino]; ok {
		rc.refs++
		return rc.stream, nil
	}
	s, err := OpenStream(ino, c.wrapper, c.mw, c.cfg)
	if err != nil {
		return nil, err
	}
	c.streams[ino] = &refCountedStream{stream: s, refs: 1}
	return s, nil
}

// Release decrements ino's reference count, flushing and discarding
// the stream once no caller holds it open.
func (c *ExtentClient) Release(ino uint64) error {
	c.mu.Lock()
	rc, ok := c.streams[ino]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("data: inode %v has no open stream", ino)
	}
	rc.refs--
	if rc.refs > 0 {
		c.mu.Unlock()
		return nil
	}
	delete(c.streams, ino)
	c.mu.Unlock()
	if err := rc.stream.Close(); err != nil {
		log.LogWarnf("data: close stream for inode %v: %v", ino, err)
		return err
	}
	return nil
}

// Write, Read, Flush, and Truncate route to the inode's existing open
// stream; callers must Open the inode first.
func (c *ExtentClient) Write(ino, offset uint64, data []byte) (int, error) {
	s, err := c.streamFor(ino)
	if err != nil {
		return 0, err
	}
	return s.Write(offset, data)
}

func (c *ExtentClient) Read(ino, offset uint64, buf []byte) (int, error) {
	s, err := c.streamFor(ino)
	if err != nil {
		return 0, err
	}
	return s.Read(offset, buf)
}

func (c *ExtentClient) Flush(ino uint64) error {
	s, err := c.streamFor(ino)
	if err != nil {
		return err
	}
	return s.Flush()
}

func (c *ExtentClient) Truncate(ino, size uint64) error {
	s, err := c.streamFor(ino)
	if err != nil {
		return err
	}
	return s.Truncate(size)
}

func (c *ExtentClient) streamFor(ino uint64) (*ExtentStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rc, ok := c.streams[ino]
	if !ok {
		return nil, fmt.Errorf("data: inode %v is not open", ino)
	}
	return rc.stream, nil
}

// Close stops the data partition directory's background loops.
func (c *ExtentClient) Close() {
	c.wrapper.Close()
}
