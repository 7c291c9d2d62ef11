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
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/extentfs/extentfs/proto"
	"github.com/extentfs/extentfs/sdk/meta"
	"github.com/extentfs/extentfs/util/log"
	"github.com/extentfs/extentfs/util/unit"
)

// DefaultMaxWriters is the writer rotation cap used when StreamConfig
// leaves MaxWriters unset.
const DefaultMaxWriters = 4

// ExtentStream is the single owner of one open inode's extent cache
// and in-flight writers: every mutation to the inode's data goes
// through this type, simplifying arvinsg-cubefs/sdk/data/extent_client.go's
// Streamer-level operations (Write/Flush/Truncate) down to spec's
// single-mutator-owns-cache-and-writers model. writers holds every
// concurrently open (not yet flushed) writer in FIFO order: a write
// that isn't contiguous with any open writer's tail opens a new one,
// retiring the oldest first once maxWriters is reached.
type ExtentStream struct {
	inode   uint64
	wrapper *Wrapper
	mw      *meta.Wrapper
	cache   *ExtentCache

	followerRead bool
	nearRead     bool

	mu         sync.Mutex
	writers    []*writer // FIFO: writers[0] is the oldest, retired first
	maxWriters int

	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter
}

// StreamConfig bundles the per-volume policy an ExtentStream needs at
// construction (rate limits, read routing preferences).
type StreamConfig struct {
	FollowerRead bool
	NearRead     bool
	ReadRateBps  int64
	WriteRateBps int64

	// MaxWriters bounds how many extents may be open for append at
	// once. A write that isn't contiguous with any open writer opens a
	// new one, retiring the oldest (FIFO) once this cap is hit. Zero
	// falls back to DefaultMaxWriters.
	MaxWriters int
}

// OpenStream returns a stream over inode, loading its existing extent
// keys from the meta partition.
func OpenStream(inode uint64, wrapper *Wrapper, mw *meta.Wrapper, cfg StreamConfig) (*ExtentStream, error) {
	maxWriters := cfg.MaxWriters
	if maxWriters <= 0 {
		maxWriters = DefaultMaxWriters
	}
	s := &ExtentStream{
		inode:        inode,
		wrapper:      wrapper,
		mw:           mw,
		cache:        NewExtentCache(),
		followerRead: cfg.FollowerRead,
		nearRead:     cfg.NearRead,
		maxWriters:   maxWriters,
	}
	if cfg.ReadRateBps > 0 {
		s.readLimiter = rate.NewLimiter(rate.Limit(cfg.ReadRateBps), unit.BlockSize)
	}
	if cfg.WriteRateBps > 0 {
		s.writeLimiter = rate.NewLimiter(rate.Limit(cfg.WriteRateBps), unit.BlockSize)
	}
	if err := s.refreshFromMeta(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ExtentStream) refreshFromMeta() error {
	size, keys, err := s.mw.ExtentsList(s.inode)
	if err != nil {
		return err
	}
	for _, k := range keys {
		s.cache.Insert(k, true)
	}
	s.cache.SetSize(size)
	return nil
}

// Size returns the stream's believed logical file size.
func (s *ExtentStream) Size() uint64 {
	return s.cache.Size()
}

// Write appends data at the given file offset. If no open writer's
// tail matches offset, a new writer is opened for it; when that would
// exceed maxWriters, the oldest open writer is retired (flushed,
// closed, and persisted) first to free a slot.
func (s *ExtentStream) Write(offset uint64, data []byte) (int, error) {
	if s.writeLimiter != nil {
		if err := s.writeLimiter.WaitN(context.Background(), unit.Min(len(data), unit.BlockSize)); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.writerForLocked(offset)
	if err != nil {
		return 0, err
	}

	if err := w.Write(data, len(data)); err != nil {
		nw, recErr := s.recoverWriterAtLocked(w)
		if recErr != nil {
			return 0, fmt.Errorf("data: write failed and recovery failed: %w (original: %v)", recErr, err)
		}
		if err := nw.Write(data, len(data)); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

// writerForLocked returns the open writer whose tail is offset,
// opening a fresh one (retiring the oldest if the stream is already at
// maxWriters) when none matches.
func (s *ExtentStream) writerForLocked(offset uint64) (*writer, error) {
	for _, w := range s.writers {
		if writerTail(w) == offset {
			return w, nil
		}
	}
	if len(s.writers) >= s.maxWriters {
		if err := s.retireOldestLocked(); err != nil {
			return nil, fmt.Errorf("data: retiring oldest writer to admit new extent: %w", proto.ErrPermission)
		}
	}
	dp, err := s.wrapper.PickWritable()
	if err != nil {
		return nil, err
	}
	w, err := newWriter(s, dp, offset)
	if err != nil {
		return nil, err
	}
	s.writers = append(s.writers, w)
	return w, nil
}

func writerTail(w *writer) uint64 {
	return w.fileOffset + uint64(w.size)
}

// retireOldestLocked flushes, closes, and persists the oldest open
// writer, removing it from the FIFO. Called both to free a slot under
// maxWriters and by closeAllWritersLocked to drain every writer.
func (s *ExtentStream) retireOldestLocked() error {
	if len(s.writers) == 0 {
		return nil
	}
	w := s.writers[0]
	key, err := w.Close()
	s.writers = s.writers[1:]
	if err != nil {
		return err
	}
	return s.persistKeyLocked(key)
}

func (s *ExtentStream) closeAllWritersLocked() error {
	for len(s.writers) > 0 {
		if err := s.retireOldestLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExtentStream) persistKeyLocked(key proto.ExtentKey) error {
	if key.Size == 0 {
		return nil
	}
	discard := s.cache.Insert(key, false)
	return s.mw.AppendExtentKey(s.inode, key, discard)
}

// recoverWriterAtLocked replaces w (found to have failed) with a
// freshly recovered writer in place within the FIFO, persisting
// whatever w had already accepted before handing control to the new
// writer.
func (s *ExtentStream) recoverWriterAtLocked(w *writer) (*writer, error) {
	nw, err := w.recover()
	if err != nil {
		return nil, err
	}
	if key := w.Key(); key.Size > 0 {
		if perr := s.persistKeyLocked(key); perr != nil {
			log.LogWarnf("data: failed to persist partial extent key after recovery: %v", perr)
		}
	}
	for i, cur := range s.writers {
		if cur == w {
			s.writers[i] = nw
			return nw, nil
		}
	}
	s.writers = append(s.writers, nw)
	return nw, nil
}

// Flush durably persists every byte written so far: it closes every
// open writer and waits for each extent key to be recorded with the
// meta partition.
func (s *ExtentStream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeAllWritersLocked()
}

// Truncate sets the file's logical size, discarding cached extent key
// data beyond it and notifying the meta partition.
func (s *ExtentStream) Truncate(size uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.closeAllWritersLocked(); err != nil {
		return err
	}
	if err := s.mw.Truncate(s.inode, size); err != nil {
		return err
	}
	s.cache.Truncate(size)
	return nil
}

// Read fills buf starting at the file offset, fanning out concurrent
// sub-reads (one per resolved extent-key segment) via errgroup and
// assembling them back into buf in file-offset order.
func (s *ExtentStream) Read(offset uint64, buf []byte) (int, error) {
	if s.readLimiter != nil {
		if err := s.readLimiter.WaitN(context.Background(), unit.Min(len(buf), unit.BlockSize)); err != nil {
			return 0, err
		}
	}

	reqs := s.cache.PrepareRequests(offset, uint32(len(buf)))
	var g errgroup.Group
	var mu sync.Mutex
	total := 0

	for _, req := range reqs {
		req := req
		g.Go(func() error {
			sub := buf[req.FileOffset-offset : req.FileOffset-offset+uint64(req.Size)]
			if req.Hole {
				for i := range sub {
					sub[i] = 0
				}
				mu.Lock()
				total += len(sub)
				mu.Unlock()
				return nil
			}
			dp, err := s.wrapper.Get(req.Key.PartitionID)
			if err != nil {
				return err
			}
			rd := newReader(s.inode, req.Key, dp, s.wrapper, s.followerRead, s.nearRead)
			n, err := rd.Read(req.FileOffset, sub)
			if err != nil {
				return err
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

// Close flushes any pending writer. It does not evict the cache; a
// subsequent open of the same inode builds a fresh stream regardless.
func (s *ExtentStream) Close() error {
	return s.Flush()
}
