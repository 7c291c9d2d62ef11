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
	"sync"

	"github.com/google/btree"

	"github.com/extentfs/extentfs/proto"
	"github.com/extentfs/extentfs/util/log"
)

const btreeDegree = 32

// cacheItem wraps an ExtentKey as a btree.Item ordered by FileOffset,
// generalizing arvinsg-cubefs/sdk/data/extent_cache.go's Insert/
// PrepareRequests pair away from that file's unavailable sortedextent
// dependency onto a btree ordered by FileOffset. The tree carries no
// interval augmentation: overlap queries walk it in order.
type cacheItem struct {
	proto.ExtentKey
}

func (c cacheItem) Less(than btree.Item) bool {
	return c.FileOffset < than.(cacheItem).FileOffset
}

// ExtentCache holds the known, non-overlapping mapping from file
// offset ranges to extent keys for one open inode. A fresh write
// always wins over any key it overlaps (last-writer-wins within a
// single stream owner, the invariant extent streams rely on since
// only one ExtentStream instance mutates a given inode's cache at a
// time).
type ExtentCache struct {
	mu   sync.RWMutex
	tree *btree.BTree
	size uint64 // cached logical file size, maintained alongside Insert/Truncate
}

// NewExtentCache returns an empty cache.
func NewExtentCache() *ExtentCache {
	return &ExtentCache{tree: btree.New(btreeDegree)}
}

// Size returns the cache's believed logical file size.
func (c *ExtentCache) Size() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// SetSize overwrites the cache's believed logical size, called after
// a fresh ExtentsList from the meta partition.
func (c *ExtentCache) SetSize(size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.size = size
}

// Insert adds ek to the cache, discarding or truncating any existing
// key it overlaps. sync indicates whether the key has already been
// durably recorded with the meta partition (true for keys loaded via
// RefreshForRead, false for a key just appended locally pending
// flush). It returns the full set of previously-recorded keys that ek
// overlapped (evicted wholesale, even where only part of their range
// was trimmed away), so the caller can tell the meta partition which
// of its already-durable extent keys this write just superseded.
func (c *ExtentCache) Insert(ek proto.ExtentKey, sync bool) []proto.ExtentKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	discarded := c.discardOverlapsLocked(ek)
	c.tree.ReplaceOrInsert(cacheItem{ek})
	if end := ek.End(); end > c.size {
		c.size = end
	}
	if log.IsDebugEnabled() {
		log.LogDebugf("extent cache: inserted %v sync(%v) discarded(%d)", ek, sync, len(discarded))
	}
	return discarded
}

// discardOverlapsLocked removes or trims every existing key that
// overlaps ek's file-offset range, splitting a key that only
// partially overlaps into the surviving, non-overlapping remainder(s),
// and returns every original key it removed from the tree.
func (c *ExtentCache) discardOverlapsLocked(ek proto.ExtentKey) []proto.ExtentKey {
	var overlapping []cacheItem
	c.tree.AscendGreaterOrEqual(cacheItem{proto.ExtentKey{FileOffset: 0}}, func(item btree.Item) bool {
		existing := item.(cacheItem)
		if existing.Overlaps(ek) {
			overlapping = append(overlapping, existing)
		}
		return true
	})
	discarded := make([]proto.ExtentKey, 0, len(overlapping))
	for _, existing := range overlapping {
		c.tree.Delete(existing)
		discarded = append(discarded, existing.ExtentKey)
		if existing.FileOffset < ek.FileOffset {
			left := existing.ExtentKey
			left.Size = uint32(ek.FileOffset - left.FileOffset)
			if left.Size > 0 {
				c.tree.ReplaceOrInsert(cacheItem{left})
			}
		}
		if existing.End() > ek.End() {
			right := existing.ExtentKey
			trim := ek.End() - right.FileOffset
			right.FileOffset = ek.End()
			right.ExtentOffset += trim
			right.Size -= uint32(trim)
			if right.Size > 0 {
				c.tree.ReplaceOrInsert(cacheItem{right})
			}
		}
	}
	return discarded
}

// Request describes one resolved sub-range of a read: either backed
// by an extent key (Hole == false) or a gap with no recorded data
// (Hole == true, read as zeroes).
type Request struct {
	FileOffset uint64
	Size       uint32
	Key        proto.ExtentKey
	Hole       bool
}

// PrepareRequests splits [offset, offset+size) into an ordered list
// of Requests covering every byte of the range, mirroring the
// teacher's PrepareRequests: holes between recorded keys, and within
// recorded keys, become explicit zero-fill requests rather than being
// silently skipped.
func (c *ExtentCache) PrepareRequests(offset uint64, size uint32) []Request {
	c.mu.RLock()
	defer c.mu.RUnlock()

	end := offset + uint64(size)
	var reqs []Request
	cursor := offset

	c.tree.AscendGreaterOrEqual(cacheItem{proto.ExtentKey{FileOffset: 0}}, func(item btree.Item) bool {
		ek := item.(cacheItem).ExtentKey
		if ek.End() <= cursor {
			return true
		}
		if ek.FileOffset >= end {
			return false
		}
		if ek.FileOffset > cursor {
			reqs = append(reqs, Request{FileOffset: cursor, Size: uint32(ek.FileOffset - cursor), Hole: true})
			cursor = ek.FileOffset
		}
		segEnd := ek.End()
		if segEnd > end {
			segEnd = end
		}
		sub := ek
		sub.FileOffset = cursor
		sub.ExtentOffset += cursor - ek.FileOffset
		sub.Size = uint32(segEnd - cursor)
		reqs = append(reqs, Request{FileOffset: cursor, Size: sub.Size, Key: sub})
		cursor = segEnd
		return cursor < end
	})

	if cursor < end {
		reqs = append(reqs, Request{FileOffset: cursor, Size: uint32(end - cursor), Hole: true})
	}
	return reqs
}

// Keys returns every extent key in file-offset order, the shape
// Flush needs to persist newly appended keys with the meta partition.
func (c *ExtentCache) Keys() []proto.ExtentKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]proto.ExtentKey, 0, c.tree.Len())
	c.tree.Ascend(func(item btree.Item) bool {
		out = append(out, item.(cacheItem).ExtentKey)
		return true
	})
	return out
}

// Truncate drops every key (or trailing portion of a key) beyond
// size and updates the cached logical size.
func (c *ExtentCache) Truncate(size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var toDrop []cacheItem
	var toShrink []proto.ExtentKey
	c.tree.Ascend(func(item btree.Item) bool {
		ek := item.(cacheItem)
		if ek.FileOffset >= size {
			toDrop = append(toDrop, ek)
		} else if ek.End() > size {
			shrunk := ek.ExtentKey
			shrunk.Size = uint32(size - shrunk.FileOffset)
			toDrop = append(toDrop, ek)
			toShrink = append(toShrink, shrunk)
		}
		return true
	})
	for _, ek := range toDrop {
		c.tree.Delete(ek)
	}
	for _, ek := range toShrink {
		c.tree.ReplaceOrInsert(cacheItem{ek})
	}
	c.size = size
}
