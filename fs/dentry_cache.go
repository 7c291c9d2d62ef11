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

// Package fs adapts the extent/meta sdk clients onto bazil.org/fuse,
// the VFS surface the mount command serves. Grounded on
// client/fs/read_only_meta_cache_test.go for the dentry/attr cache
// shape (the source file it tested was absent from the pack; this
// rebuilds it from the test's expectations) generalized onto
// hashicorp/golang-lru for bounded positive caching and
// bits-and-blooms/bloom for negative lookups.
package fs

import (
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru"

	"github.com/extentfs/extentfs/proto"
)

type dentryCacheKey struct {
	parent uint64
	name   string
}

type dentryCacheEntry struct {
	ino       uint64
	mode      uint32
	expiresAt time.Time
}

type attrCacheEntry struct {
	info      *proto.InodeInfo
	expiresAt time.Time
}

// DentryCache caches positive parent/name -> inode lookups in an LRU
// and negative lookups (names known not to exist) in a Bloom filter,
// so a readdir-heavy workload against a large directory doesn't repeat
// a meta-partition round trip for every stat.
type DentryCache struct {
	validFor time.Duration

	mu       sync.Mutex
	positive *lru.Cache
	negative *bloom.BloomFilter
	attrs    *lru.Cache
}

// NewDentryCache returns a cache whose positive entries are valid for
// validFor and whose negative filter is sized for approxEntries
// expected distinct miss keys at a 1% false-positive rate.
func NewDentryCache(validFor time.Duration, approxEntries uint, capacity int) *DentryCache {
	positive, _ := lru.New(capacity)
	attrs, _ := lru.New(capacity)
	return &DentryCache{
		validFor: validFor,
		positive: positive,
		negative: bloom.NewWithEstimates(approxEntries, 0.01),
		attrs:    attrs,
	}
}

func negKey(parent uint64, name string) []byte {
	return []byte(fmt.Sprintf("%d\x00%s", parent, name))
}

// Lookup returns a cached inode id/mode for parent/name, reporting
// found=false when the entry is absent or expired. It does not
// consult the negative filter — callers check KnownMissing first to
// skip the positive lookup entirely on a known-absent name.
func (c *DentryCache) Lookup(parent uint64, name string) (ino uint64, mode uint32, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.positive.Get(dentryCacheKey{parent, name})
	if !ok {
		return 0, 0, false
	}
	entry := v.(dentryCacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.positive.Remove(dentryCacheKey{parent, name})
		return 0, 0, false
	}
	return entry.ino, entry.mode, true
}

// Insert records a positive parent/name -> inode mapping.
func (c *DentryCache) Insert(parent uint64, name string, ino uint64, mode uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positive.Add(dentryCacheKey{parent, name}, dentryCacheEntry{ino: ino, mode: mode, expiresAt: time.Now().Add(c.validFor)})
}

// MarkMissing records that name does not exist under parent, so a
// repeated lookup of the same miss can be answered without a round
// trip. False positives are possible (the filter never forgets) and
// are resolved by falling through to the real lookup on a Bloom hit
// with no positive entry.
func (c *DentryCache) MarkMissing(parent uint64, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.negative.Add(negKey(parent, name))
}

// KnownMissing reports whether name was previously marked missing
// under parent. A true result may be a false positive; a false result
// is always accurate.
func (c *DentryCache) KnownMissing(parent uint64, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negative.Test(negKey(parent, name))
}

// Invalidate removes any cached entry for parent/name, called after a
// create/unlink/rename changes the directory's contents.
func (c *DentryCache) Invalidate(parent uint64, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positive.Remove(dentryCacheKey{parent, name})
}

// Attr returns the cached inode attributes for ino, if present and
// unexpired.
func (c *DentryCache) Attr(ino uint64) (*proto.InodeInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.attrs.Get(ino)
	if !ok {
		return nil, false
	}
	entry := v.(attrCacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.attrs.Remove(ino)
		return nil, false
	}
	return entry.info, true
}

// InsertAttr caches info for validFor.
func (c *DentryCache) InsertAttr(info *proto.InodeInfo, validFor time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs.Add(info.Inode, attrCacheEntry{info: info, expiresAt: time.Now().Add(validFor)})
}

// InvalidateAttr drops any cached attributes for ino, called after a
// write or setattr changes them.
func (c *DentryCache) InvalidateAttr(ino uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs.Remove(ino)
}
