package fs

import (
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/extentfs/extentfs/proto"
)

func generateInodes(n int, startIno uint64) []proto.InodeInfo {
	modes := []os.FileMode{os.ModeDir, os.ModeSymlink, 0}
	infos := make([]proto.InodeInfo, 0, n)
	for i := 0; i < n; i++ {
		infos = append(infos, proto.InodeInfo{
			Inode:      startIno + uint64(i),
			Mode:       uint32(modes[rand.Intn(len(modes))]),
			Nlink:      1,
			Size:       rand.Uint64() % (1 << 20),
			Uid:        uint32(rand.Intn(1000)),
			Gid:        uint32(rand.Intn(1000)),
			Generation: 1,
			ModifyTime: time.Unix(time.Now().Unix(), 0),
			CreateTime: time.Unix(time.Now().Unix(), 0),
			AccessTime: time.Unix(time.Now().Unix(), 0),
		})
	}
	return infos
}

func TestDentryCacheInsertLookup(t *testing.T) {
	c := NewDentryCache(30*time.Second, 1000, 100)
	infos := generateInodes(5, 2)
	for i, info := range infos {
		name := fmt.Sprintf("test_name_%d", info.Inode)
		c.Insert(1, name, info.Inode, info.Mode)
		ino, mode, found := c.Lookup(1, name)
		require.True(t, found, "entry %d should be found immediately after insert", i)
		require.Equal(t, info.Inode, ino)
		require.Equal(t, info.Mode, mode)
	}
}

func TestDentryCacheExpiry(t *testing.T) {
	c := NewDentryCache(time.Millisecond, 1000, 100)
	c.Insert(1, "expiring", 42, 0)
	time.Sleep(5 * time.Millisecond)
	_, _, found := c.Lookup(1, "expiring")
	require.False(t, found, "entry should have expired")
}

func TestDentryCacheNegative(t *testing.T) {
	c := NewDentryCache(30*time.Second, 1000, 100)
	require.False(t, c.KnownMissing(1, "ghost"))
	c.MarkMissing(1, "ghost")
	require.True(t, c.KnownMissing(1, "ghost"))
}

func TestDentryCacheInvalidate(t *testing.T) {
	c := NewDentryCache(30*time.Second, 1000, 100)
	c.Insert(1, "doomed", 7, 0)
	c.Invalidate(1, "doomed")
	_, _, found := c.Lookup(1, "doomed")
	require.False(t, found)
}

func TestAttrCacheRoundTrip(t *testing.T) {
	c := NewDentryCache(30*time.Second, 1000, 100)
	infos := generateInodes(1, 9)
	info := &infos[0]
	c.InsertAttr(info, 30*time.Second)
	cached, ok := c.Attr(info.Inode)
	require.True(t, ok)
	require.Equal(t, info, cached)

	c.InvalidateAttr(info.Inode)
	_, ok = c.Attr(info.Inode)
	require.False(t, ok)
}
