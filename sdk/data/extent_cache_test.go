package data

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/extentfs/extentfs/proto"
)

func TestExtentCacheInsertAndSize(t *testing.T) {
	c := NewExtentCache()
	c.Insert(proto.ExtentKey{FileOffset: 0, PartitionID: 1, ExtentID: 1, Size: 100}, true)
	require.Equal(t, uint64(100), c.Size())

	c.Insert(proto.ExtentKey{FileOffset: 200, PartitionID: 1, ExtentID: 2, Size: 50}, true)
	require.Equal(t, uint64(250), c.Size())
}

func TestExtentCacheOverlapDiscardsAndSplits(t *testing.T) {
	c := NewExtentCache()
	c.Insert(proto.ExtentKey{FileOffset: 0, PartitionID: 1, ExtentID: 1, Size: 100}, true)

	// Overlap the middle: should split the original key into a left
	// remainder [0,40) and a right remainder [60,100) whose extent
	// offset is advanced by the 60 bytes trimmed from its front.
	c.Insert(proto.ExtentKey{FileOffset: 40, PartitionID: 1, ExtentID: 2, ExtentOffset: 0, Size: 20}, false)

	keys := c.Keys()
	require.Len(t, keys, 3)
	require.Equal(t, uint64(0), keys[0].FileOffset)
	require.Equal(t, uint32(40), keys[0].Size)
	require.Equal(t, uint64(40), keys[1].FileOffset)
	require.Equal(t, uint32(20), keys[1].Size)
	require.Equal(t, uint64(2), keys[1].ExtentID)
	require.Equal(t, uint64(60), keys[2].FileOffset)
	require.Equal(t, uint32(40), keys[2].Size)
}

func TestExtentCachePrepareRequestsHolesAndKeys(t *testing.T) {
	c := NewExtentCache()
	c.Insert(proto.ExtentKey{FileOffset: 10, PartitionID: 1, ExtentID: 1, Size: 10}, true) // covers [10,20)

	reqs := c.PrepareRequests(0, 30) // [0,30)
	require.Len(t, reqs, 3)

	require.True(t, reqs[0].Hole)
	require.Equal(t, uint64(0), reqs[0].FileOffset)
	require.Equal(t, uint32(10), reqs[0].Size)

	require.False(t, reqs[1].Hole)
	require.Equal(t, uint64(10), reqs[1].FileOffset)
	require.Equal(t, uint32(10), reqs[1].Size)

	require.True(t, reqs[2].Hole)
	require.Equal(t, uint64(20), reqs[2].FileOffset)
	require.Equal(t, uint32(10), reqs[2].Size)
}

func TestExtentCachePrepareRequestsPartialKeyOverlap(t *testing.T) {
	c := NewExtentCache()
	c.Insert(proto.ExtentKey{FileOffset: 0, PartitionID: 1, ExtentID: 1, ExtentOffset: 1000, Size: 100}, true)

	reqs := c.PrepareRequests(50, 20) // fully inside the key, [50,70)
	require.Len(t, reqs, 1)
	require.False(t, reqs[0].Hole)
	require.Equal(t, uint64(50), reqs[0].FileOffset)
	require.Equal(t, uint32(20), reqs[0].Size)
	require.Equal(t, uint64(1050), reqs[0].Key.ExtentOffset)
}

func TestExtentCacheTruncateShrinksAndDrops(t *testing.T) {
	c := NewExtentCache()
	c.Insert(proto.ExtentKey{FileOffset: 0, PartitionID: 1, ExtentID: 1, Size: 50}, true)
	c.Insert(proto.ExtentKey{FileOffset: 50, PartitionID: 1, ExtentID: 2, Size: 50}, true)
	require.Equal(t, uint64(100), c.Size())

	c.Truncate(60)
	require.Equal(t, uint64(60), c.Size())

	keys := c.Keys()
	require.Len(t, keys, 2)
	require.Equal(t, uint32(50), keys[0].Size)
	require.Equal(t, uint32(10), keys[1].Size)
}

func TestExtentCacheTruncateToZero(t *testing.T) {
	c := NewExtentCache()
	c.Insert(proto.ExtentKey{FileOffset: 0, PartitionID: 1, ExtentID: 1, Size: 50}, true)
	c.Truncate(0)
	require.Equal(t, uint64(0), c.Size())
	require.Empty(t, c.Keys())
}
