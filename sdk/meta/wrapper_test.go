package meta

import (
	"fmt"
	"testing"

	gomock "github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/extentfs/extentfs/proto"
)

func TestWrapperRefreshBuildsPartitionTable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mc := NewMockMasterAPI(ctrl)
	mc.EXPECT().GetMetaPartitions("vol1").Return(&proto.MetaPartitionsView{
		MetaPartitions: []*proto.MetaPartitionInfo{
			{PartitionID: 1, Start: 0, End: 1000, Members: []string{"h1:1", "h2:1"}, LeaderAddr: "h1:1"},
			{PartitionID: 2, Start: 1000, End: 2000, Members: []string{"h3:1"}},
		},
	}, nil)

	w := &Wrapper{volName: "vol1", mc: mc}
	require.NoError(t, w.refresh())

	p, err := w.partitionFor(500)
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.PartitionID)
	require.Equal(t, "h1:1", p.LeaderAddr())

	p2, err := w.partitionFor(1500)
	require.NoError(t, err)
	require.Equal(t, uint64(2), p2.PartitionID)
	require.Equal(t, "h3:1", p2.LeaderAddr(), "falls back to the sole member when leaderAddr is absent from the view")
}

func TestWrapperRefreshPropagatesMasterError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	boom := fmt.Errorf("master unreachable")
	mc := NewMockMasterAPI(ctrl)
	mc.EXPECT().GetMetaPartitions("vol1").Return(nil, boom)

	w := &Wrapper{volName: "vol1", mc: mc}
	require.Equal(t, boom, w.refresh())
}
