package proto

import "encoding/json"

// HTTPReply is the envelope every master API response is wrapped in;
// only Code == 0 is success, grounded on arvinsg-cubefs/sdk/master's
// api_client.go response handling.
type HTTPReply struct {
	Code int32           `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// VolumeInfo describes a volume's topology-independent attributes, the
// payload of the admin get-volume API.
type VolumeInfo struct {
	Name           string `json:"name"`
	Owner          string `json:"owner"`
	CreateTime     int64  `json:"createTime"`
	Capacity       uint64 `json:"capacity"`
	FollowerRead   bool   `json:"followerRead"`
	EnableQuota    bool   `json:"enableQuota"`
	CrossZone      bool   `json:"crossZone"`
}

// VolStatInfo reports used/total space for a volume.
type VolStatInfo struct {
	Name      string `json:"name"`
	TotalSize uint64 `json:"totalSize"`
	UsedSize  uint64 `json:"usedSize"`
	UsedRatio string `json:"usedRatio"`
}

// DataPartitionInfo is one entry of the volume's data partition map,
// as returned by the admin client-partitions API.
type DataPartitionInfo struct {
	PartitionID uint64   `json:"partitionID"`
	Hosts       []string `json:"hosts"`
	Status      int8     `json:"status"`
	LeaderAddr  string   `json:"leaderAddr"`
	ReplicaNum  uint8    `json:"replicaNum"`
}

// DataPartitionsView is the full response of the client-partitions
// API: the partitions the client is allowed to write new extents to.
type DataPartitionsView struct {
	DataPartitions []*DataPartitionInfo `json:"dataPartitions"`
}

// MetaPartitionInfo is one entry of the volume's meta partition map.
type MetaPartitionInfo struct {
	PartitionID uint64   `json:"partitionID"`
	Start       uint64   `json:"start"`
	End         uint64   `json:"end"`
	Members     []string `json:"members"`
	LeaderAddr  string   `json:"leaderAddr"`
}

// MetaPartitionsView is the full response of the client meta
// partitions API.
type MetaPartitionsView struct {
	MetaPartitions []*MetaPartitionInfo `json:"metaPartitions"`
}

// ClusterInfo reports cluster-wide identity returned at mount time.
type ClusterInfo struct {
	Cluster string `json:"cluster"`
	Ip      string `json:"ip"`
}
