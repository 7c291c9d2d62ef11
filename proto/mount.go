package proto

// MountOption identifies one entry of the flattened mount option set
// parsed out of the config file and/or /etc/fstab line, generalized
// from arvinsg-cubefs/proto/mount_options.go's enum down to the
// options this client actually implements.
type MountOption int

const (
	MountPoint MountOption = iota
	VolName
	Owner
	Master
	LogDir
	LogLevel
	ProfPort
	ExporterPort
	ReadRate
	WriteRate
	FollowerRead
	NearRead
	SubDir
	EnableRDMA
	RDMAPort
	EnableQuota
	MaxMountOption
)

// MountOptionName names each option for fstab/config-line parsing.
var MountOptionName = map[MountOption]string{
	MountPoint:   "mountPoint",
	VolName:      "volName",
	Owner:        "owner",
	Master:       "masterAddr",
	LogDir:       "logDir",
	LogLevel:     "logLevel",
	ProfPort:     "profPort",
	ExporterPort: "exporterPort",
	ReadRate:     "readRate",
	WriteRate:    "writeRate",
	FollowerRead: "followerRead",
	NearRead:     "nearRead",
	SubDir:       "subDir",
	EnableRDMA:   "enableRdma",
	RDMAPort:     "rdmaPort",
	EnableQuota:  "enableQuota",
}
