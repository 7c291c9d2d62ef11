package proto

import (
	"os"
	"time"
)

// Mode bits for the file type portion of InodeInfo.Mode, matching the
// values syscall/os expects so the fs layer can pass them through
// without translation.
const (
	ModeDir  = uint32(os.ModeDir)
	ModeFile = uint32(0)
)

// InodeInfo mirrors the inode attribute record returned by
// OpMetaInodeGet and OpMetaCreateInode.
type InodeInfo struct {
	Inode      uint64
	Mode       uint32
	Nlink      uint32
	Size       uint64
	Uid        uint32
	Gid        uint32
	Generation uint64
	ModifyTime time.Time
	CreateTime time.Time
	AccessTime time.Time
	Target     []byte // symlink target, if any
}

// IsDir reports whether the inode is a directory.
func (i *InodeInfo) IsDir() bool {
	return i.Mode&uint32(os.ModeDir) != 0
}

// Dentry is a single name -> inode binding inside a parent directory,
// returned by OpMetaReadDir/OpMetaLookup.
type Dentry struct {
	Name  string
	Inode uint64
	Type  uint32
}

// XAttrInfo carries a single extended attribute value returned by the
// meta partition.
type XAttrInfo struct {
	Inode uint64
	Key   string
	Value []byte
}

// QuotaInfo reports usage against a volume or directory quota.
type QuotaInfo struct {
	PathName  string
	MaxBytes  uint64
	MaxFiles  uint64
	UsedBytes uint64
	UsedFiles uint64
}
