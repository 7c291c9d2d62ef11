package proto

import "errors"

// Sentinel errors surfaced by the sdk packages, forming the taxonomy
// described in spec §7: callers distinguish these with errors.Is
// rather than string matching.
var (
	ErrInternalError = errors.New("internal error")

	ErrVolNotExists     = errors.New("volume not exists")
	ErrDirNotExists     = errors.New("directory not exists")
	ErrFileNotExists    = errors.New("file not exists")
	ErrInodeNotExists   = errors.New("inode not exists")
	ErrDirNotEmpty      = errors.New("directory not empty")
	ErrExist            = errors.New("file already exists")
	ErrNoSpace          = errors.New("no space left")
	ErrIsNotDir         = errors.New("target is not a directory")
	ErrIsDir            = errors.New("target is a directory")
	ErrTooManyFiles     = errors.New("too many open files")
	ErrPermission       = errors.New("permission denied")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrIO               = errors.New("io error")

	ErrConnectPartition = errors.New("failed to connect data partition")
	ErrPartitionUnavail = errors.New("data partition unavailable")
	ErrPacketMismatch   = errors.New("packet reply mismatch")
	ErrArgLenMismatch   = errors.New("packet arg length mismatch")
)
