package proto

import "fmt"

// ExtentKey is the 5-tuple that locates one contiguous run of file
// data within a data partition, the unit the metadata service tracks
// per inode and the unit extent writers allocate.
type ExtentKey struct {
	FileOffset   uint64
	PartitionID  uint64
	ExtentID     uint64
	ExtentOffset uint64
	Size         uint32
	CRC          uint32
}

// End returns the file offset one past the last byte this key covers.
func (ek ExtentKey) End() uint64 {
	return ek.FileOffset + uint64(ek.Size)
}

// Overlaps reports whether ek and other cover any common file-offset
// range.
func (ek ExtentKey) Overlaps(other ExtentKey) bool {
	return ek.FileOffset < other.End() && other.FileOffset < ek.End()
}

func (ek ExtentKey) String() string {
	return fmt.Sprintf("ExtentKey{FileOffset(%v)Partition(%v)Extent(%v)ExtentOffset(%v)Size(%v)CRC(%v)}",
		ek.FileOffset, ek.PartitionID, ek.ExtentID, ek.ExtentOffset, ek.Size, ek.CRC)
}

// Marshal encodes the key into a fixed 40-byte big-endian record.
func (ek ExtentKey) Marshal() []byte {
	b := make([]byte, 40)
	putU64(b[0:], ek.FileOffset)
	putU64(b[8:], ek.PartitionID)
	putU64(b[16:], ek.ExtentID)
	putU64(b[24:], ek.ExtentOffset)
	putU32(b[32:], ek.Size)
	putU32(b[36:], ek.CRC)
	return b
}

// UnmarshalExtentKey decodes a record produced by Marshal.
func UnmarshalExtentKey(b []byte) (ExtentKey, error) {
	if len(b) < 40 {
		return ExtentKey{}, fmt.Errorf("proto: short extent key: %d bytes", len(b))
	}
	return ExtentKey{
		FileOffset:   getU64(b[0:]),
		PartitionID:  getU64(b[8:]),
		ExtentID:     getU64(b[16:]),
		ExtentOffset: getU64(b[24:]),
		Size:         getU32(b[32:]),
		CRC:          getU32(b[36:]),
	}, nil
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (24 - 8*i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func getU32(b []byte) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v = v<<8 | uint32(b[i])
	}
	return v
}
