package proto

// Wire protocol constants, grounded on the fixed-layout binary header
// described in spec §6 and the opcode space observed in
// nyl1001-cubefs/proto/packet.go.
const (
	ProtoMagic uint8 = 0xFF

	OpOk              uint8 = 0x00
	OpTryOtherAddr    uint8 = 0xF5
	OpErr             uint8 = 0xF6

	// Data-node ops.
	OpCreateExtent uint8 = 0x01
	OpMarkDelete   uint8 = 0x02
	OpWrite        uint8 = 0x03
	OpRead         uint8 = 0x04
	OpStreamRead   uint8 = 0x05

	// Meta-node ops.
	OpMetaCreateInode  uint8 = 0x20
	OpMetaUnlinkInode  uint8 = 0x21
	OpMetaCreateDentry uint8 = 0x22
	OpMetaDeleteDentry uint8 = 0x23
	OpMetaLookup       uint8 = 0x25
	OpMetaReadDir      uint8 = 0x26
	OpMetaInodeGet     uint8 = 0x27
	OpMetaBatchInodeGet uint8 = 0x28
	OpMetaExtentsList  uint8 = 0x29
	OpMetaExtentsAdd   uint8 = 0x2A
	OpMetaTruncate     uint8 = 0x2B
	OpMetaSetattr      uint8 = 0x2C
	OpMetaLinkInode    uint8 = 0x2D
	OpMetaRenameDentry uint8 = 0x2E
	OpMetaQuotaGet     uint8 = 0x2F
)

// ExtentType distinguishes tiny (shared) extents from normal
// (per-file) extents; the client only ever allocates normal extents,
// but the field is carried on the wire regardless.
const (
	TinyExtentType   uint8 = 1
	NormalExtentType uint8 = 2
)

// opNames backs GetOpMsg for logging.
var opNames = map[uint8]string{
	OpCreateExtent:      "OpCreateExtent",
	OpMarkDelete:        "OpMarkDelete",
	OpWrite:             "OpWrite",
	OpRead:              "OpRead",
	OpStreamRead:        "OpStreamRead",
	OpMetaCreateInode:   "OpMetaCreateInode",
	OpMetaUnlinkInode:   "OpMetaUnlinkInode",
	OpMetaCreateDentry:  "OpMetaCreateDentry",
	OpMetaDeleteDentry:  "OpMetaDeleteDentry",
	OpMetaLookup:        "OpMetaLookup",
	OpMetaReadDir:       "OpMetaReadDir",
	OpMetaInodeGet:      "OpMetaInodeGet",
	OpMetaBatchInodeGet: "OpMetaBatchInodeGet",
	OpMetaExtentsList:   "OpMetaExtentsList",
	OpMetaExtentsAdd:    "OpMetaExtentsAdd",
	OpMetaTruncate:      "OpMetaTruncate",
	OpMetaSetattr:       "OpMetaSetattr",
	OpMetaLinkInode:     "OpMetaLinkInode",
	OpMetaRenameDentry:  "OpMetaRenameDentry",
	OpMetaQuotaGet:      "OpMetaQuotaGet",
}

var resultNames = map[uint8]string{
	OpOk:           "Ok",
	OpTryOtherAddr: "TryOtherAddr",
	OpErr:          "Err",
}
