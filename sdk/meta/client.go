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

package meta

import (
	"encoding/json"
	"fmt"

	"github.com/extentfs/extentfs/proto"
)

type createInodeReq struct {
	PartitionID uint64 `json:"pid"`
	Mode        uint32 `json:"mode"`
	Uid         uint32 `json:"uid"`
	Gid         uint32 `json:"gid"`
	Target      []byte `json:"target,omitempty"`
}

type createDentryReq struct {
	ParentID uint64 `json:"pino"`
	Inode    uint64 `json:"ino"`
	Name     string `json:"name"`
	Mode     uint32 `json:"mode"`
}

type lookupReq struct {
	ParentID uint64 `json:"pino"`
	Name     string `json:"name"`
}

type lookupResp struct {
	Inode uint64 `json:"ino"`
	Mode  uint32 `json:"mode"`
}

type extentsAddReq struct {
	Inode   uint64            `json:"ino"`
	Key     proto.ExtentKey   `json:"ek"`
	Discard []proto.ExtentKey `json:"discard,omitempty"`
}

type batchInodeGetReq struct {
	Inodes []uint64 `json:"inos"`
}

type linkReq struct {
	ParentID uint64 `json:"pino"`
	Name     string `json:"name"`
	Inode    uint64 `json:"ino"`
}

type renameReq struct {
	OldParentID uint64 `json:"old_pino"`
	OldName     string `json:"old_name"`
	NewParentID uint64 `json:"new_pino"`
	NewName     string `json:"new_name"`
	Overwrite   bool   `json:"overwrite"`
}

type deleteDentryResp struct {
	Inode uint64 `json:"ino"`
}

type extentsListResp struct {
	Size    uint64            `json:"size"`
	Extents []proto.ExtentKey `json:"eks"`
}

type setAttrReq struct {
	Inode uint64 `json:"ino"`
	Valid uint32 `json:"valid"`
	Mode  uint32 `json:"mode"`
	Uid   uint32 `json:"uid"`
	Gid   uint32 `json:"gid"`
}

// Attribute validity bitmask for SetAttr's Valid field.
const (
	AttrMode uint32 = 1 << iota
	AttrUid
	AttrGid
)

func (w *Wrapper) request(ino uint64, op uint8, body interface{}) (*proto.Packet, error) {
	mp, err := w.partitionFor(ino)
	if err != nil {
		return nil, err
	}
	req := proto.NewPacket()
	req.Opcode = op
	req.PartitionID = mp.PartitionID
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		req.Data = data
		req.Size = uint32(len(data))
	}
	resp, err := w.send(mp, req)
	if err != nil {
		return nil, err
	}
	if resp.IsErrPacket() {
		return resp, translateErrCode(resp.ResultCode)
	}
	return resp, nil
}

func translateErrCode(code uint8) error {
	switch code {
	case proto.OpErr:
		return proto.ErrInternalError
	default:
		return fmt.Errorf("meta: result code %d", code)
	}
}

// Create allocates a new inode under parentID with the given POSIX
// mode bits, and links it into the directory as name.
func (w *Wrapper) Create(parentID uint64, name string, mode, uid, gid uint32, target []byte) (*proto.InodeInfo, error) {
	resp, err := w.request(parentID, proto.OpMetaCreateInode, &createInodeReq{Mode: mode, Uid: uid, Gid: gid, Target: target})
	if err != nil {
		return nil, err
	}
	info := &proto.InodeInfo{}
	if err := json.Unmarshal(resp.Data, info); err != nil {
		return nil, err
	}
	if _, err := w.request(parentID, proto.OpMetaCreateDentry, &createDentryReq{ParentID: parentID, Inode: info.Inode, Name: name, Mode: mode}); err != nil {
		return nil, err
	}
	return info, nil
}

// Lookup resolves name inside parentID to an inode id and type.
func (w *Wrapper) Lookup(parentID uint64, name string) (ino uint64, mode uint32, err error) {
	resp, err := w.request(parentID, proto.OpMetaLookup, &lookupReq{ParentID: parentID, Name: name})
	if err != nil {
		return 0, 0, err
	}
	lr := &lookupResp{}
	if err := json.Unmarshal(resp.Data, lr); err != nil {
		return 0, 0, err
	}
	return lr.Inode, lr.Mode, nil
}

// InodeGet fetches full attributes for ino.
func (w *Wrapper) InodeGet(ino uint64) (*proto.InodeInfo, error) {
	resp, err := w.request(ino, proto.OpMetaInodeGet, nil)
	if err != nil {
		return nil, err
	}
	info := &proto.InodeInfo{}
	if err := json.Unmarshal(resp.Data, info); err != nil {
		return nil, err
	}
	return info, nil
}

// ReadDir lists the directory entries of ino.
func (w *Wrapper) ReadDir(ino uint64) ([]proto.Dentry, error) {
	resp, err := w.request(ino, proto.OpMetaReadDir, nil)
	if err != nil {
		return nil, err
	}
	var entries []proto.Dentry
	if err := json.Unmarshal(resp.Data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Unlink removes name from parentID. isDir distinguishes rmdir from
// unlink: a directory's dentry removal is the whole operation, while a
// file also needs its inode's link count decremented, which may orphan
// (and schedule for deletion) the inode once it reaches zero. Returns
// the inode id the dentry pointed to.
func (w *Wrapper) Unlink(parentID uint64, name string, isDir bool) (uint64, error) {
	resp, err := w.request(parentID, proto.OpMetaDeleteDentry, &createDentryReq{ParentID: parentID, Name: name})
	if err != nil {
		return 0, err
	}
	dr := &deleteDentryResp{}
	if err := json.Unmarshal(resp.Data, dr); err != nil {
		return 0, err
	}
	if isDir {
		return dr.Inode, nil
	}
	if _, err := w.request(dr.Inode, proto.OpMetaUnlinkInode, nil); err != nil {
		return 0, err
	}
	return dr.Inode, nil
}

// Link adds a second dentry name under parentID pointing at the
// already-existing inode ino, incrementing its link count.
func (w *Wrapper) Link(parentID uint64, name string, ino uint64) (*proto.InodeInfo, error) {
	resp, err := w.request(ino, proto.OpMetaLinkInode, &linkReq{ParentID: parentID, Name: name, Inode: ino})
	if err != nil {
		return nil, err
	}
	info := &proto.InodeInfo{}
	if err := json.Unmarshal(resp.Data, info); err != nil {
		return nil, err
	}
	if _, err := w.request(parentID, proto.OpMetaCreateDentry, &createDentryReq{ParentID: parentID, Inode: ino, Name: name, Mode: info.Mode}); err != nil {
		return nil, err
	}
	return info, nil
}

// Rename moves (and optionally renames) a dentry from oldParentID/
// oldName to newParentID/newName. overwrite permits replacing an
// existing dentry at the destination, the behavior POSIX rename(2)
// requires when the target already exists.
func (w *Wrapper) Rename(oldParentID uint64, oldName string, newParentID uint64, newName string, overwrite bool) error {
	_, err := w.request(oldParentID, proto.OpMetaRenameDentry, &renameReq{
		OldParentID: oldParentID,
		OldName:     oldName,
		NewParentID: newParentID,
		NewName:     newName,
		Overwrite:   overwrite,
	})
	return err
}

// BatchInodeGet fetches attributes for every inode in inos in a
// single round trip, the bulk form ReadDir-then-stat call sites use to
// avoid one request per entry. All of inos are expected to live on the
// same meta partition (routing is resolved from inos[0] alone).
func (w *Wrapper) BatchInodeGet(inos []uint64) ([]*proto.InodeInfo, error) {
	if len(inos) == 0 {
		return nil, nil
	}
	resp, err := w.request(inos[0], proto.OpMetaBatchInodeGet, &batchInodeGetReq{Inodes: inos})
	if err != nil {
		return nil, err
	}
	var infos []*proto.InodeInfo
	if err := json.Unmarshal(resp.Data, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// AppendExtentKey records a newly written extent against ino, the
// call the extent stream makes after a writer closes an extent.
// discard lists extent keys the stream's local cache evicted in
// producing ek (an overlapping write), so the meta partition can drop
// the same keys from ino's durable extent list.
func (w *Wrapper) AppendExtentKey(ino uint64, ek proto.ExtentKey, discard []proto.ExtentKey) error {
	_, err := w.request(ino, proto.OpMetaExtentsAdd, &extentsAddReq{Inode: ino, Key: ek, Discard: discard})
	return err
}

// ExtentsList fetches every extent key recorded against ino, along
// with the inode's current logical size.
func (w *Wrapper) ExtentsList(ino uint64) (uint64, []proto.ExtentKey, error) {
	resp, err := w.request(ino, proto.OpMetaExtentsList, nil)
	if err != nil {
		return 0, nil, err
	}
	el := &extentsListResp{}
	if err := json.Unmarshal(resp.Data, el); err != nil {
		return 0, nil, err
	}
	return el.Size, el.Extents, nil
}

// Truncate sets ino's logical size to size, discarding extent keys
// (or ranges thereof) beyond it. The meta partition bumps the inode's
// generation once per call so concurrent extent cache holders can
// detect staleness.
func (w *Wrapper) Truncate(ino, size uint64) error {
	type truncateReq struct {
		Inode uint64 `json:"ino"`
		Size  uint64 `json:"size"`
	}
	_, err := w.request(ino, proto.OpMetaTruncate, &truncateReq{Inode: ino, Size: size})
	return err
}

// SetAttr updates the attribute fields named by valid.
func (w *Wrapper) SetAttr(ino uint64, valid, mode, uid, gid uint32) error {
	_, err := w.request(ino, proto.OpMetaSetattr, &setAttrReq{Inode: ino, Valid: valid, Mode: mode, Uid: uid, Gid: gid})
	return err
}

// Quota fetches usage against the volume's configured quota for
// pathName, used only when EnableQuota is set.
func (w *Wrapper) Quota(ino uint64, pathName string) (*proto.QuotaInfo, error) {
	resp, err := w.request(ino, proto.OpMetaQuotaGet, map[string]string{"path": pathName})
	if err != nil {
		return nil, err
	}
	qi := &proto.QuotaInfo{}
	if err := json.Unmarshal(resp.Data, qi); err != nil {
		return nil, err
	}
	return qi, nil
}
