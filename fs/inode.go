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

package fs

import (
	"context"
	"errors"
	"os"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"

	"github.com/extentfs/extentfs/proto"
	"github.com/extentfs/extentfs/util/log"
)

// Node adapts one inode onto bazil.org/fuse's Node interface family.
type Node struct {
	super *Super
	info  *proto.InodeInfo
}

var (
	_ fusefs.Node               = (*Node)(nil)
	_ fusefs.NodeStringLookuper  = (*Node)(nil)
	_ fusefs.HandleReadDirAller  = (*Node)(nil)
	_ fusefs.NodeOpener          = (*Node)(nil)
	_ fusefs.HandleReader        = (*Node)(nil)
	_ fusefs.HandleWriter        = (*Node)(nil)
	_ fusefs.NodeSetattrer       = (*Node)(nil)
	_ fusefs.NodeCreater         = (*Node)(nil)
	_ fusefs.NodeRemover         = (*Node)(nil)
	_ fusefs.NodeRenamer         = (*Node)(nil)
	_ fusefs.NodeLinker          = (*Node)(nil)
)

// Attr fills fuse.Attr from the cached or freshly fetched inode info.
func (n *Node) Attr(ctx context.Context, a *fuse.Attr) error {
	info, err := n.refreshed()
	if err != nil {
		return fuseErr(err)
	}
	a.Inode = info.Inode
	a.Size = info.Size
	a.Mode = os.FileMode(info.Mode)
	a.Nlink = info.Nlink
	a.Uid = info.Uid
	a.Gid = info.Gid
	a.Mtime = info.ModifyTime
	a.Ctime = info.ModifyTime
	a.Atime = info.AccessTime
	return nil
}

func (n *Node) refreshed() (*proto.InodeInfo, error) {
	if cached, ok := n.super.dentryCache.Attr(n.info.Inode); ok {
		return cached, nil
	}
	info, err := n.super.mw.InodeGet(n.info.Inode)
	if err != nil {
		return nil, err
	}
	n.super.dentryCache.InsertAttr(info, n.super.attrValidFor)
	n.info = info
	return info, nil
}

// Lookup resolves name within the directory node n.
func (n *Node) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	if n.super.dentryCache.KnownMissing(n.info.Inode, name) {
		if _, _, found := n.super.dentryCache.Lookup(n.info.Inode, name); !found {
			return nil, fuse.ENOENT
		}
	}
	if ino, mode, found := n.super.dentryCache.Lookup(n.info.Inode, name); found {
		info, err := n.super.mw.InodeGet(ino)
		if err != nil {
			return nil, fuseErr(err)
		}
		_ = mode
		return &Node{super: n.super, info: info}, nil
	}

	ino, mode, err := n.super.mw.Lookup(n.info.Inode, name)
	if err != nil {
		if err == proto.ErrFileNotExists {
			n.super.dentryCache.MarkMissing(n.info.Inode, name)
		}
		return nil, fuseErr(err)
	}
	n.super.dentryCache.Insert(n.info.Inode, name, ino, mode)
	info, err := n.super.mw.InodeGet(ino)
	if err != nil {
		return nil, fuseErr(err)
	}
	return &Node{super: n.super, info: info}, nil
}

// ReadDirAll lists every entry of the directory node n.
func (n *Node) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := n.super.mw.ReadDir(n.info.Inode)
	if err != nil {
		return nil, fuseErr(err)
	}
	out := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		dtype := fuse.DT_File
		if e.Type&uint32(os.ModeDir) != 0 {
			dtype = fuse.DT_Dir
		}
		out = append(out, fuse.Dirent{Inode: e.Inode, Name: e.Name, Type: dtype})
		n.super.dentryCache.Insert(n.info.Inode, e.Name, e.Inode, e.Type)
	}
	return out, nil
}

// Open opens the inode for reading/writing, establishing its extent
// stream with the data client.
func (n *Node) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	if _, err := n.super.ec.Open(n.info.Inode); err != nil {
		return nil, fuseErr(err)
	}
	return n, nil
}

// Release closes the inode's extent stream.
func (n *Node) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	return n.super.ec.Release(n.info.Inode)
}

// Read services a read at req.Offset into resp.Data.
func (n *Node) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	nRead, err := n.super.ec.Read(n.info.Inode, uint64(req.Offset), buf)
	if err != nil {
		return fuseErr(err)
	}
	resp.Data = buf[:nRead]
	return nil
}

// Write services a write at req.Offset from req.Data.
func (n *Node) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	nWritten, err := n.super.ec.Write(n.info.Inode, uint64(req.Offset), req.Data)
	if err != nil {
		return fuseErr(err)
	}
	n.super.dentryCache.InvalidateAttr(n.info.Inode)
	resp.Size = nWritten
	return nil
}

// Fsync flushes the inode's pending writes to the meta partition.
func (n *Node) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return fuseErr(n.super.ec.Flush(n.info.Inode))
}

// Setattr applies the requested attribute changes, including
// truncation (handled by the data client rather than the meta
// partition alone, since shrinking a file also discards cached extent
// key data).
func (n *Node) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if err := n.super.ec.Truncate(n.info.Inode, req.Size); err != nil {
			return fuseErr(err)
		}
	}
	var valid uint32
	var mode, uid, gid uint32
	if req.Valid.Mode() {
		valid |= 1
		mode = uint32(req.Mode)
	}
	if req.Valid.Uid() {
		valid |= 2
		uid = req.Uid
	}
	if req.Valid.Gid() {
		valid |= 4
		gid = req.Gid
	}
	if valid != 0 {
		if err := n.super.mw.SetAttr(n.info.Inode, valid, mode, uid, gid); err != nil {
			return fuseErr(err)
		}
	}
	n.super.dentryCache.InvalidateAttr(n.info.Inode)
	return n.Attr(ctx, &resp.Attr)
}

// Create allocates a new inode named req.Name under directory n.
func (n *Node) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse, _ *fuse.OpenResponse) (fusefs.Node, fusefs.Handle, error) {
	info, err := n.super.mw.Create(n.info.Inode, req.Name, uint32(req.Mode), req.Uid, req.Gid, nil)
	if err != nil {
		return nil, nil, fuseErr(err)
	}
	n.super.dentryCache.Insert(n.info.Inode, req.Name, info.Inode, info.Mode)
	child := &Node{super: n.super, info: info}
	if _, err := n.super.ec.Open(info.Inode); err != nil {
		return nil, nil, fuseErr(err)
	}
	return child, child, nil
}

// Remove unlinks req.Name from directory n. req.Dir distinguishes
// rmdir from unlink so the meta partition applies the right removal
// semantics to the target.
func (n *Node) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	if _, err := n.super.mw.Unlink(n.info.Inode, req.Name, req.Dir); err != nil {
		return fuseErr(err)
	}
	n.super.dentryCache.Invalidate(n.info.Inode, req.Name)
	return nil
}

// Rename moves req.OldName from directory n to req.NewName under
// newDir, overwriting any existing dentry at the destination (POSIX
// rename(2) semantics).
func (n *Node) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Node)
	if !ok {
		return fuse.EIO
	}
	if err := n.super.mw.Rename(n.info.Inode, req.OldName, target.info.Inode, req.NewName, true); err != nil {
		return fuseErr(err)
	}
	n.super.dentryCache.Invalidate(n.info.Inode, req.OldName)
	n.super.dentryCache.InvalidateAttr(target.info.Inode)
	return nil
}

// Link creates a second directory entry named req.NewName under n
// pointing at the already-existing inode old.
func (n *Node) Link(ctx context.Context, req *fuse.LinkRequest, old fusefs.Node) (fusefs.Node, error) {
	src, ok := old.(*Node)
	if !ok {
		return nil, fuse.EIO
	}
	info, err := n.super.mw.Link(n.info.Inode, req.NewName, src.info.Inode)
	if err != nil {
		return nil, fuseErr(err)
	}
	n.super.dentryCache.Insert(n.info.Inode, req.NewName, info.Inode, info.Mode)
	return &Node{super: n.super, info: info}, nil
}

// fuseErr maps the sdk error taxonomy onto fuse's POSIX errno values.
// It unwraps with errors.Is rather than comparing err directly, since
// writer recovery and rotation wrap these sentinels with call-site
// context (e.g. "retiring oldest writer: %w").
func fuseErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, proto.ErrFileNotExists), errors.Is(err, proto.ErrInodeNotExists), errors.Is(err, proto.ErrDirNotExists):
		return fuse.ENOENT
	case errors.Is(err, proto.ErrExist):
		return fuse.EEXIST
	case errors.Is(err, proto.ErrDirNotEmpty):
		return fuse.Errno(unix.ENOTEMPTY)
	case errors.Is(err, proto.ErrNoSpace):
		return fuse.Errno(unix.ENOSPC)
	case errors.Is(err, proto.ErrPermission):
		return fuse.EPERM
	case errors.Is(err, proto.ErrIsNotDir):
		return fuse.Errno(unix.ENOTDIR)
	case errors.Is(err, proto.ErrIsDir):
		return fuse.Errno(unix.EISDIR)
	case errors.Is(err, proto.ErrIO):
		return fuse.EIO
	default:
		log.LogErrorf("fs: unmapped error: %v", err)
		return fuse.EIO
	}
}
