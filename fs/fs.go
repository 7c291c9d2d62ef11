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
	"time"

	fusefs "bazil.org/fuse/fs"

	"github.com/extentfs/extentfs/sdk/data"
	"github.com/extentfs/extentfs/sdk/meta"
)

// Super is the volume-level FUSE root, implementing fusefs.FS. One
// Super is constructed per mount, owning the meta and data sdk
// clients for the mounted volume. Generalized from
// client/sdk/sdk_fuse.go's Super usage (that type's own definition was
// absent from the pack; this rebuilds its public shape from the call
// sites in that file: MetaWrapper()/ExtentClient()/Close()).
type Super struct {
	volName      string
	mw           *meta.Wrapper
	ec           *data.ExtentClient
	rootIno      uint64
	dentryCache  *DentryCache
	attrValidFor time.Duration
}

// SuperConfig bundles Super's construction-time dependencies.
type SuperConfig struct {
	VolName           string
	MetaWrapper       *meta.Wrapper
	ExtentClient      *data.ExtentClient
	DentryValidFor    time.Duration
	AttrValidFor      time.Duration
	NegativeCacheSize uint
}

const rootInodeID = 1

// NewSuper constructs the FUSE root for a mounted volume.
func NewSuper(cfg SuperConfig) *Super {
	return &Super{
		volName:      cfg.VolName,
		mw:           cfg.MetaWrapper,
		ec:           cfg.ExtentClient,
		rootIno:      rootInodeID,
		dentryCache:  NewDentryCache(cfg.DentryValidFor, cfg.NegativeCacheSize, 100000),
		attrValidFor: cfg.AttrValidFor,
	}
}

// Root returns the mount's root node, required by fusefs.FS.
func (s *Super) Root() (fusefs.Node, error) {
	info, err := s.mw.InodeGet(s.rootIno)
	if err != nil {
		return nil, fuseErr(err)
	}
	return &Node{super: s, info: info}, nil
}

// Close releases the underlying sdk clients.
func (s *Super) Close() {
	s.ec.Close()
	s.mw.Close()
}
