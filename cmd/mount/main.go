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

// Command mount starts the FUSE client, generalized from
// client/sdk/sdk_fuse.go's StartClient/mount flow onto cobra for
// argument parsing and daemonize for the foreground/background split.
package main

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	gofstab "github.com/deniswernert/go-fstab"
	"github.com/fatih/color"
	"github.com/jacobsa/daemonize"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/extentfs/extentfs/fs"
	"github.com/extentfs/extentfs/proto"
	"github.com/extentfs/extentfs/sdk/data"
	"github.com/extentfs/extentfs/sdk/master"
	"github.com/extentfs/extentfs/sdk/meta"
	"github.com/extentfs/extentfs/util/config"
	"github.com/extentfs/extentfs/util/debugserver"
	"github.com/extentfs/extentfs/util/log"
)

var (
	configFile string
	foreground bool
)

func main() {
	root := &cobra.Command{
		Use:   "mount",
		Short: "Mount a volume over FUSE",
		RunE:  runMount,
	}
	root.Flags().StringVarP(&configFile, "config", "c", "", "mount config file (YAML)")
	root.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in the foreground instead of daemonizing")
	root.MarkFlagRequired("config")

	if err := root.Execute(); err != nil {
		color.Red("mount failed: %v", err)
		os.Exit(1)
	}
}

func runMount(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "automaxprocs: %v\n", err)
	}

	if err := log.InitLog(cfg.LogDir, cfg.Volume, parseLogLevel(cfg.LogLevel), 200, 10, 14); err != nil {
		return fmt.Errorf("init log: %w", err)
	}
	defer log.LogFlush()

	if cfg.RetryMax > 0 {
		proto.RequestRetryMax = cfg.RetryMax
	}

	if err := checkMountPoint(cfg.MountPoint); err != nil {
		return err
	}

	color.Green("mounting volume %s at %s", cfg.Volume, cfg.MountPoint)

	mc := master.NewMasterClient(cfg.Masters, false)
	mw, err := meta.NewWrapper(cfg.Volume, cfg.Owner, mc)
	if err != nil {
		return fmt.Errorf("meta wrapper: %w", err)
	}

	dial := data.DialTCP
	if cfg.EnableRDMA {
		dial = data.DialRDMA
	}
	ec, err := data.NewExtentClient(cfg.Volume, mc, mw, dial, data.StreamConfig{
		FollowerRead: cfg.FollowerRead,
		NearRead:     cfg.NearRead,
		ReadRateBps:  cfg.ReadRate,
		WriteRateBps: cfg.WriteRate,
		MaxWriters:   cfg.MaxWriters,
	})
	if err != nil {
		return fmt.Errorf("extent client: %w", err)
	}

	super := fs.NewSuper(fs.SuperConfig{
		VolName:           cfg.Volume,
		MetaWrapper:       mw,
		ExtentClient:      ec,
		DentryValidFor:    time.Duration(cfg.DentryCacheValidMS) * time.Millisecond,
		AttrValidFor:      time.Duration(cfg.AttrCacheValidMS) * time.Millisecond,
		NegativeCacheSize: 100000,
	})

	conn, err := fuse.Mount(
		cfg.MountPoint,
		fuse.FSName("extentfs-"+cfg.Volume),
		fuse.VolumeName("extentfs-"+cfg.Volume),
		fuse.AllowOther(),
		fuse.MaxReadahead(128*1024),
	)
	if err != nil {
		return fmt.Errorf("fuse mount: %w", err)
	}
	defer conn.Close()

	if cfg.ProfPort > 0 {
		dbg, err := debugserver.New()
		if err != nil {
			log.LogWarnf("debugserver: %v", err)
		} else {
			go func() {
				addr := fmt.Sprintf(":%d", cfg.ProfPort)
				if err := http.ListenAndServe(addr, dbg.Handler()); err != nil {
					log.LogWarnf("debug server on %v stopped: %v", addr, err)
				}
			}()
		}
	}

	registerSignalHandler(super)

	_ = daemonize.SignalOutcome(nil)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- fusefs.Serve(conn, super)
	}()

	select {
	case <-conn.Ready:
		if conn.MountError != nil {
			return conn.MountError
		}
	case err := <-serveErr:
		return err
	}
	return <-serveErr
}

func registerSignalHandler(super *fs.Super) {
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigC
		color.Yellow("unmounting...")
		super.Close()
		os.Exit(0)
	}()
}

func parseLogLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func startDaemon() error {
	cmdPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("startDaemon: %w", err)
	}
	absConfig, err := filepath.Abs(configFile)
	if err != nil {
		return fmt.Errorf("startDaemon: %w", err)
	}
	args := []string{"-f", "-c", absConfig}
	env := os.Environ()
	out := new(bytes.Buffer)
	if err := daemonize.Run(cmdPath, args, env, out); err != nil {
		if out.Len() > 0 {
			fmt.Println(out.String())
		}
		return fmt.Errorf("startDaemon: %w", err)
	}
	return nil
}

// checkMountPoint refuses to mount onto a point the system's fstab
// already lists as mounted, mirroring the old client's pre-mount
// sanity check against a double mount.
func checkMountPoint(mountPoint string) error {
	abs, err := filepath.Abs(mountPoint)
	if err != nil {
		return fmt.Errorf("checkMountPoint: %w", err)
	}
	mounts, err := gofstab.ParseSystem()
	if err != nil {
		return fmt.Errorf("checkMountPoint: %w", err)
	}
	for _, m := range mounts {
		if m.Mountpoint == abs {
			return fmt.Errorf("checkMountPoint: %s is already mounted (device %s)", abs, m.Device)
		}
	}
	return nil
}
