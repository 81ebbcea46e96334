// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cybersentinel/core/pkg/logging"
	"github.com/cybersentinel/core/pkg/storage/badgerkv"
	"github.com/cybersentinel/core/pkg/wire"
	"github.com/cybersentinel/core/services/agent/cache"
	"github.com/cybersentinel/core/services/agent/config"
	"github.com/cybersentinel/core/services/agent/enforcer"
	"github.com/cybersentinel/core/services/agent/lifecycle"
	"github.com/cybersentinel/core/services/agent/monitors/clipboard"
	"github.com/cybersentinel/core/services/agent/monitors/filesystem"
	"github.com/cybersentinel/core/services/agent/monitors/usbdevice"
	"github.com/cybersentinel/core/services/agent/monitors/usbtransfer"
	"github.com/cybersentinel/core/services/agent/uploader"
	"github.com/cybersentinel/core/services/classifier"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Enroll, sync policy, and monitor this endpoint",
	RunE:  runAgent,
}

// cacheCapacity is the number of original file contents the content
// cache keeps in its in-memory LRU; every entry is also written to
// badger on Put, and entries evicted from the LRU are read back from there.
const cacheCapacity = 256

func runAgent(cmd *cobra.Command, args []string) error {
	configPath := getEnvString("CYBERSENTINEL_CONFIG", config.DefaultPath())
	dataDir := getEnvString("CYBERSENTINEL_DATA_DIR", "./data/agent")
	logDir := config.LogDirFromEnv("")

	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "cybersentinel-agent",
		LogDir:  logDir,
		JSON:    true,
	})
	defer logger.Close()
	slogger := logger.Slog()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.EnsureDefaults()
	cfg.ApplyEnv()
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// One shared badger database backs both the content cache and the
	// restoration journal (two key prefixes, one set of value-log
	// files and one GC loop).
	db, err := badgerkv.OpenWithPath(cfg.DataDir + "/badger")
	if err != nil {
		return fmt.Errorf("open badger db: %w", err)
	}
	defer db.Close()

	gc, err := badgerkv.NewGCRunner(db, 10*time.Minute, 0.5, slogger)
	if err != nil {
		return fmt.Errorf("start gc runner: %w", err)
	}
	gc.Start()
	defer gc.Stop()

	contentCache, err := cache.OpenWith(db, cacheCapacity, slogger)
	if err != nil {
		return fmt.Errorf("open content cache: %w", err)
	}
	defer contentCache.Close()

	journal, err := cache.OpenRestorationJournalWith(db, slogger)
	if err != nil {
		return fmt.Errorf("open restoration journal: %w", err)
	}
	defer journal.Close()

	enf := enforcer.New(slogger, contentCache, journal)
	defer enf.Close()

	usbState := enforcer.NewUSBStateController(newPlatformDeviceController())

	cls, err := classifier.New()
	if err != nil {
		return fmt.Errorf("load detector patterns: %w", err)
	}

	policies := lifecycle.NewPolicySet()

	up := uploader.New(uploader.Config{
		Logger:    slogger,
		Client:    http.DefaultClient,
		ServerURL: cfg.ServerURL,
		AgentID:   cfg.AgentID,
	})

	quarantinePath := cfg.QuarantinePath
	if quarantinePath == "" {
		quarantinePath = cfg.DataDir + "/quarantine"
	}
	if err := os.MkdirAll(quarantinePath, 0750); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}

	fsMon, err := filesystem.New(filesystem.Config{
		Logger:     slogger,
		Classifier: cls,
		Enforcer:   enf,
		Cache:      contentCache,
		Sink:       up,
		Policies:   policies.Current,
		AgentID:    cfg.AgentID,
	})
	if err != nil {
		return fmt.Errorf("create filesystem monitor: %w", err)
	}

	clipMon := clipboard.New(clipboard.Config{
		Logger:     slogger,
		Classifier: cls,
		Sink:       up,
		Policies:   policies.Current,
		AgentID:    cfg.AgentID,
	})

	devMon := usbdevice.New(usbdevice.Config{
		Logger:   slogger,
		Notifier: newEmptyDeviceNotifier(),
		USBState: usbState,
		Sink:     up,
		Policies: policies.Current,
		AgentID:  cfg.AgentID,
	})

	transferMon := usbtransfer.New(usbtransfer.Config{
		Logger:     slogger,
		Lister:     newMountPointDriveLister(),
		Classifier: cls,
		Enforcer:   enf,
		Cache:      contentCache,
		Sink:       up,
		Policies:   policies.Current,
		AgentID:    cfg.AgentID,
	})

	fsRunner := lifecycle.RunnerFunc(func(ctx context.Context) {
		roots := fileSystemRoots(policies.Current())
		fsMon.Baseline(roots)
		if err := fsMon.Start(roots); err != nil {
			slogger.Error("filesystem monitor failed to start", "error", err)
			return
		}
		<-ctx.Done()
		fsMon.Stop()
	})

	transferRunner := lifecycle.RunnerFunc(func(ctx context.Context) {
		stop := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(stop)
		}()
		transferMon.Run(stop)
	})

	lc := lifecycle.New(lifecycle.Config{
		Logger:   slogger,
		Config:   cfg,
		Client:   http.DefaultClient,
		Policies: policies,
		USBState: usbState,
		Enforcer: enf,
		Uploader: up,
		Monitors: []lifecycle.Runner{
			fsRunner,
			lifecycle.RunnerFunc(clipMon.Run),
			lifecycle.RunnerFunc(devMon.Run),
			transferRunner,
		},
		Platform: wire.PlatformLinux,
		Version:  "0.1.0",
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go up.Run(ctx)

	slogger.Info("agent starting", "agent_id", cfg.AgentID, "server_url", cfg.ServerURL)
	return lc.Run(ctx)
}

// fileSystemRoots extracts the monitored paths declared by every
// enabled file_system_monitoring policy in the current bundle.
func fileSystemRoots(policies []wire.Policy) []string {
	var roots []string
	seen := make(map[string]bool)
	for _, p := range policies {
		if p.Type != wire.PolicyTypeFileSystem || !p.Enabled {
			continue
		}
		decoded, err := wire.DecodeConfig(p.Type, p.Config)
		if err != nil {
			continue
		}
		fsCfg, ok := decoded.(wire.FileSystemConfig)
		if !ok {
			continue
		}
		for _, path := range fsCfg.MonitoredPaths {
			if !seen[path] {
				seen[path] = true
				roots = append(roots, path)
			}
		}
	}
	return roots
}
