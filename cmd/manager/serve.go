// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cybersentinel/core/pkg/extensions"
	"github.com/cybersentinel/core/pkg/logging"
	"github.com/cybersentinel/core/services/classifier"
	"github.com/cybersentinel/core/services/manager/eventlog"
	"github.com/cybersentinel/core/services/manager/httpapi"
	"github.com/cybersentinel/core/services/manager/policystore"
	"github.com/cybersentinel/core/services/manager/registry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the manager's HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	port := getEnvString("CYBERSENTINEL_MANAGER_PORT", "8443")
	dataDir := getEnvString("CYBERSENTINEL_DATA_DIR", "./data/manager")
	logDir := getEnvString("CYBERSENTINEL_LOG_DIR", "")

	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "cybersentinel-manager",
		LogDir:  logDir,
		JSON:    true,
	})
	defer logger.Close()
	slogger := logger.Slog()

	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	cls, err := classifier.New()
	if err != nil {
		return fmt.Errorf("load detector patterns: %w", err)
	}

	reg := registry.New()
	store := policystore.New()
	assembler := policystore.NewAssembler(store, slogger)
	events := eventlog.New()
	ingestor := eventlog.NewIngestor(events, store, slogger)

	server := httpapi.New(httpapi.Deps{
		Registry:   reg,
		Policies:   store,
		Assembler:  assembler,
		Events:     events,
		Ingestor:   ingestor,
		Classifier: cls,
		Options:    extensions.DefaultOptions(),
		Logger:     slogger,
	})

	addr := ":" + port
	slog.Info("starting manager HTTP server", slog.String("addr", addr), slog.String("data_dir", dataDir))
	return server.Engine.Run(addr)
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
