// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command agent runs the endpoint DLP agent: enrollment, policy sync,
// filesystem/clipboard/USB monitoring, local enforcement, and event
// upload.
//
// # Environment Variables
//
//   - CYBERSENTINEL_SERVER_URL: manager base URL (overrides the saved config)
//   - CYBERSENTINEL_DATA_DIR: badger data directory (default: ./data/agent)
//   - CYBERSENTINEL_LOG_DIR: structured log file directory (optional)
//   - CYBERSENTINEL_CONFIG: path to the local agent config file
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(CLIExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "cybersentinel endpoint DLP agent",
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
