// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command manager starts the DLP control plane's HTTP server.
//
// # Environment Variables
//
//   - CYBERSENTINEL_MANAGER_PORT: HTTP listen port (default: 8443)
//   - CYBERSENTINEL_DATA_DIR: data directory, created at startup (default: ./data/manager);
//     the registry, policy and event stores are held in memory
//   - CYBERSENTINEL_LOG_DIR: structured log file directory (optional)
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
	Use:   "manager",
	Short: "cybersentinel DLP control plane",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyVerifyCmd)
	policyCmd.AddCommand(policyDumpCmd)
}
