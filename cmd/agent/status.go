// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cybersentinel/core/services/agent/config"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the local agent config without starting monitors",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

// runStatus reads the on-disk config and reports it, useful for
// confirming enrollment state without tailing logs.
func runStatus(cmd *cobra.Command, args []string) {
	configPath := getEnvString("CYBERSENTINEL_CONFIG", config.DefaultPath())
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(CLIExitError)
	}

	if statusJSON {
		if err := OutputJSON(cfg, false); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode JSON: %v\n", err)
			os.Exit(CLIExitError)
		}
		return
	}

	fmt.Println("--- Agent Status ---")
	fmt.Printf("Config path:  %s\n", configPath)
	fmt.Printf("Agent ID:     %s\n", cfg.AgentID)
	fmt.Printf("Agent name:   %s\n", cfg.AgentName)
	fmt.Printf("Server URL:   %s\n", cfg.ServerURL)
	fmt.Printf("Data dir:     %s\n", cfg.DataDir)
}
