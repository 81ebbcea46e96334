// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cybersentinel/core/services/classifier"
)

var (
	policyVerifyJSON bool
	policyDumpJSON   bool
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the manager's embedded detector pattern bundle",
}

var policyVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the embedded detector pattern bundle loads and print its checksum",
	Run:   verifyPatterns,
}

var policyDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the embedded detector pattern bundle",
	Run:   dumpPatterns,
}

func init() {
	policyVerifyCmd.Flags().BoolVar(&policyVerifyJSON, "json", false, "output as JSON")
	policyDumpCmd.Flags().BoolVar(&policyDumpJSON, "json", false, "output as JSON")
}

// verifyPatterns confirms the embedded detector bundle parses and
// reports its checksum, so an operator can confirm the binary they
// are running carries the expected classification rules.
func verifyPatterns(cmd *cobra.Command, args []string) {
	if _, err := classifier.New(); err != nil {
		fmt.Fprintf(os.Stderr, "pattern bundle failed to load: %v\n", err)
		os.Exit(CLIExitError)
	}
	hash := sha256.Sum256(classifier.DetectorPatterns)
	hashStr := fmt.Sprintf("sha256:%x", hash)

	if policyVerifyJSON {
		result := struct {
			Valid    bool   `json:"valid"`
			Hash     string `json:"hash"`
			ByteSize int    `json:"byte_size"`
		}{Valid: true, Hash: hashStr, ByteSize: len(classifier.DetectorPatterns)}
		if err := OutputJSON(result, false); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode JSON: %v\n", err)
			os.Exit(CLIExitError)
		}
		return
	}

	fmt.Println("--- Embedded Detector Pattern Verification ---")
	fmt.Printf("Byte size: %d\n", len(classifier.DetectorPatterns))
	fmt.Printf("SHA256: %x\n", hash)
}

// dumpPatterns prints the embedded detector pattern bundle verbatim.
func dumpPatterns(cmd *cobra.Command, args []string) {
	if policyDumpJSON {
		result := struct {
			Format  string `json:"format"`
			Content string `json:"content"`
		}{Format: "yaml", Content: string(classifier.DetectorPatterns)}
		if err := OutputJSON(result, false); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode JSON: %v\n", err)
			os.Exit(CLIExitError)
		}
		return
	}
	fmt.Println(string(classifier.DetectorPatterns))
}
