// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main is the converse CLI: an interactive client for the chatbot
// service's HTTP API.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config is the optional config.yaml shape. Flags override file values.
type Config struct {
	ServerURL string `yaml:"server_url"`
	UserId    string `yaml:"user_id"`
}

var config Config

var rootCmd = &cobra.Command{
	Use:   "converse",
	Short: "Client for the Aleutian Converse chatbot service",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		// config.yaml is optional for the client; flags cover everything.
		raw, err := os.ReadFile("config.yaml")
		if err != nil {
			return
		}
		if err := yaml.Unmarshal(raw, &config); err != nil {
			log.Fatalf("Error parsing config.yaml: %v", err)
		}
	}
}
