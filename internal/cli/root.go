// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package cli implements the passkeyd command line interface.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/passkeyd/passkeyd/internal/config"
)

// defaultConfigPath is the config file used when neither the flag nor
// PASSKEYD_CONFIG names one.
const defaultConfigPath = "/etc/passkeyd/config.yaml"

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "passkeyd",
	Short: "passkeyd - passwordless WebAuthn authentication service",
	Long: `passkeyd is a relying-party service for passwordless authentication
with passkeys. It runs the WebAuthn registration and authentication
ceremonies, stores credentials, and issues session tokens.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is "+defaultConfigPath+")")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves the config file path and loads it.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("PASSKEYD_CONFIG")
	}
	if path == "" {
		path = defaultConfigPath
	}
	return config.Load(path)
}
