// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/passkeyd/passkeyd/pkg/identity"
)

var (
	userDisplayName string
	userFirstName   string
	userLastName    string
)

// userCmd groups user management commands
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

// userCreateCmd creates a user directly in the repository. The account
// has no credentials until one is registered through the API.
var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user account",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		repo, err := openRepository(cfg)
		if err != nil {
			return fmt.Errorf("failed to open repository: %w", err)
		}
		defer repo.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		user, err := repo.CreateUser(ctx, identity.Profile{
			DisplayName: userDisplayName,
			FirstName:   userFirstName,
			LastName:    userLastName,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Created user %d (%s)\n", user.ID, user.DisplayName)
		return nil
	},
}

func init() {
	userCreateCmd.Flags().StringVar(&userDisplayName, "display-name", "", "display name (required)")
	userCreateCmd.Flags().StringVar(&userFirstName, "first-name", "", "first name")
	userCreateCmd.Flags().StringVar(&userLastName, "last-name", "", "last name")
	_ = userCreateCmd.MarkFlagRequired("display-name")

	userCmd.AddCommand(userCreateCmd)
}
