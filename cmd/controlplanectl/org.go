package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentboard/controlplane/internal/models"
)

func newOrgCommand(ctl *ctlContext) *cobra.Command {
	cmd := &cobra.Command{Use: "org", Short: "Manage organizations"}
	cmd.AddCommand(newOrgCreateCommand(ctl), newOrgListCommand(ctl))
	return cmd
}

func newOrgCreateCommand(ctl *ctlContext) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctl.open(); err != nil {
				return err
			}
			now := time.Now()
			org := &models.Organization{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
			if err := ctl.db.CreateOrganization(context.Background(), org); err != nil {
				return fmt.Errorf("failed to create organization: %w", err)
			}
			return printJSON(org)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "organization name (required)")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newOrgListCommand(ctl *ctlContext) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch an organization by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctl.open(); err != nil {
				return err
			}
			org, err := ctl.db.GetOrganization(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to fetch organization: %w", err)
			}
			return printJSON(org)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "organization id (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}
