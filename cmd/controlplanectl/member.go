package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentboard/controlplane/internal/models"
)

func newMemberCommand(ctl *ctlContext) *cobra.Command {
	cmd := &cobra.Command{Use: "member", Short: "Manage organization members"}
	cmd.AddCommand(newMemberCreateCommand(ctl), newMemberGetCommand(ctl))
	return cmd
}

func newMemberCreateCommand(ctl *ctlContext) *cobra.Command {
	var (
		orgID  string
		userID string
		email  string
		role   string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a member to an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctl.open(); err != nil {
				return err
			}
			r := models.MemberRole(role)
			if r != models.MemberRoleAdmin && r != models.MemberRoleMember {
				return fmt.Errorf("role must be %q or %q", models.MemberRoleAdmin, models.MemberRoleMember)
			}
			now := time.Now()
			m := &models.Member{
				ID:             uuid.NewString(),
				OrganizationID: orgID,
				UserID:         userID,
				Email:          email,
				Role:           r,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := ctl.db.CreateMember(context.Background(), m); err != nil {
				return fmt.Errorf("failed to create member: %w", err)
			}
			return printJSON(m)
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id (required)")
	cmd.Flags().StringVar(&userID, "user-id", "", "external user id (required)")
	cmd.Flags().StringVar(&email, "email", "", "member email (required)")
	cmd.Flags().StringVar(&role, "role", string(models.MemberRoleMember), "member role: admin or member")
	cmd.MarkFlagRequired("org")
	cmd.MarkFlagRequired("user-id")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newMemberGetCommand(ctl *ctlContext) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch a member by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctl.open(); err != nil {
				return err
			}
			m, err := ctl.db.GetMember(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to fetch member: %w", err)
			}
			return printJSON(m)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "member id (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}
