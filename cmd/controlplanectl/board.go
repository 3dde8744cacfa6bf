package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentboard/controlplane/internal/models"
)

func newBoardCommand(ctl *ctlContext) *cobra.Command {
	cmd := &cobra.Command{Use: "board", Short: "Manage boards"}
	cmd.AddCommand(newBoardCreateCommand(ctl), newBoardListCommand(ctl))
	return cmd
}

func newBoardCreateCommand(ctl *ctlContext) *cobra.Command {
	var (
		orgID     string
		name      string
		objective string
		gatewayID string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a board",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctl.open(); err != nil {
				return err
			}
			now := time.Now()
			b := &models.Board{
				ID:             uuid.NewString(),
				OrganizationID: orgID,
				Name:           name,
				Objective:      objective,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if gatewayID != "" {
				b.GatewayID = &gatewayID
			}
			if err := ctl.db.CreateBoard(context.Background(), b); err != nil {
				return fmt.Errorf("failed to create board: %w", err)
			}
			return printJSON(b)
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id (required)")
	cmd.Flags().StringVar(&name, "name", "", "board name (required)")
	cmd.Flags().StringVar(&objective, "objective", "", "board objective")
	cmd.Flags().StringVar(&gatewayID, "gateway", "", "gateway id this board is attached to")
	cmd.MarkFlagRequired("org")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newBoardListCommand(ctl *ctlContext) *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List boards in an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctl.open(); err != nil {
				return err
			}
			boards, err := ctl.db.ListBoards(context.Background(), orgID)
			if err != nil {
				return fmt.Errorf("failed to list boards: %w", err)
			}
			return printJSON(boards)
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id (required)")
	cmd.MarkFlagRequired("org")
	return cmd
}
