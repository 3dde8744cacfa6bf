package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentboard/controlplane/internal/gateway"
	"github.com/agentboard/controlplane/internal/models"
)

func newGatewayCommand(ctl *ctlContext) *cobra.Command {
	cmd := &cobra.Command{Use: "gateway", Short: "Manage gateway registrations"}
	cmd.AddCommand(newGatewayCreateCommand(ctl), newGatewayListCommand(ctl))
	return cmd
}

func newGatewayCreateCommand(ctl *ctlContext) *cobra.Command {
	var (
		orgID                string
		name                 string
		url                  string
		bearerToken          string
		mainSessionKey       string
		workspaceRoot        string
		skipCompatibilityCheck bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctl.open(); err != nil {
				return err
			}
			if url != "" && !skipCompatibilityCheck {
				if err := assertGatewayCompatible(cmd.Context(), ctl, url, bearerToken); err != nil {
					return err
				}
			}
			now := time.Now()
			gw := &models.Gateway{
				ID:             uuid.NewString(),
				OrganizationID: orgID,
				Name:           name,
				URL:            url,
				BearerToken:    bearerToken,
				MainSessionKey: mainSessionKey,
				WorkspaceRoot:  workspaceRoot,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := ctl.db.CreateGateway(context.Background(), gw); err != nil {
				return fmt.Errorf("failed to create gateway: %w", err)
			}
			return printJSON(gw)
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id (required)")
	cmd.Flags().StringVar(&name, "name", "", "gateway name (required)")
	cmd.Flags().StringVar(&url, "url", "", "gateway websocket/RPC URL")
	cmd.Flags().StringVar(&bearerToken, "bearer-token", "", "bearer token the control plane authenticates to the gateway with")
	cmd.Flags().StringVar(&mainSessionKey, "main-session-key", "", "the gateway's main session key")
	cmd.Flags().StringVar(&workspaceRoot, "workspace-root", "", "root path the gateway renders agent workspaces under")
	cmd.Flags().BoolVar(&skipCompatibilityCheck, "skip-compatibility-check", false, "attach the gateway without probing its version")
	cmd.MarkFlagRequired("org")
	cmd.MarkFlagRequired("name")
	return cmd
}

// assertGatewayCompatible probes url the same way the running server probes
// an already-attached gateway, and rejects attachment outright if the
// gateway reports a version below this control plane's minimum — the admin
// action spec.md's compatibility scenario describes as a 422 "not
// supported" rejection. A transport failure (gateway unreachable) is not
// itself grounds for rejection; only a successfully probed, too-old version
// is.
func assertGatewayCompatible(ctx context.Context, ctl *ctlContext, url, bearerToken string) error {
	client := gateway.NewClient(url, bearerToken)
	defer client.Close()

	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result := gateway.Probe(probeCtx, client, "", ctl.cfg.MinimumGatewayVersion)
	if !result.Compatible && result.Current != "" {
		return fmt.Errorf("gateway not supported: %s", result.Message)
	}
	return nil
}

func newGatewayListCommand(ctl *ctlContext) *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List gateways in an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctl.open(); err != nil {
				return err
			}
			gateways, err := ctl.db.ListGateways(context.Background(), orgID)
			if err != nil {
				return fmt.Errorf("failed to list gateways: %w", err)
			}
			return printJSON(gateways)
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id (required)")
	cmd.MarkFlagRequired("org")
	return cmd
}
