package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newTokenCommand(ctl *ctlContext) *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Issue authentication tokens"}
	cmd.AddCommand(newTokenIssueSessionCommand(ctl))
	return cmd
}

// newTokenIssueSessionCommand mints a member session token outside the HTTP
// API, since no login endpoint resolves external identity into a member —
// the specification leaves that resolution to whatever identity provider
// fronts the control plane, so an operator mints the first session directly
// against the database the same way they'd seed any other bootstrap row.
func newTokenIssueSessionCommand(ctl *ctlContext) *cobra.Command {
	var memberID string
	cmd := &cobra.Command{
		Use:   "issue-session",
		Short: "Mint a session token for an existing member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctl.open(); err != nil {
				return err
			}
			member, err := ctl.db.GetMember(context.Background(), memberID)
			if err != nil {
				return fmt.Errorf("failed to fetch member: %w", err)
			}
			resp, err := ctl.authMgr.IssueSession(member.ID, member.OrganizationID, string(member.Role))
			if err != nil {
				return fmt.Errorf("failed to issue session: %w", err)
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&memberID, "member", "", "member id to issue a session for (required)")
	cmd.MarkFlagRequired("member")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
