// Command controlplanectl is the operator's administrative tool: it opens
// the same database controlplaned serves from and performs the
// bootstrapping operations no HTTP endpoint exposes — organizations,
// members, gateways, and session tokens all have to exist before the first
// authenticated API call can be made. Grounded on the teacher's
// cmd/arbiter/main.go, which drives its database and key manager directly
// rather than through its own HTTP API; cobra/pflag (already a teacher
// dependency via cmd/loomctl) structures the subcommands the way
// loomctl's export/import commands do.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentboard/controlplane/internal/auth"
	"github.com/agentboard/controlplane/internal/clock"
	"github.com/agentboard/controlplane/internal/config"
	"github.com/agentboard/controlplane/internal/database"
)

// ctlContext lazily opens the database and auth manager on first use so
// `controlplanectl --help` never touches disk.
type ctlContext struct {
	cfg     *config.Config
	db      *database.DB
	authMgr *auth.Manager
}

func (c *ctlContext) open() error {
	if c.db != nil {
		return nil
	}
	cfg, err := config.Default()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	db, err := database.Open(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", cfg.DatabaseDSN, err)
	}
	c.cfg = cfg
	c.db = db
	c.authMgr = auth.NewManager(db, cfg.JWTSecret, clock.New())
	return nil
}

func main() {
	ctl := &ctlContext{}
	root := &cobra.Command{
		Use:           "controlplanectl",
		Short:         "Administer the control plane's database directly",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newOrgCommand(ctl),
		newMemberCommand(ctl),
		newGatewayCommand(ctl),
		newBoardCommand(ctl),
		newTokenCommand(ctl),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "controlplanectl:", err)
		os.Exit(1)
	}
}
