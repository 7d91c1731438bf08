package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/hub-lending/internal/access"
	"github.com/iliyamo/hub-lending/internal/config"
	"github.com/iliyamo/hub-lending/internal/utils"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	UserID uint64
	Role   string
	HubID  uint64
	TTL    time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed access token for development",
		Long: `Mint an HS256 access token signed with JWT_SECRET.  Production tokens
come from the identity service; this is for local testing.

Example:
  hublend token --user 7 --role BORROWER
  hublend token --user 2 --role STEWARD --hub 1 --ttl 8h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			role := strings.ToUpper(opts.Role)
			switch role {
			case access.RoleBorrower, access.RoleSteward, access.RoleAdmin:
			default:
				return fmt.Errorf("invalid role %q: must be BORROWER, STEWARD or ADMIN", opts.Role)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ttl := opts.TTL
			if ttl <= 0 {
				ttl = time.Duration(cfg.AccessTTLMin) * time.Minute
			}
			var hub *uint64
			if opts.HubID != 0 {
				hub = &opts.HubID
			}
			tok, err := utils.NewAccessToken(cfg.JWTSecret, opts.UserID, role, hub, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&opts.UserID, "user", 0, "user id placed in sub (required)")
	cmd.Flags().StringVar(&opts.Role, "role", access.RoleBorrower, "BORROWER, STEWARD or ADMIN")
	cmd.Flags().Uint64Var(&opts.HubID, "hub", 0, "hub a steward is scoped to (0 for none)")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (defaults to ACCESS_TOKEN_TTL_MIN)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
