package cli

import (
	"fmt"
	"time"

	"github.com/romashorodok/room-coordinator/internal/identity"
	"github.com/romashorodok/room-coordinator/pkg/service"
	"github.com/spf13/cobra"
)

var tokenFlags struct {
	user  string
	roles []string
	ttl   time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed access token with IDENTITY_HMAC_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens, err := service.TokenService(cfg)
		if err != nil {
			return err
		}
		token, err := tokens.Issue(tokenFlags.user, tokenFlags.roles, tokenFlags.ttl)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenFlags.user, "user", "", "user id carried by the token")
	tokenCmd.Flags().StringSliceVar(&tokenFlags.roles, "role", nil, "role claim, repeatable (host, moderator)")
	tokenCmd.Flags().DurationVar(&tokenFlags.ttl, "ttl", identity.DefaultTokenTTL, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}
