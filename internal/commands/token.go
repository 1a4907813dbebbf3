package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackhost-io/stackhost/internal/auth"
)

var (
	tokenUserID   string
	tokenUsername string
	tokenRoles    []string
	tokenTTL      time.Duration
	tokenSecret   string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API token",
	Long: `Mint a signed bearer token for API access. Tokens are normally
issued by the platform auth service; this exists for operators and tests.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user-id", "operator", "subject user ID")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "operator", "username claim")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "roles", []string{string(auth.RoleAdmin)},
		"roles to grant (read, write, admin)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "expiration", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "signing secret (default: security.jwt_secret from config)")
}

func runToken(cmd *cobra.Command, args []string) error {
	secret := tokenSecret
	if secret == "" {
		secret = cfg.Security.JWTSecret
	}
	if secret == "" {
		return fmt.Errorf("no signing secret configured")
	}

	roles := make([]auth.Role, 0, len(tokenRoles))
	for _, r := range tokenRoles {
		switch role := auth.Role(r); role {
		case auth.RoleRead, auth.RoleWrite, auth.RoleAdmin:
			roles = append(roles, role)
		default:
			return fmt.Errorf("unknown role %q", r)
		}
	}

	token, err := auth.SignToken(secret, tokenUserID, tokenUsername, roles, tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	fmt.Println(token)
	return nil
}
