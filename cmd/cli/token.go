package cli

import (
	"fmt"
	"log"

	"github.com/mgoffinet/linktrack/cmd"
	"github.com/mgoffinet/linktrack/internal/auth"
	"github.com/mgoffinet/linktrack/internal/config"
	"github.com/spf13/cobra"
)

var tokenOwnerFlag string

// TokenCmd issues an owner token for the management API.
var TokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issues an owner token for the management API.",
	Long: `Signs a bearer token for the given owner identifier using the
configured auth.jwt_secret. The token authorizes link creation, deletion and
visitor listing for that owner.`,
	Run: func(cobraCmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}

		issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.TokenTTL())
		if err != nil {
			log.Fatalf("Failed to initialize token issuer: %v", err)
		}

		token, err := issuer.Issue(tokenOwnerFlag)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}

		fmt.Printf("Token for owner %s (valid %v):\n%s\n", tokenOwnerFlag, cfg.TokenTTL(), token)
	},
}

func init() {
	TokenCmd.Flags().StringVar(&tokenOwnerFlag, "owner", "", "Owner identifier to issue the token for")
	TokenCmd.MarkFlagRequired("owner")
	cmd.RootCmd.AddCommand(TokenCmd)
}
