package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"consultdesk.app/internal/auth"
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenMintCmd)

	tokenMintCmd.Flags().String("user", "", "User id placed in the token subject")
	tokenMintCmd.Flags().StringSlice("role", []string{auth.RoleClient}, "Role to grant (repeatable: client, learner, admin)")
	tokenMintCmd.Flags().Duration("ttl", 15*time.Minute, "Token lifetime")
	tokenMintCmd.Flags().String("secret", "", "Signing secret (defaults to $AUTH_SECRET)")
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Work with API access tokens",
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint a signed access token for local testing",
	Args:  cobra.NoArgs,
	RunE:  runTokenMint,
}

func runTokenMint(cmd *cobra.Command, _ []string) error {
	user, _ := cmd.Flags().GetString("user")
	roles, _ := cmd.Flags().GetStringSlice("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		secret = os.Getenv("AUTH_SECRET")
	}
	if user == "" {
		return errors.New("--user is required")
	}

	tokens, err := auth.NewTokens(secret)
	if err != nil {
		return fmt.Errorf("%w (set --secret or AUTH_SECRET)", err)
	}
	token, exp, err := tokens.Generate(user, roles, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
	return nil
}
