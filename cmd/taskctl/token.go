package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"
)

// tokenCmd mints a token for a server running with LOCAL_AUTH_MODE=hs256.
func tokenCmd() *cobra.Command {
	var email, name, nickname, audience string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a local HS256 token with LOCAL_AUTH_SHARED_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
			if secret == "" {
				return errors.New("LOCAL_AUTH_SHARED_SECRET must be set")
			}
			claims := jwt.MapClaims{
				"sub": args[0],
				"iat": time.Now().Unix(),
				"exp": time.Now().Add(ttl).Unix(),
			}
			for k, v := range map[string]string{"email": email, "name": name, "nickname": nickname, "aud": audience} {
				if v != "" {
					claims[k] = v
				}
			}
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&name, "name", "", "name claim")
	cmd.Flags().StringVar(&nickname, "nickname", "", "nickname claim")
	cmd.Flags().StringVar(&audience, "audience", os.Getenv("AUTH0_AUDIENCE"), "aud claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
