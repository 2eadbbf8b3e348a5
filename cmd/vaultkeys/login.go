package main

import (
	"fmt"

	"github.com/spf13/cobra"

	creds "github.com/TheMichaelB/vaultkeys/internal/creds"
	"github.com/TheMichaelB/vaultkeys/internal/services/totp"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log into the vault of an instance",
	Long: `Login derives the master key, signs in and runs a first full sync.

The password comes from --password, the credentials file, the config or a
prompt, in that order.`,
	Example: `  vaultkeys login -i alice.mycozy.cloud
  vaultkeys login -i alice@example.com --totp-secret JBSWY3DPEHPK3PXP`,
	RunE: runLogin,
}

var (
	loginPassword   string
	loginTOTPSecret string
)

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "",
		"Master password (will prompt if not provided)")
	loginCmd.Flags().StringVar(&loginTOTPSecret, "totp-secret", "",
		"TOTP secret answering two-factor challenges")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if loginTOTPSecret != "" {
		if err := totp.NewService().IsValidSecret(loginTOTPSecret); err != nil {
			return fmt.Errorf("invalid totp secret: %w", err)
		}
		if credentials == nil {
			credentials = &creds.Combined{}
		}
		credentials.Auth.TOTPSecret = loginTOTPSecret
		vaultClient.Services().Auth.SetCredentials(credentials)
	}

	password, err := masterPassword(loginPassword, "Master password: ")
	if err != nil {
		return err
	}

	err = vaultClient.Login(ctx, password)
	return report(err, fmt.Sprintf("Logged in to %s as %s", vaultClient.Instance, vaultClient.Email),
		map[string]interface{}{
			"instance": vaultClient.Instance,
			"email":    vaultClient.Email,
		})
}
