package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock the local vault with the master password",
	Long: `Unlock checks the master password against the stored hash and
installs the key. Without a stored account it logs in instead.`,
	RunE: runUnlock,
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Forget the vault key",
	RunE:  runLock,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show account and lock state",
	RunE:  runStatus,
}

var unlockPassword string

func init() {
	rootCmd.AddCommand(unlockCmd, lockCmd, statusCmd)

	unlockCmd.Flags().StringVarP(&unlockPassword, "password", "p", "",
		"Master password (will prompt if not provided)")
}

func runUnlock(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	password, err := masterPassword(unlockPassword, "Master password: ")
	if err != nil {
		return err
	}
	err = vaultClient.UnlockStrict(ctx, password)
	return report(err, "Vault unlocked", nil)
}

func runLock(cmd *cobra.Command, args []string) error {
	err := vaultClient.Lock(cmd.Context())
	return report(err, "Vault locked", nil)
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := vaultClient.Status(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(status)
		return nil
	}

	fmt.Printf("Account:        %s\n", status.Email)
	if status.Instance != "" {
		fmt.Printf("Instance:       %s\n", status.Instance)
	}
	fmt.Printf("Authenticated:  %s\n", formatResult(status.Authenticated))
	fmt.Printf("Vault:          %s\n", status.State)
	if status.LastSync.IsZero() {
		fmt.Printf("Last sync:      never\n")
	} else {
		fmt.Printf("Last sync:      %s (%s ago)\n",
			status.LastSync.Local().Format(time.RFC1123),
			time.Since(status.LastSync).Round(time.Second))
	}
	return nil
}
