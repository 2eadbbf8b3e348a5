package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/platform"
	"github.com/TheMichaelB/vaultkeys/internal/unlock"
)

var changePasswordCmd = &cobra.Command{
	Use:   "change-password",
	Short: "Change the master password or its KDF settings",
	Example: `  vaultkeys change-password --new-password 'correct horse battery staple'
  vaultkeys change-password --kdf argon2id --kdf-iterations 3`,
	RunE: runChangePassword,
}

var shouldUnlockCmd = &cobra.Command{
	Use:   "should-unlock",
	Short: "Report whether the unlock form would be shown",
	Long: `should-unlock exits 0 when the vault is locked and the platform checks
hold, and 1 otherwise. Without checks only the lock state counts.`,
	RunE: runShouldUnlock,
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <instance|email>",
	Short: "Print the server-side hash of a master password",
	Long: `hash-password derives the hash the server stores for an account, for
provisioning instances without a round trip. It needs no stored account.`,
	Args: cobra.ExactArgs(1),
	RunE: runHashPassword,
}

var (
	cpPassword      string
	cpNewPassword   string
	cpKdf           string
	cpKdfIterations int

	requireCiphers   bool
	requireExtension bool
	requireAll       bool

	hashKdf        string
	hashIterations int
)

// errShouldNotUnlock makes should-unlock exit non-zero without a message.
var errShouldNotUnlock = errors.New("")

func init() {
	rootCmd.AddCommand(changePasswordCmd, shouldUnlockCmd, hashPasswordCmd)

	flags := changePasswordCmd.Flags()
	flags.StringVarP(&cpPassword, "password", "p", "",
		"Current master password (will prompt if not provided)")
	flags.StringVar(&cpNewPassword, "new-password", "",
		"New master password (will prompt if not provided)")
	flags.StringVar(&cpKdf, "kdf", "",
		"Key derivation function: pbkdf2-sha256 or argon2id (default: current)")
	flags.IntVar(&cpKdfIterations, "kdf-iterations", 0,
		"KDF iterations (default: current)")

	shouldUnlockCmd.Flags().BoolVar(&requireCiphers, "require-ciphers", false,
		"Only when the instance holds vault items")
	shouldUnlockCmd.Flags().BoolVar(&requireExtension, "require-extension", false,
		"Only when a browser extension is connected")
	shouldUnlockCmd.Flags().BoolVar(&requireAll, "all", false,
		"Require every check instead of any")

	hashPasswordCmd.Flags().StringVarP(&cpPassword, "password", "p", "",
		"Master password (will prompt if not provided)")
	hashPasswordCmd.Flags().StringVar(&hashKdf, "kdf", models.DefaultKdf.String(),
		"Key derivation function: pbkdf2-sha256 or argon2id")
	hashPasswordCmd.Flags().IntVar(&hashIterations, "kdf-iterations", models.DefaultKdfIterations,
		"KDF iterations")
}

func parseKdf(name string) (models.KdfType, error) {
	for _, k := range []models.KdfType{models.KdfPBKDF2SHA256, models.KdfArgon2id} {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown kdf %q", name)
}

func runChangePassword(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := requireUnlocked(ctx, cpPassword); err != nil {
		return err
	}

	current, found, err := vaultClient.Services().User.GetKdf(ctx)
	if err != nil {
		return err
	}
	if !found {
		return models.ErrNotAuthenticated
	}
	kdf, iterations := current.Kdf, current.Iterations
	if cpKdf != "" {
		if kdf, err = parseKdf(cpKdf); err != nil {
			return err
		}
	}
	if cpKdfIterations > 0 {
		iterations = cpKdfIterations
	}

	currentPassword, err := masterPassword(cpPassword, "Current master password: ")
	if err != nil {
		return err
	}
	newPassword := cpNewPassword
	if newPassword == "" {
		if newPassword, err = promptPassword("New master password: "); err != nil {
			return err
		}
		confirm, err := promptPassword("Repeat new master password: ")
		if err != nil {
			return err
		}
		if confirm != newPassword {
			return errors.New("passwords do not match")
		}
	}
	if newPassword == currentPassword && kdf == current.Kdf && iterations == current.Iterations {
		return errors.New("nothing to change")
	}

	change, err := vaultClient.ComputeNewHashAndKeys(ctx, currentPassword, newPassword, kdf, iterations)
	if err != nil {
		return err
	}
	err = vaultClient.ChangePassword(ctx, change)
	return report(err, "Master password changed", map[string]interface{}{
		"kdf":            kdf.String(),
		"kdf_iterations": iterations,
	})
}

func runShouldUnlock(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p := vaultClient.Platform()

	var checks []unlock.CheckFunc
	if requireCiphers {
		checks = append(checks, p.CheckHasCiphers)
	}
	if requireExtension {
		checks = append(checks, p.CheckHasInstalledExtension)
	}

	var check unlock.CheckFunc
	switch {
	case len(checks) == 0:
	case requireAll:
		check = unlock.All(checks...)
	default:
		check = unlock.Any(checks...)
	}

	should := unlock.ShouldUnlock(ctx, vaultClient, check)
	if jsonOutput {
		printJSON(map[string]interface{}{"should_unlock": should})
	} else {
		fmt.Printf("Should unlock: %s\n", formatResult(should))
	}
	if !should {
		return errShouldNotUnlock
	}
	return nil
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	kdf, err := parseKdf(hashKdf)
	if err != nil {
		return err
	}

	password := cpPassword
	if password == "" {
		if password, err = promptPassword("Master password: "); err != nil {
			return err
		}
	}

	hash, err := platform.HashedPassword(args[0], password, kdf, hashIterations)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"hash":           hash,
			"kdf":            kdf.String(),
			"kdf_iterations": hashIterations,
		})
		return nil
	}
	fmt.Println(hash)
	return nil
}
