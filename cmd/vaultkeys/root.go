package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/TheMichaelB/vaultkeys/internal/client"
	"github.com/TheMichaelB/vaultkeys/internal/config"
	creds "github.com/TheMichaelB/vaultkeys/internal/creds"
	"github.com/TheMichaelB/vaultkeys/internal/events"
)

var (
	cfgFile     string
	jsonOutput  bool
	verbose     bool
	logLevel    string
	instanceArg string

	cfg         *config.Config
	logger      *events.Logger
	credentials *creds.Combined
	vaultClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "vaultkeys",
	Short: "Password vault client for self-hosted instances",
	Long: `vaultkeys logs into the password vault of an instance, keeps an
encrypted local copy and lets you query, import and share its items.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default searches ./, ~/.config/vaultkeys, ~/.vaultkeys)")
	flags.StringVarP(&instanceArg, "instance", "i", "", "Instance URL or account email")
	flags.BoolVar(&jsonOutput, "json", false, "Output JSON")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose logging (same as --log-level debug)")
}

func setup(cmd *cobra.Command, args []string) error {
	if skipSetup(cmd) {
		return nil
	}

	loader := config.NewLoader(cfgFile)
	if err := loader.Viper().BindPFlag("platform.instance_url", cmd.Flags().Lookup("instance")); err != nil {
		return err
	}

	var err error
	cfg, err = loader.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return err
	}
	if file := loader.ConfigFile(); file != "" {
		logger.WithField("file", file).Debug("Loaded config")
	}

	credentials, err = loadCredentials(cmd.Context())
	if err != nil {
		return err
	}

	account := cfg.Platform.InstanceURL
	if account == "" {
		account = cfg.Auth.Email
	}
	if account == "" && credentials != nil {
		account = credentials.Auth.Email
	}
	if account == "" {
		return errors.New("no account: pass --instance or set platform.instance_url")
	}

	store, err := client.OpenStorage(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	vaultClient, err = client.New(account,
		client.WithConfig(cfg),
		client.WithLogger(logger),
		client.WithLocale(cfg.Vault.Locale),
		client.WithStorage(store),
		client.WithSessionStorage(store),
	)
	if err != nil {
		_ = store.Close()
		return err
	}
	if credentials != nil {
		vaultClient.Services().Auth.SetCredentials(credentials)
	}
	return nil
}

// skipSetup reports whether cmd runs without an account.
func skipSetup(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", "formats", "hash-password", "config-init":
			return true
		}
	}
	return false
}

// teardown closes the client. It also runs from main when a command
// failed, since cobra skips post-run hooks then.
func teardown(cmd *cobra.Command, args []string) error {
	if vaultClient == nil {
		return nil
	}
	err := vaultClient.Close()
	vaultClient = nil
	return err
}

// loadCredentials reads the stored credentials file, if there is one.
func loadCredentials(ctx context.Context) (*creds.Combined, error) {
	if cfg.Auth.CredentialsFile == "" {
		return nil, nil
	}
	c, err := creds.LoadFromFile(cfg.Auth.CredentialsFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return c, nil
}

// masterPassword picks the password from the flag, the credentials file,
// the config, or else a prompt.
func masterPassword(flag, prompt string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if credentials != nil {
		if pw := credentials.Password(vaultClient.Instance); pw != "" {
			return pw, nil
		}
	}
	if cfg.Auth.Password != "" {
		return cfg.Auth.Password, nil
	}
	return promptPassword(prompt)
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(password), nil
}

// requireUnlocked unlocks the vault when a password is at hand.
func requireUnlocked(ctx context.Context, passwordFlag string) error {
	if !vaultClient.IsLocked(ctx) {
		return nil
	}
	password, err := masterPassword(passwordFlag, "Master password: ")
	if err != nil {
		return err
	}
	return vaultClient.UnlockStrict(ctx, password)
}
