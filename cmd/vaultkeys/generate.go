package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/vaultkeys/internal/services/passgen"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a password",
	Long: `Generate builds a password from the saved generator options, or from
the flags when any is given. Organization password policies always apply.`,
	Example: `  vaultkeys generate
  vaultkeys generate --length 24 --special --min-special 2`,
	RunE: runGenerate,
}

var (
	genLength     int
	genAmbiguous  bool
	genNoUpper    bool
	genNoLower    bool
	genNoNumber   bool
	genSpecial    bool
	genMinNumber  int
	genMinSpecial int
)

func init() {
	rootCmd.AddCommand(generateCmd)

	defaults := passgen.DefaultOptions()
	flags := generateCmd.Flags()
	flags.IntVarP(&genLength, "length", "l", defaults.Length, "Password length")
	flags.BoolVar(&genAmbiguous, "ambiguous", false, "Allow ambiguous characters")
	flags.BoolVar(&genNoUpper, "no-uppercase", false, "Leave out uppercase letters")
	flags.BoolVar(&genNoLower, "no-lowercase", false, "Leave out lowercase letters")
	flags.BoolVar(&genNoNumber, "no-number", false, "Leave out digits")
	flags.BoolVar(&genSpecial, "special", false, "Include special characters")
	flags.IntVar(&genMinNumber, "min-number", defaults.MinNumber, "Minimum digits")
	flags.IntVar(&genMinSpecial, "min-special", defaults.MinSpecial, "Minimum special characters")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	var opts *passgen.Options
	if anyChanged(cmd, "length", "ambiguous", "no-uppercase", "no-lowercase",
		"no-number", "special", "min-number", "min-special") {
		o := passgen.DefaultOptions()
		o.Length = genLength
		o.Ambiguous = genAmbiguous
		o.Uppercase = !genNoUpper
		o.Lowercase = !genNoLower
		o.Number = !genNoNumber
		o.Special = genSpecial
		o.MinNumber = genMinNumber
		o.MinSpecial = genMinSpecial
		opts = &o
	}

	password, err := vaultClient.GeneratePassword(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"password": password})
		return nil
	}
	fmt.Println(password)
	return nil
}

func anyChanged(cmd *cobra.Command, names ...string) bool {
	for _, name := range names {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}
