package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kdbx-ng/internal/database"
	"kdbx-ng/internal/keyfile"
	"kdbx-ng/internal/util"
)

var resaveCmd = &cobra.Command{
	Use:   "resave",
	Short: "Re-encrypt a database with fresh seeds or new credentials",
	Long: `Open a database and write it again with a new master seed, IV and
stream key. Without credential changes the cached transformed key is
reused, so the key derivation does not run a second time.

Examples:
  # Re-encrypt in place
  kdbx resave -i passwords.kdbx

  # Change the password
  kdbx resave -i passwords.kdbx --new-password

  # Add a key file and write a copy
  kdbx resave -i passwords.kdbx -o copy.kdbx --new-keyfile passwords.keyx`,
	RunE: runResave,
}

var (
	rsInput       string
	rsOutput      string
	rsCreds       credentialFlags
	rsNewPassword bool
	rsNewKeyFile  string
	rsQuiet       bool
	rsYes         bool
)

func init() {
	rootCmd.AddCommand(resaveCmd)
	resaveCmd.Flags().StringVarP(&rsInput, "input", "i", "", "Database file")
	resaveCmd.Flags().StringVarP(&rsOutput, "output", "o", "", "Output database file (default: replace input)")
	rsCreds.register(resaveCmd)
	resaveCmd.Flags().BoolVar(&rsNewPassword, "new-password", false, "Prompt for a new password")
	resaveCmd.Flags().StringVar(&rsNewKeyFile, "new-keyfile", "", "Replace the key file")
	resaveCmd.Flags().BoolVarP(&rsQuiet, "quiet", "q", false, "Suppress status output")
	resaveCmd.Flags().BoolVarP(&rsYes, "yes", "y", false, "Overwrite output file without prompting")
	_ = resaveCmd.MarkFlagRequired("input")
}

func runResave(cmd *cobra.Command, args []string) error {
	reporter := NewReporter(rsQuiet)
	start := time.Now()

	output := rsOutput
	if output == "" {
		output = rsInput
	} else if err := confirmOverwrite(output, rsYes); err != nil {
		return err
	}

	creds, err := rsCreds.credentials(cmd, false)
	if err != nil {
		return err
	}
	reporter.Status("Opening %s...", rsInput)
	d, err := database.OpenFile(rsInput, creds)
	if err != nil {
		return err
	}
	defer d.Close()

	next, err := newCredentials(reporter, creds, d.TransformedKey())
	if err != nil {
		return err
	}
	reporter.Status("Writing %s...", output)
	if err := d.SaveFile(output, next); err != nil {
		return err
	}
	reporter.PrintSuccess("Saved %s in %s", output, util.Timeify(time.Since(start)))
	return nil
}

// newCredentials returns the credentials for writing the database back.
// Unchanged credentials reuse the transformed key.
func newCredentials(reporter *Reporter, old database.Credentials, transformed []byte) (database.Credentials, error) {
	if !rsNewPassword && rsNewKeyFile == "" {
		return database.Credentials{TransformedKey: transformed}, nil
	}

	next := database.Credentials{Password: old.Password, KeyFile: old.KeyFile}
	if rsNewPassword {
		pw, err := promptPassword("New password", true)
		if err != nil {
			return next, fmt.Errorf("password input: %w", err)
		}
		warnIfWeak(reporter, pw)
		next.Password = &pw
	}
	if rsNewKeyFile != "" {
		kf, err := keyfile.Load(rsNewKeyFile)
		if err != nil {
			return next, err
		}
		next.KeyFile = kf
	}
	return next, nil
}
