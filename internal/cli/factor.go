package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kdbx-ng/internal/factor"
	"kdbx-ng/internal/keyfile"
)

var factorCmd = &cobra.Command{
	Use:   "factor",
	Short: "Create a multi-factor info file",
	Long: `Create a factor info file holding one group. Any single factor of the
group unlocks it. Use the file with --factor-info on the other commands.

Examples:
  # A group unlocked by a password or a key file
  kdbx factor -o passwords.factors --password-factor --keyfile-factor backup.keyx

  # Add a second group to an existing file; every group is then required
  kdbx factor -o passwords.factors --append --keyfile-factor usb.keyx`,
	RunE: runFactor,
}

var (
	ftOutput   string
	ftAppend   bool
	ftPassword bool
	ftPassVal  string
	ftKeyFile  string
	ftNull     bool
	ftYes      bool
)

func init() {
	rootCmd.AddCommand(factorCmd)
	factorCmd.Flags().StringVarP(&ftOutput, "output", "o", "", "Factor info file")
	factorCmd.Flags().BoolVar(&ftAppend, "append", false, "Add the group to an existing file")
	factorCmd.Flags().BoolVar(&ftPassword, "password-factor", false, "Add a password factor")
	factorCmd.Flags().StringVarP(&ftPassVal, "password", "p", "", "Password for the password factor (prompted if omitted)")
	factorCmd.Flags().StringVar(&ftKeyFile, "keyfile-factor", "", "Add a key file factor")
	factorCmd.Flags().BoolVar(&ftNull, "null-factor", false, "Add a factor that needs no input")
	factorCmd.Flags().BoolVarP(&ftYes, "yes", "y", false, "Overwrite output file without prompting")
	_ = factorCmd.MarkFlagRequired("output")
}

func runFactor(cmd *cobra.Command, args []string) error {
	reporter := NewReporter(false)
	if !ftPassword && ftKeyFile == "" && !ftNull {
		return fmt.Errorf("at least one factor is required")
	}

	info := &factor.Info{}
	if ftAppend {
		data, err := os.ReadFile(ftOutput)
		if err != nil {
			return fmt.Errorf("read factor info: %w", err)
		}
		if info, err = factor.Parse(data); err != nil {
			return err
		}
	} else if err := confirmOverwrite(ftOutput, ftYes); err != nil {
		return err
	}

	g, err := factor.NewGroup(nil)
	if err != nil {
		return err
	}
	if ftPassword {
		pw := ftPassVal
		if !cmd.Flags().Changed("password") {
			if pw, err = promptPassword("Factor password", true); err != nil {
				return fmt.Errorf("password input: %w", err)
			}
		}
		warnIfWeak(reporter, pw)
		if _, err := g.AddPasswordFactor("password", pw); err != nil {
			return err
		}
	}
	if ftKeyFile != "" {
		kf, err := keyfile.Load(ftKeyFile)
		if err != nil {
			return err
		}
		if _, err := g.AddKeyFileFactor(ftKeyFile, kf); err != nil {
			return err
		}
	}
	if ftNull {
		reporter.Warn("a null factor unlocks its group without any input")
		if _, err := g.AddNullFactor("null"); err != nil {
			return err
		}
	}
	info.AddGroup(g)

	data, err := info.Marshal(cmd.Context(), factor.UserInfo{})
	if err != nil {
		return err
	}
	if err := writeFileAtomic(ftOutput, data); err != nil {
		return err
	}
	if ftAppend {
		reporter.Warn("the derived key changed; databases using %s must be resaved with the old file", ftOutput)
	}
	reporter.PrintSuccess("Wrote %s with %d group(s)", ftOutput, len(info.Groups))
	return nil
}
