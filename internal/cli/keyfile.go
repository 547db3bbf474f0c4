package cli

import (
	"github.com/spf13/cobra"

	"kdbx-ng/internal/keyfile"
)

var keyfileCmd = &cobra.Command{
	Use:   "keyfile",
	Short: "Generate a new key file",
	Long: `Generate a version 2.0 XML key file holding 32 random bytes.

Examples:
  kdbx keyfile -o passwords.keyx`,
	RunE: runKeyfile,
}

var (
	kfOutput string
	kfYes    bool
)

func init() {
	rootCmd.AddCommand(keyfileCmd)
	keyfileCmd.Flags().StringVarP(&kfOutput, "output", "o", "", "Output key file")
	keyfileCmd.Flags().BoolVarP(&kfYes, "yes", "y", false, "Overwrite output file without prompting")
	_ = keyfileCmd.MarkFlagRequired("output")
}

func runKeyfile(cmd *cobra.Command, args []string) error {
	if err := confirmOverwrite(kfOutput, kfYes); err != nil {
		return err
	}
	data, err := keyfile.Generate()
	if err != nil {
		return err
	}
	if err := writeFileAtomic(kfOutput, data); err != nil {
		return err
	}
	NewReporter(false).PrintSuccess("Wrote key file %s", kfOutput)
	return nil
}
