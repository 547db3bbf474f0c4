package cli

import (
	"github.com/spf13/cobra"

	"kdbx-ng/internal/database"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Decrypt a database and write its XML document",
	Long: `Decrypt a KDBX database and write the inner XML document with all
protected values in plaintext.

Examples:
  # Print the document
  kdbx export -i passwords.kdbx

  # Write the document to a file
  kdbx export -i passwords.kdbx -o passwords.xml -k passwords.keyx`,
	RunE: runExport,
}

var (
	expInput  string
	expOutput string
	expCreds  credentialFlags
	expQuiet  bool
	expYes    bool
)

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&expInput, "input", "i", "", "Database file")
	exportCmd.Flags().StringVarP(&expOutput, "output", "o", "", "Output XML file (default stdout)")
	expCreds.register(exportCmd)
	exportCmd.Flags().BoolVarP(&expQuiet, "quiet", "q", false, "Suppress status output")
	exportCmd.Flags().BoolVarP(&expYes, "yes", "y", false, "Overwrite output file without prompting")
	_ = exportCmd.MarkFlagRequired("input")
}

func runExport(cmd *cobra.Command, args []string) error {
	reporter := NewReporter(expQuiet)
	if expOutput != "" {
		if err := confirmOverwrite(expOutput, expYes); err != nil {
			return err
		}
	}

	creds, err := expCreds.credentials(cmd, false)
	if err != nil {
		return err
	}
	reporter.Status("Opening %s...", expInput)
	d, err := database.OpenFile(expInput, creds)
	if err != nil {
		return err
	}
	defer d.Close()

	xml, err := d.XML()
	if err != nil {
		return err
	}
	if expOutput == "" {
		_, err = cmd.OutOrStdout().Write(xml)
		return err
	}
	if err := writeFileAtomic(expOutput, xml); err != nil {
		return err
	}
	reporter.Warn("%s holds every secret of the database unencrypted", expOutput)
	reporter.PrintSuccess("Exported to %s", expOutput)
	return nil
}
