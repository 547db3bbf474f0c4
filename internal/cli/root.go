// Package cli provides the kdbx command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kdbx-ng/internal/log"
)

// Version is set by main.go
var Version = "dev"

// rootCmd is the base command when called without subcommands
var rootCmd = &cobra.Command{
	Use:   "kdbx",
	Short: "Read and write KeePass KDBX databases",
	Long: `kdbx reads and writes KeePass KDBX 3.1 and 4.x database files:
  - AES-KDF, Argon2d and Argon2id key derivation
  - AES-256, Twofish and ChaCha20 payload ciphers
  - Salsa20 and ChaCha20 protected values
  - password, key file and multi-factor credentials`,
	Version:           Version,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

// Global flags
var (
	logLevel string
	logFile  string
	debug    bool
)

func init() {
	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Append log output to this file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log pipeline phases to stderr (same as --log-level debug)")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	if debug {
		level = log.LevelDebug
	}
	switch {
	case logFile != "":
		if err := log.EnableFileLogging(logFile, level); err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
	case debug:
		log.EnableDebugLogging()
	default:
		log.SetLogger(log.NewLogrusLogger(cmd.ErrOrStderr(), level))
	}
	return nil
}

// Execute runs the CLI application and returns the process exit code.
func Execute(version string) int {
	Version = version
	rootCmd.Version = version

	// Cancel blocking calls (hardware authenticators) on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		NewReporter(false).PrintError("%v", err)
		return exitCode(err)
	}
	return 0
}
