package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/database"
	"kdbx-ng/internal/header"
	"kdbx-ng/internal/util"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new database",
	Long: `Create a new KDBX database, empty or holding an existing XML document.

If no password is provided, you will be prompted to enter one interactively
(with confirmation). The password is hidden while typing.

Examples:
  # Create an empty database (prompts for password)
  kdbx create -o passwords.kdbx

  # Import an exported document with a key file
  kdbx create -i passwords.xml -o passwords.kdbx -k passwords.keyx

  # KeePass 2.x compatible format 3.1 file
  kdbx create -o legacy.kdbx --format 3 --kdf aes

  # Generate a random 24-character password
  kdbx create -o passwords.kdbx --generate-password 24`,
	RunE: runCreate,
}

var (
	crInput       string
	crOutput      string
	crCreds       credentialFlags
	crFormat      uint16
	crCipher      string
	crKDF         string
	crStream      string
	crNoCompress  bool
	crRounds      uint64
	crIterations  uint64
	crMemory      uint64
	crParallelism uint32
	crGenerate    int
	crQuiet       bool
	crYes         bool
)

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVarP(&crInput, "input", "i", "", "XML document to import (default empty database)")
	createCmd.Flags().StringVarP(&crOutput, "output", "o", "", "Output database file")
	crCreds.register(createCmd)

	def := database.DefaultOptions()
	createCmd.Flags().Uint16Var(&crFormat, "format", def.Major, "Format major version: 3 or 4")
	createCmd.Flags().StringVar(&crCipher, "cipher", "aes", "Payload cipher: aes, chacha20 or twofish")
	createCmd.Flags().StringVar(&crKDF, "kdf", "argon2d", "Key derivation: aes, argon2d or argon2id (format 3 uses aes)")
	createCmd.Flags().StringVar(&crStream, "stream", "chacha20", "Protected value stream: chacha20, salsa20 or none")
	createCmd.Flags().BoolVar(&crNoCompress, "no-compress", false, "Store the payload uncompressed")
	createCmd.Flags().Uint64Var(&crRounds, "rounds", def.AESRounds, "AES-KDF rounds")
	createCmd.Flags().Uint64Var(&crIterations, "iterations", def.Argon2Iterations, "Argon2 iterations")
	createCmd.Flags().Uint64Var(&crMemory, "memory", def.Argon2Memory/util.MiB, "Argon2 memory in MiB")
	createCmd.Flags().Uint32Var(&crParallelism, "parallelism", def.Argon2Parallelism, "Argon2 parallelism")
	createCmd.Flags().IntVar(&crGenerate, "generate-password", 0, "Generate a random password of this length and print it")

	createCmd.Flags().BoolVarP(&crQuiet, "quiet", "q", false, "Suppress status output")
	createCmd.Flags().BoolVarP(&crYes, "yes", "y", false, "Overwrite output file without prompting")
	_ = createCmd.MarkFlagRequired("output")
}

var (
	cipherChoices = map[string]uuid.UUID{
		"aes":      crypto.CipherAES256,
		"chacha20": crypto.CipherChaCha20,
		"twofish":  crypto.CipherTwofish,
	}
	kdfChoices = map[string]uuid.UUID{
		"aes":      crypto.KdfAES,
		"argon2d":  crypto.KdfArgon2d,
		"argon2id": crypto.KdfArgon2id,
	}
	streamChoices = map[string]crypto.StreamID{
		"chacha20": crypto.StreamChaCha20,
		"salsa20":  crypto.StreamSalsa20,
		"none":     crypto.StreamNone,
	}
)

// parseChoice maps a flag value onto one of the named choices.
func parseChoice[T any](flag, value string, choices map[string]T) (T, error) {
	if v, ok := choices[value]; ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid --%s %q", flag, value)
}

// createOptions builds database options from the command flags.
func createOptions(cmd *cobra.Command) (database.Options, error) {
	opts := database.DefaultOptions()
	var err error

	opts.Major = crFormat
	if opts.Cipher, err = parseChoice("cipher", crCipher, cipherChoices); err != nil {
		return opts, err
	}
	kdf := crKDF
	if crFormat == header.Major3 && !cmd.Flags().Changed("kdf") {
		kdf = "aes"
	}
	if opts.KDF, err = parseChoice("kdf", kdf, kdfChoices); err != nil {
		return opts, err
	}
	if opts.Stream, err = parseChoice("stream", crStream, streamChoices); err != nil {
		return opts, err
	}
	if crNoCompress {
		opts.Compression = header.CompressionNone
	}
	opts.AESRounds = crRounds
	opts.Argon2Iterations = crIterations
	opts.Argon2Memory = crMemory * util.MiB
	opts.Argon2Parallelism = crParallelism
	return opts, opts.Validate()
}

func runCreate(cmd *cobra.Command, args []string) error {
	reporter := NewReporter(crQuiet)
	start := time.Now()

	opts, err := createOptions(cmd)
	if err != nil {
		return err
	}
	if err := confirmOverwrite(crOutput, crYes); err != nil {
		return err
	}

	var tree *etree.Document
	if crInput != "" {
		data, err := os.ReadFile(crInput)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if tree, err = database.ParseTree(data); err != nil {
			return err
		}
	}

	var creds database.Credentials
	if crGenerate > 0 {
		pw, err := generatePassword(crGenerate)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated password: %s\n", pw)
		if err := cmd.Flags().Set("password", pw); err != nil {
			return err
		}
	}
	if creds, err = crCreds.credentials(cmd, true); err != nil {
		return err
	}
	if creds.Password != nil && crGenerate == 0 {
		warnIfWeak(reporter, *creds.Password)
	}

	d, err := database.New(tree, opts)
	if err != nil {
		return err
	}
	defer d.Close()

	reporter.Status("Deriving key and writing %s...", crOutput)
	if err := d.SaveFile(crOutput, creds); err != nil {
		return err
	}
	reporter.PrintSuccess("Created %s (KDBX %d.%d, %s) in %s",
		crOutput, d.Major(), d.Minor(), crypto.CipherName(opts.Cipher), util.Timeify(time.Since(start)))
	return nil
}
