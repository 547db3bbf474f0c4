package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kdbx-ng/internal/database"
	"kdbx-ng/internal/factor"
	"kdbx-ng/internal/keyfile"
	"kdbx-ng/internal/log"
)

// credentialFlags are the credential options shared by every command that
// opens or writes a database.
type credentialFlags struct {
	password      string
	passwordStdin bool
	noPassword    bool
	keyFile       string
	factorInfo    string
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "Database password (visible in shell history)")
	cmd.Flags().BoolVarP(&f.passwordStdin, "password-stdin", "P", false, "Read password from stdin")
	cmd.Flags().BoolVar(&f.noPassword, "no-password", false, "Use no password (key file or factor info only)")
	cmd.Flags().StringVarP(&f.keyFile, "keyfile", "k", "", "Key file path")
	cmd.Flags().StringVar(&f.factorInfo, "factor-info", "", "Multi-factor info file; its derived key replaces --keyfile")
}

// readPassword resolves the password from the flags, stdin or a prompt.
// nil means no password.
func (f *credentialFlags) readPassword(cmd *cobra.Command, confirm bool) (*string, error) {
	switch {
	case f.noPassword:
		return nil, nil
	case cmd.Flags().Changed("password"):
		pw := f.password
		return &pw, nil
	case f.passwordStdin:
		pw, err := ReadPasswordFromStdin()
		if err != nil {
			return nil, err
		}
		return &pw, nil
	default:
		pw, err := promptPassword("Password", confirm)
		if err != nil {
			return nil, fmt.Errorf("password input: %w", err)
		}
		return &pw, nil
	}
}

// credentials builds database credentials. With --factor-info the password
// and key file unlock the factors and the derived key becomes the key file;
// rotated hardware challenges are written back to the factor info file.
func (f *credentialFlags) credentials(cmd *cobra.Command, confirm bool) (database.Credentials, error) {
	var creds database.Credentials
	pw, err := f.readPassword(cmd, confirm)
	if err != nil {
		return creds, err
	}

	var kf []byte
	if f.keyFile != "" {
		if kf, err = keyfile.Load(f.keyFile); err != nil {
			return creds, err
		}
	}

	if f.factorInfo == "" {
		creds.Password = pw
		creds.KeyFile = kf
		return creds, nil
	}

	key, err := deriveFactorKey(cmd.Context(), f.factorInfo, factor.UserInfo{Password: pw, KeyFile: kf})
	if err != nil {
		return creds, err
	}
	creds.KeyFile = key
	return creds, nil
}

func deriveFactorKey(ctx context.Context, path string, user factor.UserInfo) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read factor info: %w", err)
	}
	info, err := factor.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse factor info: %w", err)
	}
	key, err := info.DeriveKey(ctx, user)
	if err != nil {
		return nil, err
	}

	updated, err := info.Marshal(ctx, user)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(updated, data) {
		if err := writeFileAtomic(path, updated); err != nil {
			return nil, err
		}
		log.Debug("updated factor info", log.String("path", path))
	}
	return key, nil
}

// writeFileAtomic replaces path with data through a synced temporary file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".incomplete"
	fout, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := fout.Write(data); err != nil {
		_ = fout.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := fout.Sync(); err != nil {
		_ = fout.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	_ = fout.Close()
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// confirmOverwrite asks before replacing an existing file unless yes is set.
func confirmOverwrite(path string, yes bool) error {
	if _, err := os.Stat(path); err != nil || yes {
		return nil
	}
	fmt.Fprintf(os.Stderr, "Output file %s already exists. Overwrite? [y/N]: ", path)
	response, _ := readLine()
	response = strings.TrimSpace(strings.ToLower(response))
	if response != "y" && response != "yes" {
		return fmt.Errorf("operation cancelled")
	}
	return nil
}
