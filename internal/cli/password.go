package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/Picocrypt/zxcvbn-go"
	"golang.org/x/term"

	"kdbx-ng/internal/util"
)

var (
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrPasswordEmpty    = errors.New("empty password; use --no-password for a database without one")
)

// isTerminal returns true if stdin is a terminal (not piped/redirected).
func isTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// stdinReader is shared so that consecutive prompts on piped input read
// consecutive lines.
var stdinReader = bufio.NewReader(os.Stdin)

func readLine() (string, error) {
	line, err := stdinReader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPasswordSecure prints prompt to stderr and reads a password without
// echo, or a plain line when stdin is not a terminal.
func readPasswordSecure(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	if !isTerminal() {
		pw, err := readLine()
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return pw, nil
	}

	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// promptPassword asks for a password labelled label. New passwords
// (confirm set) are asked twice and must not be empty; KeePass accepts an
// empty password when opening, so that case is allowed.
func promptPassword(label string, confirm bool) (string, error) {
	password, err := readPasswordSecure(label + ": ")
	if err != nil {
		return "", err
	}
	if !confirm {
		return password, nil
	}
	if password == "" {
		return "", ErrPasswordEmpty
	}

	again, err := readPasswordSecure("Confirm " + strings.ToLower(label) + ": ")
	if err != nil {
		return "", err
	}
	if password != again {
		return "", ErrPasswordMismatch
	}
	return password, nil
}

// ReadPasswordFromStdin reads one line from stdin (piped input with -P).
func ReadPasswordFromStdin() (string, error) {
	pw, err := readLine()
	if err != nil {
		return "", fmt.Errorf("reading password from stdin: %w", err)
	}
	return pw, nil
}

// weakScore is the zxcvbn score below which a new password draws a warning.
const weakScore = 3

// passwordScore returns the zxcvbn strength score of pw, 0 (weak) to 4.
func passwordScore(pw string) int {
	return zxcvbn.PasswordStrength(pw, nil).Score
}

// warnIfWeak prints a warning for passwords with a low strength score.
func warnIfWeak(r *Reporter, pw string) {
	if score := passwordScore(pw); score < weakScore {
		r.Warn("weak password (strength %d of 4)", score)
	}
}

// generatePassword returns a random password of length characters drawn from
// all character classes. Look-alike characters are left out since the result
// is printed for the user to copy.
func generatePassword(length int) (string, error) {
	return util.GenPassword(util.PassgenOptions{
		Length:  length,
		Upper:   true,
		Lower:   true,
		Numbers: true,
		Symbols: true,

		ExcludeLookAlike: true,
	})
}
