// Package errors provides the typed error kinds of the KDBX codec.
// This enables callers to use errors.Is() and errors.As() for specific error handling.
//
// Every failure surfaced by the codec belongs to exactly one kind:
//
//   - ErrFormat: malformed structure, bad signature, unknown required enum value. Never retried.
//   - ErrCredentials: wrong password/key file/transformed key or a factor validation mismatch.
//     Safe to retry with different credentials.
//   - ErrHeaderIntegrity: the outer header hash does not match (corruption or tampering).
//   - ErrPayloadIntegrity: a payload block hash/MAC does not match.
//   - ErrUnsupported: unknown KDF/cipher/stream identifier or file version.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error kinds.
// Use errors.Is(err, errors.ErrCredentials) to classify a failure.
var (
	ErrFormat           = errors.New("invalid database format")
	ErrCredentials      = errors.New("invalid credentials")
	ErrHeaderIntegrity  = errors.New("header integrity check failed")
	ErrPayloadIntegrity = errors.New("payload integrity check failed")
	ErrUnsupported      = errors.New("unsupported database format")
)

// Input validation errors
var (
	ErrNoCredentials = fmt.Errorf("%w: no password, key file or transformed key provided", ErrCredentials)
	ErrCancelled     = errors.New("operation cancelled")
	ErrRandFailure   = errors.New("crypto/rand failure")
)

// FormatError describes a structural problem in one named field of the input.
type FormatError struct {
	Field string // Field or structure that failed to parse
	Err   error  // Underlying error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("format %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("format %s invalid", e.Field)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Is reports ErrFormat as matching so that errors.Is classifies the kind.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// NewFormatError creates a new FormatError.
func NewFormatError(field string, err error) *FormatError {
	return &FormatError{Field: field, Err: err}
}

// Formatf creates a FormatError with a formatted message.
func Formatf(field, format string, args ...any) *FormatError {
	return &FormatError{Field: field, Err: fmt.Errorf(format, args...)}
}

// CredentialsError reports that a credential source did not unlock the key.
type CredentialsError struct {
	Source string // "composite", "password factor", ...
	Err    error  // Underlying error, may be nil
}

func (e *CredentialsError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credentials (%s): %v", e.Source, e.Err)
	}
	return fmt.Sprintf("credentials (%s) rejected", e.Source)
}

func (e *CredentialsError) Unwrap() error {
	return e.Err
}

// Is reports ErrCredentials as matching.
func (e *CredentialsError) Is(target error) bool {
	return target == ErrCredentials
}

// NewCredentialsError creates a new CredentialsError.
func NewCredentialsError(source string, err error) *CredentialsError {
	return &CredentialsError{Source: source, Err: err}
}

// IntegrityError reports a hash or MAC mismatch over the header or a payload block.
type IntegrityError struct {
	Header bool  // True for the outer header, false for payload blocks
	Block  int64 // Payload block index, -1 when not applicable
}

func (e *IntegrityError) Error() string {
	if e.Header {
		return "header hash mismatch: file is corrupted or was modified"
	}
	if e.Block >= 0 {
		return fmt.Sprintf("payload block %d failed verification: file is corrupted or was modified", e.Block)
	}
	return "payload failed verification: file is corrupted or was modified"
}

// Is maps the error onto ErrHeaderIntegrity or ErrPayloadIntegrity.
func (e *IntegrityError) Is(target error) bool {
	if e.Header {
		return target == ErrHeaderIntegrity
	}
	return target == ErrPayloadIntegrity
}

// NewHeaderIntegrityError creates an IntegrityError for the outer header.
func NewHeaderIntegrityError() *IntegrityError {
	return &IntegrityError{Header: true, Block: -1}
}

// NewPayloadIntegrityError creates an IntegrityError for payload block index.
func NewPayloadIntegrityError(block int64) *IntegrityError {
	return &IntegrityError{Block: block}
}

// UnsupportedError reports an identifier the codec does not implement.
type UnsupportedError struct {
	What  string // "cipher", "kdf", "stream", "version"
	Value string // Offending identifier
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported %s: %s", e.What, e.Value)
}

// Is reports ErrUnsupported as matching.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// NewUnsupportedError creates a new UnsupportedError.
func NewUnsupportedError(what, value string) *UnsupportedError {
	return &UnsupportedError{What: what, Value: value}
}

// CryptoError represents an error during cryptographic operations.
// It wraps the underlying error with operation context.
type CryptoError struct {
	Op  string // Operation name: "rand", "argon2", "cipher", "mac"
	Err error  // Underlying error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("crypto %s failed", e.Op)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError.
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// FileError represents an error during file operations.
type FileError struct {
	Op   string // Operation: "open", "read", "write", "rename", "create"
	Path string // File path
	Err  error  // Underlying error
}

func (e *FileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s failed", e.Op, e.Path)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// NewFileError creates a new FileError.
func NewFileError(op, path string, err error) *FileError {
	return &FileError{Op: op, Path: path, Err: err}
}

// ValidationError represents an input validation error.
type ValidationError struct {
	Field   string // Field name that failed validation
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Is checks if target matches any of our sentinel errors.
// This is a convenience function for common error checks.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsCredentials checks if the error indicates rejected credentials.
func IsCredentials(err error) bool {
	return errors.Is(err, ErrCredentials)
}

// IsFormat checks if the error indicates a malformed input.
func IsFormat(err error) bool {
	return errors.Is(err, ErrFormat)
}

// IsCorrupt checks if the error indicates a header or payload integrity failure.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrHeaderIntegrity) || errors.Is(err, ErrPayloadIntegrity)
}

// IsUnsupported checks if the error indicates an unsupported identifier.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}
