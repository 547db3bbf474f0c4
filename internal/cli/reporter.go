package cli

import (
	"fmt"
	"io"
	"os"
	"sync"

	"kdbx-ng/internal/errors"
)

// Exit codes
const (
	exitFailure     = 1
	exitCredentials = 2
	exitCorrupt     = 3
	exitUnsupported = 4
)

// exitCode maps an error onto the process exit code.
func exitCode(err error) int {
	switch {
	case errors.IsCredentials(err):
		return exitCredentials
	case errors.IsCorrupt(err):
		return exitCorrupt
	case errors.IsUnsupported(err):
		return exitUnsupported
	default:
		return exitFailure
	}
}

// Reporter prints status lines for a command to stderr.
type Reporter struct {
	mu    sync.Mutex
	out   io.Writer
	quiet bool
}

// NewReporter creates a new CLI reporter.
// If quiet is true, only errors are printed.
func NewReporter(quiet bool) *Reporter {
	return &Reporter{out: os.Stderr, quiet: quiet}
}

// Status prints a progress message such as "Deriving key...".
func (r *Reporter) Status(format string, args ...any) {
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format+"\n", args...)
}

// Warn prints a warning, even in quiet mode.
func (r *Reporter) Warn(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "Warning: "+format+"\n", args...)
}

// PrintError prints an error message.
func (r *Reporter) PrintError(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "Error: "+format+"\n", args...)
}

// PrintSuccess prints a success message.
func (r *Reporter) PrintSuccess(format string, args ...any) {
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format+"\n", args...)
}
