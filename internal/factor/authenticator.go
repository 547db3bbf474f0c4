package factor

import (
	"context"
	"errors"
)

// ErrNoMatchingCredential is returned by a Device that holds none of the
// requested credentials. The next device is tried.
var ErrNoMatchingCredential = errors.New("no matching credential on device")

// Authenticator enumerates hardware authenticators.
type Authenticator interface {
	Enumerate(ctx context.Context) ([]Device, error)
}

// Device is one hardware authenticator. Calls may block until the user
// touches the device.
type Device interface {
	// GetKeyMaterial returns the device secrets for salt1 and salt2 using
	// any of credentialIDs.
	GetKeyMaterial(ctx context.Context, pin string, credentialIDs [][]byte, salt1, salt2 []byte, requireUP bool) (secret1, secret2 []byte, err error)

	// Enroll creates a new credential that is not one of excluded.
	Enroll(ctx context.Context, pin string, excluded [][]byte) (credentialID []byte, err error)
}

// UserInfo carries the inputs a user supplied for unwrapping factors.
// Absent inputs skip the factors that need them.
type UserInfo struct {
	Password      *string
	KeyFile       []byte // raw key file content
	PIN           string
	RequireUP     bool // require user presence on hardware calls
	Authenticator Authenticator
}
