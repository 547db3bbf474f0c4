package factor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/errors"
	"kdbx-ng/internal/log"
)

// PartSize is the length of a generated key part.
const PartSize = 32

// Group is a set of factors that all unwrap to the same key part.
type Group struct {
	ValidationType string
	ValidationIn   []byte
	ValidationOut  []byte
	Challenge      []byte // next hardware salt1, nil without hardware factors
	Factors        []*Factor

	part []byte // known key part, set on creation or after an unwrap
}

// NewGroup returns an empty group for part. A nil part is replaced by a
// random one.
func NewGroup(part []byte) (*Group, error) {
	if part == nil {
		var err error
		if part, err = crypto.RandomBytes(PartSize); err != nil {
			return nil, err
		}
	}
	return &Group{ValidationType: ValidationHMACSHA512, part: append([]byte(nil), part...)}, nil
}

// HasValidation reports whether the group carries validation values.
func (g *Group) HasValidation() bool {
	return len(g.ValidationIn) > 0 && len(g.ValidationOut) > 0
}

func (g *Group) setValidation(part []byte) error {
	in, err := crypto.RandomBytes(32)
	if err != nil {
		return err
	}
	g.ValidationType = ValidationHMACSHA512
	g.ValidationIn = in
	g.ValidationOut = validationTag(part, in)
	return nil
}

// KeyPart returns the key part known to the group, or nil.
func (g *Group) KeyPart() []byte {
	if g.part == nil {
		return nil
	}
	return append([]byte(nil), g.part...)
}

func (g *Group) addFactor(name string, typ uuid.UUID, wrapKey func(salt []byte) ([]byte, error)) (*Factor, error) {
	if g.part == nil {
		return nil, errors.NewValidationError("Group", "key part unknown: unwrap the group first")
	}
	salt, err := crypto.RandomBytes(SaltSize)
	if err != nil {
		return nil, err
	}
	key, err := wrapKey(salt)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureZero(key)

	f := &Factor{Name: name, Type: typ, KeySalt: salt, WrappingType: WrappingAES256CBC, group: g}
	if err := f.WrapKeyPart(g.part, key); err != nil {
		return nil, err
	}
	g.Factors = append(g.Factors, f)
	return f, nil
}

// AddPasswordFactor adds a factor unlocked by password.
func (g *Group) AddPasswordFactor(name, password string) (*Factor, error) {
	return g.addFactor(name, TypePassword, func(salt []byte) ([]byte, error) {
		return PasswordKey(password, salt), nil
	})
}

// AddKeyFileFactor adds a factor unlocked by a key file's raw content.
func (g *Group) AddKeyFileFactor(name string, data []byte) (*Factor, error) {
	return g.addFactor(name, TypeKeyFile, func(salt []byte) ([]byte, error) {
		return KeyFileKey(data, salt)
	})
}

// AddNullFactor adds a factor that needs no input.
func (g *Group) AddNullFactor(name string) (*Factor, error) {
	return g.addFactor(name, TypeNull, func(salt []byte) ([]byte, error) {
		return NullKey(salt), nil
	})
}

// EnrollHardwareFactor enrolls a new credential on the first device the
// authenticator reports and adds a factor for it.
func (g *Group) EnrollHardwareFactor(ctx context.Context, name string, user UserInfo) (*Factor, error) {
	if user.Authenticator == nil {
		return nil, errors.NewValidationError("Authenticator", "required to enroll a hardware factor")
	}
	devices, err := user.Authenticator.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate authenticators: %w", err)
	}
	if len(devices) == 0 {
		return nil, errors.NewValidationError("Authenticator", "no device found")
	}
	dev := devices[0]

	credID, err := dev.Enroll(ctx, user.PIN, g.credentialIDs())
	if err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}
	if g.Challenge == nil {
		if g.Challenge, err = crypto.RandomBytes(32); err != nil {
			return nil, err
		}
	}
	salt2, err := crypto.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	secret, _, err := dev.GetKeyMaterial(ctx, user.PIN, [][]byte{credID}, g.Challenge, salt2, user.RequireUP)
	if err != nil {
		return nil, fmt.Errorf("get key material: %w", err)
	}

	f, err := g.addFactor(name, TypeHardware, func(salt []byte) ([]byte, error) {
		return HardwareKey(secret, salt), nil
	})
	if err != nil {
		return nil, err
	}
	f.CredentialID = credID
	return f, nil
}

func (g *Group) credentialIDs() [][]byte {
	var ids [][]byte
	for _, f := range g.Factors {
		if f.IsHardware() && len(f.CredentialID) > 0 {
			ids = append(ids, f.CredentialID)
		}
	}
	return ids
}

// UnwrapKeyPart returns the group key part.
//
// Factors that need no device are tried first, in order; a factor that
// rejects the user's input is logged and skipped. Then all hardware factors
// are offered to the authenticator in one request per device. When the group
// has exactly one hardware factor, a successful hardware unwrap rotates the
// challenge and rewraps that factor for the next use.
func (g *Group) UnwrapKeyPart(ctx context.Context, user UserInfo) ([]byte, error) {
	for i, f := range g.Factors {
		if f.IsHardware() {
			continue
		}
		key, ok, err := f.wrappingKey(user)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		part, err := f.UnwrapKeyPart(key)
		crypto.SecureZero(key)
		if errors.IsCredentials(err) {
			log.Warn("factor rejected", log.Int("factor", i), log.String("type", f.TypeName()), log.Err(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		g.part = append([]byte(nil), part...)
		return part, nil
	}

	part, err := g.unwrapHardware(ctx, user)
	if err != nil {
		return nil, err
	}
	if part == nil {
		return nil, errors.NewCredentialsError("factor group", nil)
	}
	g.part = append([]byte(nil), part...)
	return part, nil
}

// unwrapHardware returns nil, nil when no hardware factor could be used.
func (g *Group) unwrapHardware(ctx context.Context, user UserInfo) ([]byte, error) {
	ids := g.credentialIDs()
	if len(ids) == 0 || user.Authenticator == nil {
		return nil, nil
	}

	salt2, err := crypto.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	devices, err := user.Authenticator.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate authenticators: %w", err)
	}

	for i, dev := range devices {
		logger := log.GetLogger().WithFields(log.Int("device", i), log.Int("credentials", len(ids)))
		s1, s2, err := dev.GetKeyMaterial(ctx, user.PIN, ids, g.Challenge, salt2, user.RequireUP)
		if errors.Is(err, ErrNoMatchingCredential) {
			logger.Debug("no matching credential on device")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get key material: %w", err)
		}

		var hw []*Factor
		for _, f := range g.Factors {
			if f.IsHardware() {
				hw = append(hw, f)
			}
		}
		for _, f := range hw {
			part, err := f.UnwrapKeyPart(HardwareKey(s1, f.KeySalt))
			if errors.IsCredentials(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if len(hw) == 1 {
				if err := g.rotate(f, part, s2, salt2); err != nil {
					return nil, err
				}
			}
			return part, nil
		}
		logger.Warn("hardware secret did not unwrap any factor")
	}
	return nil, nil
}

// rotate rewraps f for the secret of the next challenge.
func (g *Group) rotate(f *Factor, part, secret2, salt2 []byte) error {
	salt, err := crypto.RandomBytes(SaltSize)
	if err != nil {
		return err
	}
	f.KeySalt = salt
	key := HardwareKey(secret2, salt)
	defer crypto.SecureZero(key)
	if err := f.WrapKeyPart(part, key); err != nil {
		return err
	}
	g.Challenge = append([]byte(nil), salt2...)
	log.Debug("rotated hardware challenge", log.String("factor", f.Name))
	return nil
}

// ensureValidation sets validation values for a group that lacks them, from
// the known part or the first factor user can unwrap.
func (g *Group) ensureValidation(ctx context.Context, user UserInfo) error {
	if g.HasValidation() {
		return nil
	}
	if g.part == nil {
		if _, err := g.UnwrapKeyPart(ctx, user); err != nil {
			return err
		}
	}
	return g.setValidation(g.part)
}
