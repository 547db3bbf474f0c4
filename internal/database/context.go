// Package database opens and saves KDBX databases.
//
// This is AUDIT-CRITICAL code - changes here directly affect the cryptographic pipeline.
// The package orchestrates the complete read/write workflow:
//
// Open pipeline:
//  1. Read header: outer header items and the exact raw bytes
//  2. Verify header hash (format 4)
//  3. Derive keys: composite key, KDF, master key and HMAC base
//  4. Verify header HMAC (format 4)
//  5. Read payload: HMAC blocks (format 4) or decrypt then hashed blocks (format 3)
//  6. Decrypt and decompress
//  7. Read inner header (format 4) and parse the XML document
//  8. Unprotect: unmask protected values with the inner stream
//
// Save pipeline:
//  1. Generate: fresh master seed, IV, stream key and KDF salt
//  2. Derive keys
//  3. Write header and its authentication values
//  4. Protect: mask protected values on a copy of the document
//  5. Compress, encrypt and frame the payload
//
// ⚠️ SECURITY: operationContext.Close zeroes key material; it is deferred by every
// pipeline entry point.
package database

import (
	"time"

	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/errors"
	"kdbx-ng/internal/keyfile"
	"kdbx-ng/internal/log"
	"kdbx-ng/internal/vardict"
)

// Credentials unlock a database. At least one source is required.
//
// TransformedKey bypasses the composite key and the KDF entirely; it is the
// value returned by Document.TransformedKey after a successful Open.
type Credentials struct {
	Password       *string // nil when no password is used; "" is a valid password
	KeyFile        []byte  // raw key file content, see keyfile.Contribution
	TransformedKey []byte  // 32-byte KDF output
}

// Password returns credentials holding only pw.
func Password(pw string) Credentials {
	return Credentials{Password: &pw}
}

// Validate checks that at least one usable source is present.
func (c Credentials) Validate() error {
	if c.TransformedKey != nil {
		if len(c.TransformedKey) != crypto.TransformSize {
			return errors.NewValidationError("TransformedKey", "transformed key must be 32 bytes")
		}
		return nil
	}
	if c.Password == nil && c.KeyFile == nil {
		return errors.ErrNoCredentials
	}
	return nil
}

// operationContext holds key material during Open and Encode.
type operationContext struct {
	Composite   []byte              // SHA-256 composite of password and key file
	Transformed []byte              // KDF output
	Keys        *crypto.KeySchedule // master key and HMAC base
	StreamKey   []byte              // protected-value stream key
}

// deriveKeys fills Composite, Transformed and Keys for the given master seed.
// A transformed key in creds skips the KDF.
func (ctx *operationContext) deriveKeys(creds Credentials, kdf kdfSource, masterSeed []byte) error {
	if creds.TransformedKey != nil {
		ctx.Transformed = append([]byte(nil), creds.TransformedKey...)
		log.Debug("using supplied transformed key")
	} else {
		composite, err := keyfile.Composite(creds.Password, creds.KeyFile)
		if err != nil {
			return err
		}
		ctx.Composite = composite

		params, err := kdf()
		if err != nil {
			return err
		}
		id, err := crypto.KDFID(params)
		if err != nil {
			return err
		}
		start := time.Now()
		ctx.Transformed, err = crypto.DeriveTransformedKey(params, ctx.Composite)
		if err != nil {
			return err
		}
		log.Debug("derived transformed key",
			log.String("kdf", crypto.KDFName(id)),
			log.Duration("elapsed", time.Since(start)))
	}
	ctx.Keys = crypto.NewKeySchedule(masterSeed, ctx.Transformed)
	return nil
}

// kdfSource defers reading KDF parameters until they are needed.
type kdfSource func() (*vardict.Dictionary, error)

// Close securely zeros all key material in the context.
func (ctx *operationContext) Close() {
	if ctx == nil {
		return
	}
	crypto.SecureZeroMultiple(ctx.Composite, ctx.Transformed, ctx.StreamKey)
	ctx.Composite = nil
	ctx.Transformed = nil
	ctx.StreamKey = nil

	if ctx.Keys != nil {
		ctx.Keys.Close()
		ctx.Keys = nil
	}
}
