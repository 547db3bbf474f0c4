package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Character classes of the password generator.
const (
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	numberChars = "1234567890"
	symbolChars = "-=_+!@#$^&()?<>"

	// lookAlikeChars are dropped with ExcludeLookAlike.
	lookAlikeChars = "Il1O0o"
)

// PassgenOptions configures the password generator.
//
// At least one character set (Upper, Lower, Numbers, or Symbols) must be enabled,
// otherwise GenPassword returns an empty string.
type PassgenOptions struct {
	Length           int  // Password length (recommended: 16-32 for strong security)
	Upper            bool // Include uppercase letters A-Z
	Lower            bool // Include lowercase letters a-z
	Numbers          bool // Include digits 0-9
	Symbols          bool // Include symbols -=_+!@#$^&()?<>
	ExcludeLookAlike bool // Drop I, l, 1, O, 0 and o
}

func (opts PassgenOptions) classes() []string {
	var classes []string
	add := func(enabled bool, chars string) {
		if !enabled {
			return
		}
		if opts.ExcludeLookAlike {
			chars = strings.Map(func(r rune) rune {
				if strings.ContainsRune(lookAlikeChars, r) {
					return -1
				}
				return r
			}, chars)
		}
		classes = append(classes, chars)
	}
	add(opts.Upper, upperChars)
	add(opts.Lower, lowerChars)
	add(opts.Numbers, numberChars)
	add(opts.Symbols, symbolChars)
	return classes
}

// GenPassword generates a password from crypto/rand.
//
// When Length allows it, every enabled character class occurs at least once;
// the positions of those characters are random.
//
// Returns:
//   - Empty string if no character sets are enabled or Length <= 0
//   - Error if crypto/rand fails
func GenPassword(opts PassgenOptions) (string, error) {
	classes := opts.classes()
	if len(classes) == 0 || opts.Length <= 0 {
		return "", nil
	}
	all := strings.Join(classes, "")

	out := make([]byte, opts.Length)
	i := 0
	if opts.Length >= len(classes) {
		for _, chars := range classes {
			c, err := pick(chars)
			if err != nil {
				return "", err
			}
			out[i] = c
			i++
		}
	}
	for ; i < len(out); i++ {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		out[i] = c
	}

	// Fisher-Yates, so the guaranteed characters are not always in front
	for j := len(out) - 1; j > 0; j-- {
		k, err := randIndex(j + 1)
		if err != nil {
			return "", err
		}
		out[j], out[k] = out[k], out[j]
	}
	return string(out), nil
}

func pick(chars string) (byte, error) {
	i, err := randIndex(len(chars))
	if err != nil {
		return 0, err
	}
	return chars[i], nil
}

func randIndex(n int) (int, error) {
	j, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("fatal crypto/rand error: %w", err)
	}
	return int(j.Int64()), nil
}
